package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Store keeps save files under one directory, named
// <campaign>-d<day>.json or .json.zst.
type Store struct {
	dir       string
	retention int
	compress  bool
}

// NewStore returns a store that keeps at most retention files per campaign.
// retention < 1 keeps everything.
func NewStore(dir string, retention int, compress bool) *Store {
	return &Store{dir: dir, retention: retention, compress: compress}
}

func (s *Store) Dir() string { return s.dir }

var fileRe = regexp.MustCompile(`^(.+)-d(\d{6})\.json(\.zst)?$`)

// Path is where a record for campaign and day is written.
func (s *Store) Path(campaign string, day int) string {
	name := fmt.Sprintf("%s-d%06d.json", campaign, day)
	if s.compress {
		name += ".zst"
	}
	return filepath.Join(s.dir, name)
}

// Write stores rec atomically and then drops the oldest files of the same
// campaign beyond the retention count. removed lists the deleted paths.
func (s *Store) Write(rec SaveV1) (path string, removed []string, err error) {
	if !ValidCampaignID(rec.CampaignID) {
		return "", nil, &SaveError{Err: fmt.Errorf("%w %q", ErrCampaignID, rec.CampaignID)}
	}
	path = s.Path(rec.CampaignID, rec.Day)
	b, err := Encode(rec)
	if err != nil {
		return "", nil, err
	}
	if s.compress {
		if b, err = Compress(b); err != nil {
			return "", nil, &SaveError{Path: path, Err: err}
		}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", nil, &SaveError{Path: path, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", nil, &SaveError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", nil, &SaveError{Path: path, Err: err}
	}
	removed, err = s.GC(rec.CampaignID)
	if err != nil {
		return path, removed, &SaveError{Path: path, Err: fmt.Errorf("retention: %w", err)}
	}
	return path, removed, nil
}

// Read loads one file. A failure leaves nothing half-read behind.
func (s *Store) Read(path string) (SaveV1, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SaveV1{}, &LoadError{Path: path, Err: err}
	}
	rec, err := Decode(b)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return SaveV1{}, err
	}
	return rec, nil
}

// Entry is one file in the store.
type Entry struct {
	Path     string
	Campaign string
	Day      int
}

// EntryFor parses a store file name back into its campaign and day.
func EntryFor(path string) (Entry, bool) {
	m := fileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Entry{}, false
	}
	day, _ := strconv.Atoi(m[2])
	return Entry{Path: path, Campaign: m[1], Day: day}, true
}

// List returns the campaign's files, oldest day first. An empty campaign
// lists every file.
func (s *Store) List(campaign string) ([]Entry, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		e, ok := EntryFor(filepath.Join(s.dir, de.Name()))
		if !ok || (campaign != "" && e.Campaign != campaign) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Campaign != out[j].Campaign {
			return out[i].Campaign < out[j].Campaign
		}
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Latest is the newest file of a campaign.
func (s *Store) Latest(campaign string) (Entry, bool, error) {
	es, err := s.List(campaign)
	if err != nil || len(es) == 0 {
		return Entry{}, false, err
	}
	return es[len(es)-1], true, nil
}

// GC deletes the campaign's oldest files until at most retention remain.
func (s *Store) GC(campaign string) ([]string, error) {
	if s.retention < 1 {
		return nil, nil
	}
	es, err := s.List(campaign)
	if err != nil {
		return nil, err
	}
	var removed []string
	for len(es) > s.retention {
		if err := os.Remove(es[0].Path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, es[0].Path)
		es = es[1:]
	}
	return removed, nil
}
