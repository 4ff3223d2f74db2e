// Package campaign runs one campaign against a kernel and fans its output out
// to the optional persistence sinks: save store, index, trace logs, archive
// and object-storage mirror.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"shopkeep.ai/internal/persistence/archive"
	"shopkeep.ai/internal/persistence/indexdb"
	plog "shopkeep.ai/internal/persistence/log"
	"shopkeep.ai/internal/persistence/mirror"
	"shopkeep.ai/internal/persistence/snapshot"
	"shopkeep.ai/internal/sim/kernel"
	"shopkeep.ai/internal/sim/metrics"
)

var ErrNoCampaign = errors.New("no campaign in progress")

// Sinks are all optional. Without a Store, Save only returns the record.
type Sinks struct {
	DataDir string
	Store   *snapshot.Store
	Index   *indexdb.SQLiteIndex
	Days    *plog.DayLogger
	Turns   *plog.TurnLogger
	Mirror  *mirror.Mirror
	// SaveEvery writes a save after every n-th closed day; 0 saves only when
	// asked and when the campaign ends.
	SaveEvery int
	Logger    *log.Logger
}

// Session holds the state of one campaign. It is not safe for concurrent
// use; transports give every connection its own session.
type Session struct {
	k      *kernel.Kernel
	sinks  Sinks
	st     kernel.GameState
	active bool
}

func NewSession(k *kernel.Kernel, sinks Sinks) *Session {
	return &Session{k: k, sinks: sinks}
}

func (s *Session) Kernel() *kernel.Kernel { return s.k }

// State returns the current campaign state and whether there is one.
func (s *Session) State() (kernel.GameState, bool) { return s.st, s.active }

func (s *Session) Begin(opts kernel.CampaignOptions) (kernel.GameState, error) {
	st, err := s.k.BeginCampaign(opts)
	if err != nil {
		return kernel.GameState{}, err
	}
	s.st, s.active = st, true
	s.printf("campaign %s begin seed=%d", st.CampaignID, st.Seed)
	return st, nil
}

func (s *Session) Actions() (kernel.ActionList, error) {
	if !s.active {
		return kernel.ActionList{}, ErrNoCampaign
	}
	return s.k.ListActions(s.st), nil
}

func (s *Session) Apply(kind string, p kernel.Params) (kernel.TurnReport, error) {
	if !s.active {
		return kernel.TurnReport{}, ErrNoCampaign
	}
	next, rep, err := s.k.ApplyAction(s.st, kind, p)
	if err != nil {
		return rep, err
	}
	s.st = next
	if s.sinks.Turns != nil {
		if err := s.sinks.Turns.WriteTurn(next.CampaignID, rep); err != nil {
			s.printf("turn log: %v", err)
		}
	}
	if rep.Terminal != "" {
		s.finish()
	}
	return rep, nil
}

func (s *Session) EndDay(opts kernel.DayOptions) (kernel.DayReport, error) {
	if !s.active {
		return kernel.DayReport{}, ErrNoCampaign
	}
	next, rep, err := s.k.EndDay(s.st, opts)
	if err != nil {
		return rep, err
	}
	s.st = next
	id := next.CampaignID
	if s.sinks.Days != nil {
		if err := s.sinks.Days.WriteDay(id, rep); err != nil {
			s.printf("day log: %v", err)
		}
	}
	if s.sinks.Index != nil {
		s.sinks.Index.RecordDay(id, rep)
	}
	switch {
	case rep.Terminal != "":
		s.finish()
	case s.sinks.SaveEvery > 0 && rep.Day%s.sinks.SaveEvery == 0:
		if _, _, err := s.Save(); err != nil {
			s.printf("periodic save: %v", err)
		}
	}
	return rep, nil
}

// Save encodes the current state and, with a store configured, writes it.
// path is empty when nothing was written.
func (s *Session) Save() (path string, rec snapshot.SaveV1, err error) {
	if !s.active {
		return "", rec, ErrNoCampaign
	}
	rec = kernel.Record(s.st)
	if s.sinks.Store == nil {
		return "", rec, nil
	}
	path, removed, err := s.sinks.Store.Write(rec)
	if err != nil {
		return "", rec, err
	}
	s.recordSave(path, rec)
	for _, old := range removed {
		s.sinks.Mirror.Forget(old)
	}
	if len(removed) > 0 && s.sinks.Index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sinks.Index.Flush(ctx); err != nil {
			s.printf("index flush: %v", err)
		}
		for _, old := range removed {
			if err := s.sinks.Index.DeleteSave(ctx, old); err != nil {
				s.printf("index delete %s: %v", filepath.Base(old), err)
			}
		}
		cancel()
	}
	if rec.Terminal != "" {
		s.archive(path, rec)
	}
	return path, rec, nil
}

// Load replaces the session state with the campaign encoded in b.
func (s *Session) Load(b []byte) (kernel.GameState, error) {
	st, err := s.k.Load(b)
	if err != nil {
		return kernel.GameState{}, err
	}
	s.st, s.active = st, true
	s.printf("campaign %s loaded day=%d", st.CampaignID, st.Day)
	return st, nil
}

// Resume loads the newest save of campaign, looking in the index first and
// falling back to a directory scan of the store.
func (s *Session) Resume(ctx context.Context, campaign string) (kernel.GameState, error) {
	if s.sinks.Store == nil {
		return kernel.GameState{}, fmt.Errorf("resume %s: no save store: %w", campaign, os.ErrNotExist)
	}
	path := ""
	if s.sinks.Index != nil {
		if err := s.sinks.Index.Flush(ctx); err != nil {
			return kernel.GameState{}, err
		}
		row, err := s.sinks.Index.LatestSave(ctx, campaign)
		switch {
		case err == nil:
			path = row.Path
		case !indexdb.IsNotFound(err):
			return kernel.GameState{}, err
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path == "" {
		e, ok, err := s.sinks.Store.Latest(campaign)
		if err != nil {
			return kernel.GameState{}, err
		}
		if !ok {
			return kernel.GameState{}, fmt.Errorf("resume %s: %w", campaign, os.ErrNotExist)
		}
		path = e.Path
	}
	rec, err := s.sinks.Store.Read(path)
	if err != nil {
		return kernel.GameState{}, err
	}
	st, err := s.k.Restore(rec)
	if err != nil {
		return kernel.GameState{}, err
	}
	s.st, s.active = st, true
	s.printf("campaign %s resumed from %s day=%d", campaign, filepath.Base(path), st.Day)
	return st, nil
}

func (s *Session) finish() {
	s.printf("campaign %s ended day=%d reason=%s", s.st.CampaignID, s.st.Day, s.st.Terminal)
	if s.sinks.Store == nil {
		return
	}
	if _, _, err := s.Save(); err != nil {
		s.printf("final save: %v", err)
	}
}

func (s *Session) recordSave(path string, rec snapshot.SaveV1) {
	if s.sinks.Index != nil {
		digest, err := s.k.Digest(s.st)
		if err != nil {
			s.printf("digest: %v", err)
		}
		s.sinks.Index.RecordSave(indexdb.SaveRow{
			CampaignID: rec.CampaignID,
			Day:        rec.Day,
			Path:       path,
			Seed:       rec.Seed,
			Digest:     digest,
			Money:      rec.Metrics[metrics.Money.String()],
			Reputation: rec.Metrics[metrics.Reputation.String()],
			Terminal:   rec.Terminal,
		})
	}
	s.sinks.Mirror.Save(path, rec.Header())
}

func (s *Session) archive(path string, rec snapshot.SaveV1) {
	dataDir := s.sinks.DataDir
	if dataDir == "" {
		dataDir = filepath.Dir(s.sinks.Store.Dir())
	}
	archived, ok, err := archive.ArchiveCampaign(dataDir, path, rec)
	if err != nil {
		s.printf("archive: %v", err)
		return
	}
	if !ok {
		return
	}
	id := rec.CampaignID
	s.sinks.Mirror.Attach(id, "archive/"+filepath.Base(archived), archived)
	s.sinks.Mirror.Attach(id, "archive/meta.json", filepath.Join(filepath.Dir(archived), "meta.json"))
	if s.sinks.Days != nil {
		if p := s.sinks.Days.Path(id); fileExists(p) {
			s.sinks.Mirror.Attach(id, "days.jsonl.zst", p)
		}
	}
	if s.sinks.Turns != nil {
		if p := s.sinks.Turns.Path(id); fileExists(p) {
			s.sinks.Mirror.Attach(id, "turns.jsonl.zst", p)
		}
	}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func (s *Session) printf(format string, args ...any) {
	if s.sinks.Logger != nil {
		s.sinks.Logger.Printf(format, args...)
	}
}
