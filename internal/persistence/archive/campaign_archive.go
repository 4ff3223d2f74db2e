// Package archive keeps the final save of every finished campaign out of
// reach of save rotation.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"shopkeep.ai/internal/persistence/snapshot"
)

type CampaignArchiveMeta struct {
	CampaignID   string             `json:"campaign_id"`
	Seed         int64              `json:"seed"`
	EndDay       int                `json:"end_day"`
	Terminal     string             `json:"terminal"`
	Save         string             `json:"save"`
	ConfigDigest string             `json:"config_digest,omitempty"`
	Metrics      map[string]float64 `json:"metrics"`
	CreatedAt    string             `json:"created_at"`
}

// ArchiveCampaign copies the save at savePath into
// dataDir/archives/<campaign>/ together with a meta.json. Saves of campaigns
// that are still running are ignored and archived comes back false.
func ArchiveCampaign(dataDir, savePath string, rec snapshot.SaveV1) (archivedPath string, archived bool, err error) {
	if rec.Terminal == "" {
		return "", false, nil
	}
	if !snapshot.ValidCampaignID(rec.CampaignID) {
		return "", false, fmt.Errorf("archive: %w %q", snapshot.ErrCampaignID, rec.CampaignID)
	}

	dir := filepath.Join(dataDir, "archives", rec.CampaignID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(savePath))
	if err := copyFile(savePath, dst); err != nil {
		return "", false, err
	}

	meta := CampaignArchiveMeta{
		CampaignID:   rec.CampaignID,
		Seed:         rec.Seed,
		EndDay:       rec.Day,
		Terminal:     rec.Terminal,
		Save:         filepath.Base(dst),
		ConfigDigest: rec.ConfigDigest,
		Metrics:      rec.Metrics,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// ReadMeta loads the meta.json written next to an archived save.
func ReadMeta(dataDir, campaign string) (CampaignArchiveMeta, error) {
	var meta CampaignArchiveMeta
	if !snapshot.ValidCampaignID(campaign) {
		return meta, fmt.Errorf("archive: %w %q", snapshot.ErrCampaignID, campaign)
	}
	b, err := os.ReadFile(filepath.Join(dataDir, "archives", campaign, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(b, &meta)
	return meta, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
