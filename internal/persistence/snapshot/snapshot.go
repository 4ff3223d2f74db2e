// Package snapshot is the versioned save record of a campaign and the file
// store that keeps the newest few of them per campaign.
package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Version is the record version this build writes. Older versions are read;
// newer ones are refused.
const Version = 1

//go:embed save.schema.json
var saveSchemaSrc string

var saveSchema = jsonschema.MustCompileString("save.schema.json", saveSchemaSrc)

var (
	ErrVersion    = errors.New("unsupported save version")
	ErrSchema     = errors.New("save does not match schema")
	ErrCampaignID = errors.New("invalid campaign id")
)

var campaignIDRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidCampaignID reports whether id can name files and directories. Ids
// end up in save, log and archive paths.
func ValidCampaignID(id string) bool {
	return id != "." && id != ".." && campaignIDRe.MatchString(id)
}

type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("save: %v", e.Err)
	}
	return fmt.Sprintf("save %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// LoadError means the bytes could not be turned into a record. Callers keep
// whatever state they had.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load: %v", e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveV1 is everything that affects how a campaign evolves from here. Metric
// maps are keyed by metric name.
type SaveV1 struct {
	Version      int                `json:"version"`
	CampaignID   string             `json:"campaign_id"`
	Seed         int64              `json:"seed"`
	Day          int                `json:"day"`
	ConfigDigest string             `json:"config_digest,omitempty"`
	Metrics      map[string]float64 `json:"metrics"`
	DayStart     map[string]float64 `json:"day_start,omitempty"`
	Plan         *PlanV1            `json:"plan,omitempty"`
	History      []HistoryV1        `json:"history"`
	Cooldowns    map[string]int     `json:"cooldowns"`
	Pending      []PendingV1        `json:"pending"`
	Terminal     string             `json:"terminal,omitempty"`
}

type PlanV1 struct {
	Day   int      `json:"day"`
	Count int      `json:"count"`
	Slots []SlotV1 `json:"slots"`
}

type SlotV1 struct {
	ID       int    `json:"id"`
	Consumed bool   `json:"consumed,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Turn     int    `json:"turn,omitempty"`
}

type HistoryV1 struct {
	Day     int                `json:"day"`
	Seq     int                `json:"seq"`
	Kind    string             `json:"kind"`
	Action  string             `json:"action,omitempty"`
	Outcome string             `json:"outcome,omitempty"`
	Event   string             `json:"event,omitempty"`
	Parent  string             `json:"parent,omitempty"`
	Depth   int                `json:"depth,omitempty"`
	Choice  string             `json:"choice,omitempty"`
	Deltas  map[string]float64 `json:"deltas,omitempty"`
	Note    string             `json:"note,omitempty"`
}

type PendingV1 struct {
	EventID        string  `json:"event_id"`
	ActivationTurn int     `json:"activation_turn"`
	Condition      string  `json:"condition,omitempty"`
	Probability    float64 `json:"probability"`
	Impact         float64 `json:"impact,omitempty"`
	Source         string  `json:"source,omitempty"`
}

// Header is the part of a record a store needs to list and rotate files.
type Header struct {
	Version    int    `json:"version"`
	CampaignID string `json:"campaign_id"`
	Day        int    `json:"day"`
}

func (r SaveV1) Header() Header {
	return Header{Version: r.Version, CampaignID: r.CampaignID, Day: r.Day}
}

// Encode returns the canonical JSON form of rec. Map keys are sorted, so
// equal records encode to equal bytes.
func Encode(rec SaveV1) ([]byte, error) {
	if rec.Version == 0 {
		rec.Version = Version
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, &SaveError{Err: err}
	}
	return b, nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// IsCompressed reports whether b starts with a zstd frame.
func IsCompressed(b []byte) bool { return bytes.HasPrefix(b, zstdMagic) }

// Compress wraps b in a zstd frame.
func Compress(b []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(b, nil), nil
}

func decompress(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(b, nil)
}

// Decode reads a record in plain or zstd form, validates it against the
// embedded schema and refuses versions newer than this build. Unknown fields
// are ignored.
func Decode(b []byte) (SaveV1, error) {
	var rec SaveV1
	if IsCompressed(b) {
		raw, err := decompress(b)
		if err != nil {
			return rec, &LoadError{Err: fmt.Errorf("zstd: %w", err)}
		}
		b = raw
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return rec, &LoadError{Err: err}
	}
	if err := saveSchema.Validate(doc); err != nil {
		return rec, &LoadError{Err: fmt.Errorf("%w: %v", ErrSchema, err)}
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, &LoadError{Err: err}
	}
	if rec.Version > Version {
		return rec, &LoadError{Err: fmt.Errorf("%w %d (newest known %d)", ErrVersion, rec.Version, Version)}
	}
	return rec, nil
}
