// Package tuning reads the tabular configuration sources of a shop campaign:
// constants, metric ranges, tradeoff edges, uncertainty weights and the
// action table. Each source may be yaml or csv; digests are kept per source.
package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"shopkeep.ai/internal/sim/metrics"
)

var (
	ErrUnknownReference = errors.New("unknown reference")
	ErrReferenceCycle   = errors.New("reference cycle")
	ErrOutOfRange       = errors.New("value out of range")
	ErrBadType          = errors.New("bad type")
	ErrDuplicate        = errors.New("duplicate key")
)

// SourceError locates a bad row in one of the sources.
type SourceError struct {
	Source string
	Key    string
	Err    error
}

func (e *SourceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Key, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Tables is everything read from a config directory except the event
// catalogue.
type Tables struct {
	Constants   Constants
	Ranges      map[metrics.Metric]metrics.Range
	Tradeoffs   []metrics.Edge
	Uncertainty map[metrics.Metric]float64
	Actions     []Action

	// Digests maps source file name to the sha256 of its bytes. Absent
	// optional sources digest as the empty input.
	Digests map[string]string
}

// Load reads every tabular source under dir. Ranges, tradeoffs, uncertainty
// and actions are optional; constants fall back to an empty table so the
// registry defaults apply.
func Load(dir string) (Tables, error) {
	t := Tables{Digests: map[string]string{}}

	rows, name, raw, err := readConstants(dir)
	if err != nil {
		return t, err
	}
	t.Digests[name] = sha256Hex(raw)
	if t.Constants, err = ResolveConstants(rows); err != nil {
		return t, err
	}

	if t.Ranges, name, raw, err = readRanges(dir); err != nil {
		return t, err
	}
	t.Digests[name] = sha256Hex(raw)

	if t.Tradeoffs, name, raw, err = readTradeoffs(dir); err != nil {
		return t, err
	}
	t.Digests[name] = sha256Hex(raw)

	if t.Uncertainty, raw, err = readUncertainty(filepath.Join(dir, "uncertainty.yaml")); err != nil {
		return t, err
	}
	t.Digests["uncertainty.yaml"] = sha256Hex(raw)

	if t.Actions, raw, err = readActions(filepath.Join(dir, "actions.yaml")); err != nil {
		return t, err
	}
	t.Digests["actions.yaml"] = sha256Hex(raw)

	return t, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// pick returns the first candidate that exists under dir. ok is false when
// none do.
func pick(dir string, names ...string) (path, name string, ok bool, err error) {
	for _, n := range names {
		p := filepath.Join(dir, n)
		if _, err := os.Stat(p); err == nil {
			return p, n, true, nil
		} else if !os.IsNotExist(err) {
			return "", "", false, err
		}
	}
	return "", names[0], false, nil
}

// readOptional returns nil bytes for a missing file.
func readOptional(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil && os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
}
