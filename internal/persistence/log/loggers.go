// Package log writes campaign traces as zstd-compressed JSON lines, one file
// per campaign and stream.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"shopkeep.ai/internal/sim/kernel"
)

// JSONLZstdWriter appends JSON lines to <baseDir>/<prefix>-<segment>.jsonl.zst,
// switching files whenever the segment changes. Each open adds a new zstd
// frame to the file, so reopening an existing segment appends.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu     sync.Mutex
	curSeg string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(segment string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if segment != w.curSeg || w.w == nil {
		if err := w.rotateLocked(segment); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(segment string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.Path(segment), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curSeg = segment
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curSeg = ""
	return err1
}

// Path is the file a segment is written to.
func (w *JSONLZstdWriter) Path(segment string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, segment))
}

// DayEntry is one line of the day log.
type DayEntry struct {
	CampaignID string           `json:"campaign_id"`
	Report     kernel.DayReport `json:"report"`
}

// TurnEntry is one line of the action log.
type TurnEntry struct {
	CampaignID string            `json:"campaign_id"`
	Report     kernel.TurnReport `json:"report"`
}

// DayLogger writes one entry per closed day.
type DayLogger struct{ w *JSONLZstdWriter }

func NewDayLogger(dataDir string) *DayLogger {
	return &DayLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "days"), "days")}
}

func (l *DayLogger) WriteDay(campaign string, rep kernel.DayReport) error {
	return l.w.Write(campaign, DayEntry{CampaignID: campaign, Report: rep})
}
func (l *DayLogger) Path(campaign string) string { return l.w.Path(campaign) }
func (l *DayLogger) Close() error                { return l.w.Close() }

// TurnLogger writes one entry per player action.
type TurnLogger struct{ w *JSONLZstdWriter }

func NewTurnLogger(dataDir string) *TurnLogger {
	return &TurnLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "turns"), "turns")}
}

func (l *TurnLogger) WriteTurn(campaign string, rep kernel.TurnReport) error {
	return l.w.Write(campaign, TurnEntry{CampaignID: campaign, Report: rep})
}
func (l *TurnLogger) Path(campaign string) string { return l.w.Path(campaign) }
func (l *TurnLogger) Close() error                { return l.w.Close() }

// ReadLines decodes every JSON line of a log file into fn, in order.
func ReadLines(path string, fn func(json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	jd := json.NewDecoder(dec)
	for {
		var raw json.RawMessage
		if err := jd.Decode(&raw); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
}
