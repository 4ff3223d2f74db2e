// Package mirror copies campaign files to object storage in the background.
// Objects live under <prefix>/campaigns/<campaign>/. Only the newest queued
// save of a campaign is uploaded, and saves rotated out of the local store
// are deleted remotely as well. A saturated queue drops work and counts it.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shopkeep.ai/internal/persistence/snapshot"
)

// Uploader is the object store the mirror writes to.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
	DeleteObject(ctx context.Context, objectKey string) error
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	QueuedTotal        uint64
	SupersededTotal    uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	DeleteSuccessTotal uint64
	FailTotal          uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

type Options struct {
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	MaxAttempts   int
	Backoff       time.Duration
}

type opKind int

const (
	opSave opKind = iota + 1
	opFile
	opDelete
)

// op is one unit of queued work. Save ops carry only the campaign; the
// worker picks up whatever save of that campaign is newest when it gets
// there.
type op struct {
	kind     opKind
	campaign string
	key      string
	local    string
}

type Mirror struct {
	up     Uploader
	prefix string
	logger *log.Logger
	opts   Options

	ops chan op
	wg  sync.WaitGroup

	mu      sync.Mutex
	pending map[string]op

	queued     atomic.Uint64
	superseded atomic.Uint64
	dropped    atomic.Uint64
	uploaded   atomic.Uint64
	deleted    atomic.Uint64
	failed     atomic.Uint64
	lastOK     atomic.Int64
	lastErr    atomic.Int64
}

// New starts the workers.
func New(up Uploader, prefix string, opts Options, logger *log.Logger) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	m := &Mirror{
		up:      up,
		prefix:  normalizeObjectKey(prefix),
		logger:  logger,
		opts:    opts,
		ops:     make(chan op, opts.QueueCapacity),
		pending: make(map[string]op),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for o := range m.ops {
				m.run(o)
			}
		}()
	}
	return m
}

// Save queues the save file at localPath. If an older save of the same
// campaign is still waiting it is replaced.
func (m *Mirror) Save(localPath string, h snapshot.Header) {
	if m == nil || m.up == nil {
		return
	}
	key, err := m.key(h.CampaignID, saveName(h.Day, localPath))
	if err != nil {
		m.fail("save", localPath, err)
		return
	}
	next := op{kind: opSave, campaign: h.CampaignID, key: key, local: localPath}

	m.mu.Lock()
	_, waiting := m.pending[h.CampaignID]
	m.pending[h.CampaignID] = next
	m.mu.Unlock()
	if waiting {
		m.superseded.Add(1)
		return
	}
	if !m.enqueue(op{kind: opSave, campaign: h.CampaignID}) {
		m.mu.Lock()
		delete(m.pending, h.CampaignID)
		m.mu.Unlock()
	}
}

// Forget removes the remote copy of a save the store rotated out. A queued
// upload of the same file is cancelled.
func (m *Mirror) Forget(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	e, ok := snapshot.EntryFor(localPath)
	if !ok {
		m.fail("forget", localPath, errors.New("not a save file name"))
		return
	}
	key, err := m.key(e.Campaign, saveName(e.Day, localPath))
	if err != nil {
		m.fail("forget", localPath, err)
		return
	}
	m.mu.Lock()
	if p, ok := m.pending[e.Campaign]; ok && p.key == key {
		delete(m.pending, e.Campaign)
		m.superseded.Add(1)
	}
	m.mu.Unlock()
	m.enqueue(op{kind: opDelete, campaign: e.Campaign, key: key})
}

// Attach uploads any other campaign file (archive copy, meta, logs) under
// campaigns/<campaign>/<name>.
func (m *Mirror) Attach(campaign, name, localPath string) {
	if m == nil || m.up == nil {
		return
	}
	key, err := m.key(campaign, name)
	if err != nil {
		m.fail("attach", localPath, err)
		return
	}
	m.enqueue(op{kind: opFile, campaign: campaign, key: key, local: localPath})
}

// Close waits for queued work to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.ops)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.ops),
		QueueCapacity:      cap(m.ops),
		QueuedTotal:        m.queued.Load(),
		SupersededTotal:    m.superseded.Load(),
		DroppedTotal:       m.dropped.Load(),
		UploadSuccessTotal: m.uploaded.Load(),
		DeleteSuccessTotal: m.deleted.Load(),
		FailTotal:          m.failed.Load(),
		LastSuccessUnix:    m.lastOK.Load(),
		LastErrorUnix:      m.lastErr.Load(),
	}
}

func (m *Mirror) enqueue(o op) bool {
	m.queued.Add(1)
	select {
	case m.ops <- o:
		return true
	default:
	}

	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.ops <- o:
		return true
	case <-timer.C:
		n := m.dropped.Add(1)
		m.printf("mirror drop campaign=%s key=%s reason=queue_saturated dropped_total=%d", o.campaign, o.key, n)
		return false
	}
}

func (m *Mirror) run(o op) {
	if o.kind == opSave {
		m.mu.Lock()
		next, ok := m.pending[o.campaign]
		delete(m.pending, o.campaign)
		m.mu.Unlock()
		if !ok {
			return
		}
		o = next
		if _, err := os.Stat(o.local); errors.Is(err, os.ErrNotExist) {
			m.superseded.Add(1)
			return
		}
	}

	err := m.retry(func(ctx context.Context) error {
		if o.kind == opDelete {
			return m.up.DeleteObject(ctx, o.key)
		}
		return m.up.PutFile(ctx, o.key, o.local)
	})
	if err != nil {
		m.fail("upload", o.key, err)
		return
	}
	if o.kind == opDelete {
		m.deleted.Add(1)
	} else {
		m.uploaded.Add(1)
	}
	m.lastOK.Store(time.Now().UTC().Unix())
	m.printf("mirror ok campaign=%s key=%s", o.campaign, o.key)
}

func (m *Mirror) retry(fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < m.opts.MaxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	return lastErr
}

func (m *Mirror) key(campaign, name string) (string, error) {
	if !snapshot.ValidCampaignID(campaign) {
		return "", fmt.Errorf("%w %q", snapshot.ErrCampaignID, campaign)
	}
	rel := normalizeObjectKey(name)
	if rel == "" {
		return "", fmt.Errorf("bad object name %q", name)
	}
	return path.Join(m.prefix, "campaigns", campaign, rel), nil
}

// saveName is the object name of a save; compression follows the local file.
func saveName(day int, localPath string) string {
	name := fmt.Sprintf("saves/d%06d.json", day)
	if strings.HasSuffix(localPath, ".zst") {
		name += ".zst"
	}
	return name
}

func (m *Mirror) fail(what, target string, err error) {
	m.failed.Add(1)
	m.lastErr.Store(time.Now().UTC().Unix())
	m.printf("mirror %s failed target=%s err=%v", what, target, err)
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
