// Package indexdb keeps a queryable sqlite index of campaigns: saves written,
// day summaries and the events that fired. The save files and day logs stay
// the source of truth; the index may lag or drop rows under load.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"shopkeep.ai/internal/sim/kernel"
	"shopkeep.ai/internal/sim/metrics"
)

type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropDay  atomic.Uint64
	dropSave atomic.Uint64
}

type reqKind int

const (
	reqDay reqKind = iota + 1
	reqSave
	reqFlush
)

type req struct {
	kind reqKind
	day  dayWrite
	save SaveRow
	done chan struct{}
}

type dayWrite struct {
	row    DayRow
	events []EventRow
}

// SaveRow is one save file written for a campaign.
type SaveRow struct {
	CampaignID string  `db:"campaign_id"`
	Day        int     `db:"day"`
	Path       string  `db:"path"`
	Seed       int64   `db:"seed"`
	Digest     string  `db:"digest"`
	Money      float64 `db:"money"`
	Reputation float64 `db:"reputation"`
	Terminal   string  `db:"terminal"`
	RecordedAt string  `db:"recorded_at"`
}

// DayRow summarises one closed day.
type DayRow struct {
	CampaignID string  `db:"campaign_id"`
	Day        int     `db:"day"`
	Money      float64 `db:"money"`
	Reputation float64 `db:"reputation"`
	Happiness  float64 `db:"happiness"`
	Customers  int     `db:"customers"`
	Served     int     `db:"served"`
	Events     int     `db:"events"`
	Terminal   string  `db:"terminal"`
	RawJSON    string  `db:"raw_json"`
}

// EventRow is one triggered event, root or cascade child.
type EventRow struct {
	CampaignID string `db:"campaign_id"`
	Day        int    `db:"day"`
	Seq        int    `db:"seq"`
	Event      string `db:"event"`
	Parent     string `db:"parent"`
	Depth      int    `db:"depth"`
	Choice     string `db:"choice"`
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropDayTotal  uint64
	DropSaveTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection belongs to the writer's open transaction; readers use
	// the others.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			campaign_id TEXT NOT NULL,
			day INTEGER NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			digest TEXT NOT NULL,
			money REAL NOT NULL,
			reputation REAL NOT NULL,
			terminal TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (campaign_id, day)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_path ON saves(path);`,
		`CREATE TABLE IF NOT EXISTS days (
			campaign_id TEXT NOT NULL,
			day INTEGER NOT NULL,
			money REAL NOT NULL,
			reputation REAL NOT NULL,
			happiness REAL NOT NULL,
			customers INTEGER NOT NULL,
			served INTEGER NOT NULL,
			events INTEGER NOT NULL,
			terminal TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (campaign_id, day)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			campaign_id TEXT NOT NULL,
			day INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			event TEXT NOT NULL,
			parent TEXT NOT NULL,
			depth INTEGER NOT NULL,
			choice TEXT NOT NULL,
			PRIMARY KEY (campaign_id, day, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_event ON events(event, day);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropDayTotal:  s.dropDay.Load(),
		DropSaveTotal: s.dropSave.Load(),
	}
}

// DayRowFrom flattens a day report. Events are numbered in firing order,
// cascade children included.
func DayRowFrom(campaign string, rep kernel.DayReport) (DayRow, []EventRow) {
	raw, _ := json.Marshal(rep)
	row := DayRow{
		CampaignID: campaign,
		Day:        rep.Day,
		Money:      rep.Snapshot.Get(metrics.Money),
		Reputation: rep.Snapshot.Get(metrics.Reputation),
		Happiness:  rep.Snapshot.Get(metrics.Happiness),
		Customers:  rep.Business.Customers,
		Served:     rep.Business.Served,
		Terminal:   string(rep.Terminal),
		RawJSON:    string(raw),
	}
	var evs []EventRow
	for _, group := range [][]kernel.EventReport{rep.Events, rep.Absorbed} {
		for _, er := range group {
			for _, t := range er.Triggered {
				evs = append(evs, EventRow{
					CampaignID: campaign, Day: rep.Day, Seq: len(evs) + 1,
					Event: t.Event, Parent: t.Parent, Depth: t.Depth, Choice: t.Choice,
				})
			}
		}
	}
	row.Events = len(evs)
	return row, evs
}

// RecordDay queues a day summary. It never blocks; a full queue drops the row.
func (s *SQLiteIndex) RecordDay(campaign string, rep kernel.DayReport) {
	if s == nil || s.closed.Load() {
		return
	}
	row, evs := DayRowFrom(campaign, rep)
	select {
	case s.ch <- req{kind: reqDay, day: dayWrite{row: row, events: evs}}:
	default:
		s.dropDay.Add(1)
	}
}

// RecordSave queues a save row. It never blocks.
func (s *SQLiteIndex) RecordSave(row SaveRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if row.RecordedAt == "" {
		row.RecordedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case s.ch <- req{kind: reqSave, save: row}:
	default:
		s.dropSave.Add(1)
	}
}

// Flush waits until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LatestSave returns the newest indexed save of campaign, or sql.ErrNoRows.
func (s *SQLiteIndex) LatestSave(ctx context.Context, campaign string) (SaveRow, error) {
	var row SaveRow
	err := s.db.GetContext(ctx, &row,
		`SELECT campaign_id,day,path,seed,digest,money,reputation,terminal,recorded_at
		 FROM saves WHERE campaign_id=? ORDER BY day DESC LIMIT 1`, campaign)
	return row, err
}

// DeleteSave removes the row for path; the store calls it when it rotates a
// file out.
func (s *SQLiteIndex) DeleteSave(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saves WHERE path=?`, path)
	return err
}

// Days lists the indexed days of campaign in order.
func (s *SQLiteIndex) Days(ctx context.Context, campaign string) ([]DayRow, error) {
	var rows []DayRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT campaign_id,day,money,reputation,happiness,customers,served,events,terminal,raw_json
		 FROM days WHERE campaign_id=? ORDER BY day`, campaign)
	return rows, err
}

// EventCounts returns how often each event fired in campaign.
func (s *SQLiteIndex) EventCounts(ctx context.Context, campaign string) (map[string]int, error) {
	var rows []struct {
		Event string `db:"event"`
		N     int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT event, COUNT(*) AS n FROM events WHERE campaign_id=? GROUP BY event`, campaign); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Event] = r.N
	}
	return out, nil
}

// UpsertConfig records the digests of the configuration sources in use.
func (s *SQLiteIndex) UpsertConfig(ctx context.Context, digests map[string]string) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	names := make([]string, 0, len(digests))
	for n := range digests {
		names = append(names, n)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	for _, n := range names {
		if digests[n] == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO config(name,digest,updated_at) VALUES(?,?,?)`, n, digests[n], now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()
	for {
		var r req
		select {
		case <-tick.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case next, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = next
		}
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqDay:
			err = writeDay(tx, r.day)
		case reqSave:
			_, err = tx.NamedExec(`INSERT OR REPLACE INTO saves
				(campaign_id,day,path,seed,digest,money,reputation,terminal,recorded_at)
				VALUES (:campaign_id,:day,:path,:seed,:digest,:money,:reputation,:terminal,:recorded_at)`, r.save)
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}

func writeDay(tx *sqlx.Tx, w dayWrite) error {
	if _, err := tx.NamedExec(`INSERT OR REPLACE INTO days
		(campaign_id,day,money,reputation,happiness,customers,served,events,terminal,raw_json)
		VALUES (:campaign_id,:day,:money,:reputation,:happiness,:customers,:served,:events,:terminal,:raw_json)`, w.row); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM events WHERE campaign_id=? AND day=?`, w.row.CampaignID, w.row.Day); err != nil {
		return err
	}
	for _, e := range w.events {
		if _, err := tx.NamedExec(`INSERT INTO events(campaign_id,day,seq,event,parent,depth,choice)
			VALUES (:campaign_id,:day,:seq,:event,:parent,:depth,:choice)`, e); err != nil {
			return err
		}
	}
	return nil
}

// IsNotFound reports whether err means the index has no such row.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }
