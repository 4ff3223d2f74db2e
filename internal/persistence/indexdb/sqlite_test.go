package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/kernel"
	"shopkeep.ai/internal/sim/metrics"
)

func dayReport(day int) kernel.DayReport {
	return kernel.DayReport{
		Day:      day,
		Business: kernel.BusinessReport{Customers: 10, Served: 8, Unmet: 2},
		Events: []kernel.EventReport{{
			Event: "equipment_breakdown",
			Triggered: []cascade.Triggered{
				{Event: "equipment_breakdown"},
				{Event: "repair_bill", Parent: "equipment_breakdown", Depth: 1},
			},
		}},
		Absorbed: []kernel.EventReport{{
			Event:     "viral_review",
			Triggered: []cascade.Triggered{{Event: "viral_review"}},
		}},
		Snapshot: metrics.MustModel().Defaults(day),
	}
}

func TestSQLiteIndex_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	idx.RecordSave(SaveRow{CampaignID: "c1", Day: 1, Path: "/saves/c1-d000001.json", Seed: 42, Digest: "aa", Money: 10000, Reputation: 50})
	idx.RecordSave(SaveRow{CampaignID: "c1", Day: 2, Path: "/saves/c1-d000002.json", Seed: 42, Digest: "bb", Money: 9000, Reputation: 48})
	idx.RecordSave(SaveRow{CampaignID: "c2", Day: 9, Path: "/saves/c2-d000009.json", Seed: 7, Digest: "cc"})
	idx.RecordDay("c1", dayReport(1))
	idx.RecordDay("c1", dayReport(2))
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	latest, err := idx.LatestSave(ctx, "c1")
	if err != nil {
		t.Fatalf("LatestSave: %v", err)
	}
	if latest.Day != 2 || latest.Digest != "bb" || latest.RecordedAt == "" {
		t.Fatalf("latest %+v", latest)
	}

	days, err := idx.Days(ctx, "c1")
	if err != nil {
		t.Fatalf("Days: %v", err)
	}
	if len(days) != 2 || days[0].Day != 1 || days[1].Events != 3 || days[1].Served != 8 || days[1].Reputation != 50 {
		t.Fatalf("days %+v", days)
	}

	counts, err := idx.EventCounts(ctx, "c1")
	if err != nil {
		t.Fatalf("EventCounts: %v", err)
	}
	want := map[string]int{"equipment_breakdown": 2, "repair_bill": 2, "viral_review": 2}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("event counts (-want +got):\n%s", diff)
	}

	if err := idx.DeleteSave(ctx, "/saves/c1-d000002.json"); err != nil {
		t.Fatalf("DeleteSave: %v", err)
	}
	if latest, err = idx.LatestSave(ctx, "c1"); err != nil || latest.Day != 1 {
		t.Fatalf("after delete: %+v %v", latest, err)
	}
	if _, err := idx.LatestSave(ctx, "nobody"); !IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}

	if err := idx.UpsertConfig(ctx, map[string]string{"constants.yaml": "d1", "events": "d2", "empty": ""}); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	var n int
	if err := again.db.Get(&n, `SELECT COUNT(*) FROM config`); err != nil || n != 2 {
		t.Fatalf("config rows %d %v", n, err)
	}
	if latest, err := again.LatestSave(ctx, "c2"); err != nil || latest.Seed != 7 {
		t.Fatalf("c2 after reopen: %+v %v", latest, err)
	}
}

func TestSQLiteIndex_RecordDayReplacesEvents(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	idx.RecordDay("c1", dayReport(3))
	idx.RecordDay("c1", dayReport(3))
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	counts, err := idx.EventCounts(ctx, "c1")
	if err != nil {
		t.Fatalf("EventCounts: %v", err)
	}
	if counts["repair_bill"] != 1 {
		t.Fatalf("re-recorded day duplicated events: %v", counts)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqSave}

	s.RecordDay("c1", dayReport(1))
	s.RecordSave(SaveRow{CampaignID: "c1", Day: 1})

	st := s.Stats()
	if st.DropDayTotal != 1 || st.DropSaveTotal != 1 {
		t.Fatalf("drops %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}

	var nilIdx *SQLiteIndex
	nilIdx.RecordSave(SaveRow{})
	if nilIdx.Stats() != (Stats{}) {
		t.Fatalf("nil index stats")
	}
}
