package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sample(day int) SaveV1 {
	return SaveV1{
		Version:    Version,
		CampaignID: "c1",
		Seed:       42,
		Day:        day,
		Metrics:    map[string]float64{"Money": 9000, "Happiness": 60, "Suffering": 40},
		Plan:       &PlanV1{Day: day, Count: 2, Slots: []SlotV1{{ID: 1, Consumed: true, Kind: "restock", Turn: day}, {ID: 2}}},
		History:    []HistoryV1{{Day: day, Seq: 1, Kind: "action", Action: "restock", Outcome: "success", Deltas: map[string]float64{"Money": -400}}},
		Cooldowns:  map[string]int{"festival_week": 60},
		Pending:    []PendingV1{{EventID: "repair_bill", ActivationTurn: day + 2, Probability: 1, Source: "equipment_breakdown"}},
	}
}

func TestEncodeDecode(t *testing.T) {
	rec := sample(3)
	b, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}

	z, err := Compress(b)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !IsCompressed(z) || IsCompressed(b) {
		t.Fatalf("IsCompressed wrong")
	}
	got, err = Decode(z)
	if err != nil {
		t.Fatalf("Decode zstd: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("zstd round trip (-want +got):\n%s", diff)
	}
}

func TestDecode_ForwardCompatible(t *testing.T) {
	b := []byte(`{"version":1,"campaign_id":"c","seed":7,"day":4,"metrics":{"Money":5},"shiny_new_field":{"x":1}}`)
	rec, err := Decode(b)
	if err != nil {
		t.Fatalf("unknown fields must be ignored: %v", err)
	}
	if rec.Day != 4 || rec.Plan != nil || rec.Cooldowns != nil {
		t.Fatalf("record %+v", rec)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]struct {
		in   string
		want error
	}{
		"newer version": {`{"version":2,"campaign_id":"c","seed":1,"day":1,"metrics":{}}`, ErrVersion},
		"missing seed":  {`{"version":1,"campaign_id":"c","day":1,"metrics":{}}`, ErrSchema},
		"day zero":      {`{"version":1,"campaign_id":"c","seed":1,"day":0,"metrics":{}}`, ErrSchema},
		"bad terminal":  {`{"version":1,"campaign_id":"c","seed":1,"day":1,"metrics":{},"terminal":"Boredom"}`, ErrSchema},
		"escaping id":   {`{"version":1,"campaign_id":"../../c","seed":1,"day":1,"metrics":{}}`, ErrSchema},
		"dot dot id":    {`{"version":1,"campaign_id":"..","seed":1,"day":1,"metrics":{}}`, ErrSchema},
	}
	for name, tc := range cases {
		_, err := Decode([]byte(tc.in))
		var le *LoadError
		if !errors.As(err, &le) || !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", name, err, tc.want)
		}
	}
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("garbage should fail")
	}
}

func TestStore_RetentionAndLatest(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 3, true)
	var all []string
	for day := 1; day <= 5; day++ {
		p, _, err := s.Write(sample(day))
		if err != nil {
			t.Fatalf("Write day %d: %v", day, err)
		}
		all = append(all, p)
	}
	other := sample(1)
	other.CampaignID = "c2"
	if _, _, err := s.Write(other); err != nil {
		t.Fatalf("Write other: %v", err)
	}

	es, err := s.List("c1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(es) != 3 || es[0].Day != 3 || es[2].Day != 5 {
		t.Fatalf("retained %+v", es)
	}
	for _, p := range all[:2] {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should be deleted", p)
		}
	}
	if es, _ := s.List("c2"); len(es) != 1 {
		t.Fatalf("other campaign touched by GC: %+v", es)
	}

	latest, ok, err := s.Latest("c1")
	if err != nil || !ok || latest.Day != 5 {
		t.Fatalf("Latest: %+v %v %v", latest, ok, err)
	}
	rec, err := s.Read(latest.Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.Day != 5 || rec.Pending[0].ActivationTurn != 7 {
		t.Fatalf("read back %+v", rec)
	}
}

func TestStore_ReadError(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "c-d000001.json")
	if err := os.WriteFile(p, []byte(`{"version":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewStore(dir, 1, false).Read(p)
	var le *LoadError
	if !errors.As(err, &le) || le.Path != p {
		t.Fatalf("want LoadError with path, got %v", err)
	}
}

func TestValidCampaignID(t *testing.T) {
	cases := map[string]bool{
		"c1":                    true,
		"shop_2.b-x":            true,
		"":                      false,
		".":                     false,
		"..":                    false,
		"../escaped":            false,
		"a/b":                   false,
		`a\b`:                   false,
		strings.Repeat("x", 65): false,
	}
	for id, want := range cases {
		if got := ValidCampaignID(id); got != want {
			t.Fatalf("ValidCampaignID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestStore_WriteRejectsUnsafeID(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "saves"), 3, false)
	rec := sample(2)
	rec.CampaignID = "../../escaped"
	_, _, err := s.Write(rec)
	var se *SaveError
	if !errors.As(err, &se) || !errors.Is(err, ErrCampaignID) {
		t.Fatalf("Write: %v", err)
	}
	if matches, _ := filepath.Glob(filepath.Join(filepath.Dir(dir), "escaped-*")); len(matches) != 0 {
		t.Fatalf("escaped files: %v", matches)
	}
}
