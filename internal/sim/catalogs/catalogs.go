// Package catalogs loads the event catalogue. A catalogue file may hold one
// event, a list of events, or a map of id to event; each record may use the
// nested form or the flat "effect.<Metric>" / "cascade.<id>" form. Records are
// normalised to the nested form and checked against event.schema.json before
// decoding.
package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/expr"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/tuning"
)

//go:embed event.schema.json
var eventSchemaJSON string

var eventSchema = jsonschema.MustCompileString("event.schema.json", eventSchemaJSON)

var ErrSchema = errors.New("schema violation")

// Catalog is the loaded event catalogue.
type Catalog struct {
	Events []events.Event
	Files  []string
	Digest string
}

type effectDoc = metrics.Effect

type choiceDoc struct {
	ID      string      `json:"id"`
	Label   string      `json:"label"`
	Effects []effectDoc `json:"effects"`
}

type cascadeDoc struct {
	Event       string  `json:"event"`
	Type        string  `json:"type"`
	Delay       int     `json:"delay"`
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
	Impact      float64 `json:"impact"`
}

type eventDoc struct {
	ID            string       `json:"id"`
	Kind          string       `json:"kind"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Condition     string       `json:"condition"`
	Probability   float64      `json:"probability"`
	Period        int          `json:"period"`
	Cooldown      *int         `json:"cooldown"`
	Priority      int          `json:"priority"`
	Critical      bool         `json:"critical"`
	Tags          []string     `json:"tags"`
	Effects       []effectDoc  `json:"effects"`
	Choices       []choiceDoc  `json:"choices"`
	DefaultChoice string       `json:"default_choice"`
	Cascades      []cascadeDoc `json:"cascades"`
	Terminal      string       `json:"terminal"`
}

// Load reads every .yaml, .yml and .json file under dir in path order. A
// missing directory yields an empty catalogue.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Digest = sha256Hex(nil)
			return c, nil
		}
		return nil, err
	}
	sort.Strings(files)

	var concat bytes.Buffer
	seen := map[string]string{}
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		name := filepath.Base(p)
		evs, err := Parse(name, b)
		if err != nil {
			return nil, err
		}
		for _, ev := range evs {
			if prev, dup := seen[ev.ID]; dup {
				return nil, &tuning.SourceError{Source: name, Key: ev.ID,
					Err: fmt.Errorf("%w: also defined in %s", events.ErrDuplicateEvent, prev)}
			}
			seen[ev.ID] = name
			c.Events = append(c.Events, ev)
		}
		c.Files = append(c.Files, name)
	}
	c.Digest = sha256Hex(concat.Bytes())
	return c, nil
}

// Parse decodes one catalogue document. name selects the syntax by extension
// and labels errors.
func Parse(name string, raw []byte) ([]events.Event, error) {
	var doc any
	if strings.EqualFold(filepath.Ext(name), ".json") {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, &tuning.SourceError{Source: name, Err: err}
		}
	} else if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &tuning.SourceError{Source: name, Err: err}
	}
	if doc == nil {
		return nil, nil
	}

	records, err := splitDocument(doc)
	if err != nil {
		return nil, &tuning.SourceError{Source: name, Err: err}
	}
	out := make([]events.Event, 0, len(records))
	for _, rec := range records {
		id, _ := rec["id"].(string)
		ev, err := decodeRecord(rec)
		if err != nil {
			return nil, &tuning.SourceError{Source: name, Key: id, Err: err}
		}
		out = append(out, ev)
	}
	return out, nil
}

// splitDocument flattens the three accepted document shapes into records.
func splitDocument(doc any) ([]map[string]any, error) {
	switch v := doc.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("item %d: expected a mapping", i)
			}
			out = append(out, m)
		}
		return out, nil
	case map[string]any:
		if _, ok := v["id"]; ok {
			return []map[string]any{v}, nil
		}
		if inner, ok := v["events"]; ok && len(v) == 1 {
			return splitDocument(inner)
		}
		ids := make([]string, 0, len(v))
		for id := range v {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			m, ok := v[id].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: expected a mapping", id)
			}
			rec := make(map[string]any, len(m)+1)
			for k, val := range m {
				rec[k] = val
			}
			if _, ok := rec["id"]; !ok {
				rec["id"] = id
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected an event, a list of events or a map of events")
}

func decodeRecord(rec map[string]any) (events.Event, error) {
	nested, err := normalizeRecord(rec)
	if err != nil {
		return events.Event{}, err
	}
	raw, err := json.Marshal(nested)
	if err != nil {
		return events.Event{}, err
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return events.Event{}, err
	}
	if err := eventSchema.Validate(generic); err != nil {
		return events.Event{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	var d eventDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return events.Event{}, err
	}
	return d.toEvent()
}

func (d eventDoc) toEvent() (events.Event, error) {
	kind, err := events.ParseKind(d.Kind)
	if err != nil {
		return events.Event{}, err
	}
	cond, err := expr.CompileCondition(d.Condition, events.ConditionSymbols)
	if err != nil {
		return events.Event{}, fmt.Errorf("condition: %w", err)
	}
	ev := events.Event{
		ID:            d.ID,
		Kind:          kind,
		Title:         d.Title,
		Description:   d.Description,
		Condition:     cond,
		Effects:       d.Effects,
		DefaultChoice: d.DefaultChoice,
		Probability:   d.Probability,
		Period:        d.Period,
		Cooldown:      -1,
		Priority:      d.Priority,
		Critical:      d.Critical,
		Tags:          d.Tags,
		Terminal:      d.Terminal,
	}
	if d.Cooldown != nil {
		ev.Cooldown = *d.Cooldown
	}
	seenChoice := map[string]bool{}
	for _, c := range d.Choices {
		if seenChoice[c.ID] {
			return events.Event{}, fmt.Errorf("duplicate choice %q", c.ID)
		}
		seenChoice[c.ID] = true
		ev.Choices = append(ev.Choices, events.Choice{ID: c.ID, Label: c.Label, Effects: c.Effects})
	}
	if d.DefaultChoice != "" && !seenChoice[d.DefaultChoice] {
		return events.Event{}, fmt.Errorf("default_choice %q is not a choice", d.DefaultChoice)
	}
	for _, cd := range d.Cascades {
		t, err := events.ParseLinkType(cd.Type)
		if err != nil {
			return events.Event{}, err
		}
		lc, err := expr.CompileCondition(cd.Condition, events.ConditionSymbols)
		if err != nil {
			return events.Event{}, fmt.Errorf("cascade %s: condition: %w", cd.Event, err)
		}
		if cd.Event == d.ID {
			return events.Event{}, fmt.Errorf("cascade %s: event cascades to itself", cd.Event)
		}
		ev.Cascades = append(ev.Cascades, events.Link{
			Event:       cd.Event,
			Type:        t,
			Delay:       cd.Delay,
			Condition:   lc,
			Probability: cd.Probability,
			Impact:      cd.Impact,
		})
	}
	return ev, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
