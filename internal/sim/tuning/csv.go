package tuning

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// csvRecord is one data row keyed by lower-cased header.
type csvRecord struct {
	line   int
	fields map[string]string
}

func (r csvRecord) get(col string) string { return strings.TrimSpace(r.fields[col]) }

// readCSV parses a headed table. Blank lines and lines starting with '#' are
// skipped; every required column must be present in the header.
func readCSV(source string, raw []byte, required ...string) ([]csvRecord, error) {
	rd := csv.NewReader(bytes.NewReader(raw))
	rd.Comment = '#'
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true

	header, err := rd.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, &SourceError{Source: source, Err: err}
	}
	cols := make([]string, len(header))
	seen := map[string]bool{}
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
		seen[cols[i]] = true
	}
	for _, c := range required {
		if !seen[c] {
			return nil, &SourceError{Source: source, Err: fmt.Errorf("missing column %q", c)}
		}
	}

	var out []csvRecord
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &SourceError{Source: source, Err: err}
		}
		line, _ := rd.FieldPos(0)
		r := csvRecord{line: line, fields: map[string]string{}}
		empty := true
		for i, v := range rec {
			if i < len(cols) {
				r.fields[cols[i]] = v
			}
			if strings.TrimSpace(v) != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
