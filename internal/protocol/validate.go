package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeBegin:       "begin.schema.json",
	TypeListActions: "empty.schema.json",
	TypeSave:        "empty.schema.json",
	TypeState:       "empty.schema.json",
	TypeApplyAction: "apply_action.schema.json",
	TypeEndDay:      "end_day.schema.json",
	TypeLoad:        "load.schema.json",
}

var requestSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	out := map[string]*jsonschema.Schema{}
	compiled := map[string]*jsonschema.Schema{}
	for typ, name := range schemaFiles {
		if s, ok := compiled[name]; ok {
			out[typ] = s
			continue
		}
		b, err := schemaFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			panic(err)
		}
		if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
			panic(err)
		}
		s := c.MustCompile(name)
		compiled[name] = s
		out[typ] = s
	}
	return out
}

// ValidateRequest checks a client message against the schema for its type.
func ValidateRequest(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, err
	}
	s, ok := requestSchemas[base.Type]
	if !ok {
		return base, fmt.Errorf("unknown message type %q", base.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return base, err
	}
	if err := s.Validate(doc); err != nil {
		return base, err
	}
	return base, nil
}
