// Package schema embeds and compiles the JSON Schema documents used by C1
// (plan documents), C2 (MCP envelopes), and C7's alert evaluator (alert
// policy documents), using github.com/santhosh-tekuri/jsonschema/v6.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed *.json
var files embed.FS

const (
	PlanSchemaPath        = "plan.schema.json"
	MessageSchemaPath     = "message.schema.json"
	AlertPolicySchemaPath = "alertpolicy.schema.json"
)

var (
	mu       sync.Mutex
	compiled = map[string]*jsonschema.Schema{}
)

func compile(name string) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}
	c := jsonschema.NewCompiler()
	data, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read embedded schema %s: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	url := "mem://" + name
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	compiled[name] = sch
	return sch, nil
}

// Validate validates the given JSON-compatible value (already unmarshaled
// into map[string]any/[]any/scalars, e.g. via json.Unmarshal into `any`)
// against the named embedded schema.
func Validate(name string, value any) error {
	sch, err := compile(name)
	if err != nil {
		return err
	}
	return sch.Validate(value)
}

// ValidateJSON is a convenience wrapper that unmarshals raw JSON before
// validating.
func ValidateJSON(name string, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return Validate(name, v)
}
