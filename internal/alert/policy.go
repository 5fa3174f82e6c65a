// Package alert implements the Alert Evaluator half of component C7: rules
// loaded from a YAML policy file, matched against every incoming
// task_result/error envelope, per spec.md §4.7.
package alert

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/archcore/arch/internal/errs"
	"github.com/archcore/arch/internal/schema"
)

// ConditionType enumerates the closed set of rule condition shapes.
type ConditionType string

const (
	ConditionError      ConditionType = "error"
	ConditionTaskResult ConditionType = "task_result"
)

// NotifyKind enumerates the closed set of rule action shapes.
type NotifyKind string

const (
	NotifyHuman   NotifyKind = "human"
	NotifyWebhook NotifyKind = "webhook"
)

// Condition is a rule's match criteria. Only the fields relevant to its Type
// are consulted; the rest are zero.
type Condition struct {
	Type           ConditionType `yaml:"type" json:"type"`
	Agent          string        `yaml:"agent" json:"agent"`
	ErrorCode      string        `yaml:"error_code" json:"error_code"`
	RetryCountMin  *int          `yaml:"retry_count" json:"retry_count"`
	ScoreBelow     *float64      `yaml:"score_below" json:"score_below"`
	ScoreAbove     *float64      `yaml:"score_above" json:"score_above"`
	DurationAbove  *float64      `yaml:"duration_above" json:"duration_above"`
	Status         string        `yaml:"status" json:"status"`
}

// Action is a rule's response when its Condition matches.
type Action struct {
	Notify         NotifyKind        `yaml:"notify" json:"notify"`
	Method         string            `yaml:"method" json:"method"`
	Level          string            `yaml:"level" json:"level"`
	Message        string            `yaml:"message" json:"message"`
	URL            string            `yaml:"url" json:"url"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
	Template       string            `yaml:"template" json:"template"`
	TimeoutSeconds float64           `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Rule is one alert policy entry, matched in the order it appears in the
// policy document (spec.md §4.7: "Rule evaluation order is stable").
type Rule struct {
	Name      string    `yaml:"name" json:"name"`
	Enabled   *bool     `yaml:"enabled" json:"enabled"`
	Condition Condition `yaml:"condition" json:"condition"`
	Action    Action    `yaml:"action" json:"action"`
}

// IsEnabled reports whether the rule is active; absent, a rule defaults to
// enabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Policy is a loaded, schema-validated alert policy document.
type Policy struct {
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
	Rules       []Rule `yaml:"rules" json:"rules"`
}

// LoadPolicy parses and schema-validates an alert policy document, per
// internal/plan/load.go's YAML-through-JSON-Schema pattern.
func LoadPolicy(source string, data []byte) (*Policy, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &errs.PolicyError{Rule: source, Err: fmt.Errorf("parse: %w", err)}
	}

	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, &errs.PolicyError{Rule: source, Err: fmt.Errorf("normalize: %w", err)}
	}

	var asAny any
	if err := json.Unmarshal(jsonBytes, &asAny); err != nil {
		return nil, &errs.PolicyError{Rule: source, Err: err}
	}
	if err := schema.Validate(schema.AlertPolicySchemaPath, asAny); err != nil {
		return nil, &errs.PolicyError{Rule: source, Err: fmt.Errorf("schema: %w", err)}
	}

	var p Policy
	if err := json.Unmarshal(jsonBytes, &p); err != nil {
		return nil, &errs.PolicyError{Rule: source, Err: err}
	}
	return &p, nil
}

func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAML(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAML(vv)
		}
		return out
	default:
		return val
	}
}
