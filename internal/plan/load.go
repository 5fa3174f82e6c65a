package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archcore/arch/internal/errs"
	"github.com/archcore/arch/internal/schema"
)

var durationRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseDuration parses the spec.md duration grammar: \d+[smhd].
func ParseDuration(raw string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected \\d+[smhd]", raw)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}

// Load parses, schema-validates, and decodes a plan document. source is used
// only for error messages (typically the file path).
func Load(source string, data []byte) (*Plan, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &errs.PlanSyntaxError{Source: source, Err: err}
	}

	// yaml.v3 decodes mappings with map[string]interface{} keys already for
	// simple documents; normalize through JSON so the schema validator (which
	// expects JSON-native types) sees plain maps/slices/scalars.
	jsonBytes, err := jsonRoundTrip(raw)
	if err != nil {
		return nil, &errs.PlanSyntaxError{Source: source, Err: err}
	}

	var asAny any
	if err := json.Unmarshal(jsonBytes, &asAny); err != nil {
		return nil, &errs.PlanSyntaxError{Source: source, Err: err}
	}
	if err := schema.Validate(schema.PlanSchemaPath, asAny); err != nil {
		return nil, &errs.PlanSchemaError{Source: source, Err: err}
	}

	var p Plan
	if err := json.Unmarshal(jsonBytes, &p); err != nil {
		return nil, &errs.PlanSchemaError{Source: source, Err: err}
	}

	if err := applyDefaultsAndParseDurations(&p); err != nil {
		return nil, &errs.PlanSchemaError{Source: source, Err: err}
	}

	return &p, nil
}

func jsonRoundTrip(v any) ([]byte, error) {
	normalized := normalizeYAML(v)
	return json.Marshal(normalized)
}

// normalizeYAML converts map[interface{}]interface{} (emitted by some YAML
// decoders for non-string-keyed maps) into map[string]interface{} so
// encoding/json can marshal it; yaml.v3 itself already normalizes scalar
// keys to strings, but nested documents loaded dynamically may still carry
// mixed key types.
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

func applyDefaultsAndParseDurations(p *Plan) error {
	if p.TimeoutRaw == "" {
		p.Timeout = DefaultPlanTimeout
	} else {
		d, err := ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("plan timeout: %w", err)
		}
		p.Timeout = d
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if seen[t.ID] {
			return &errs.DuplicateTaskID{TaskID: t.ID}
		}
		seen[t.ID] = true

		if len(t.Dependencies) > MaxDependencies {
			return &errs.DependencyCountExceeded{TaskID: t.ID, Count: len(t.Dependencies), Max: MaxDependencies}
		}
		if !ValidAgent(t.Agent) {
			return fmt.Errorf("task %s: invalid agent %q", t.ID, t.Agent)
		}
		if t.FallbackAgent != "" && !ValidAgent(t.FallbackAgent) {
			return fmt.Errorf("task %s: invalid fallback_agent %q", t.ID, t.FallbackAgent)
		}

		// A zero value is indistinguishable from "omitted" once decoded, so a
		// plan that genuinely wants zero retries can't express it; it gets
		// the default instead. Plans needing max_retries=0 should use
		// retry_strategy=immediate with a task designed to never fail.
		if t.MaxRetries == 0 {
			t.MaxRetries = DefaultMaxRetries
		}
		if t.MaxRetries > MaxMaxRetries {
			return fmt.Errorf("task %s: max_retries %d exceeds %d", t.ID, t.MaxRetries, MaxMaxRetries)
		}
		if t.RetryStrategy == "" {
			t.RetryStrategy = DefaultRetryStrategy
		}
		if t.RetryDelayRaw == "" {
			t.RetryDelay = DefaultRetryDelay
		} else {
			d, err := ParseDuration(t.RetryDelayRaw)
			if err != nil {
				return fmt.Errorf("task %s retry_delay: %w", t.ID, err)
			}
			t.RetryDelay = d
		}
		if t.TimeoutRaw == "" {
			t.Timeout = 5 * time.Minute
		} else {
			d, err := ParseDuration(t.TimeoutRaw)
			if err != nil {
				return fmt.Errorf("task %s timeout: %w", t.ID, err)
			}
			t.Timeout = d
		}
		if t.Priority == "" {
			t.Priority = PriorityMedium
		}
	}
	return nil
}
