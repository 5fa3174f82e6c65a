package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/archcore/arch/internal/schema"
)

func newSchemaCheckCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "schema-check <file>",
		Short: "Validate a plan or message document against its JSON Schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaCheck(cmd, args[0], typ)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "auto", `document type: "plan", "message", or "auto"`)
	return cmd
}

func runSchemaCheck(cmd *cobra.Command, path, typ string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return withExitCode(1, fmt.Errorf("read %s: %w", path, err))
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return withExitCode(1, fmt.Errorf("parse %s: %w", path, err))
	}
	jsonBytes, err := json.Marshal(normalizeDoc(raw))
	if err != nil {
		return withExitCode(1, fmt.Errorf("normalize %s: %w", path, err))
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return withExitCode(1, err)
	}

	resolved := typ
	if resolved == "auto" {
		resolved = sniffDocumentType(doc)
	}

	var schemaName string
	switch resolved {
	case "plan":
		schemaName = schema.PlanSchemaPath
	case "message":
		schemaName = schema.MessageSchemaPath
	default:
		return withExitCode(1, fmt.Errorf("cannot determine document type for %s; pass --type plan|message", path))
	}

	if err := schema.Validate(schemaName, doc); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s against %s: %v\n", invalidStyle.Render("INVALID"), path, schemaName, err)
		return withExitCode(1, fmt.Errorf("schema validation failed"))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s against %s\n", validStyle.Render("VALID"), path, schemaName)
	return nil
}

// sniffDocumentType guesses whether a document is a plan or a message by its
// top-level fields: plans carry tasks, messages carry protocol_version.
func sniffDocumentType(doc any) string {
	m, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	if _, ok := m["tasks"]; ok {
		return "plan"
	}
	if _, ok := m["protocol_version"]; ok {
		return "message"
	}
	return ""
}

// normalizeDoc converts map[any]any (as yaml.v3 may emit for non-string
// keys) into map[string]any so encoding/json can marshal it.
func normalizeDoc(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeDoc(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeDoc(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeDoc(vv)
		}
		return out
	default:
		return val
	}
}
