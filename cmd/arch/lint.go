package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archcore/arch/internal/errs"
	"github.com/archcore/arch/internal/plan"
)

type lintError struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	TaskIDs []string `json:"task_ids,omitempty"`
}

type lintResult struct {
	Valid        bool        `json:"valid"`
	PlanID       string      `json:"plan_id"`
	TaskCount    int         `json:"task_count"`
	LayerCount   int         `json:"layer_count"`
	CriticalPath []string    `json:"critical_path"`
	Errors       []lintError `json:"errors"`
}

func newLintCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "lint <plan-path>",
		Short: "Validate a plan without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(cmd, args[0], format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", `output format: "text" or "json"`)
	return cmd
}

func runLint(cmd *cobra.Command, path, format string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return withExitCode(1, fmt.Errorf("read %s: %w", path, err))
	}

	result := lintResult{}
	p, loadErr := plan.Load(path, data)
	if loadErr != nil {
		result.Errors = append(result.Errors, classifyLintError(loadErr))
		return emitLint(cmd, format, result)
	}

	result.PlanID = p.PlanID
	result.TaskCount = len(p.Tasks)

	dag, dagErr := plan.BuildDAG(p)
	if dagErr != nil {
		result.Errors = append(result.Errors, classifyLintError(dagErr))
		return emitLint(cmd, format, result)
	}

	result.Valid = true
	result.LayerCount = dag.Depth()
	result.CriticalPath = dag.CriticalPath()
	return emitLint(cmd, format, result)
}

func emitLint(cmd *cobra.Command, format string, result lintResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return withExitCode(1, err)
		}
	default:
		printLintText(cmd, result)
	}
	if !result.Valid {
		return withExitCode(1, fmt.Errorf("plan is invalid"))
	}
	return nil
}

func printLintText(cmd *cobra.Command, result lintResult) {
	out := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(out, "%s  %s: %d tasks, %d layers\n", validStyle.Render("VALID"), result.PlanID, result.TaskCount, result.LayerCount)
		fmt.Fprintf(out, "critical path: %s\n", joinPath(result.CriticalPath))
		return
	}
	fmt.Fprintf(out, "%s\n", invalidStyle.Render("INVALID"))
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  [%s] %s\n", e.Kind, e.Message)
	}
}

func joinPath(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	out := ids[0]
	for _, id := range ids[1:] {
		out += " -> " + id
	}
	return out
}

// classifyLintError maps the typed errs.* taxonomy to the stable "kind"
// string SPEC_FULL.md §6.1's JSON output shape names.
func classifyLintError(err error) lintError {
	var syntaxErr *errs.PlanSyntaxError
	var schemaErr *errs.PlanSchemaError
	var unknownDep *errs.UnknownDependency
	var dupID *errs.DuplicateTaskID
	var cycle *errs.CyclicDependency
	var depCount *errs.DependencyCountExceeded

	switch {
	case errors.As(err, &unknownDep):
		return lintError{Kind: "UnknownDependency", Message: err.Error(), TaskIDs: []string{unknownDep.TaskID, unknownDep.DependsOn}}
	case errors.As(err, &dupID):
		return lintError{Kind: "DuplicateTaskID", Message: err.Error(), TaskIDs: []string{dupID.TaskID}}
	case errors.As(err, &cycle):
		return lintError{Kind: "CyclicDependency", Message: err.Error(), TaskIDs: cycle.Cycle}
	case errors.As(err, &depCount):
		return lintError{Kind: "DependencyCountExceeded", Message: err.Error(), TaskIDs: []string{depCount.TaskID}}
	case errors.As(err, &syntaxErr):
		return lintError{Kind: "PlanSyntaxError", Message: err.Error()}
	case errors.As(err, &schemaErr):
		return lintError{Kind: "PlanSchemaError", Message: err.Error()}
	default:
		return lintError{Kind: "UnknownError", Message: err.Error()}
	}
}
