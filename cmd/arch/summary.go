package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/archcore/arch/internal/scheduler"
)

var (
	validStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	invalidStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	stateStyles = map[string]lipgloss.Style{
		"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"skipped":   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"timeout":   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

// printRunSummary renders the plan-status line, per-state task counts, and
// the trace-log pointer the CLI prints on termination (spec.md §6.3,
// "User-visible failure").
func printRunSummary(w io.Writer, result *scheduler.Result, criticalPath []string, traceLogPath string) {
	statusStyle := validStyle
	if result.Status != "success" {
		statusStyle = invalidStyle
	}

	fmt.Fprintln(w, headerStyle.Render("Plan "+result.PlanID))
	fmt.Fprintf(w, "status: %s\n", statusStyle.Render(result.Status))

	counts := make(map[string]int)
	for _, t := range result.Tasks {
		counts[string(t.State)]++
	}
	fmt.Fprintln(w, headerStyle.Render("Tasks"))
	for _, state := range []string{"completed", "failed", "skipped", "timeout"} {
		if counts[state] == 0 {
			continue
		}
		style, ok := stateStyles[state]
		if !ok {
			style = dimStyle
		}
		fmt.Fprintf(w, "  %s: %d\n", style.Render(state), counts[state])
	}

	if len(criticalPath) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Critical path"))
		for _, id := range criticalPath {
			outcome, ok := result.Tasks[id]
			state := "pending"
			if ok {
				state = string(outcome.State)
			}
			style, ok := stateStyles[state]
			if !ok {
				style = dimStyle
			}
			fmt.Fprintf(w, "  %s %s\n", id, style.Render("["+state+"]"))
		}
	}

	if traceLogPath != "" {
		fmt.Fprintln(w, dimStyle.Render("trace: "+traceLogPath))
	}
}
