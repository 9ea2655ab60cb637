// Package render formats tool results as operator-readable text. Every
// tool response carries both the JSON payload and this rendering, so
// transports that face humans can print something directly.
package render

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/narvanalabs/agent-gateway/internal/models"
)

const promptPreviewLen = 120

// Task renders one task as a short multi-line block.
func Task(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s [%s]\n", t.ID, t.Status)
	if t.Title != "" {
		fmt.Fprintf(&b, "  title:  %s\n", t.Title)
	}
	if t.Repository != "" {
		repo := t.Repository
		if t.Branch != "" {
			repo += "@" + t.Branch
		}
		fmt.Fprintf(&b, "  repo:   %s\n", repo)
	}
	if t.Prompt != "" {
		fmt.Fprintf(&b, "  prompt: %s\n", truncate(t.Prompt, promptPreviewLen))
	}
	if t.Summary != "" {
		fmt.Fprintf(&b, "  summary: %s\n", t.Summary)
	}
	if t.PullRequest != "" {
		fmt.Fprintf(&b, "  pull request: %s\n", t.PullRequest)
	}
	if t.Error != "" {
		fmt.Fprintf(&b, "  error:  %s\n", t.Error)
	}
	if !t.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "  updated: %s\n", t.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

// TaskList renders tasks as an aligned table, newest first as given.
func TaskList(tasks []models.Task) string {
	if len(tasks) == 0 {
		return "No tasks."
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tREPOSITORY\tUPDATED")
	for i := range tasks {
		t := &tasks[i]
		updated := ""
		if !t.UpdatedAt.IsZero() {
			updated = t.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Repository, updated)
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// Messages renders a task transcript oldest first as given.
func Messages(msgs []models.TaskMessage) string {
	if len(msgs) == 0 {
		return "No messages."
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		stamp := ""
		if !m.CreatedAt.IsZero() {
			stamp = " " + m.CreatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "[%s]%s\n%s", m.Role, stamp, m.Content)
	}
	return b.String()
}

// Invocations renders journal rows as an aligned table.
func Invocations(invs []*models.Invocation) string {
	if len(invs) == 0 {
		return "No recorded invocations."
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tTASK\tPROVENANCE\tOUTCOME\tMS")
	for _, inv := range invs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			inv.CreatedAt.UTC().Format(time.RFC3339),
			inv.Tool,
			inv.TaskID,
			inv.Provenance,
			inv.Outcome,
			inv.Duration,
		)
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
