package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/events"
	"github.com/agentworkforce/reviewsync/internal/merge"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	approvedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	rejectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

const progressWidth = 20

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusBadge(status api.SummaryStatus) string {
	switch status {
	case api.SummaryApproved:
		return approvedStyle.Render(string(status))
	case api.SummaryRejected:
		return rejectedStyle.Render(string(status))
	case "":
		return dimStyle.Render("none")
	default:
		return pendingStyle.Render(string(status))
	}
}

func taskBadge(state api.TaskState) string {
	switch state {
	case api.TaskCompleted:
		return approvedStyle.Render(string(state))
	case api.TaskFailed:
		return rejectedStyle.Render(string(state))
	default:
		return pendingStyle.Render(string(state))
	}
}

// progressBar renders percent (0-100) as a fixed-width bar.
func progressBar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * progressWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", progressWidth-filled)
	return progressStyle.Render("["+bar+"]") + fmt.Sprintf(" %5.1f%%", percent)
}

func renderFiles(w io.Writer, files []api.FileRecord) {
	if len(files) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no files"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-18s %-28s %8s  %s", "ID", "NAME", "THREADS", "PROGRESS")))
	for _, f := range files {
		fmt.Fprintf(w, "%-18s %-28s %8s  %s\n", f.ID, truncate(f.FileName, 28),
			fmt.Sprintf("%d/%d", f.ProcessedThreads, f.TotalThreads), progressBar(f.Progress))
	}
}

func renderFile(w io.Writer, f api.FileRecord) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("file"), f.ID)
	fmt.Fprintf(w, "  name:      %s\n", f.FileName)
	fmt.Fprintf(w, "  threads:   %d/%d\n", f.ProcessedThreads, f.TotalThreads)
	fmt.Fprintf(w, "  progress:  %s\n", progressBar(f.Progress))
	fmt.Fprintf(w, "  uploaded:  %s\n", f.UploadedAt)
}

func renderThreads(w io.Writer, res merge.Result) {
	if len(res.Threads) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no threads"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-14s %-36s %-10s %s", "THREAD", "SUBJECT", "SUMMARY", "ID")))
	for _, t := range res.Threads {
		status, id := api.SummaryStatus(""), ""
		if t.Summary != nil {
			status, id = t.Summary.Status, t.Summary.ID
		}
		fmt.Fprintf(w, "%-14s %-36s %-10s %s\n", t.ThreadID, truncate(t.Subject, 36), statusBadge(status), dimStyle.Render(id))
	}
	if res.SummariesErr != nil {
		fmt.Fprintln(w, errorStyle.Render("summaries unavailable: "+res.SummariesErr.Error()))
	}
}

func renderSummaries(w io.Writer, summaries []api.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no summaries"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-18s %-14s %-10s %s", "ID", "THREAD", "STATUS", "SUMMARY")))
	for _, s := range summaries {
		fmt.Fprintf(w, "%-18s %-14s %-10s %s\n", s.ID, s.ThreadID, statusBadge(s.Status), truncate(s.Text(), 60))
	}
}

func renderSummary(w io.Writer, s api.Summary) {
	fmt.Fprintf(w, "%s %s %s\n", headerStyle.Render("summary"), s.ID, statusBadge(s.Status))
	fmt.Fprintf(w, "  thread:    %s\n", s.ThreadID)
	fmt.Fprintf(w, "  text:      %s\n", s.Text())
	if s.ApprovedBy != nil {
		fmt.Fprintf(w, "  approved:  by %s at %s\n", *s.ApprovedBy, deref(s.ApprovedAt))
	}
	if s.Remarks != nil && *s.Remarks != "" {
		fmt.Fprintf(w, "  remarks:   %s\n", *s.Remarks)
	}
	if s.RejectionReason != nil {
		fmt.Fprintf(w, "  rejected:  %s\n", *s.RejectionReason)
	}
}

func renderTaskStatus(w io.Writer, taskID string, s api.TaskStatus) {
	percent := 0.0
	if s.Total > 0 {
		percent = float64(s.Processed+s.Failed) / float64(s.Total) * 100
	}
	fmt.Fprintf(w, "task %s %s %s processed=%d failed=%d total=%d\n",
		taskID, taskBadge(s.Status), progressBar(percent), s.Processed, s.Failed, s.Total)
}

// renderEvent prints one stream envelope on a single line.
func renderEvent(w io.Writer, ev events.Event) {
	switch e := ev.(type) {
	case events.Connected:
		fmt.Fprintf(w, "%s %s\n", dimStyle.Render("connected"), e.ConnectionID)
	case events.FileProgress:
		line := "file " + e.FileID
		if e.Progress != nil {
			line += " " + progressBar(*e.Progress)
		}
		if e.ProcessedThreads != nil && e.TotalThreads != nil {
			line += fmt.Sprintf(" %d/%d", *e.ProcessedThreads, *e.TotalThreads)
		}
		if e.Status != nil {
			line += " " + taskBadge(*e.Status)
		}
		fmt.Fprintln(w, line)
	case events.TaskStatusEvent:
		renderTaskStatus(w, e.TaskID, e.Status)
	case events.ErrorEvent:
		fmt.Fprintln(w, errorStyle.Render("server error: "+e.Message))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
