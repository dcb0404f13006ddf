// Package ui renders engine state for the terminal. Output degrades to
// plain text when stdout is not a TTY.
package ui

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/Deyu-Zhang/canvas-ai/internal/plan"
	"github.com/Deyu-Zhang/canvas-ai/internal/search"
	"github.com/Deyu-Zhang/canvas-ai/internal/sync"
)

// Renderer formats engine state as terminal text.
type Renderer struct {
	styles Styles
}

// NewRenderer picks styled or plain output based on whether w is a TTY.
func NewRenderer() *Renderer {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return &Renderer{styles: DefaultStyles()}
	}
	return &Renderer{styles: NoColorStyles()}
}

// NewPlainRenderer always renders without styling.
func NewPlainRenderer() *Renderer {
	return &Renderer{styles: NoColorStyles()}
}

// Status renders the reconciliation status block.
func (r *Renderer) Status(st plan.Status) string {
	s := r.styles
	var b strings.Builder

	b.WriteString(s.Header.Render("Canvas Sync Status") + "\n\n")
	b.WriteString(r.row("Courses", fmt.Sprintf("%d", st.CanvasCourses)))
	b.WriteString(r.row("Remote files", fmt.Sprintf("%d", st.CanvasFilesTotal)))
	b.WriteString(r.row("Indexed files", fmt.Sprintf("%d", st.IndexedFilesTotal)))
	b.WriteString(r.row("Vector stores", fmt.Sprintf("%d", st.VectorStoresCount)))
	b.WriteString(r.row("Local search index", yesNo(st.HasLocalIndex)))
	if st.LastSyncAt != "" {
		b.WriteString(r.row("Last sync", st.LastSyncAt))
	}
	b.WriteString("\n")

	switch {
	case st.MissingFilesCount == 0 && st.ExtraFilesCount == 0:
		b.WriteString(s.Success.Render("Everything is in sync.") + "\n")
	default:
		if st.MissingFilesCount > 0 {
			b.WriteString(s.Warning.Render(fmt.Sprintf("%d file(s) need syncing", st.MissingFilesCount)) + "\n")
			for _, name := range sortedKeys(st.MissingByCourse) {
				b.WriteString(r.row("  "+name, fmt.Sprintf("%d missing", st.MissingByCourse[name])))
			}
			if len(st.MissingFilesSample) > 0 {
				b.WriteString("\n" + s.Label.Render("Sample:") + "\n")
				for _, p := range st.MissingFilesSample {
					b.WriteString("  " + s.Dim.Render(p) + "\n")
				}
			}
		}
		if st.ExtraFilesCount > 0 {
			b.WriteString(s.Label.Render(fmt.Sprintf("%d indexed file(s) no longer exist on Canvas (kept; prune manually)", st.ExtraFilesCount)) + "\n")
		}
	}

	if st.InaccessibleCount > 0 {
		b.WriteString(s.Dim.Render(fmt.Sprintf("%d file(s) are tracked as inaccessible and will be skipped", st.InaccessibleCount)) + "\n")
	}

	return b.String()
}

// Summary renders the result of a completed sync run.
func (r *Renderer) Summary(sum *sync.Summary) string {
	s := r.styles
	var b strings.Builder

	dur := sum.FinishedAt.Sub(sum.StartedAt).Round(1e7)
	b.WriteString(s.Header.Render("Sync complete") + s.Dim.Render(fmt.Sprintf("  (%s)", dur)) + "\n\n")
	b.WriteString(r.row("Downloaded", fmt.Sprintf("%d", sum.FilesDownloaded)))
	b.WriteString(r.row("Uploaded", fmt.Sprintf("%d", sum.FilesUploaded)))
	if sum.FilesSkippedInaccessible > 0 {
		b.WriteString(r.row("Skipped (inaccessible)", fmt.Sprintf("%d", sum.FilesSkippedInaccessible)))
	}
	if sum.FilesSkippedUnsupported > 0 {
		b.WriteString(r.row("Skipped (unsupported)", fmt.Sprintf("%d", sum.FilesSkippedUnsupported)))
	}

	if sum.FilesFailed > 0 {
		b.WriteString(s.Error.Render(fmt.Sprintf("%d file(s) failed", sum.FilesFailed)) + "\n")
		for _, f := range sum.Failures {
			b.WriteString("  " + s.Dim.Render(f.Path+": "+f.Error) + "\n")
		}
	}
	for id, msg := range sum.CoursesFailed {
		b.WriteString(s.Warning.Render(fmt.Sprintf("course %d skipped: %s", id, msg)) + "\n")
	}

	return b.String()
}

// Progress renders an in-flight run snapshot as a single line.
func (r *Renderer) Progress(snap sync.Snapshot) string {
	s := r.styles

	if !snap.IsRunning {
		return s.Dim.Render(fmt.Sprintf("state: %s", snap.State))
	}
	if snap.TotalTasks == 0 {
		return s.Label.Render("planning...")
	}

	pct := float64(snap.CompletedTasks) / float64(snap.TotalTasks) * 100
	return s.Label.Render(fmt.Sprintf("syncing %d/%d (%.0f%%)  down:%d up:%d failed:%d",
		snap.CompletedTasks, snap.TotalTasks, pct,
		snap.FilesDownloaded, snap.FilesUploaded, snap.FilesFailed))
}

// SearchResults renders local search hits.
func (r *Renderer) SearchResults(query string, results []search.Result) string {
	s := r.styles
	var b strings.Builder

	if len(results) == 0 {
		return s.Dim.Render(fmt.Sprintf("No matches for %q.", query)) + "\n"
	}

	b.WriteString(s.Header.Render(fmt.Sprintf("%d result(s) for %q", len(results), query)) + "\n\n")
	for i, res := range results {
		b.WriteString(fmt.Sprintf("%d. %s %s\n", i+1,
			s.Value.Render(res.Path),
			s.Dim.Render(fmt.Sprintf("(%.2f)", res.Score))))
		for _, frag := range res.Fragments {
			b.WriteString("   " + s.Label.Render(strings.TrimSpace(frag)) + "\n")
		}
	}
	return b.String()
}

func (r *Renderer) row(label, value string) string {
	return fmt.Sprintf("%s %s\n",
		r.styles.Label.Render(fmt.Sprintf("%-22s", label+":")),
		r.styles.Value.Render(value))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
