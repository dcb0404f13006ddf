package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Deyu-Zhang/canvas-ai/internal/plan"
	"github.com/Deyu-Zhang/canvas-ai/internal/search"
	"github.com/Deyu-Zhang/canvas-ai/internal/sync"
)

func TestStatus_InSync(t *testing.T) {
	r := NewPlainRenderer()

	out := r.Status(plan.Status{
		CanvasCourses:     2,
		CanvasFilesTotal:  10,
		IndexedFilesTotal: 10,
		HasLocalIndex:     true,
	})

	assert.Contains(t, out, "Everything is in sync.")
	assert.Contains(t, out, "Courses")
	assert.Contains(t, out, "yes")
}

func TestStatus_MissingFiles(t *testing.T) {
	r := NewPlainRenderer()

	out := r.Status(plan.Status{
		CanvasCourses:      1,
		CanvasFilesTotal:   5,
		MissingFilesCount:  3,
		ExtraFilesCount:    1,
		InaccessibleCount:  2,
		MissingByCourse:    map[string]int{"Algorithms": 3},
		MissingFilesSample: []string{"Algorithms/Files/a.pdf"},
	})

	assert.Contains(t, out, "3 file(s) need syncing")
	assert.Contains(t, out, "Algorithms")
	assert.Contains(t, out, "a.pdf")
	assert.Contains(t, out, "no longer exist on Canvas")
	assert.Contains(t, out, "tracked as inaccessible")
}

func TestSummary(t *testing.T) {
	r := NewPlainRenderer()
	start := time.Now()

	out := r.Summary(&sync.Summary{
		StartedAt:       start,
		FinishedAt:      start.Add(3 * time.Second),
		FilesDownloaded: 4,
		FilesUploaded:   3,
		FilesFailed:     1,
		Failures: []sync.FileFailure{
			{Path: "Algorithms/Files/a.pdf", Error: "still down"},
		},
	})

	assert.Contains(t, out, "Sync complete")
	assert.Contains(t, out, "Downloaded")
	assert.Contains(t, out, "1 file(s) failed")
	assert.Contains(t, out, "a.pdf: still down")
}

func TestProgress(t *testing.T) {
	r := NewPlainRenderer()

	assert.Contains(t, r.Progress(sync.Snapshot{State: "completed"}), "completed")
	assert.Contains(t, r.Progress(sync.Snapshot{IsRunning: true, State: "planning"}), "planning")

	out := r.Progress(sync.Snapshot{
		IsRunning: true, State: "executing",
		TotalTasks: 10, CompletedTasks: 5,
		FilesDownloaded: 4, FilesUploaded: 1,
	})
	assert.Contains(t, out, "5/10")
	assert.Contains(t, out, "50%")
}

func TestSearchResults(t *testing.T) {
	r := NewPlainRenderer()

	assert.Contains(t, r.SearchResults("x", nil), "No matches")

	out := r.SearchResults("dijkstra", []search.Result{
		{Path: "Algorithms/Files/graphs.md", Score: 1.5, Fragments: []string{"Dijkstra shortest path"}},
	})
	assert.Contains(t, out, "1 result(s)")
	assert.Contains(t, out, "graphs.md")
	assert.Contains(t, out, "Dijkstra shortest path")
}
