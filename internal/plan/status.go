package plan

import (
	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
)

// sampleLimit caps the missing-file sample in status snapshots.
const sampleLimit = 10

// Status is the point-in-time snapshot derived from a Plan, shaped for
// the HTTP API, CLI and MCP tools.
type Status struct {
	CanvasCourses      int            `json:"canvas_courses"`
	CanvasFilesTotal   int            `json:"canvas_files_total"`
	IndexedFilesTotal  int            `json:"indexed_files_total"`
	MissingFilesCount  int            `json:"missing_files_count"`
	ExtraFilesCount    int            `json:"extra_files_count"`
	InaccessibleCount  int            `json:"inaccessible_count"`
	VectorStoresCount  int            `json:"vector_stores_count"`
	HasLocalIndex      bool           `json:"has_local_index"`
	MissingByCourse    map[string]int `json:"missing_by_course"`
	MissingFilesSample []string       `json:"missing_files_sample"`
	LastSyncAt         string         `json:"last_sync_at,omitempty"`
}

// Snapshot derives a Status from a plan plus surrounding context.
// indexedTotal is the size of the index manifest; vectorStores the
// number of course indexes; hasLocalIndex whether the local full-text
// index exists.
func Snapshot(p *Plan, courses []canvas.Course, indexedTotal, vectorStores int, hasLocalIndex bool) Status {
	courseNames := make(map[int64]string, len(courses))
	for _, c := range courses {
		courseNames[c.ID] = c.Name
	}

	st := Status{
		CanvasCourses:     len(courses),
		CanvasFilesTotal:  p.TotalRemote(),
		IndexedFilesTotal: indexedTotal,
		MissingFilesCount: p.MissingCount(),
		ExtraFilesCount:   len(p.ExtraInIndex),
		InaccessibleCount: len(p.Inaccessible),
		VectorStoresCount: vectorStores,
		HasLocalIndex:     hasLocalIndex,
		MissingByCourse:   make(map[string]int),
	}

	missing := p.Downloads()
	missing = append(missing, p.MissingInIndex...)
	for _, rf := range missing {
		name := courseNames[rf.CourseID]
		if name == "" {
			name = "unknown"
		}
		st.MissingByCourse[name]++

		if len(st.MissingFilesSample) < sampleLimit {
			st.MissingFilesSample = append(st.MissingFilesSample, rf.Path)
		}
	}

	return st
}
