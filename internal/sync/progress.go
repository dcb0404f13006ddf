package sync

import (
	"sync"
	"time"
)

// State is the orchestrator's run state.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Progress tracks a sync run. All access goes through methods; callers
// poll Snapshot and never block on the run itself.
type Progress struct {
	mu sync.Mutex

	state       State
	runID       string
	startedAt   time.Time
	completedAt time.Time

	totalTasks          int
	tasksDone           int
	downloaded          int
	uploaded            int
	skippedInaccessible int
	skippedUnsupported  int
	failed              int
	lastError           string
}

// Snapshot is an immutable view of Progress, shaped for JSON surfaces.
type Snapshot struct {
	IsRunning           bool   `json:"is_running"`
	State               string `json:"state"`
	RunID               string `json:"run_id,omitempty"`
	StartedAt           string `json:"started_at,omitempty"`
	CompletedAt         string `json:"completed_at,omitempty"`
	TotalTasks          int    `json:"total_tasks"`
	CompletedTasks      int    `json:"completed_tasks"`
	FilesDownloaded     int    `json:"files_downloaded"`
	FilesUploaded       int    `json:"files_uploaded"`
	SkippedInaccessible int    `json:"files_skipped_inaccessible"`
	SkippedUnsupported  int    `json:"files_skipped_unsupported"`
	FilesFailed         int    `json:"files_failed"`
	LastError           string `json:"last_error,omitempty"`
}

// NewProgress returns an idle Progress.
func NewProgress() *Progress {
	return &Progress{state: StateIdle}
}

// begin transitions Idle/Completed/Failed -> Planning. Returns false
// if a run is already in flight.
func (p *Progress) begin(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePlanning || p.state == StateExecuting {
		return false
	}

	p.state = StatePlanning
	p.runID = runID
	p.startedAt = time.Now()
	p.completedAt = time.Time{}
	p.totalTasks = 0
	p.tasksDone = 0
	p.downloaded = 0
	p.uploaded = 0
	p.skippedInaccessible = 0
	p.skippedUnsupported = 0
	p.failed = 0
	p.lastError = ""
	return true
}

// executing transitions Planning -> Executing with a task count.
func (p *Progress) executing(totalTasks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateExecuting
	p.totalTasks = totalTasks
}

// finish transitions to Completed or Failed.
func (p *Progress) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completedAt = time.Now()
	if err != nil {
		p.state = StateFailed
		p.lastError = err.Error()
		return
	}
	p.state = StateCompleted
}

// taskDone counts one finished task regardless of outcome.
func (p *Progress) taskDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasksDone++
}

func (p *Progress) addDownloaded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloaded++
}

func (p *Progress) addUploaded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded++
}

func (p *Progress) addSkippedInaccessible() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skippedInaccessible++
}

func (p *Progress) addSkippedUnsupported() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skippedUnsupported++
}

func (p *Progress) addFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	if err != nil {
		p.lastError = err.Error()
	}
}

// State returns the current run state.
func (p *Progress) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		IsRunning:           p.state == StatePlanning || p.state == StateExecuting,
		State:               string(p.state),
		RunID:               p.runID,
		TotalTasks:          p.totalTasks,
		CompletedTasks:      p.tasksDone,
		FilesDownloaded:     p.downloaded,
		FilesUploaded:       p.uploaded,
		SkippedInaccessible: p.skippedInaccessible,
		SkippedUnsupported:  p.skippedUnsupported,
		FilesFailed:         p.failed,
		LastError:           p.lastError,
	}
	if !p.startedAt.IsZero() {
		s.StartedAt = p.startedAt.UTC().Format(time.RFC3339)
	}
	if !p.completedAt.IsZero() {
		s.CompletedAt = p.completedAt.UTC().Format(time.RFC3339)
	}
	return s
}
