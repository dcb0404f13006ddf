// Package preflight validates the environment before a sync: config
// completeness, data directory health, disk space and Canvas
// reachability. Surfaced through the doctor command.
package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Deyu-Zhang/canvas-ai/internal/config"
)

// CheckStatus is the outcome of one preflight check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the status label.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the status as its label.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Required bool        `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Pinger verifies Canvas connectivity, typically by listing courses.
type Pinger func(ctx context.Context) error

// Checker runs the preflight checks against a loaded configuration.
type Checker struct {
	cfg  *config.Config
	ping Pinger
}

// NewChecker creates a Checker. ping may be nil to skip the
// connectivity check (offline mode).
func NewChecker(cfg *config.Config, ping Pinger) *Checker {
	return &Checker{cfg: cfg, ping: ping}
}

// RunAll executes every check and reports whether all required ones
// passed.
func (c *Checker) RunAll(ctx context.Context) ([]CheckResult, bool) {
	results := []CheckResult{
		c.CheckCanvasConfig(),
		c.CheckIndexCredentials(),
		c.CheckDataDir(),
		c.CheckDiskSpace(c.cfg.Paths.DataDir),
	}
	if c.ping != nil {
		results = append(results, c.CheckCanvasReachable(ctx))
	}

	ok := true
	for _, r := range results {
		if r.IsCritical() {
			ok = false
		}
	}
	return results, ok
}

// CheckCanvasConfig verifies the Canvas credentials are present.
func (c *Checker) CheckCanvasConfig() CheckResult {
	result := CheckResult{Name: "canvas_config", Required: true}

	if err := c.cfg.RequireCanvas(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("base URL %s, token set", c.cfg.Canvas.BaseURL)
	return result
}

// CheckIndexCredentials verifies the index service key. Missing
// credentials only degrade syncing (no uploads), so this warns.
func (c *Checker) CheckIndexCredentials() CheckResult {
	result := CheckResult{Name: "index_credentials", Required: false}

	if err := c.cfg.RequireIndex(); err != nil {
		result.Status = StatusWarn
		result.Message = "no index API key; files will mirror locally but not upload"
		return result
	}

	result.Status = StatusPass
	result.Message = "index API key set"
	return result
}

// CheckDataDir verifies the data directory exists (or can be created)
// and is writable.
func (c *Checker) CheckDataDir() CheckResult {
	result := CheckResult{Name: "data_dir", Required: true}
	dir := c.cfg.Paths.DataDir

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	probe := filepath.Join(dir, ".preflight")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable: %v", dir, err)
		return result
	}
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s is writable", dir)
	return result
}

// CheckCanvasReachable calls the configured pinger.
func (c *Checker) CheckCanvasReachable(ctx context.Context) CheckResult {
	result := CheckResult{Name: "canvas_reachable", Required: true}

	if err := c.ping(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Canvas API unreachable: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = "Canvas API responded"
	return result
}
