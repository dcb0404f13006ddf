// Package inventory builds the remote file inventory for a set of
// courses. It merges the Files area, module file items, module pages
// and assignment descriptions into one deduplicated list keyed by
// (course_id, remote_id).
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/Deyu-Zhang/canvas-ai/internal/canvas"
	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
	"github.com/Deyu-Zhang/canvas-ai/internal/mirror"
	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

// Canvas file, page and assignment IDs live in separate keyspaces.
// Offsets keep them disjoint inside the shared manifest keyspace.
const (
	pageIDSpace       = int64(1) << 40
	assignmentIDSpace = int64(1) << 41
)

// embeddedFileRe matches Canvas file links inside page/assignment HTML,
// e.g. https://canvas.example.edu/courses/42/files/12345/download.
var embeddedFileRe = regexp.MustCompile(`/files/(\d+)`)

// RemoteFile is one syncable artifact in the remote inventory.
type RemoteFile struct {
	CourseID    int64        `json:"course_id"`
	RemoteID    int64        `json:"remote_id"`
	Name        string       `json:"name"`
	Path        string       `json:"path"` // mirror-relative target
	Size        int64        `json:"size"`
	Fingerprint string       `json:"fingerprint"`
	ContentType string       `json:"content_type"`
	URL         string       `json:"url"` // download URL; empty for HTML exports
	Source      store.Source `json:"source"`
	UpdatedAt   time.Time    `json:"updated_at"`
	// HTML carries the body for page/assignment exports, which have no
	// download URL.
	HTML string `json:"-"`
}

// API is the slice of the Canvas client the fetcher needs.
type API interface {
	ListCourses(ctx context.Context) ([]canvas.Course, error)
	ListFiles(ctx context.Context, courseID int64) ([]canvas.File, error)
	ListModules(ctx context.Context, courseID int64) ([]canvas.Module, error)
	ListModuleItems(ctx context.Context, courseID, moduleID int64) ([]canvas.ModuleItem, error)
	GetPage(ctx context.Context, courseID int64, pageURL string) (*canvas.Page, error)
	ListAssignments(ctx context.Context, courseID int64) ([]canvas.Assignment, error)
	GetFile(ctx context.Context, fileID int64) (*canvas.File, error)
}

// Fetcher assembles the remote inventory.
type Fetcher struct {
	api    API
	logger *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(api API, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{api: api, logger: logger}
}

// Courses lists syncable courses, optionally restricted to the given IDs.
func (f *Fetcher) Courses(ctx context.Context, only []int64) ([]canvas.Course, error) {
	courses, err := f.api.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	if len(only) == 0 {
		return courses, nil
	}

	want := make(map[int64]bool, len(only))
	for _, id := range only {
		want[id] = true
	}

	var filtered []canvas.Course
	for _, c := range courses {
		if want[c.ID] {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// Fetch builds the inventory for the given courses. Courses that fail
// are skipped and reported through a PartialInventoryError so one
// broken course cannot block the rest; the returned files are still
// usable. If every course fails, no files and only the error are
// returned.
func (f *Fetcher) Fetch(ctx context.Context, courses []canvas.Course) ([]RemoteFile, error) {
	var all []RemoteFile
	failed := make(map[int64]error)

	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		files, err := f.fetchCourse(ctx, course)
		if err != nil {
			f.logger.Warn("inventory_course_failed",
				"course_id", course.ID,
				"course", course.Name,
				"error", err)
			failed[course.ID] = err
			continue
		}

		f.logger.Info("inventory_course_complete",
			"course_id", course.ID,
			"course", course.Name,
			"files", len(files))
		all = append(all, files...)
	}

	if len(failed) > 0 {
		err := &syncerrors.PartialInventoryError{CoursesFailed: failed}
		if len(failed) == len(courses) {
			return nil, err
		}
		return all, err
	}

	return all, nil
}

// fetchCourse builds the inventory for one course.
func (f *Fetcher) fetchCourse(ctx context.Context, course canvas.Course) ([]RemoteFile, error) {
	seen := make(map[int64]bool)
	var out []RemoteFile

	add := func(rf RemoteFile) {
		if seen[rf.RemoteID] {
			return
		}
		seen[rf.RemoteID] = true
		out = append(out, rf)
	}

	// Files area first: its paths win when a module item references the
	// same file.
	files, err := f.api.ListFiles(ctx, course.ID)
	if err != nil {
		// Some courses hide the Files tab entirely; fall through to
		// modules when the area is forbidden.
		if !syncerrors.IsPermissionDenied(err) && !syncerrors.IsNotFound(err) {
			return nil, fmt.Errorf("list files for course %d: %w", course.ID, err)
		}
		f.logger.Debug("inventory_files_area_unavailable", "course_id", course.ID, "error", err)
	}
	for _, file := range files {
		add(f.fromFile(course, file, mirror.CourseFilePath(course.Name, file.DisplayName)))
	}

	if err := f.fetchModules(ctx, course, add); err != nil {
		return nil, err
	}
	if err := f.fetchAssignments(ctx, course, add); err != nil {
		return nil, err
	}

	return out, nil
}

// fetchModules walks the course's modules and collects file items and
// page exports.
func (f *Fetcher) fetchModules(ctx context.Context, course canvas.Course, add func(RemoteFile)) error {
	modules, err := f.api.ListModules(ctx, course.ID)
	if err != nil {
		if syncerrors.IsPermissionDenied(err) || syncerrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("list modules for course %d: %w", course.ID, err)
	}

	for _, module := range modules {
		items, err := f.api.ListModuleItems(ctx, course.ID, module.ID)
		if err != nil {
			if syncerrors.IsPermissionDenied(err) || syncerrors.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("list items for module %d: %w", module.ID, err)
		}

		for _, item := range items {
			switch item.Type {
			case canvas.ItemTypeFile:
				file, err := f.api.GetFile(ctx, item.ContentID)
				if err != nil {
					// A locked file shows up in the module listing but
					// 403s on metadata. The download phase never sees
					// it, so it cannot be tracked as inaccessible here;
					// just log and move on.
					f.logger.Debug("inventory_module_file_unavailable",
						"course_id", course.ID, "file_id", item.ContentID, "error", err)
					continue
				}
				add(f.fromFile(course, *file,
					mirror.ModuleFilePath(course.Name, module.Name, file.DisplayName)))

			case canvas.ItemTypePage:
				page, err := f.api.GetPage(ctx, course.ID, item.PageURL)
				if err != nil {
					f.logger.Debug("inventory_page_unavailable",
						"course_id", course.ID, "page", item.PageURL, "error", err)
					continue
				}
				rf := f.fromPage(course, module, *page)
				add(rf)
				f.addEmbeddedFiles(ctx, course, page.Body, add)
			}
		}
	}

	return nil
}

// fetchAssignments collects assignment description exports.
func (f *Fetcher) fetchAssignments(ctx context.Context, course canvas.Course, add func(RemoteFile)) error {
	assignments, err := f.api.ListAssignments(ctx, course.ID)
	if err != nil {
		if syncerrors.IsPermissionDenied(err) || syncerrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("list assignments for course %d: %w", course.ID, err)
	}

	for _, a := range assignments {
		if a.Description == "" {
			continue
		}
		add(RemoteFile{
			CourseID:    course.ID,
			RemoteID:    assignmentIDSpace + a.ID,
			Name:        a.Name + ".html",
			Path:        mirror.AssignmentPath(course.Name, a.Name),
			Size:        int64(len(a.Description)),
			Fingerprint: htmlFingerprint(a.UpdatedAt, a.Description),
			ContentType: "text/html",
			Source:      store.SourceAssignment,
			UpdatedAt:   a.UpdatedAt,
			HTML:        a.Description,
		})
		f.addEmbeddedFiles(ctx, course, a.Description, add)
	}

	return nil
}

// addEmbeddedFiles resolves /files/{id} links found in HTML bodies and
// adds them to the inventory under the course Files area.
func (f *Fetcher) addEmbeddedFiles(ctx context.Context, course canvas.Course, html string, add func(RemoteFile)) {
	for _, match := range embeddedFileRe.FindAllStringSubmatch(html, -1) {
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		file, err := f.api.GetFile(ctx, id)
		if err != nil {
			f.logger.Debug("inventory_embedded_file_unavailable",
				"course_id", course.ID, "file_id", id, "error", err)
			continue
		}
		add(f.fromFile(course, *file, mirror.CourseFilePath(course.Name, file.DisplayName)))
	}
}

func (f *Fetcher) fromFile(course canvas.Course, file canvas.File, path string) RemoteFile {
	return RemoteFile{
		CourseID:    course.ID,
		RemoteID:    file.ID,
		Name:        file.DisplayName,
		Path:        path,
		Size:        file.Size,
		Fingerprint: FileFingerprint(file),
		ContentType: file.ContentType,
		URL:         file.URL,
		Source:      store.SourceFile,
		UpdatedAt:   file.UpdatedAt,
	}
}

func (f *Fetcher) fromPage(course canvas.Course, module canvas.Module, page canvas.Page) RemoteFile {
	return RemoteFile{
		CourseID:    course.ID,
		RemoteID:    pageIDSpace + page.PageID,
		Name:        page.Title + ".html",
		Path:        mirror.ModuleFilePath(course.Name, module.Name, page.Title+".html"),
		Size:        int64(len(page.Body)),
		Fingerprint: htmlFingerprint(page.UpdatedAt, page.Body),
		ContentType: "text/html",
		Source:      store.SourcePage,
		UpdatedAt:   page.UpdatedAt,
		HTML:        page.Body,
	}
}

// FileFingerprint derives the change-detection fingerprint for a
// Canvas file: its server-side mtime plus size. Content hashing is not
// possible without downloading, and Canvas bumps updated_at on every
// content change.
func FileFingerprint(file canvas.File) string {
	return file.UpdatedAt.UTC().Format(time.RFC3339) + ":" + strconv.FormatInt(file.Size, 10)
}

func htmlFingerprint(updatedAt time.Time, body string) string {
	return updatedAt.UTC().Format(time.RFC3339) + ":" + strconv.Itoa(len(body))
}
