package canvas

import "time"

// Course is a Canvas course the token holder is enrolled in.
type Course struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	CourseCode    string `json:"course_code"`
	WorkflowState string `json:"workflow_state"`
}

// File is a file attachment as reported by the Canvas files API.
type File struct {
	ID            int64     `json:"id"`
	UUID          string    `json:"uuid"`
	FolderID      int64     `json:"folder_id"`
	DisplayName   string    `json:"display_name"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content-type"`
	URL           string    `json:"url"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ModifiedAt    time.Time `json:"modified_at"`
	LockedForUser bool      `json:"locked_for_user"`
}

// Folder is a directory in a course's file area.
type Folder struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	ParentID int64  `json:"parent_folder_id"`
}

// Module is a course content module.
type Module struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
	ItemsCount int    `json:"items_count"`
}

// ModuleItem is a single entry inside a module. Type discriminates the
// payload: "File" items carry ContentID, "Page" items carry PageURL.
type ModuleItem struct {
	ID          int64  `json:"id"`
	ModuleID    int64  `json:"module_id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	ContentID   int64  `json:"content_id"`
	PageURL     string `json:"page_url"`
	HTMLURL     string `json:"html_url"`
	ExternalURL string `json:"external_url"`
}

// Module item types used by the inventory fetcher.
const (
	ItemTypeFile       = "File"
	ItemTypePage       = "Page"
	ItemTypeAssignment = "Assignment"
)

// Page is a wiki page. Body is only populated by GetPage.
type Page struct {
	PageID    int64     `json:"page_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
	Published bool      `json:"published"`
}

// Assignment is a course assignment. Description is HTML.
type Assignment struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"due_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
