package s

import "time"

// EntryKind mirrors the "type" field of the GitHub contents API.
type EntryKind string

const (
	EntryFile EntryKind = "file"
	EntryDir  EntryKind = "dir"
)

// PathEntry is one file-or-directory record from a directory listing.
type PathEntry struct {
	Path        string    `json:"path"`
	Kind        EntryKind `json:"type"`
	DownloadURL string    `json:"download_url"`
}

// TaskStatus is the lifecycle state of a background download task.
// Transitions are queued -> running -> {completed, failed}, exactly once.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskInfo is the externally visible view of a task record.
type TaskInfo struct {
	ID          string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	Discovered  int64      `json:"files_discovered"`
	Processed   int64      `json:"files_processed"`
	DownloadURL string     `json:"download_url,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// DownloadSource echoes back what was requested.
type DownloadSource struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	FolderPath string `json:"folder_path"`
}

// DownloadResult is returned when the sealed archive was uploaded to
// object storage instead of being streamed back directly.
type DownloadResult struct {
	Filename      string         `json:"filename"`
	DownloadURL   string         `json:"download_url"`
	SizeBytes     int64          `json:"size_bytes"`
	SizeFormatted string         `json:"size_formatted"`
	ExpiresInDays int            `json:"expires_in_days"`
	Source        DownloadSource `json:"source"`
}
