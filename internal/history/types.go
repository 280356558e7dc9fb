// Package history stores the append-only commit log of a project and rebuilds the
// project's file set at any point in that log.
package history

// CommitType tags how a commit was produced.
type CommitType string

const (
	CommitInitial CommitType = "initial"
	CommitManual  CommitType = "manual"
	CommitAuto    CommitType = "auto"
	CommitAIEdit  CommitType = "ai_edit"
)

// Valid reports whether t is a known commit type.
func (t CommitType) Valid() bool {
	switch t {
	case CommitInitial, CommitManual, CommitAuto, CommitAIEdit:
		return true
	}
	return false
}

// ChangeType is the kind of change a file record carries.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// Valid reports whether c is a known change type. The empty value is accepted on
// input and means "write this content".
func (c ChangeType) Valid() bool {
	switch c {
	case "", ChangeAdded, ChangeModified, ChangeDeleted, ChangeRenamed:
		return true
	}
	return false
}

// Commit is an immutable batch of file changes.
type Commit struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Message       string     `json:"message"`
	Type          CommitType `json:"type"`
	Agent         string     `json:"agent,omitempty"`
	Prompt        string     `json:"prompt,omitempty"`
	FilesAdded    int        `json:"files_added"`
	FilesModified int        `json:"files_modified"`
	FilesDeleted  int        `json:"files_deleted"`
	CreatedAt     int64      `json:"created_at"`
}

// FileCount is the number of file records the commit wrote.
func (c *Commit) FileCount() int {
	return c.FilesAdded + c.FilesModified + c.FilesDeleted
}

// FileRecord is a full content snapshot of one file as of one commit.
type FileRecord struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	CommitID         string     `json:"commit_id"`
	Filename         string     `json:"filename"`
	PreviousFilename string     `json:"previous_filename,omitempty"`
	Content          string     `json:"content"`
	Language         string     `json:"language"`
	FileType         string     `json:"file_type"`
	ChangeType       ChangeType `json:"change_type"`
	CreatedAt        int64      `json:"created_at"`
}

// FileInput describes one touched file in a commit request.
type FileInput struct {
	Filename         string     `json:"filename"`
	Content          string     `json:"content"`
	Language         string     `json:"language,omitempty"`
	FileType         string     `json:"file_type,omitempty"`
	ChangeType       ChangeType `json:"change_type,omitempty"`
	PreviousFilename string     `json:"previous_filename,omitempty"`
}

// CommitInput holds the parameters for appending a commit.
type CommitInput struct {
	ProjectID string      `json:"project_id"`
	UserID    string      `json:"user_id"`
	Message   string      `json:"message"`
	Files     []FileInput `json:"files"`
	Type      CommitType  `json:"type"`
	Agent     string      `json:"agent,omitempty"`
	Prompt    string      `json:"prompt,omitempty"`
}

// Log is a consistent read of a project's commits and file records, both oldest first.
type Log struct {
	Commits []*Commit
	Records []*FileRecord
}
