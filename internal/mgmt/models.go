// Package mgmt provides the HTTP API of the versioning engine.
package mgmt

import (
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/project"
)

// --- Request DTOs ---

// CreateProjectRequest is the payload for POST /api/v1/projects.
type CreateProjectRequest struct {
	SessionID    string              `json:"session_id"`
	UserID       string              `json:"user_id"`
	Name         string              `json:"name,omitempty"`
	Framework    string              `json:"framework,omitempty"`
	InitialFiles []history.FileInput `json:"initial_files,omitempty"`
}

// CommitRequest is the payload for POST /api/v1/projects/:id/commits.
type CommitRequest struct {
	UserID  string              `json:"user_id"`
	Message string              `json:"message"`
	Files   []history.FileInput `json:"files"`
	Type    history.CommitType  `json:"type,omitempty"`
	Agent   string              `json:"agent,omitempty"`
	Prompt  string              `json:"prompt,omitempty"`
}

// ResolveRequest is the payload for POST /api/v1/sessions/:sid/resolve.
type ResolveRequest struct {
	UserID string `json:"user_id"`
}

// AddFilesRequest is the payload for POST /api/v1/sessions/:sid/files.
type AddFilesRequest struct {
	UserID  string              `json:"user_id"`
	Files   []history.FileInput `json:"files"`
	Message string              `json:"message,omitempty"`
}

// DeploymentRequest is the payload for POST /api/v1/projects/:id/deployment.
type DeploymentRequest struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// ListProjectsQuery holds query parameters for GET /api/v1/projects.
type ListProjectsQuery struct {
	UserID string `query:"user_id"`
	Status string `query:"status"`
}

// --- Response DTOs ---

// ProjectResponse wraps a project.
type ProjectResponse struct {
	Project *project.Project `json:"project"`
}

// ProjectListResponse wraps a list of projects.
type ProjectListResponse struct {
	Projects []*project.Project `json:"projects"`
	Total    int                `json:"total"`
}

// CommitResponse wraps a commit.
type CommitResponse struct {
	Commit *history.Commit `json:"commit"`
}

// CommitListResponse wraps a project's commits, oldest first.
type CommitListResponse struct {
	ProjectID string            `json:"project_id"`
	Commits   []*history.Commit `json:"commits"`
	Total     int               `json:"total"`
}

// FilesResponse wraps a reconstructed file set.
type FilesResponse struct {
	ProjectID string                `json:"project_id,omitempty"`
	Version   string                `json:"version,omitempty"`
	AsOf      int64                 `json:"as_of,omitempty"`
	Files     []*history.FileRecord `json:"files"`
	Total     int                   `json:"total"`
}

// ResolveResponse is the response for POST /api/v1/sessions/:sid/resolve.
type ResolveResponse struct {
	ProjectID string `json:"project_id"`
}

// DeploymentResponse reports whether a deployment was recorded.
type DeploymentResponse struct {
	Recorded bool `json:"recorded"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// ValidVersions lists the labels a caller may use after an unknown_version error.
	ValidVersions []string `json:"valid_versions,omitempty"`
}
