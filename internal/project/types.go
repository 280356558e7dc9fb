package project

import "github.com/p-blackswan/codevault/internal/history"

// Status is a project's lifecycle state. Projects are never physically deleted.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Project is the persisted unit of ownership for a generated codebase.
type Project struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id"`
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	Framework        string `json:"framework,omitempty"`
	Status           Status `json:"status"`
	TotalFiles       int    `json:"total_files"`
	TotalCommits     int    `json:"total_commits"`
	DeploymentURL    string `json:"deployment_url,omitempty"`
	DeploymentStatus string `json:"deployment_status,omitempty"`
	DeployedCommitID string `json:"deployed_commit_id,omitempty"`
	DeployedAt       int64  `json:"deployed_at,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

// Meta holds the user-facing project metadata supplied at creation.
type Meta struct {
	Name      string `json:"name"`
	Framework string `json:"framework,omitempty"`
}

// CreateInput holds the parameters for creating a project.
type CreateInput struct {
	SessionID    string              `json:"session_id"`
	UserID       string              `json:"user_id"`
	Meta         Meta                `json:"meta"`
	InitialFiles []history.FileInput `json:"initial_files,omitempty"`
}

// Created is the result of CreateProject.
type Created struct {
	ProjectID string   `json:"project_id"`
	CommitID  string   `json:"commit_id"`
	Project   *Project `json:"project"`
}

// Deployment is the externally obtained deployment outcome for a project.
// An empty CommitID means the project's latest commit.
type Deployment struct {
	URL      string `json:"url"`
	Status   string `json:"status"`
	CommitID string `json:"commit_id,omitempty"`
}
