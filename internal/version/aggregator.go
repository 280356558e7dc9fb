// Package version presents a project's commit stream as coarse, user-facing
// versions.
package version

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/project"
)

// maxNamedFiles bounds how many touched filenames a summary spells out.
const maxNamedFiles = 3

// Version is one derived, user-facing group of commits.
type Version struct {
	Label         string   `json:"label" yaml:"label"`
	Number        int      `json:"number" yaml:"number"`
	CommitID      string   `json:"commit_id" yaml:"commit_id"`
	CommitIDs     []string `json:"commit_ids" yaml:"commit_ids"`
	Timestamp     int64    `json:"timestamp" yaml:"timestamp"`
	FileCount     int      `json:"file_count" yaml:"file_count"`
	FileTypes     []string `json:"file_types" yaml:"file_types"`
	Message       string   `json:"message" yaml:"message"`
	Deployed      bool     `json:"deployed" yaml:"deployed"`
	DeploymentURL string   `json:"deployment_url,omitempty" yaml:"deployment_url,omitempty"`
}

// VersionList is a project's versions, newest first.
type VersionList struct {
	ProjectID      string     `json:"project_id" yaml:"project_id"`
	Versions       []*Version `json:"versions" yaml:"versions"`
	CurrentVersion string     `json:"current_version" yaml:"current_version"`
}

// ProjectSource loads the project row for its deployment marker.
type ProjectSource interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// Aggregator derives versions from the commit log.
type Aggregator struct {
	commits  *history.CommitStore
	projects ProjectSource
	window   time.Duration
	logger   zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWindow overrides the grouping window. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// NewAggregator creates a new version aggregator.
func NewAggregator(commits *history.CommitStore, projects ProjectSource, logger zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		commits:  commits,
		projects: projects,
		window:   DefaultWindow,
		logger:   logger.With().Str("component", "version.aggregator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Window returns the grouping window in effect.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// List returns the project's versions, newest first.
func (a *Aggregator) List(ctx context.Context, projectID string) (*VersionList, error) {
	versions, _, err := a.build(ctx, projectID)
	if err != nil {
		return nil, err
	}

	list := &VersionList{ProjectID: projectID, Versions: make([]*Version, len(versions))}
	for i, v := range versions {
		list.Versions[len(versions)-1-i] = v
	}
	if len(versions) > 0 {
		list.CurrentVersion = versions[len(versions)-1].Label
	}
	return list, nil
}

// Files returns the cumulative file set of the labelled version.
func (a *Aggregator) Files(ctx context.Context, projectID, label string) ([]*history.FileRecord, error) {
	versions, log, err := a.build(ctx, projectID)
	if err != nil {
		return nil, err
	}

	n, ok := ParseLabel(label)
	if !ok || n > len(versions) {
		valid := make([]string, len(versions))
		for i, v := range versions {
			valid[i] = v.Label
		}
		return nil, &perrors.UnknownVersionError{ProjectID: projectID, Label: label, Valid: valid}
	}
	return history.Collapse(log.Records, versions[n-1].Timestamp), nil
}

// build computes versions oldest first from one consistent snapshot of the log.
func (a *Aggregator) build(ctx context.Context, projectID string) ([]*Version, *history.Log, error) {
	p, err := a.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, perrors.NotFound("project", projectID)
	}

	log, err := a.commits.Log(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	groups := Group(log.Commits, a.window)
	versions := make([]*Version, 0, len(groups))
	replay := history.NewReplay()
	pending := log.Records

	for i, group := range groups {
		last := group[len(group)-1]
		rest := replay.ApplyUntil(pending, last.CreatedAt)
		applied := pending[:len(pending)-len(rest)]
		pending = rest

		v := &Version{
			Label:     Label(i + 1),
			Number:    i + 1,
			CommitID:  last.ID,
			CommitIDs: make([]string, len(group)),
			Timestamp: last.CreatedAt,
			FileCount: replay.Len(),
			FileTypes: replay.FileTypes(),
		}
		for j, c := range group {
			v.CommitIDs[j] = c.ID
		}
		v.Message = summarize(group, applied, v.FileCount)
		if p.DeployedCommitID != "" && p.DeployedCommitID == last.ID {
			v.Deployed = true
			v.DeploymentURL = p.DeploymentURL
		}
		versions = append(versions, v)
	}

	if len(pending) > 0 {
		return nil, nil, fmt.Errorf("project %s has %d file records past its last commit", projectID, len(pending))
	}

	a.logger.Debug().
		Str("project_id", projectID).
		Int("commits", len(log.Commits)).
		Int("versions", len(versions)).
		Msg("versions computed")

	return versions, log, nil
}

func summarize(group []*history.Commit, applied []*history.FileRecord, total int) string {
	if len(group) == 1 && group[0].Type == history.CommitInitial {
		return fmt.Sprintf("Initial version (%s)", plural(total, "file"))
	}

	seen := make(map[string]struct{}, len(applied))
	var touched []string
	for _, rec := range applied {
		if _, ok := seen[rec.Filename]; ok {
			continue
		}
		seen[rec.Filename] = struct{}{}
		touched = append(touched, rec.Filename)
	}
	sort.Strings(touched)

	if len(touched) == 0 {
		msg := strings.TrimSpace(group[len(group)-1].Message)
		if msg == "" {
			msg = "No file changes"
		}
		return fmt.Sprintf("%s (%s)", msg, plural(total, "file"))
	}

	named := touched
	extra := 0
	if len(named) > maxNamedFiles {
		extra = len(named) - maxNamedFiles
		named = named[:maxNamedFiles]
	}
	msg := "Updated " + strings.Join(named, ", ")
	if extra > 0 {
		msg += fmt.Sprintf(" and %d more", extra)
	}
	return fmt.Sprintf("%s (%s)", msg, plural(total, "file"))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
