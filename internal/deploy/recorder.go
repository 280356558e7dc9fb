// Package deploy records externally obtained deployment outcomes against
// projects. Deployment metadata is best-effort: recording failures never
// reach the commit or version paths.
package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/project"
)

// Writer persists deployment metadata.
type Writer interface {
	UpdateDeployment(ctx context.Context, projectID string, d project.Deployment) error
}

// Snapshotter supplies the head commit and the file set as of that commit.
type Snapshotter interface {
	Snapshot(ctx context.Context, projectID string) (*history.Commit, []*history.FileRecord, error)
}

// Result is what a deployment trigger reports back.
type Result struct {
	URL    string
	Status string
}

// Trigger starts a deployment of the given files. Deployment itself happens
// outside this engine.
type Trigger interface {
	Deploy(ctx context.Context, projectID string, files []*history.FileRecord) (Result, error)
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, projectID string, files []*history.FileRecord) (Result, error)

// Deploy calls f.
func (f TriggerFunc) Deploy(ctx context.Context, projectID string, files []*history.FileRecord) (Result, error) {
	return f(ctx, projectID, files)
}

// ErrNothingToDeploy is returned by Deploy for a project without commits.
var ErrNothingToDeploy = errors.New("project has no commits to deploy")

// Recorder writes deployment outcomes through to the project registry.
type Recorder struct {
	writer   Writer
	snapshot Snapshotter
	logger   zerolog.Logger
	onResult func(ok bool)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithResultHook registers a callback run after every recording attempt.
func WithResultHook(fn func(ok bool)) Option {
	return func(r *Recorder) {
		r.onResult = fn
	}
}

// NewRecorder creates a new deployment recorder.
func NewRecorder(writer Writer, snapshot Snapshotter, logger zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		writer:   writer,
		snapshot: snapshot,
		logger:   logger.With().Str("component", "deploy.recorder").Logger(),
		onResult: func(bool) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores the deployment against the project. Failures are logged and
// swallowed; the return value reports whether the record landed.
func (r *Recorder) Record(ctx context.Context, projectID string, d project.Deployment) bool {
	err := r.writer.UpdateDeployment(ctx, projectID, d)
	r.onResult(err == nil)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("project_id", projectID).
			Str("url", d.URL).
			Msg("failed to record deployment")
		return false
	}

	r.logger.Info().
		Str("project_id", projectID).
		Str("url", d.URL).
		Str("status", d.Status).
		Msg("deployment recorded")
	return true
}

// Deploy hands the project's current files to trigger and records the outcome
// against the commit those files were read at. Trigger errors are returned;
// recording errors are not.
func (r *Recorder) Deploy(ctx context.Context, projectID string, trigger Trigger) (project.Deployment, error) {
	head, files, err := r.snapshot.Snapshot(ctx, projectID)
	if err != nil {
		return project.Deployment{}, err
	}
	if head == nil {
		return project.Deployment{}, fmt.Errorf("project %s: %w", projectID, ErrNothingToDeploy)
	}

	res, err := trigger.Deploy(ctx, projectID, files)
	if err != nil {
		return project.Deployment{}, fmt.Errorf("deployment trigger failed: %w", err)
	}

	d := project.Deployment{URL: res.URL, Status: res.Status, CommitID: head.ID}
	r.Record(ctx, projectID, d)
	return d, nil
}
