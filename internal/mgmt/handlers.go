package mgmt

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/codevault/internal/engine"
	perrors "github.com/p-blackswan/codevault/internal/errors"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/internal/requestid"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine *engine.Engine
	logger zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine: eng,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

// RegisterRoutes registers the project and session routes on v1.
func (h *Handlers) RegisterRoutes(v1 fiber.Router) {
	writer := requireRole(RoleWriter)
	admin := requireRole(RoleAdmin)

	pg := v1.Group("/projects")
	pg.Post("/", writer, h.CreateProject)
	pg.Get("/", h.ListProjects)
	pg.Get("/:id", h.GetProject)
	pg.Delete("/:id", admin, h.DeleteProject)
	pg.Get("/:id/files", h.GetFiles)
	pg.Get("/:id/commits", h.ListCommits)
	pg.Post("/:id/commits", writer, h.CommitFiles)
	pg.Get("/:id/versions", h.ListProjectVersions)
	pg.Post("/:id/deployment", writer, h.RecordDeployment)
	pg.Post("/:id/archive", admin, h.ArchiveProject)
	pg.Post("/:id/restore", admin, h.RestoreProject)

	sg := v1.Group("/sessions")
	sg.Post("/:sid/resolve", writer, h.ResolveProject)
	sg.Post("/:sid/files", writer, h.AddFiles)
	sg.Get("/:sid/versions", h.ListVersions)
	sg.Get("/:sid/versions/:label/files", h.GetVersionFiles)
	sg.Delete("/:sid/cache", admin, h.InvalidateSession)
}

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	created, err := h.engine.CreateProject(c.UserContext(), project.CreateInput{
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		Meta:         project.Meta{Name: req.Name, Framework: req.Framework},
		InitialFiles: req.InitialFiles,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	var q ListProjectsQuery
	if err := c.QueryParser(&q); err != nil {
		return invalidBody(c, err)
	}

	projects, err := h.engine.ListProjects(c.UserContext(), q.UserID, project.Status(q.Status))
	if err != nil {
		return h.writeError(c, err)
	}
	if projects == nil {
		projects = []*project.Project{}
	}
	return c.JSON(ProjectListResponse{Projects: projects, Total: len(projects)})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p, err := h.engine.GetProject(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(ProjectResponse{Project: p})
}

// GetFiles handles GET /api/v1/projects/:id/files[?at=ms].
func (h *Handlers) GetFiles(c *fiber.Ctx) error {
	projectID := c.Params("id")

	at := c.Query("at")
	if at == "" {
		files, err := h.engine.GetCurrentFiles(c.UserContext(), projectID)
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(FilesResponse{ProjectID: projectID, Files: files, Total: len(files)})
	}

	cutoff, err := strconv.ParseInt(at, 10, 64)
	if err != nil || cutoff < 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_cutoff", "Bad Request",
			"at must be a unix timestamp in milliseconds")
	}
	files, err := h.engine.GetFilesAsOf(c.UserContext(), projectID, cutoff)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(FilesResponse{ProjectID: projectID, AsOf: cutoff, Files: files, Total: len(files)})
}

// ListCommits handles GET /api/v1/projects/:id/commits.
func (h *Handlers) ListCommits(c *fiber.Ctx) error {
	projectID := c.Params("id")
	commits, err := h.engine.ListCommits(c.UserContext(), projectID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(CommitListResponse{ProjectID: projectID, Commits: commits, Total: len(commits)})
}

// CommitFiles handles POST /api/v1/projects/:id/commits.
func (h *Handlers) CommitFiles(c *fiber.Ctx) error {
	var req CommitRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	commit, err := h.engine.CommitFiles(c.UserContext(), engine.CommitRequest{
		ProjectID: c.Params("id"),
		UserID:    req.UserID,
		Message:   req.Message,
		Files:     req.Files,
		Type:      req.Type,
		Agent:     req.Agent,
		Prompt:    req.Prompt,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(CommitResponse{Commit: commit})
}

// ListProjectVersions handles GET /api/v1/projects/:id/versions.
func (h *Handlers) ListProjectVersions(c *fiber.Ctx) error {
	list, err := h.engine.ListProjectVersions(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(list)
}

// RecordDeployment handles POST /api/v1/projects/:id/deployment. Recording is
// best-effort: a failed write is reported in the body, not as an error status.
func (h *Handlers) RecordDeployment(c *fiber.Ctx) error {
	var req DeploymentRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if req.URL == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_url", "Bad Request",
			"Deployment URL is required")
	}

	recorded := h.engine.RecordDeployment(c.UserContext(), c.Params("id"), req.URL, req.Status)
	return c.JSON(DeploymentResponse{Recorded: recorded})
}

// ArchiveProject handles POST /api/v1/projects/:id/archive.
func (h *Handlers) ArchiveProject(c *fiber.Ctx) error {
	if err := h.engine.ArchiveProject(c.UserContext(), c.Params("id")); err != nil {
		return h.writeError(c, err)
	}
	return h.GetProject(c)
}

// RestoreProject handles POST /api/v1/projects/:id/restore.
func (h *Handlers) RestoreProject(c *fiber.Ctx) error {
	if err := h.engine.RestoreProject(c.UserContext(), c.Params("id")); err != nil {
		return h.writeError(c, err)
	}
	return h.GetProject(c)
}

// DeleteProject handles DELETE /api/v1/projects/:id.
func (h *Handlers) DeleteProject(c *fiber.Ctx) error {
	if err := h.engine.DeleteProject(c.UserContext(), c.Params("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ResolveProject handles POST /api/v1/sessions/:sid/resolve.
func (h *Handlers) ResolveProject(c *fiber.Ctx) error {
	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	projectID, err := h.engine.ResolveProjectForSession(c.UserContext(), c.Params("sid"), req.UserID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(ResolveResponse{ProjectID: projectID})
}

// AddFiles handles POST /api/v1/sessions/:sid/files.
func (h *Handlers) AddFiles(c *fiber.Ctx) error {
	var req AddFilesRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	out, err := h.engine.AddFilesToSessionProject(c.UserContext(), c.Params("sid"), req.UserID, req.Files, req.Message)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// ListVersions handles GET /api/v1/sessions/:sid/versions?user_id=.
func (h *Handlers) ListVersions(c *fiber.Ctx) error {
	list, err := h.engine.ListVersions(c.UserContext(), c.Params("sid"), c.Query("user_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(list)
}

// GetVersionFiles handles GET /api/v1/sessions/:sid/versions/:label/files?user_id=.
func (h *Handlers) GetVersionFiles(c *fiber.Ctx) error {
	label := c.Params("label")
	files, err := h.engine.GetVersionFiles(c.UserContext(), c.Params("sid"), c.Query("user_id"), label)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(FilesResponse{Version: label, Files: files, Total: len(files)})
}

// InvalidateSession handles DELETE /api/v1/sessions/:sid/cache.
func (h *Handlers) InvalidateSession(c *fiber.Ctx) error {
	if err := h.engine.InvalidateSession(c.UserContext(), c.Params("sid")); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func invalidBody(c *fiber.Ctx, err error) error {
	return problemResponse(c, fiber.StatusBadRequest,
		"invalid_body", "Bad Request",
		"Invalid request body: "+err.Error())
}

// statusClientClosedRequest reports a request the caller abandoned.
const statusClientClosedRequest = 499

// writeError maps engine errors onto problem responses.
func (h *Handlers) writeError(c *fiber.Ctx, err error) error {
	var uv *perrors.UnknownVersionError
	if errors.As(err, &uv) {
		return c.Status(fiber.StatusNotFound).JSON(ProblemDetail{
			Type:          "unknown_version",
			Title:         "Not Found",
			Status:        fiber.StatusNotFound,
			Detail:        err.Error(),
			Instance:      c.Path(),
			ValidVersions: uv.Valid,
		})
	}

	switch {
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	case errors.Is(err, perrors.ErrConflict):
		return problemResponse(c, fiber.StatusConflict, "conflict", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrMissingSession):
		return problemResponse(c, fiber.StatusConflict, "missing_session", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrStoreUnavailable):
		return problemResponse(c, fiber.StatusServiceUnavailable, "store_unavailable", "Service Unavailable",
			"The backing store is unavailable. Read requests may be retried.")
	case errors.Is(err, context.Canceled):
		return problemResponse(c, statusClientClosedRequest, "request_canceled", "Client Closed Request",
			"The request was canceled before it completed")
	}

	logger := requestid.Logger(c.UserContext(), h.logger)
	logger.Error().Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Msg("request failed")
	return problemResponse(c, fiber.StatusInternalServerError,
		"internal_error", "Internal Server Error", "An internal error occurred")
}
