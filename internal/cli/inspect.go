package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/codevault/internal/history"
	"github.com/p-blackswan/codevault/internal/project"
	"github.com/p-blackswan/codevault/internal/version"
)

// withEngine opens the runtime for one inspection command. Logs go to stderr
// and stay quiet unless --verbose is set.
func withEngine(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)
	if !opts.Verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}

	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	return fn(ctx, rt)
}

// NewProjectsCommand lists projects.
func NewProjectsCommand(opts *RootOptions) *cobra.Command {
	var userID, status string

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Example: `  codevault projects --user u-42
  codevault projects --status archived -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, func(ctx context.Context, rt *runtime) error {
				projects, err := rt.engine.ListProjects(ctx, userID, project.Status(status))
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{
						p.ID, p.Name, p.SessionID, string(p.Status),
						strconv.Itoa(p.TotalFiles), strconv.Itoa(p.TotalCommits),
						formatMillis(p.CreatedAt),
					})
				}
				return newPrinter(opts, cmd.OutOrStdout()).print(projects,
					[]string{"ID", "Name", "Session", "Status", "Files", "Commits", "Created"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Filter by user id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active|archived|deleted)")
	return cmd
}

// NewVersionsCommand lists the versions of a session's or a project's history.
func NewVersionsCommand(opts *RootOptions) *cobra.Command {
	var sessionID, userID, projectID string

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the versions of a project",
		Example: `  codevault versions --session chat-123 --user u-42
  codevault versions --project 3f2c... -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" && sessionID == "" {
				return fmt.Errorf("either --project or --session is required")
			}
			return withEngine(cmd, opts, func(ctx context.Context, rt *runtime) error {
				var (
					list *version.VersionList
					err  error
				)
				if projectID != "" {
					list, err = rt.engine.ListProjectVersions(ctx, projectID)
				} else {
					list, err = rt.engine.ListVersions(ctx, sessionID, userID)
				}
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(list.Versions))
				for _, v := range list.Versions {
					label := v.Label
					if label == list.CurrentVersion {
						label += " *"
					}
					deployed := ""
					if v.Deployed {
						deployed = v.DeploymentURL
					}
					rows = append(rows, []string{
						label, formatMillis(v.Timestamp), strconv.Itoa(v.FileCount),
						strconv.Itoa(len(v.CommitIDs)), strings.Join(v.FileTypes, ","),
						truncate(v.Message, 60), deployed,
					})
				}
				return newPrinter(opts, cmd.OutOrStdout()).print(list,
					[]string{"Version", "Time", "Files", "Commits", "Types", "Summary", "Deployed"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id")
	cmd.Flags().StringVar(&userID, "user", "", "User id (with --session)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	return cmd
}

// NewFilesCommand prints a project's file set: current, as of a time, or as of
// a version.
func NewFilesCommand(opts *RootOptions) *cobra.Command {
	var sessionID, userID, projectID, label string
	var at int64
	var showContent bool

	cmd := &cobra.Command{
		Use:   "files",
		Short: "Show a project's files",
		Example: `  codevault files --project 3f2c...
  codevault files --project 3f2c... --at 1767225600000
  codevault files --session chat-123 --user u-42 --version v2 --content`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if label != "" && sessionID == "" {
				return fmt.Errorf("--version requires --session and --user")
			}
			if label == "" && projectID == "" {
				return fmt.Errorf("either --project or --session with --version is required")
			}
			return withEngine(cmd, opts, func(ctx context.Context, rt *runtime) error {
				var (
					files []*history.FileRecord
					err   error
				)
				switch {
				case label != "":
					files, err = rt.engine.GetVersionFiles(ctx, sessionID, userID, label)
				case at > 0:
					files, err = rt.engine.GetFilesAsOf(ctx, projectID, at)
				default:
					files, err = rt.engine.GetCurrentFiles(ctx, projectID)
				}
				if err != nil {
					return err
				}

				if showContent && opts.Output == "table" {
					out := cmd.OutOrStdout()
					for _, f := range files {
						fmt.Fprintf(out, "==> %s <==\n%s\n", f.Filename, f.Content)
					}
					return nil
				}

				rows := make([][]string, 0, len(files))
				for _, f := range files {
					rows = append(rows, []string{
						f.Filename, string(f.ChangeType), f.Language,
						strconv.Itoa(len(f.Content)), formatMillis(f.CreatedAt),
					})
				}
				return newPrinter(opts, cmd.OutOrStdout()).print(files,
					[]string{"File", "Change", "Language", "Bytes", "Updated"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (with --version)")
	cmd.Flags().StringVar(&userID, "user", "", "User id (with --version)")
	cmd.Flags().StringVar(&label, "version", "", "Version label, e.g. v3")
	cmd.Flags().Int64Var(&at, "at", 0, "Cutoff as unix milliseconds")
	cmd.Flags().BoolVar(&showContent, "content", false, "Print file contents")
	return cmd
}

// NewCommitsCommand lists a project's raw commit stream.
func NewCommitsCommand(opts *RootOptions) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "commits",
		Short: "List a project's commits, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			return withEngine(cmd, opts, func(ctx context.Context, rt *runtime) error {
				commits, err := rt.engine.ListCommits(ctx, projectID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(commits))
				for _, c := range commits {
					rows = append(rows, []string{
						c.ID, formatMillis(c.CreatedAt), string(c.Type),
						fmt.Sprintf("+%d ~%d -%d", c.FilesAdded, c.FilesModified, c.FilesDeleted),
						c.Agent, truncate(c.Message, 60),
					})
				}
				return newPrinter(opts, cmd.OutOrStdout()).print(commits,
					[]string{"ID", "Time", "Type", "Changes", "Agent", "Message"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	return cmd
}

// NewResolveCommand resolves a session to its project, creating it on first use,
// and shows the session record and the newest commit.
func NewResolveCommand(opts *RootOptions) *cobra.Command {
	var sessionID, userID string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a session to its active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" || userID == "" {
				return fmt.Errorf("--session and --user are required")
			}
			return withEngine(cmd, opts, func(ctx context.Context, rt *runtime) error {
				projectID, err := rt.engine.ResolveProjectForSession(ctx, sessionID, userID)
				if err != nil {
					return err
				}
				detail, err := rt.engine.DescribeSession(ctx, sessionID, projectID)
				if err != nil {
					return err
				}

				title := detail.Title
				if detail.Placeholder {
					title = "(placeholder)"
				}
				lastCommit, files := "", ""
				if c := detail.LastCommit; c != nil {
					lastCommit = formatMillis(c.CreatedAt)
					files = strconv.Itoa(c.FileCount())
				}
				return newPrinter(opts, cmd.OutOrStdout()).print(detail,
					[]string{"Session", "Title", "Project", "Last Commit", "Files"},
					[][]string{{sessionID, title, projectID, lastCommit, files}})
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id")
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	return cmd
}
