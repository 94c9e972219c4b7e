package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/config"
	"reelsmith/internal/daemon"
	"reelsmith/internal/queue"
	"reelsmith/internal/workflow"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts queue.Options
	var outputPath string

	cmd := &cobra.Command{
		Use:   "submit <source-file>",
		Short: "Queue a source video for automated editing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				d, cleanup, err := adminDaemon(cfg, store)
				if err != nil {
					return err
				}
				defer cleanup()

				job, err := d.Submit(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				if strings.TrimSpace(outputPath) != "" {
					job.OutputPath = outputPath
					if err := store.Update(cmd.Context(), job); err != nil {
						return fmt.Errorf("set output path: %w", err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s)\n", job.ID, job.Token)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Pacing, "pacing", "", "Edit pacing: relaxed, balanced, or energetic")
	cmd.Flags().StringVar(&opts.Mood, "mood", "", "Desired mood for the edit")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "Target platform: youtube, shorts, reels, tiktok, or archive")
	cmd.Flags().Float64Var(&opts.TargetSeconds, "target-seconds", 0, "Target output duration in seconds")
	cmd.Flags().StringVar(&opts.TransitionStyle, "transition", "", "Transition style: cut, crossfade, or fade")
	cmd.Flags().BoolVar(&opts.Captions, "captions", false, "Generate caption overlays")
	cmd.Flags().BoolVar(&opts.MusicCues, "music", false, "Generate background music cues")
	cmd.Flags().StringVar(&opts.Tier, "tier", "", "Minimum provider tier: premium, standard, or fast")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List edit jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var statuses []queue.Status
				for _, raw := range strings.Split(statusFilter, ",") {
					raw = strings.TrimSpace(raw)
					if raw == "" {
						continue
					}
					status, ok := queue.ParseStatus(raw)
					if !ok {
						return fmt.Errorf("unknown status %q", raw)
					}
					statuses = append(statuses, status)
				}

				jobs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found")
					return nil
				}
				fmt.Fprintln(out, renderJobTable(jobs))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma-separated status filter")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show daemon status or detail for one job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if len(args) == 1 {
					id, err := parseJobID(args[0])
					if err != nil {
						return err
					}
					job, err := store.GetByID(cmd.Context(), id)
					if err != nil {
						return err
					}
					if job == nil {
						return fmt.Errorf("job %d not found", id)
					}
					printJobDetail(cmd, job)
					return nil
				}

				d, cleanup, err := adminDaemon(cfg, store)
				if err != nil {
					return err
				}
				defer cleanup()
				printDaemonStatus(cmd, d.Status(cmd.Context()))
				return nil
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Requeue a failed, reviewed, or canceled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				d, cleanup, err := adminDaemon(cfg, store)
				if err != nil {
					return err
				}
				defer cleanup()

				if err := d.Resume(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d requeued\n", id)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				if err := store.RequestCancel(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for job %d\n", id)
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs and their checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if clearCompleted && clearFailed {
					return fmt.Errorf("--completed and --failed are mutually exclusive")
				}
				var statuses []queue.Status
				switch {
				case clearCompleted:
					statuses = []queue.Status{queue.StatusCompleted}
				case clearFailed:
					statuses = []queue.Status{queue.StatusFailed}
				}

				artifactStore, err := artifacts.Open(cfg)
				if err != nil {
					return fmt.Errorf("open artifact store: %w", err)
				}
				defer artifactStore.Close()

				ids, err := store.Clear(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := artifactStore.DeleteJob(cmd.Context(), id); err != nil {
						return fmt.Errorf("delete artifacts for job %d: %w", id, err)
					}
				}

				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					fmt.Fprintln(out, "No jobs cleared")
					return nil
				}
				fmt.Fprintf(out, "Cleared %d job(s)\n", len(ids))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed jobs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed jobs")
	return cmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				d, cleanup, err := adminDaemon(cfg, store)
				if err != nil {
					return err
				}
				defer cleanup()

				sent, message, err := d.TestNotification(cmd.Context())
				if err != nil {
					return err
				}
				if !sent {
					fmt.Fprintf(cmd.OutOrStdout(), "Skipped: %s\n", message)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), message)
				return nil
			})
		},
	}
}

// adminDaemon builds an unstarted daemon over the open store so commands can
// reuse its validation and status logic without background processing.
func adminDaemon(cfg *config.Config, store *queue.Store) (*daemon.Daemon, func(), error) {
	artifactStore, err := artifacts.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact store: %w", err)
	}
	manager := workflow.NewManager(cfg, store, artifactStore, nil, nil, nil, nil, nil)
	d, err := daemon.New(cfg, store, nil, manager)
	if err != nil {
		artifactStore.Close()
		return nil, nil, err
	}
	cleanup := func() {
		artifactStore.Close()
	}
	return d, cleanup, nil
}

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

func printJobDetail(cmd *cobra.Command, job *queue.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d (%s)\n", job.ID, job.Token)
	fmt.Fprintf(out, "  Status:   %s\n", job.Status)
	fmt.Fprintf(out, "  Source:   %s\n", job.SourcePath)
	if job.OutputPath != "" {
		fmt.Fprintf(out, "  Output:   %s\n", job.OutputPath)
	}
	if job.ProgressStage != "" {
		fmt.Fprintf(out, "  Progress: %s (%.0f%%) %s\n", job.ProgressStage, job.ProgressPercent, job.ProgressMessage)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:    %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(out, "  Attempts: %d\n", job.Attempt)
	fmt.Fprintf(out, "  Created:  %s\n", job.CreatedAt.Local().Format(time.RFC3339))
}

func printDaemonStatus(cmd *cobra.Command, status daemon.Status) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	running := statusError
	runningMsg := "stopped"
	if status.Running {
		running = statusOK
		runningMsg = "running"
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", running, runningMsg, colorize))
	fmt.Fprintln(out, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
	if status.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.LastError, colorize))
	}
	fmt.Fprintf(out, "  Jobs: %d total, %d queued, %d processing, %d completed, %d failed, %d review\n",
		status.Queue.Total, status.Queue.Queued, status.Queue.Processing,
		status.Queue.Completed, status.Queue.Failed, status.Queue.Review)
}

func renderJobTable(jobs []*queue.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		progress := job.ProgressStage
		if progress != "" && job.ProgressPercent > 0 {
			progress = fmt.Sprintf("%s %.0f%%", progress, job.ProgressPercent)
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			string(job.Status),
			progress,
			job.SourcePath,
			job.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Progress", "Source", "Updated"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
