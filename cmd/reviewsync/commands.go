package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/events"
	"github.com/agentworkforce/reviewsync/internal/inbox"
)

func (a *app) filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List uploaded files and their processing progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := a.service.Files(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return writeJSON(a.out, files)
			}
			renderFiles(a.out, files)
			return nil
		},
	}
}

func (a *app) fileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <file-id>",
		Short: "Show one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := a.service.File(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.asJSON {
				return writeJSON(a.out, file)
			}
			renderFile(a.out, file)
			return nil
		},
	}
}

func (a *app) uploadCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "upload <threads.json>",
		Short: "Upload a thread export for summarisation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			result, err := a.service.Upload(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			if a.asJSON {
				if err := writeJSON(a.out, result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(a.out, "uploaded %s as %s: %s\n", result.FileName, result.FileID, result.Message)
			}
			if !follow {
				return nil
			}
			if result.TaskID == "" {
				return errors.New("backend did not return a task id to follow")
			}
			return a.followTask(cmd.Context(), result.FileID, result.TaskID)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until processing finishes")
	return cmd
}

func (a *app) deleteFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-file <file-id>",
		Short: "Delete a file with its threads and summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.service.DeleteFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) threadsCmd() *cobra.Command {
	var fileID string
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List threads joined with their summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.service.ThreadsWithSummaries(cmd.Context(), fileID)
			if err != nil && len(res.Threads) == 0 {
				return err
			}
			if a.asJSON {
				return writeJSON(a.out, res.Threads)
			}
			renderThreads(a.out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file", "", "only threads of this file")
	return cmd
}

func (a *app) summariesCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := a.service.Summaries(cmd.Context())
			if err != nil {
				return err
			}
			summaries = filterSummaries(summaries, api.SummaryStatus(status))
			if a.asJSON {
				return writeJSON(a.out, summaries)
			}
			renderSummaries(a.out, summaries)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only summaries in this status (pending, approved, rejected)")
	return cmd
}

func filterSummaries(summaries []api.Summary, status api.SummaryStatus) []api.Summary {
	if status == "" {
		return summaries
	}
	out := make([]api.Summary, 0, len(summaries))
	for _, s := range summaries {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

func (a *app) summarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <thread-id>",
		Short: "Generate or regenerate the summary of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printSummary(a.service.Summarize(cmd.Context(), args[0]))
		},
	}
}

func (a *app) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <summary-id> <text>",
		Short: "Replace the summary text shown to reviewers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printSummary(a.service.Edit(cmd.Context(), args[0], args[1]))
		},
	}
}

func (a *app) approveCmd() *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:   "approve <summary-id>",
		Short: "Approve a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printSummary(a.service.Approve(cmd.Context(), args[0], remarks))
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "reviewer remarks")
	return cmd
}

func (a *app) rejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <summary-id>",
		Short: "Reject a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printSummary(a.service.Reject(cmd.Context(), args[0], reason))
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the summary is rejected")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func (a *app) undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <summary-id>",
		Short: "Return an approved or rejected summary to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printSummary(a.service.Undo(cmd.Context(), args[0]))
		},
	}
}

func (a *app) printSummary(summary api.Summary, err error) error {
	if err != nil {
		return err
	}
	if a.asJSON {
		return writeJSON(a.out, summary)
	}
	renderSummary(a.out, summary)
	return nil
}

func (a *app) taskCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "task <task-id>",
		Short: "Poll a background task until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			if noWait {
				status, err := a.service.TaskStatus(cmd.Context(), taskID)
				if err != nil {
					return err
				}
				return a.printTask(taskID, status)
			}
			status, err := a.service.WaitTask(cmd.Context(), taskID, func(s api.TaskStatus) {
				if a.asJSON || s.Status.Terminal() {
					return
				}
				renderTaskStatus(a.out, taskID, s)
			})
			if err != nil {
				return err
			}
			return a.printTask(taskID, status)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the current status once")
	return cmd
}

func (a *app) printTask(taskID string, status api.TaskStatus) error {
	if a.asJSON {
		return writeJSON(a.out, status)
	}
	renderTaskStatus(a.out, taskID, status)
	return nil
}

func (a *app) followCmd() *cobra.Command {
	var fileID, taskID string
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Stream processing events into the cache and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID != "" {
				return a.followTask(cmd.Context(), fileID, taskID)
			}
			client := a.service.Subscribe(fileID, "", a.eventPrinter())
			defer client.Close()
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file", "", "only events for this file")
	cmd.Flags().StringVar(&taskID, "task", "", "follow this task until it finishes")
	return cmd
}

// followTask streams events for the task while the poller covers for a
// missing or dropped stream, and returns once the task is terminal.
func (a *app) followTask(ctx context.Context, fileID, taskID string) error {
	client := a.service.Subscribe(fileID, taskID, a.eventPrinter())
	defer client.Close()
	status, err := a.service.WaitTask(ctx, taskID, nil)
	if err != nil {
		return err
	}
	client.Close()
	if err := a.printTask(taskID, status); err != nil {
		return err
	}
	if status.Status == api.TaskFailed {
		return fmt.Errorf("task %s failed: %d of %d threads failed", taskID, status.Failed, status.Total)
	}
	return nil
}

func (a *app) eventPrinter() func(events.Event) {
	return func(ev events.Event) {
		if a.asJSON {
			if payload, err := events.Encode(ev); err == nil {
				fmt.Fprintln(a.out, string(payload))
			}
			return
		}
		renderEvent(a.out, ev)
	}
}

func (a *app) watchCmd() *cobra.Command {
	var dir, pattern string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Upload thread exports dropped into a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Inbox.Dir
			}
			if pattern == "" {
				pattern = a.cfg.Inbox.Pattern
			}
			if dir == "" {
				return errors.New("inbox directory is required (--dir or inbox.dir)")
			}
			uploader, err := inbox.New(inbox.Options{
				Dir:       dir,
				Pattern:   pattern,
				StateFile: filepath.Join(dir, ".reviewsync-inbox.json"),
				QueueFile: filepath.Join(dir, ".reviewsync-queue.json"),
				Target:    a.service,
				OnUpload: func(path string, result api.UploadResult) {
					fmt.Fprintf(a.out, "uploaded %s as %s (task %s)\n", filepath.Base(path), result.FileID, result.TaskID)
				},
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
			return uploader.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch")
	cmd.Flags().StringVar(&pattern, "pattern", "", "file name pattern")
	return cmd
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := a.service.Health(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return writeJSON(a.out, health)
			}
			fmt.Fprintf(a.out, "%s %s\n", a.cfg.APIURL, approvedStyle.Render(health.Status))
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = a.out.Write(out)
			return err
		},
	}
}
