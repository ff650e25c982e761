package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"scribed/internal/api"
	"scribed/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the transcription queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			tasks, err := client.ListQueue(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, api.QueueListResponse{Tasks: tasks})
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			rows := make([][]string, 0, len(tasks))
			for _, task := range tasks {
				rows = append(rows, []string{
					strconv.FormatInt(task.ID, 10),
					task.VideoID,
					truncateColumn(task.Title, 40),
					task.ChannelID,
					task.Status,
					strconv.Itoa(task.Attempts),
					truncateColumn(task.ErrorMessage, 40),
				})
			}
			table := renderTable(
				[]string{"ID", "Video", "Title", "Channel", "Status", "Attempts", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <taskID>",
		Short: "Show one queue entry in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			task, err := client.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd, api.TaskResponse{Task: *task})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [taskID...]",
		Short: "Return failed entries to pending",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				retried, err := client.RetryAllFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Retried %d failed task(s)\n", retried)
				return nil
			}

			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", arg)
				}
				retried, err := client.RetryTask(cmd.Context(), id)
				if err != nil {
					fmt.Fprintf(out, "Task %d: %v\n", id, err)
					continue
				}
				if retried > 0 {
					fmt.Fprintf(out, "Task %d reset for retry\n", id)
				} else {
					fmt.Fprintf(out, "Task %d is not in failed state\n", id)
				}
			}
			return nil
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <taskID>",
		Short: "Remove one queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.RemoveTask(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed task %d\n", id)
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queue entries by scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "completed"
			set := 0
			if clearCompleted {
				scope = "completed"
				set++
			}
			if clearFailed {
				scope = "failed"
				set++
			}
			if clearAll {
				scope = "all"
				set++
			}
			if set > 1 {
				return errors.New("specify only one of --completed, --failed, or --all")
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			removed, err := client.ClearQueue(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d task(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove completed entries (default)")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed entries")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every entry")
	return cmd
}

func truncateColumn(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
