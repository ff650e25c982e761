package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"scribed/internal/api"
	"scribed/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd, status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, status *api.DaemonStatus) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Daemon:   running=%s pid=%d\n", yesNo(status.Running), status.PID)
	fmt.Fprintf(out, "Workers:  %d\n", status.Workflow.Workers)
	if status.Workflow.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", status.Workflow.LastError)
	}
	if task := status.Workflow.LastTask; task != nil {
		fmt.Fprintf(out, "Last task:  #%d %s (%s)\n", task.ID, task.VideoID, task.Status)
	}

	rows := buildQueueStatRows(status.Workflow.QueueStats)
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	} else {
		fmt.Fprintln(out, "Queue is empty")
	}

	if len(status.Workflow.StageHealth) > 0 {
		healthRows := make([][]string, 0, len(status.Workflow.StageHealth))
		for _, health := range status.Workflow.StageHealth {
			detail := health.Detail
			if detail == "" && health.Ready {
				detail = "ok"
			}
			healthRows = append(healthRows, []string{health.Name, yesNo(health.Ready), detail})
		}
		fmt.Fprintln(out, renderTable([]string{"Stage", "Ready", "Detail"}, healthRows, []columnAlignment{alignLeft, alignLeft, alignLeft}))
	}

	storage := status.Workflow.Storage
	fmt.Fprintf(out, "Storage:  %s of %s used (%.0f%%), %d artifact(s)\n",
		formatBytes(storage.UsedBytes), formatBytes(storage.MaxBytes), storage.UsedRatio*100, storage.Files)
}

func buildQueueStatRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	order := make(map[string]int, len(queue.AllStatuses()))
	for i, status := range queue.AllStatuses() {
		order[string(status)] = i
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iKnown := order[keys[i]]
		oj, jKnown := order[keys[j]]
		if iKnown && jKnown {
			return oi < oj
		}
		if iKnown != jKnown {
			return iKnown
		}
		return keys[i] < keys[j]
	})
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(stats[key])})
	}
	return rows
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
