package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "process <url>",
		Short: "Queue a single video by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			task, err := client.Process(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task #%d %s is %s\n", task.ID, task.VideoID, task.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reprocess even if the video was handled before")
	return cmd
}
