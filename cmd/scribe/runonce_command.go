package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run one discovery pass and drain the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admitted %d new video(s), processed %d task(s)\n",
				result.Admitted, result.Processed)
			return nil
		},
	}
}
