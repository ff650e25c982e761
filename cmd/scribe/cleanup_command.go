package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Sweep staged audio artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Cleanup(cmd.Context(), force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d artifact(s), freed %s, skipped %d, %s still in use\n",
				result.Removed, formatBytes(result.FreedBytes), result.Skipped, formatBytes(result.RemainingBytes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Sweep even when usage is below the cleanup threshold")
	return cmd
}
