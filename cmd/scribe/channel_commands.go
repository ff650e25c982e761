package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribed/internal/api"
)

func newChannelCommand(ctx *commandContext) *cobra.Command {
	channelCmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage monitored channel subscriptions",
	}

	channelCmd.AddCommand(newChannelAddCommand(ctx))
	channelCmd.AddCommand(newChannelListCommand(ctx))
	channelCmd.AddCommand(newChannelRemoveCommand(ctx))
	channelCmd.AddCommand(newChannelActiveCommand(ctx, "disable", false))
	channelCmd.AddCommand(newChannelActiveCommand(ctx, "enable", true))

	return channelCmd
}

func newChannelAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	var feedURL string

	cmd := &cobra.Command{
		Use:   "add <channelID>",
		Short: "Subscribe a channel for discovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			channel, err := client.AddChannel(cmd.Context(), api.AddChannelRequest{
				ChannelID: args[0],
				Name:      name,
				URL:       feedURL,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscribed channel %s\n", channel.ChannelID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the channel")
	cmd.Flags().StringVar(&feedURL, "url", "", "Feed URL override")
	return cmd
}

func newChannelListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List channel subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			channels, err := client.ListChannels(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, api.ChannelListResponse{Channels: channels})
			}
			if len(channels) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No channels subscribed")
				return nil
			}
			rows := make([][]string, 0, len(channels))
			for _, channel := range channels {
				lastChecked := channel.LastChecked
				if lastChecked == "" {
					lastChecked = "never"
				}
				rows = append(rows, []string{
					channel.ChannelID,
					channel.Name,
					yesNo(channel.Active),
					lastChecked,
				})
			}
			table := renderTable(
				[]string{"Channel", "Name", "Active", "Last Checked"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newChannelRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <channelID>",
		Short: "Remove a channel subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.RemoveChannel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed channel %s\n", args[0])
			return nil
		},
	}
}

func newChannelActiveCommand(ctx *commandContext, verb string, active bool) *cobra.Command {
	short := "Disable discovery for a channel"
	done := "Disabled channel %s\n"
	if active {
		short = "Enable discovery for a channel"
		done = "Enabled channel %s\n"
	}

	return &cobra.Command{
		Use:   verb + " <channelID>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			channel, err := client.SetChannelActive(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), done, channel.ChannelID)
			return nil
		},
	}
}
