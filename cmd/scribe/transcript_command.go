package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"scribed/internal/api"
	"scribed/internal/fileutil"
)

func newTranscriptCommand(ctx *commandContext) *cobra.Command {
	transcriptCmd := &cobra.Command{
		Use:   "transcript",
		Short: "Read completed transcripts",
	}

	transcriptCmd.AddCommand(newTranscriptShowCommand(ctx))
	transcriptCmd.AddCommand(newTranscriptExportCommand(ctx))

	return transcriptCmd
}

func newTranscriptShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <videoID>",
		Short: "Print a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			transcript, err := client.GetTranscript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, api.TranscriptResponse{Transcript: *transcript})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Video:      %s\n", transcript.VideoID)
			if transcript.Language != "" {
				fmt.Fprintf(out, "Language:   %s\n", transcript.Language)
			}
			if transcript.Model != "" {
				fmt.Fprintf(out, "Model:      %s\n", transcript.Model)
			}
			fmt.Fprintf(out, "Words:      %d\n", transcript.WordCount)
			if transcript.Confidence > 0 {
				fmt.Fprintf(out, "Confidence: %.2f\n", transcript.Confidence)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, transcript.FullText)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newTranscriptExportCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "export <videoID>",
		Short: "Write a transcript to a text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			transcript, err := client.GetTranscript(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			base := fileutil.SafeBaseName(transcript.VideoID)
			path := filepath.Join(outDir, base+".txt")
			if !overwrite {
				path = fileutil.EnsureUniquePath(path)
			}
			if err := fileutil.WriteFileAtomic(path, []byte(transcript.FullText+"\n"), 0o644); err != nil {
				return fmt.Errorf("write transcript: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "dir", "d", ".", "Destination directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file instead of picking a new name")
	return cmd
}
