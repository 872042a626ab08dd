package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	appconfig "github.com/saker-ai/asr-sdk-go/internal/config"
	"github.com/saker-ai/asr-sdk-go/internal/storage"
)

func newHistoryCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect saved transcripts",
		Long: `Inspect transcripts saved by 'recognize' when history_dir (or --history-dir)
is set. Transcripts are grouped by server host.

Examples:
  asrclient --history-dir data/history history list
  asrclient --history-dir data/history history show 2026-10-19_10-00-00_ab12...`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List transcripts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := historyConfig(cmd, global)
			if err != nil {
				return err
			}
			infos := storage.ListTranscripts(client.HistoryDir, storage.GroupName(client.ServerURL))
			if global.jsonOutput {
				return printJSON(cmd.OutOrStdout(), infos)
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %d entries  last: %s %q\n",
					info.UID, info.Entries, info.LatestEntry.File, info.LatestEntry.Text)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <uid>",
		Short: "Print the entries of a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := historyConfig(cmd, global)
			if err != nil {
				return err
			}
			entries, err := storage.GetTranscript(client.HistoryDir, storage.GroupName(client.ServerURL), args[0])
			if err != nil {
				return err
			}
			if global.jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			for _, e := range entries {
				if e.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s: error: %s\n", e.Timestamp, e.File, e.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s: %s %q score=%g\n", e.Timestamp, e.File, e.ResultCode, e.Text, e.Score)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := historyConfig(cmd, global)
			if err != nil {
				return err
			}
			if !storage.DeleteTranscript(client.HistoryDir, storage.GroupName(client.ServerURL), args[0]) {
				return fmt.Errorf("transcript %s not found", args[0])
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func historyConfig(cmd *cobra.Command, global *globalOptions) (appconfig.ClientConfig, error) {
	cfg, logger, err := global.load(cmd)
	if err != nil {
		return appconfig.ClientConfig{}, err
	}
	_ = logger.Sync()
	if cfg.Client.HistoryDir == "" {
		return appconfig.ClientConfig{}, errors.New("history dir is not configured, set history_dir or --history-dir")
	}
	return cfg.Client, nil
}
