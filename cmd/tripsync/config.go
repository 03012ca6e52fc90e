package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/config"
	"github.com/tripsync/tripsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect or create the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Long: `Write the effective settings (defaults, environment and flags) to
tripsync.toml in the data directory, or to the --config path.

  tripsync config init --remote ws://relay.local:7420/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := cfgFile
		if path == "" {
			path = config.Path(cfg.DataDir)
		}
		if err := config.WriteTOML(path, cfg, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file := cfg.File
		if file == "" {
			file = ui.RenderMuted("none")
		}
		remoteURL := cfg.Remote.URL
		if remoteURL == "" {
			remoteURL = ui.RenderMuted("none (local-only)")
		}
		logFile := cfg.Log.File
		if logFile == "" {
			logFile = ui.RenderMuted("none")
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.KeyValues([][2]string{
			{"Config file", file},
			{config.KeyDataDir, cfg.DataDir},
			{config.KeyStorageDSN, cfg.Storage.DSN},
			{config.KeyFallbackBytes, fmt.Sprint(cfg.Storage.FallbackBytes)},
			{config.KeyRemoteURL, remoteURL},
			{config.KeyDebounce, cfg.Sync.Debounce.String()},
			{config.KeyNotifyWindow, cfg.Sync.NotifyWindow.String()},
			{config.KeyRelayListen, cfg.Relay.Listen},
			{config.KeyRelayStorage, cfg.Relay.StorageDSN},
			{config.KeyLogFile, logFile},
			{config.KeyInboxDir, cfg.Inbox.Dir},
		}))
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
