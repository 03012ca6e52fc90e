// Command tripsync keeps trip plans in sync across devices.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tripsync/tripsync/internal/config"
)

var (
	// Set by the root command before any subcommand runs.
	cfg *config.Config

	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tripsync",
	Short: "Shared trip planner state: itinerary, budget and packing list",
	Long: `tripsync keeps a trip plan (itinerary days and wishlist, budget, packing
list) on this device and shares it with other devices through a room.

Every device stores its own copy. Create a room on one device and join it on
the others with the six-character code; from then on each change is pushed to
the room half a second after the last edit and picked up by every other
device. The last write wins.

Configuration is read from tripsync.toml in the data directory (or --config),
TRIPSYNC_* environment variables and flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(bindFlags(cmd), cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return setupLogging(cfg, verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogging()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "plan", Title: "Plan:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: <data-dir>/tripsync.toml)")
	flags.String("data-dir", config.DefaultDataDir(), "directory holding local state")
	flags.String("storage", "", "storage DSN (default: <data-dir>/tripsync.db)")
	flags.String("remote", "", "remote store URL (ws://, wss://, redis://, memory:)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log sync activity to stderr")
}

// flagKeys maps setting keys to the flags that override them.
var flagKeys = map[string]string{
	config.KeyDataDir:     "data-dir",
	config.KeyStorageDSN:  "storage",
	config.KeyRemoteURL:   "remote",
	config.KeyRelayListen: "listen",
}

// bindFlags returns fresh settings overridden by the flags cmd was run
// with.
func bindFlags(cmd *cobra.Command) *viper.Viper {
	v := config.New()
	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
	return v
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
