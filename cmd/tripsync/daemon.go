package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/daemon"
	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep this device synced in the background",
	Long: `Run the device daemon in the foreground.

The daemon attaches to the saved room, pushes local edits half a second after
the last change and applies edits made on other devices as they arrive.

It also watches an inbox directory (inbox.dir, default <data-dir>/inbox).
Dropping one of these files there imports it as a local edit:

  trip.json      itinerary days and wishlist
  budget.json    budget state
  packing.json   packing list ({"items": [...]})
  export.json    a file written by 'tripsync export'

Imported files are removed; files that fail validation are renamed to
<name>.rejected. Only one daemon can run per data directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logToStderr()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx, appOptions{lock: true})
		if err != nil {
			return err
		}
		defer a.close()
		if a.rooms == nil {
			fmt.Fprintf(os.Stderr, "%s no remote store; the daemon only imports inbox files\n", ui.RenderWarn("!"))
		}

		d, err := daemon.New(a.session, a.rooms, &daemon.Config{
			InboxDir:  cfg.Inbox.Dir,
			Importers: importers(a),
			Logger:    newLogger("[daemon] "),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Daemon running for %s (Ctrl+C to stop)\n", ui.RenderAccent("▶"), cfg.DataDir)
		return d.Start(ctx)
	},
}

// importers maps inbox file names to the owners they replace.
func importers(a *app) map[string]daemon.Importer {
	return map[string]daemon.Importer{
		a.owners.Trip.Name():    a.owners.Trip.ImportJSON,
		a.owners.Budget.Name():  a.owners.Budget.ImportJSON,
		a.owners.Packing.Name(): a.owners.Packing.ImportJSON,
		"export": func(data []byte) error {
			exp, err := domain.ParseExport(data)
			if err != nil {
				return err
			}
			exp.Apply(a.owners.Trip, a.owners.Budget)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
