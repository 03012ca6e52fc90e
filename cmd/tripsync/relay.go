package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/relay"
	"github.com/tripsync/tripsync/internal/storage"
	"github.com/tripsync/tripsync/internal/ui"
)

var relayCmd = &cobra.Command{
	Use:     "relay",
	GroupID: "advanced",
	Short:   "Run a room server for devices on your network",
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rooms over WebSocket",
	Long: `Start a relay: a small server holding every room's documents, reachable by
devices over WebSocket.

Point devices at it with remote.url = "ws://<host>:7420/ws". The relay keeps
its rooms in relay.storage_dsn (default <data-dir>/relay.db) so they survive
a restart.

Example usage:
  tripsync relay serve                  # listen on :7420
  tripsync relay serve --listen :9000   # custom address

Endpoints:
  ws://<host>:<port>/ws       device connections
  http://<host>:<port>/health health check`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logToStderr()

		if err := cfg.EnsureDataDir(); err != nil {
			return err
		}
		backend, err := storage.Open(cmd.Context(), cfg.Relay.StorageDSN)
		if err != nil {
			return fmt.Errorf("failed to open relay storage: %w", err)
		}
		defer backend.Close()

		server := relay.NewServer(&relay.Config{
			Addr:    cfg.Relay.Listen,
			Backend: backend,
			Logger:  newLogger("[relay] "),
		})

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}

		addr := server.GetAddr()
		fmt.Printf("%s Relay listening on %s\n", ui.RenderPass("✓"), addr)
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Printf("Health check: http://%s/health\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down relay...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Relay stopped")
		return nil
	},
}

func init() {
	relayServeCmd.Flags().String("listen", ":7420", "address to listen on")

	relayCmd.AddCommand(relayServeCmd)
	rootCmd.AddCommand(relayCmd)
}
