package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/room"
	"github.com/tripsync/tripsync/internal/ui"
)

var roomCmd = &cobra.Command{
	Use:     "room",
	GroupID: "sync",
	Short:   "Create, join or leave a sync room",
	Long: `A room is a six-character code shared between devices. Everything in the
room is visible to anyone who knows the code.

  tripsync room create        # start sharing this device's plan
  tripsync room join K7M2QX   # adopt the plan shared under K7M2QX
  tripsync room status
  tripsync room leave         # stop syncing, keep the local copy`,
}

var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and share this device's plan in it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			rooms, err := a.requireRooms()
			if err != nil {
				return err
			}
			code, err := rooms.Create(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to create room: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created room %s\n", ui.RenderPass("✓"), ui.RenderBold(code.String()))
			fmt.Fprintf(cmd.OutOrStdout(), "Join it on another device with: tripsync room join %s\n", code)
			return nil
		})
	},
}

var roomJoinCmd = &cobra.Command{
	Use:   "join [CODE]",
	Short: "Join an existing room",
	Long: `Join an existing room. The room's documents replace the local ones as they
arrive. Codes are case-insensitive. Without CODE, prompts for it on a
terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw string
		if len(args) == 1 {
			raw = args[0]
		} else {
			code, err := promptCode()
			if err != nil {
				return err
			}
			raw = code
		}
		// Fail on a malformed code before touching the device.
		code, err := room.Normalize(raw)
		if err != nil {
			return err
		}

		return editDevice(cmd, func(a *app) error {
			rooms, err := a.requireRooms()
			if err != nil {
				return err
			}
			ok, err := rooms.Join(cmd.Context(), code.String())
			if err != nil {
				return fmt.Errorf("failed to join room: %w", err)
			}
			if !ok {
				return room.ErrRoomNotFound
			}
			wctx, cancel := context.WithTimeout(cmd.Context(), catchUpTimeout)
			defer cancel()
			if err := a.session.WaitReceived(wctx); err != nil {
				return fmt.Errorf("joined room %s but its documents did not arrive: %w", code, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Joined room %s\n", ui.RenderPass("✓"), ui.RenderBold(code.String()))
			return nil
		})
	},
}

var roomLeaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Stop syncing; the local copy is kept",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{lock: true})
		if err != nil {
			return err
		}
		defer a.close()
		rooms, err := a.requireRooms()
		if err != nil {
			return err
		}
		if err := rooms.Leave(cmd.Context()); err != nil {
			return fmt.Errorf("failed to leave room: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Left the room; this device is local-only\n", ui.RenderPass("✓"))
		return nil
	},
}

var roomStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved room and connection state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		out := cmd.OutOrStdout()
		if a.rooms == nil {
			remoteText := ui.RenderMuted("none (local-only)")
			if cfg.Remote.URL != "" {
				remoteText = cfg.Remote.URL + " " + ui.RenderFail("(unavailable)")
			}
			fmt.Fprint(out, ui.KeyValues([][2]string{{"Remote", remoteText}}))
			return nil
		}
		st := a.rooms.Status(cmd.Context())
		roomText := ui.RenderMuted("none")
		if st.Room != "" {
			roomText = ui.RenderBold(st.Room.String())
		}
		connText := ui.RenderFail("offline")
		if st.Connected {
			connText = ui.RenderPass("online")
		}
		fmt.Fprint(out, ui.KeyValues([][2]string{
			{"Room", roomText},
			{"Remote", cfg.Remote.URL},
			{"Connection", connText},
			{"Local store", cfg.Storage.DSN},
		}))
		return nil
	},
}

// promptCode asks for a room code on a terminal.
func promptCode() (string, error) {
	if !ui.IsTerminal(os.Stdin) {
		return "", errors.New("room code required")
	}
	var code string
	err := huh.NewInput().
		Title("Room code").
		Description("Six characters, e.g. K7M2QX").
		CharLimit(room.CodeLength).
		Value(&code).
		Validate(func(s string) error {
			_, err := room.Normalize(s)
			return err
		}).
		Run()
	if err != nil {
		return "", err
	}
	return code, nil
}

func init() {
	roomCmd.AddCommand(roomCreateCmd, roomJoinCmd, roomLeaveCmd, roomStatusCmd)
	rootCmd.AddCommand(roomCmd)
}
