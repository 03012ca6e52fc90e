package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/ui"
)

var packingCategories = []domain.PackingCategory{
	domain.PackingDocuments,
	domain.PackingElectronics,
	domain.PackingClothes,
	domain.PackingToiletries,
	domain.PackingOther,
}

var packingCmd = &cobra.Command{
	Use:     "packing",
	GroupID: "plan",
	Short:   "Show and edit the packing list",
}

var packingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the packing list by category",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewDevice(cmd, func(a *app) error {
			printPacking(cmd.OutOrStdout(), a.owners.Packing.Snapshot())
			return nil
		})
	},
}

var packingAddCmd = &cobra.Command{
	Use:   "add NAME...",
	Short: "Add an item",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		if err := checkCategory(category, packingCategories); err != nil {
			return err
		}
		return editDevice(cmd, func(a *app) error {
			id := a.owners.Packing.Add(strings.Join(args, " "), domain.PackingCategory(category))
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s\n", ui.RenderPass("✓"), id)
			return nil
		})
	},
}

var packingToggleCmd = &cobra.Command{
	Use:   "toggle ITEM_ID...",
	Short: "Mark items packed or unpacked",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			for _, id := range args {
				if !a.owners.Packing.Toggle(id) {
					return fmt.Errorf("no packing item %s", id)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Toggled %d item(s)\n", ui.RenderPass("✓"), len(args))
			return nil
		})
	},
}

var packingDeleteCmd = &cobra.Command{
	Use:   "delete ITEM_ID",
	Short: "Remove an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			if !a.owners.Packing.Delete(args[0]) {
				return fmt.Errorf("no packing item %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var packingResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mark every item unpacked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			if !a.owners.Packing.ResetAll() {
				fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("Nothing was packed."))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s All items unpacked\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

func printPacking(w io.Writer, doc domain.PackingDocument) {
	fmt.Fprintf(w, "%s  %d/%d packed\n", ui.RenderHeader("Packing list"), doc.PackedCount(), len(doc.Items))
	for _, cat := range packingCategories {
		var items []domain.PackingItem
		for _, it := range doc.Items {
			if it.Category == cat {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", ui.RenderBold(string(cat)))
		for _, it := range items {
			fmt.Fprintf(w, "  %s %s  %s\n", ui.RenderCheck(it.Packed), it.Name, ui.RenderMuted(it.ID))
		}
	}
}

func init() {
	packingAddCmd.Flags().StringP("category", "c", string(domain.PackingOther), "item category")

	packingCmd.AddCommand(packingShowCmd, packingAddCmd, packingToggleCmd, packingDeleteCmd, packingResetCmd)
	rootCmd.AddCommand(packingCmd)
}
