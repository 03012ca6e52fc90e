package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "plan",
	Short:   "Write the trip and budget to a file",
	Long: `Write the itinerary, wishlist and budget as a versioned export document.
JSON exports can be read back with 'tripsync import' or dropped into the
daemon inbox as export.json. YAML is for reading.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if format != "json" && format != "yaml" {
			return fmt.Errorf("unknown format %q (json or yaml)", format)
		}

		return viewDevice(cmd, func(a *app) error {
			exp := domain.NewExport(a.owners.Trip.Snapshot(), a.owners.Budget.Snapshot(), time.Now())
			var (
				data []byte
				err  error
			)
			if format == "yaml" {
				data, err = exp.YAML()
			} else {
				data, err = exp.JSON()
			}
			if err != nil {
				return fmt.Errorf("failed to encode export: %w", err)
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported to %s\n", ui.RenderPass("✓"), output)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "plan",
	Short:   "Replace the trip and budget with an export file",
	Long: `Replace the itinerary, wishlist and budget with the contents of a JSON
export. The file is validated first; nothing changes if it is invalid. The
packing list is not part of an export and is left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		exp, err := domain.ParseExport(data)
		if err != nil {
			return err
		}
		return editDevice(cmd, func(a *app) error {
			exp.Apply(a.owners.Trip, a.owners.Budget)
			fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %d days, %d wishlist items and %d expenses (exported %s)\n",
				ui.RenderPass("✓"), len(exp.Days), len(exp.Wishlist), len(exp.Budget.Expenses), exp.ExportedAt)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "json", "output format: json or yaml")
	exportCmd.Flags().StringP("output", "o", "", "file to write (default: stdout)")

	rootCmd.AddCommand(exportCmd, importCmd)
}
