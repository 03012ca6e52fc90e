package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/ui"
)

var activityCategories = []domain.ActivityCategory{
	domain.ActivitySightseeing,
	domain.ActivityFood,
	domain.ActivityTransport,
	domain.ActivityShopping,
	domain.ActivityLodging,
	domain.ActivityOther,
}

var tripCmd = &cobra.Command{
	Use:     "trip",
	GroupID: "plan",
	Short:   "Show and edit the itinerary",
	Long: `Show and edit the itinerary. DAY is a day id ("day-3") or its number ("3").`,
}

var tripShowCmd = &cobra.Command{
	Use:   "show [DAY]",
	Short: "Show the itinerary, or one day of it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewDevice(cmd, func(a *app) error {
			doc := a.owners.Trip.Snapshot()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				day, ok := findDay(doc, args[0])
				if !ok {
					return fmt.Errorf("no day %s", args[0])
				}
				printDay(out, day, true)
				return nil
			}
			for _, day := range doc.Days {
				printDay(out, day, false)
			}
			if len(doc.Wishlist) > 0 {
				fmt.Fprintln(out, "\n"+ui.RenderHeader("Wishlist"))
				for _, w := range doc.Wishlist {
					fmt.Fprintf(out, "  %s  %s  %s\n", w.Title, ui.RenderMuted(string(w.Category)), ui.RenderMuted(w.ID))
				}
			}
			return nil
		})
	},
}

var tripNoteCmd = &cobra.Command{
	Use:   "note DAY TEXT...",
	Short: "Replace the notes of a day",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			day, ok := findDay(a.owners.Trip.Snapshot(), args[0])
			if !ok {
				return fmt.Errorf("no day %s", args[0])
			}
			a.owners.Trip.UpdateNotes(day.ID, strings.Join(args[1:], " "))
			fmt.Fprintf(cmd.OutOrStdout(), "%s Notes saved for %s\n", ui.RenderPass("✓"), day.Label)
			return nil
		})
	},
}

var tripActivityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Add, toggle or delete activities",
}

var tripActivityAddCmd = &cobra.Command{
	Use:   "add DAY TITLE...",
	Short: "Add an activity to a day",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		if err := checkCategory(category, activityCategories); err != nil {
			return err
		}
		at, _ := cmd.Flags().GetString("time")
		location, _ := cmd.Flags().GetString("location")
		description, _ := cmd.Flags().GetString("description")

		return editDevice(cmd, func(a *app) error {
			day, ok := findDay(a.owners.Trip.Snapshot(), args[0])
			if !ok {
				return fmt.Errorf("no day %s", args[0])
			}
			id := a.owners.Trip.AddActivity(day.ID, domain.NewActivity{
				Title:       strings.Join(args[1:], " "),
				Description: description,
				Time:        at,
				Location:    location,
				Category:    domain.ActivityCategory(category),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s to %s\n", ui.RenderPass("✓"), id, day.Label)
			return nil
		})
	},
}

var tripActivityToggleCmd = &cobra.Command{
	Use:   "toggle DAY ACTIVITY_ID",
	Short: "Mark an activity done or not done",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			day, ok := findDay(a.owners.Trip.Snapshot(), args[0])
			if !ok {
				return fmt.Errorf("no day %s", args[0])
			}
			if !a.owners.Trip.ToggleActivity(day.ID, args[1]) {
				return fmt.Errorf("no activity %s on %s", args[1], day.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Toggled %s\n", ui.RenderPass("✓"), args[1])
			return nil
		})
	},
}

var tripActivityDeleteCmd = &cobra.Command{
	Use:   "delete DAY ACTIVITY_ID",
	Short: "Delete an activity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			day, ok := findDay(a.owners.Trip.Snapshot(), args[0])
			if !ok {
				return fmt.Errorf("no day %s", args[0])
			}
			if !a.owners.Trip.DeleteActivity(day.ID, args[1]) {
				return fmt.Errorf("no activity %s on %s", args[1], day.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), args[1])
			return nil
		})
	},
}

var wishCmd = &cobra.Command{
	Use:     "wish",
	GroupID: "plan",
	Short:   "Collect ideas and schedule them",
}

var wishAddCmd = &cobra.Command{
	Use:   "add TITLE...",
	Short: "Add an idea to the wishlist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		if err := checkCategory(category, activityCategories); err != nil {
			return err
		}
		location, _ := cmd.Flags().GetString("location")
		description, _ := cmd.Flags().GetString("description")

		return editDevice(cmd, func(a *app) error {
			id := a.owners.Trip.AddWishlistItem(domain.NewWishlistItem{
				Title:       strings.Join(args, " "),
				Description: description,
				Category:    domain.ActivityCategory(category),
				Location:    location,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s to the wishlist\n", ui.RenderPass("✓"), id)
			return nil
		})
	},
}

var wishMoveCmd = &cobra.Command{
	Use:   "move ITEM_ID DAY",
	Short: "Schedule a wishlist idea on a day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			day, ok := findDay(a.owners.Trip.Snapshot(), args[1])
			if !ok {
				return fmt.Errorf("no day %s", args[1])
			}
			if !a.owners.Trip.MoveToDay(args[0], day.ID) {
				return fmt.Errorf("no wishlist item %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Moved %s to %s\n", ui.RenderPass("✓"), args[0], day.Label)
			return nil
		})
	},
}

var wishDeleteCmd = &cobra.Command{
	Use:   "delete ITEM_ID",
	Short: "Remove an idea from the wishlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			if !a.owners.Trip.DeleteWishlistItem(args[0]) {
				return fmt.Errorf("no wishlist item %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

// findDay resolves a day id or a 1-based day number.
func findDay(doc domain.TripDocument, ref string) (domain.TripDay, bool) {
	if n, err := strconv.Atoi(ref); err == nil {
		ref = fmt.Sprintf("day-%d", n)
	}
	for _, d := range doc.Days {
		if d.ID == ref {
			return d, true
		}
	}
	return domain.TripDay{}, false
}

func printDay(w io.Writer, day domain.TripDay, detailed bool) {
	fmt.Fprintf(w, "%s  %s  %s\n", ui.RenderHeader(day.Label), day.Date, ui.RenderMuted(string(day.Location)))
	for _, act := range day.Activities {
		at := act.Time.OrElse("     ")
		fmt.Fprintf(w, "  %s %s  %s", ui.RenderCheck(act.Completed), at, act.Title)
		if loc, ok := act.Location.Get(); ok {
			fmt.Fprintf(w, " @ %s", loc)
		}
		if detailed {
			fmt.Fprintf(w, "  %s", ui.RenderMuted(act.ID))
		}
		fmt.Fprintln(w)
	}
	if day.Notes != "" {
		fmt.Fprintf(w, "  %s %s\n", ui.RenderMuted("notes:"), day.Notes)
	}
}

func init() {
	addActivityFlags := func(c *cobra.Command) {
		c.Flags().StringP("category", "c", string(domain.ActivitySightseeing), "activity category")
		c.Flags().StringP("location", "l", "", "place name")
		c.Flags().String("description", "", "longer description")
	}
	addActivityFlags(tripActivityAddCmd)
	tripActivityAddCmd.Flags().StringP("time", "t", "", "start time, e.g. 09:30")
	addActivityFlags(wishAddCmd)

	tripActivityCmd.AddCommand(tripActivityAddCmd, tripActivityToggleCmd, tripActivityDeleteCmd)
	tripCmd.AddCommand(tripShowCmd, tripNoteCmd, tripActivityCmd)
	wishCmd.AddCommand(wishAddCmd, wishMoveCmd, wishDeleteCmd)
	rootCmd.AddCommand(tripCmd, wishCmd)
}
