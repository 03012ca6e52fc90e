package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/ui"
)

var expenseCategories = []domain.ExpenseCategory{
	domain.ExpenseFood,
	domain.ExpenseTransport,
	domain.ExpenseLodging,
	domain.ExpenseAttractions,
	domain.ExpenseShopping,
	domain.ExpenseOther,
}

var budgetCmd = &cobra.Command{
	Use:     "budget",
	GroupID: "plan",
	Short:   "Show and edit the shared budget",
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show budget, spending and expenses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewDevice(cmd, func(a *app) error {
			printBudget(cmd.OutOrStdout(), a.owners.Budget.Snapshot())
			return nil
		})
	},
}

var budgetAddCmd = &cobra.Command{
	Use:   "add AMOUNT_JPY [DESCRIPTION...]",
	Short: "Record an expense in yen",
	Long: `Record an expense. The amount is in JPY; its PLN value is computed with the
current exchange rate unless --pln is given.

  tripsync budget add 1200 ramen --category jedzenie
  tripsync budget add 8400 "Shinkansen to Kyoto" -c transport --date "last friday"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		category, _ := cmd.Flags().GetString("category")
		if err := checkCategory(category, expenseCategories); err != nil {
			return err
		}
		dateText, _ := cmd.Flags().GetString("date")
		date, err := parseDate(dateText, time.Now())
		if err != nil {
			return err
		}
		pln, _ := cmd.Flags().GetFloat64("pln")

		return editDevice(cmd, func(a *app) error {
			id := a.owners.Budget.AddExpense(domain.NewExpense{
				Date:        date,
				Amount:      amount,
				AmountPLN:   pln,
				Category:    domain.ExpenseCategory(category),
				Description: strings.Join(args[1:], " "),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added expense %s\n", ui.RenderPass("✓"), id)
			return nil
		})
	},
}

var budgetDeleteCmd = &cobra.Command{
	Use:   "delete EXPENSE_ID",
	Short: "Delete an expense",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDevice(cmd, func(a *app) error {
			if !a.owners.Budget.DeleteExpense(args[0]) {
				return fmt.Errorf("no expense %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted expense %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set AMOUNT_PLN",
	Short: "Set the total budget in PLN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		return editDevice(cmd, func(a *app) error {
			a.owners.Budget.SetBudget(amount)
			fmt.Fprintf(cmd.OutOrStdout(), "%s Budget set to %s PLN\n", ui.RenderPass("✓"), formatAmount(amount))
			return nil
		})
	},
}

var budgetRateCmd = &cobra.Command{
	Use:   "rate PLN_PER_JPY",
	Short: "Set the JPY to PLN exchange rate by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		if rate == 0 {
			return fmt.Errorf("rate must be positive")
		}
		return editDevice(cmd, func(a *app) error {
			a.owners.Budget.SetRate(rate)
			fmt.Fprintf(cmd.OutOrStdout(), "%s Rate set to %g PLN/JPY\n", ui.RenderPass("✓"), rate)
			return nil
		})
	},
}

func printBudget(w io.Writer, b domain.BudgetState) {
	spent := b.Spent()
	fraction := 0.0
	if b.Budget > 0 {
		fraction = spent / b.Budget
	}
	rateNote := "default"
	if v, ok := b.LastRateUpdate.Get(); ok {
		rateNote = v
	}

	fmt.Fprintln(w, ui.RenderHeader("Budget"))
	fmt.Fprint(w, ui.KeyValues([][2]string{
		{"Budget", formatAmount(b.Budget) + " PLN"},
		{"Spent", formatAmount(spent) + " PLN " + ui.Progress(fraction, 20)},
		{"Remaining", formatAmount(b.Remaining()) + " PLN"},
		{"Rate", fmt.Sprintf("%g PLN/JPY (%s)", b.ExchangeRate, rateNote)},
	}))

	if len(b.Expenses) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("\nNo expenses yet."))
		return
	}
	expenses := append([]domain.Expense(nil), b.Expenses...)
	sort.SliceStable(expenses, func(i, j int) bool { return expenses[i].Date > expenses[j].Date })

	fmt.Fprintln(w, "\n"+ui.RenderHeader("Expenses"))
	for _, e := range expenses {
		fmt.Fprintf(w, "%s  %10s JPY  %9s PLN  %-10s %s  %s\n",
			e.Date, formatAmount(e.Amount), formatAmount(e.AmountPLN),
			e.Category, e.Description, ui.RenderMuted(e.ID))
	}
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func checkCategory[T ~string](value string, allowed []T) error {
	names := make([]string, len(allowed))
	for i, c := range allowed {
		if string(c) == value {
			return nil
		}
		names[i] = string(c)
	}
	return fmt.Errorf("unknown category %q (one of: %s)", value, strings.Join(names, ", "))
}

func init() {
	budgetAddCmd.Flags().StringP("category", "c", string(domain.ExpenseOther), "expense category")
	budgetAddCmd.Flags().StringP("date", "d", "", `date, e.g. 2026-11-07 or "yesterday" (default: today)`)
	budgetAddCmd.Flags().Float64("pln", 0, "PLN value (default: amount times the current rate)")

	budgetCmd.AddCommand(budgetShowCmd, budgetAddCmd, budgetDeleteCmd, budgetSetCmd, budgetRateCmd)
	rootCmd.AddCommand(budgetCmd)
}
