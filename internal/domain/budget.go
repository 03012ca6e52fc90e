package domain

import (
	"encoding/json"
	"fmt"

	"github.com/tripsync/tripsync/internal/jsondoc"
)

// NewExpense holds the caller-supplied fields of an expense; the owner
// assigns id and createdAt.
type NewExpense struct {
	Date        string
	Amount      float64
	AmountPLN   float64
	Category    ExpenseCategory
	Description string
}

// Budget owns the budget document.
type Budget struct {
	owner *Owner[BudgetState]
	opts  Options
}

// NewBudget creates a budget owner holding initial.
func NewBudget(initial BudgetState, opts Options) *Budget {
	return &Budget{
		owner: NewOwner(initial.normalize()),
		opts:  opts.withDefaults(),
	}
}

// Snapshot returns the current document.
func (b *Budget) Snapshot() BudgetState {
	return b.owner.Snapshot()
}

// OnChange registers fn for every change of the document.
func (b *Budget) OnChange(fn func(BudgetState)) (cancel func()) {
	return b.owner.Observe(fn)
}

// AddExpense appends an expense and returns its id. A zero AmountPLN is
// filled in from the current exchange rate.
func (b *Budget) AddExpense(e NewExpense) string {
	id := b.opts.id("exp")
	b.owner.Mutate(func(s BudgetState) (BudgetState, bool) {
		pln := e.AmountPLN
		if pln == 0 {
			pln = e.Amount * s.ExchangeRate
		}
		s.Expenses = appendCopy(s.Expenses, Expense{
			ID:          id,
			Date:        e.Date,
			Amount:      e.Amount,
			AmountPLN:   pln,
			Category:    e.Category,
			Description: e.Description,
			CreatedAt:   b.opts.stamp(),
		})
		return s, true
	})
	return id
}

// DeleteExpense removes an expense.
func (b *Budget) DeleteExpense(id string) bool {
	return b.owner.Mutate(func(s BudgetState) (BudgetState, bool) {
		kept := make([]Expense, 0, len(s.Expenses))
		found := false
		for _, e := range s.Expenses {
			if e.ID == id {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		s.Expenses = kept
		return s, found
	})
}

// SetBudget sets the total budget in PLN.
func (b *Budget) SetBudget(amount float64) {
	b.owner.Mutate(func(s BudgetState) (BudgetState, bool) {
		s.Budget = amount
		return s, true
	})
}

// SetRate sets the exchange rate by hand.
func (b *Budget) SetRate(rate float64) {
	b.owner.Mutate(func(s BudgetState) (BudgetState, bool) {
		s.ExchangeRate = rate
		s.LastRateUpdate = jsondoc.Some(ManualRate)
		return s, true
	})
}

// SetRateAuto records a rate fetched at timestamp.
func (b *Budget) SetRateAuto(rate float64, timestamp string) {
	b.owner.Mutate(func(s BudgetState) (BudgetState, bool) {
		s.ExchangeRate = rate
		s.LastRateUpdate = jsondoc.Some(timestamp)
		return s, true
	})
}

// Import replaces the whole document.
func (b *Budget) Import(s BudgetState) {
	b.owner.Replace(s.normalize())
}

// Name implements session.Domain.
func (b *Budget) Name() string { return "budget" }

// Document implements session.Domain.
func (b *Budget) Document() any { return b.Snapshot() }

// DecodeJSON validates data as a budget document and returns it in the form
// ImportJSON would store.
func (b *Budget) DecodeJSON(data []byte) (any, error) {
	return decodeBudget(data)
}

// ImportJSON validates data as a budget document and replaces the current
// one with it.
func (b *Budget) ImportJSON(data []byte) error {
	s, err := decodeBudget(data)
	if err != nil {
		return err
	}
	b.owner.Replace(s)
	return nil
}

func decodeBudget(data []byte) (BudgetState, error) {
	if err := ValidateBudget(data); err != nil {
		return BudgetState{}, err
	}
	var s BudgetState
	if err := json.Unmarshal(data, &s); err != nil {
		return BudgetState{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return s.normalize(), nil
}

// Observe implements session.Domain.
func (b *Budget) Observe(fn func(any)) (cancel func()) {
	return b.owner.Observe(func(s BudgetState) { fn(s) })
}
