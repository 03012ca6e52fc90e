// Package domain holds the synced trip documents and the owners that mutate
// them.
//
// There are three documents, each synced as a whole: the trip (itinerary
// days plus wishlist), the budget and the packing list. Every document is a
// JSON object so the remote copy can carry its modification timestamp.
//
// An owner holds one document, applies mutations copy-on-write (a mutation
// never changes slices a previous snapshot still references) and notifies
// observers after each change. Owners do no I/O.
package domain

import (
	"github.com/tripsync/tripsync/internal/jsondoc"
)

// ActivityCategory classifies itinerary activities and wishlist items.
type ActivityCategory string

const (
	ActivitySightseeing ActivityCategory = "zwiedzanie"
	ActivityFood        ActivityCategory = "jedzenie"
	ActivityTransport   ActivityCategory = "transport"
	ActivityShopping    ActivityCategory = "zakupy"
	ActivityLodging     ActivityCategory = "nocleg"
	ActivityOther       ActivityCategory = "inne"
)

// ExpenseCategory classifies budget expenses.
type ExpenseCategory string

const (
	ExpenseFood        ExpenseCategory = "jedzenie"
	ExpenseTransport   ExpenseCategory = "transport"
	ExpenseLodging     ExpenseCategory = "nocleg"
	ExpenseAttractions ExpenseCategory = "atrakcje"
	ExpenseShopping    ExpenseCategory = "zakupy"
	ExpenseOther       ExpenseCategory = "inne"
)

// PackingCategory groups packing items.
type PackingCategory string

const (
	PackingDocuments   PackingCategory = "dokumenty"
	PackingElectronics PackingCategory = "elektronika"
	PackingClothes     PackingCategory = "ubrania"
	PackingToiletries  PackingCategory = "kosmetyki"
	PackingOther       PackingCategory = "inne"
)

// DayLocation is where a trip day is spent.
type DayLocation string

const (
	LocationTokyo  DayLocation = "tokyo"
	LocationKyoto  DayLocation = "kyoto"
	LocationTravel DayLocation = "travel"
)

// Coordinates is a [latitude, longitude] pair.
type Coordinates [2]float64

// Activity is one itinerary entry.
type Activity struct {
	ID          string                        `json:"id" yaml:"id"`
	Title       string                        `json:"title" yaml:"title"`
	Description jsondoc.Optional[string]      `json:"description" yaml:"description"`
	Time        jsondoc.Optional[string]      `json:"time" yaml:"time"`
	Location    jsondoc.Optional[string]      `json:"location" yaml:"location"`
	Coordinates jsondoc.Optional[Coordinates] `json:"coordinates" yaml:"coordinates"`
	Category    ActivityCategory              `json:"category" yaml:"category"`
	Completed   bool                          `json:"completed" yaml:"completed"`
	Order       int                           `json:"order" yaml:"order"`
}

// TripDay is one day of the itinerary.
type TripDay struct {
	ID         string      `json:"id" yaml:"id"`
	Date       string      `json:"date" yaml:"date"`
	Label      string      `json:"label" yaml:"label"`
	Location   DayLocation `json:"location" yaml:"location"`
	Activities []Activity  `json:"activities" yaml:"activities"`
	Notes      string      `json:"notes" yaml:"notes"`
}

// WishlistItem is an idea not yet assigned to a day.
type WishlistItem struct {
	ID          string                        `json:"id" yaml:"id"`
	Title       string                        `json:"title" yaml:"title"`
	Description jsondoc.Optional[string]      `json:"description" yaml:"description"`
	Category    ActivityCategory              `json:"category" yaml:"category"`
	Location    jsondoc.Optional[string]      `json:"location" yaml:"location"`
	Coordinates jsondoc.Optional[Coordinates] `json:"coordinates" yaml:"coordinates"`
	CreatedAt   string                        `json:"createdAt" yaml:"createdAt"`
}

// TripDocument is the synced itinerary: days and wishlist together.
type TripDocument struct {
	Days     []TripDay      `json:"days" yaml:"days"`
	Wishlist []WishlistItem `json:"wishlist" yaml:"wishlist"`
}

// Expense is one budget entry. Amount is in JPY, AmountPLN is the converted
// value at the rate in effect when it was added.
type Expense struct {
	ID          string          `json:"id" yaml:"id"`
	Date        string          `json:"date" yaml:"date"`
	Amount      float64         `json:"amount" yaml:"amount"`
	AmountPLN   float64         `json:"amountPLN" yaml:"amountPLN"`
	Category    ExpenseCategory `json:"category" yaml:"category"`
	Description string          `json:"description" yaml:"description"`
	CreatedAt   string          `json:"createdAt" yaml:"createdAt"`
}

// BudgetState is the synced budget. LastRateUpdate is "manual" for a rate
// entered by hand, otherwise the time of the last automatic update.
type BudgetState struct {
	Expenses       []Expense                `json:"expenses" yaml:"expenses"`
	Budget         float64                  `json:"budget" yaml:"budget"`
	ExchangeRate   float64                  `json:"exchangeRate" yaml:"exchangeRate"`
	LastRateUpdate jsondoc.Optional[string] `json:"lastRateUpdate" yaml:"lastRateUpdate"`
}

// ManualRate marks an exchange rate entered by the user.
const ManualRate = "manual"

// PackingItem is one entry of the packing list.
type PackingItem struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	Category  PackingCategory `json:"category" yaml:"category"`
	Packed    bool            `json:"packed" yaml:"packed"`
	CreatedAt string          `json:"createdAt" yaml:"createdAt"`
}

// PackingDocument is the synced packing list.
type PackingDocument struct {
	Items []PackingItem `json:"items" yaml:"items"`
}

// Spent returns the total of all expenses in PLN.
func (b BudgetState) Spent() float64 {
	var total float64
	for _, e := range b.Expenses {
		total += e.AmountPLN
	}
	return total
}

// Remaining returns the unspent budget in PLN.
func (b BudgetState) Remaining() float64 {
	return b.Budget - b.Spent()
}

// PackedCount returns how many items are packed.
func (p PackingDocument) PackedCount() int {
	n := 0
	for _, it := range p.Items {
		if it.Packed {
			n++
		}
	}
	return n
}

// The normalize methods replace nil slices with empty ones so an empty
// list always encodes as [] and fingerprints stay stable.

func (d TripDocument) normalize() TripDocument {
	if d.Days == nil {
		d.Days = []TripDay{}
	}
	if d.Wishlist == nil {
		d.Wishlist = []WishlistItem{}
	}
	for i := range d.Days {
		if d.Days[i].Activities == nil {
			days := make([]TripDay, len(d.Days))
			copy(days, d.Days)
			for j := range days {
				if days[j].Activities == nil {
					days[j].Activities = []Activity{}
				}
			}
			d.Days = days
			break
		}
	}
	return d
}

func (b BudgetState) normalize() BudgetState {
	if b.Expenses == nil {
		b.Expenses = []Expense{}
	}
	return b
}

func (p PackingDocument) normalize() PackingDocument {
	if p.Items == nil {
		p.Items = []PackingItem{}
	}
	return p
}
