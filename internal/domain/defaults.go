package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultBudgetPLN is the starting budget.
	DefaultBudgetPLN = 10000

	// DefaultExchangeRate is PLN per JPY.
	DefaultExchangeRate = 0.027

	// TripDays is the length of the default itinerary.
	TripDays = 14
)

// TripStart is the first day of the default itinerary.
var TripStart = time.Date(2026, time.November, 5, 0, 0, 0, 0, time.UTC)

// DefaultTrip returns the empty itinerary: one day per trip date, travel
// days at both ends and between Tokyo and Kyoto.
func DefaultTrip() TripDocument {
	days := make([]TripDay, TripDays)
	for i := range days {
		n := i + 1
		days[i] = TripDay{
			ID:         fmt.Sprintf("day-%d", n),
			Date:       TripStart.AddDate(0, 0, i).Format(time.DateOnly),
			Label:      fmt.Sprintf("Dzień %d", n),
			Location:   defaultLocation(n),
			Activities: []Activity{},
		}
	}
	return TripDocument{Days: days, Wishlist: []WishlistItem{}}
}

func defaultLocation(day int) DayLocation {
	switch {
	case day >= 2 && day <= 6:
		return LocationTokyo
	case day >= 8 && day <= 12:
		return LocationKyoto
	default:
		return LocationTravel
	}
}

// DefaultBudget returns a budget with no expenses.
func DefaultBudget() BudgetState {
	return BudgetState{
		Expenses:     []Expense{},
		Budget:       DefaultBudgetPLN,
		ExchangeRate: DefaultExchangeRate,
	}
}

var defaultPackingItems = []struct {
	name     string
	category PackingCategory
}{
	{"Paszport (ważny min. 6 mies.)", PackingDocuments},
	{"JR Pass (wydrukowany voucher)", PackingDocuments},
	{"Ubezpieczenie podróżne (PDF)", PackingDocuments},
	{"Rezerwacje hoteli (PDF)", PackingDocuments},
	{"Gotówka JPY", PackingDocuments},
	{"Karta wielowalutowa (Revolut/Wise)", PackingDocuments},
	{"Adapter wtyczek typ A (Japonia)", PackingElectronics},
	{"Karta SIM / eSIM na Japonię", PackingElectronics},
	{"Power bank (max 100 Wh na pokład)", PackingElectronics},
	{"Ładowarka do telefonu", PackingElectronics},
	{"Słuchawki", PackingElectronics},
	{"Ibuprofen / leki podstawowe", PackingToiletries},
	{"Krem z filtrem UV", PackingToiletries},
	{"Plastry / mała apteczka", PackingToiletries},
	{"Lekka kurtka przeciwdeszczowa", PackingClothes},
	{"Wygodne buty do chodzenia", PackingClothes},
	{"Ciepły sweter (listopad: 6–17°C)", PackingClothes},
	{"Skarpetki bez dziur (onsen!)", PackingClothes},
	{"Składana torba na zakupy", PackingOther},
	{"Małe zestawy chusteczek", PackingOther},
}

// DefaultPacking returns the starter packing list, all unpacked.
func DefaultPacking(opts Options) PackingDocument {
	opts = opts.withDefaults()
	now := opts.stamp()
	items := make([]PackingItem, len(defaultPackingItems))
	for i, it := range defaultPackingItems {
		items[i] = PackingItem{
			ID:        opts.id("pack"),
			Name:      it.name,
			Category:  it.category,
			CreatedAt: now,
		}
	}
	return PackingDocument{Items: items}
}
