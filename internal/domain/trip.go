package domain

import (
	"encoding/json"
	"fmt"

	"github.com/tripsync/tripsync/internal/jsondoc"
)

// NewActivity holds the caller-supplied fields of an activity; the owner
// assigns id and order.
type NewActivity struct {
	Title       string
	Description string
	Time        string
	Location    string
	Coordinates *Coordinates
	Category    ActivityCategory
}

// NewWishlistItem holds the caller-supplied fields of a wishlist item; the
// owner assigns id and createdAt.
type NewWishlistItem struct {
	Title       string
	Description string
	Category    ActivityCategory
	Location    string
	Coordinates *Coordinates
}

// Trip owns the itinerary document.
type Trip struct {
	owner *Owner[TripDocument]
	opts  Options
}

// NewTrip creates a trip owner holding initial.
func NewTrip(initial TripDocument, opts Options) *Trip {
	return &Trip{
		owner: NewOwner(initial.normalize()),
		opts:  opts.withDefaults(),
	}
}

// Snapshot returns the current document.
func (t *Trip) Snapshot() TripDocument {
	return t.owner.Snapshot()
}

// OnChange registers fn for every change of the document.
func (t *Trip) OnChange(fn func(TripDocument)) (cancel func()) {
	return t.owner.Observe(fn)
}

// SetDays replaces the itinerary days.
func (t *Trip) SetDays(days []TripDay) {
	t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		d.Days = days
		return d.normalize(), true
	})
}

// SetWishlist replaces the wishlist.
func (t *Trip) SetWishlist(items []WishlistItem) {
	t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		d.Wishlist = items
		return d.normalize(), true
	})
}

// Import replaces the whole document.
func (t *Trip) Import(days []TripDay, wishlist []WishlistItem) {
	t.owner.Replace(TripDocument{Days: days, Wishlist: wishlist}.normalize())
}

// AddActivity appends an activity to a day and returns its id. The id is
// empty when the day does not exist.
func (t *Trip) AddActivity(dayID string, a NewActivity) string {
	var id string
	t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		return d.withDay(dayID, func(day TripDay) TripDay {
			id = t.opts.id(dayID)
			day.Activities = appendCopy(day.Activities, Activity{
				ID:          id,
				Title:       a.Title,
				Description: optionalString(a.Description),
				Time:        optionalString(a.Time),
				Location:    optionalString(a.Location),
				Coordinates: optionalCoordinates(a.Coordinates),
				Category:    a.Category,
				Order:       len(day.Activities),
			})
			return day
		})
	})
	return id
}

// UpdateActivity replaces the activity with the same id on a day.
func (t *Trip) UpdateActivity(dayID string, a Activity) bool {
	return t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		return d.withActivity(dayID, a.ID, func(Activity) Activity { return a })
	})
}

// DeleteActivity removes an activity from a day.
func (t *Trip) DeleteActivity(dayID, activityID string) bool {
	return t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		found := false
		next, ok := d.withDay(dayID, func(day TripDay) TripDay {
			kept := make([]Activity, 0, len(day.Activities))
			for _, a := range day.Activities {
				if a.ID == activityID {
					found = true
					continue
				}
				kept = append(kept, a)
			}
			day.Activities = kept
			return day
		})
		return next, ok && found
	})
}

// ToggleActivity flips an activity's completed flag.
func (t *Trip) ToggleActivity(dayID, activityID string) bool {
	return t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		return d.withActivity(dayID, activityID, func(a Activity) Activity {
			a.Completed = !a.Completed
			return a
		})
	})
}

// UpdateNotes sets a day's notes.
func (t *Trip) UpdateNotes(dayID, notes string) bool {
	return t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		return d.withDay(dayID, func(day TripDay) TripDay {
			day.Notes = notes
			return day
		})
	})
}

// AddWishlistItem appends a wishlist item and returns its id.
func (t *Trip) AddWishlistItem(item NewWishlistItem) string {
	id := t.opts.id("wish")
	t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		d.Wishlist = appendCopy(d.Wishlist, WishlistItem{
			ID:          id,
			Title:       item.Title,
			Description: optionalString(item.Description),
			Category:    item.Category,
			Location:    optionalString(item.Location),
			Coordinates: optionalCoordinates(item.Coordinates),
			CreatedAt:   t.opts.stamp(),
		})
		return d, true
	})
	return id
}

// DeleteWishlistItem removes a wishlist item.
func (t *Trip) DeleteWishlistItem(id string) bool {
	return t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		kept, found := removeWish(d.Wishlist, id)
		d.Wishlist = kept
		return d, found
	})
}

// MoveToDay turns a wishlist item into an activity at the end of a day and
// removes it from the wishlist. Nothing happens when the item is unknown.
// An unknown day drops the item without adding an activity.
func (t *Trip) MoveToDay(itemID, dayID string) bool {
	return t.owner.Mutate(func(d TripDocument) (TripDocument, bool) {
		var item *WishlistItem
		for i := range d.Wishlist {
			if d.Wishlist[i].ID == itemID {
				item = &d.Wishlist[i]
				break
			}
		}
		if item == nil {
			return d, false
		}
		moved := *item
		d.Wishlist, _ = removeWish(d.Wishlist, itemID)
		next, _ := d.withDay(dayID, func(day TripDay) TripDay {
			day.Activities = appendCopy(day.Activities, Activity{
				ID:          t.opts.id(dayID),
				Title:       moved.Title,
				Description: moved.Description,
				Location:    moved.Location,
				Coordinates: moved.Coordinates,
				Category:    moved.Category,
				Order:       len(day.Activities),
			})
			return day
		})
		return next, true
	})
}

// Name implements session.Domain.
func (t *Trip) Name() string { return "trip" }

// Document implements session.Domain.
func (t *Trip) Document() any { return t.Snapshot() }

// DecodeJSON validates data as a trip document and returns it in the form
// ImportJSON would store.
func (t *Trip) DecodeJSON(data []byte) (any, error) {
	return decodeTrip(data)
}

// ImportJSON validates data as a trip document and replaces the current
// one with it.
func (t *Trip) ImportJSON(data []byte) error {
	doc, err := decodeTrip(data)
	if err != nil {
		return err
	}
	t.owner.Replace(doc)
	return nil
}

func decodeTrip(data []byte) (TripDocument, error) {
	if err := ValidateTrip(data); err != nil {
		return TripDocument{}, err
	}
	var doc TripDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return TripDocument{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return TripDocument{Days: doc.Days, Wishlist: doc.Wishlist}.normalize(), nil
}

// Observe implements session.Domain.
func (t *Trip) Observe(fn func(any)) (cancel func()) {
	return t.owner.Observe(func(d TripDocument) { fn(d) })
}

// withDay applies fn to the day with the given id, copying the days slice.
func (d TripDocument) withDay(dayID string, fn func(TripDay) TripDay) (TripDocument, bool) {
	for i := range d.Days {
		if d.Days[i].ID != dayID {
			continue
		}
		days := make([]TripDay, len(d.Days))
		copy(days, d.Days)
		days[i] = fn(days[i])
		d.Days = days
		return d, true
	}
	return d, false
}

func (d TripDocument) withActivity(dayID, activityID string, fn func(Activity) Activity) (TripDocument, bool) {
	found := false
	next, ok := d.withDay(dayID, func(day TripDay) TripDay {
		acts := make([]Activity, len(day.Activities))
		copy(acts, day.Activities)
		for i := range acts {
			if acts[i].ID == activityID {
				acts[i] = fn(acts[i])
				found = true
			}
		}
		day.Activities = acts
		return day
	})
	if !ok || !found {
		return d, false
	}
	return next, true
}

func removeWish(items []WishlistItem, id string) ([]WishlistItem, bool) {
	kept := make([]WishlistItem, 0, len(items))
	found := false
	for _, w := range items {
		if w.ID == id {
			found = true
			continue
		}
		kept = append(kept, w)
	}
	return kept, found
}

// appendCopy appends v to a fresh copy of s.
func appendCopy[T any](s []T, v T) []T {
	out := make([]T, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

func optionalString(s string) jsondoc.Optional[string] {
	if s == "" {
		return jsondoc.None[string]()
	}
	return jsondoc.Some(s)
}

func optionalCoordinates(c *Coordinates) jsondoc.Optional[Coordinates] {
	if c == nil {
		return jsondoc.None[Coordinates]()
	}
	return jsondoc.Some(*c)
}
