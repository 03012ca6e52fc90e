package session

import (
	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/storage"
)

// Owners holds the three synced documents of a device.
type Owners struct {
	Trip    *domain.Trip
	Budget  *domain.Budget
	Packing *domain.Packing
}

// DefaultOwners creates owners holding the default documents.
func DefaultOwners(opts domain.Options) Owners {
	return Owners{
		Trip:    domain.NewTrip(domain.DefaultTrip(), opts),
		Budget:  domain.NewBudget(domain.DefaultBudget(), opts),
		Packing: domain.NewPacking(domain.DefaultPacking(opts), opts),
	}
}

// Bindings returns the owners bound to their storage keys.
func (o Owners) Bindings() []Binding {
	return []Binding{
		{Domain: o.Trip, StorageKey: storage.KeyTrip},
		{Domain: o.Budget, StorageKey: storage.KeyBudget},
		{Domain: o.Packing, StorageKey: storage.KeyPacking},
	}
}
