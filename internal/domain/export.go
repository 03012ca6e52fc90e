package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tripsync/tripsync/internal/jsondoc"
)

// ExportVersion is the only export format version.
const ExportVersion = 1

// Export is a full dump of the trip and budget.
type Export struct {
	Version    int            `json:"version" yaml:"version"`
	ExportedAt string         `json:"exportedAt" yaml:"exportedAt"`
	Days       []TripDay      `json:"days" yaml:"days"`
	Wishlist   []WishlistItem `json:"wishlist" yaml:"wishlist"`
	Budget     BudgetState    `json:"budget" yaml:"budget"`
}

// NewExport builds an export of trip and budget stamped with now.
func NewExport(trip TripDocument, budget BudgetState, now time.Time) Export {
	trip = trip.normalize()
	return Export{
		Version:    ExportVersion,
		ExportedAt: jsondoc.Timestamp(now),
		Days:       trip.Days,
		Wishlist:   trip.Wishlist,
		Budget:     budget.normalize(),
	}
}

// JSON renders the export as indented JSON.
func (e Export) JSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// YAML renders the export as YAML.
func (e Export) YAML() ([]byte, error) {
	return yaml.Marshal(e)
}

// ParseExport decodes and validates a JSON export.
func ParseExport(data []byte) (Export, error) {
	if err := ValidateExport(data); err != nil {
		return Export{}, err
	}
	var e Export
	if err := json.Unmarshal(data, &e); err != nil {
		return Export{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	trip := TripDocument{Days: e.Days, Wishlist: e.Wishlist}.normalize()
	e.Days, e.Wishlist = trip.Days, trip.Wishlist
	e.Budget = e.Budget.normalize()
	return e, nil
}

// Apply imports the export into the trip and budget owners.
func (e Export) Apply(trip *Trip, budget *Budget) {
	trip.Import(e.Days, e.Wishlist)
	budget.Import(e.Budget)
}
