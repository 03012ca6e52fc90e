package domain

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidDocument is returned when a payload does not have the shape of
// the document it is imported as.
var ErrInvalidDocument = errors.New("invalid document")

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBase = "https://tripsync.local/schemas/"

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		entries, err := schemaFiles.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		for _, e := range entries {
			data, err := schemaFiles.ReadFile("schemas/" + e.Name())
			if err != nil {
				schemasErr = err
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				schemasErr = fmt.Errorf("failed to parse schema %s: %w", e.Name(), err)
				return
			}
			if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
				schemasErr = fmt.Errorf("failed to add schema %s: %w", e.Name(), err)
				return
			}
		}
		compiled := make(map[string]*jsonschema.Schema)
		for _, name := range []string{"trip", "budget", "packing", "export"} {
			sch, err := c.Compile(schemaBase + name + ".json")
			if err != nil {
				schemasErr = fmt.Errorf("failed to compile schema %s: %w", name, err)
				return
			}
			compiled[name] = sch
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

func validate(name string, data []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := all[name].Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}
	return nil
}

// ValidateTrip checks data has the shape of a trip document: a days array
// of objects with id, date and activities, and a wishlist array.
func ValidateTrip(data []byte) error { return validate("trip", data) }

// ValidateBudget checks data has an expenses array and a numeric budget.
func ValidateBudget(data []byte) error { return validate("budget", data) }

// ValidatePacking checks data has an items array.
func ValidatePacking(data []byte) error { return validate("packing", data) }

// ValidateExport checks data is a version 1 export.
func ValidateExport(data []byte) error { return validate("export", data) }
