package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/tripsync/tripsync/internal/jsondoc"
)

// Options configures an owner.
type Options struct {
	// Now stamps createdAt fields (default: time.Now).
	Now func() time.Time

	// NewID returns a unique suffix for generated ids (default: a random
	// UUID).
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

func (o Options) id(prefix string) string {
	return prefix + "-" + o.NewID()
}

func (o Options) stamp() string {
	return jsondoc.Timestamp(o.Now())
}
