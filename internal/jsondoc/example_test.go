package jsondoc_test

import (
	"fmt"
	"time"

	"github.com/tripsync/tripsync/internal/jsondoc"
)

func ExampleWrap() {
	doc, _ := jsondoc.Canonical(map[string]any{"expenses": []any{}, "budget": 100})
	env, _ := jsondoc.Wrap(doc, time.Date(2026, 11, 5, 9, 30, 0, 0, time.UTC))
	fmt.Println(string(env))

	back, _ := jsondoc.Unwrap(env)
	fmt.Println(string(back))
	// Output:
	// {"budget":100,"expenses":[],"_lastModified":"2026-11-05T09:30:00.000Z"}
	// {"budget":100,"expenses":[]}
}
