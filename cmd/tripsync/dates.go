package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts an ISO date (2026-11-07) or a phrase such as
// "yesterday" or "last friday", resolved against now. Empty means today.
func parseDate(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return now.Format(time.DateOnly), nil
	}
	if t, err := time.Parse(time.DateOnly, text); err == nil {
		return t.Format(time.DateOnly), nil
	}
	r, err := dateParser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q", text)
	}
	return r.Time.Format(time.DateOnly), nil
}
