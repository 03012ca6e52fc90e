// Package room manages the room code that scopes a device's shared data.
//
// A room code is six characters from an alphabet without look-alike glyphs
// (no 0/O or 1/I). The code is the only thing standing between a room and
// anyone else on the same remote store, so it is drawn from crypto/rand.
package room

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Alphabet is the set of characters a room code may contain.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a room code.
const CodeLength = 6

var codePattern = regexp.MustCompile(`^[2-9A-HJ-NP-Z]{6}$`)

// ErrInvalidCode is returned for codes that do not match the room code format.
var ErrInvalidCode = errors.New("invalid room code")

// Code is a validated, uppercase room code.
type Code string

// String implements fmt.Stringer.
func (c Code) String() string { return string(c) }

// Generate returns a new random room code. Every character is uniform over
// Alphabet: random bytes that would bias the result are rejected.
func Generate() (Code, error) {
	const n = len(Alphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%n])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return Code(out), nil
}

// Validate reports whether code is exactly a well-formed room code.
// It does not trim or change case.
func Validate(code string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return nil
}

// Normalize trims and uppercases raw user input and validates the result.
func Normalize(raw string) (Code, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if err := Validate(code); err != nil {
		return "", err
	}
	return Code(code), nil
}
