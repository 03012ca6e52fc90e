package room_test

import (
	"errors"
	"fmt"

	"github.com/tripsync/tripsync/internal/room"
)

func ExampleNormalize() {
	code, err := room.Normalize("  k7m2qx ")
	fmt.Println(code, err)

	// 0 and O are left out of the alphabet.
	_, err = room.Normalize("K7M2Q0")
	fmt.Println(errors.Is(err, room.ErrInvalidCode))
	// Output:
	// K7M2QX <nil>
	// true
}
