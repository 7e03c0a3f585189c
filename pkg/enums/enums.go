// Package enums holds the closed string sets persisted in the database or
// accepted from clients.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](kind, value string, known []T) (T, error) {
	if v := T(value); slices.Contains(known, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
