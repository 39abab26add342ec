package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of valid equal to raw.
func parse[T ~string](kind, raw string, valid []T) (T, error) {
	if i := slices.Index(valid, T(raw)); i >= 0 {
		return valid[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
