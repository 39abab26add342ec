package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedVariantID is returned when an identifier does not match any
// accepted variant id form.
var ErrMalformedVariantID = errors.New("malformed variant id")

// VariantID is the normalized identifier of a product variant as known to the
// local variant cache and the commerce platform catalog.
//
// Accepted inputs:
//
//	"4471"                                  bare id
//	"SKU-42"                                hyphenated id, kept whole
//	"gid://shop/ProductVariant/4471"        namespaced id, namespace dropped
//
// Only the namespace is ever removed. The id is restricted to [A-Za-z0-9_-]
// and may not start or end with a hyphen.
type VariantID struct {
	id        string
	namespace string
}

// ParseVariantID normalizes raw into a VariantID.
func ParseVariantID(raw string) (VariantID, error) {
	value := strings.TrimSpace(raw)
	if idx := strings.IndexByte(value, '?'); idx >= 0 {
		value = value[:idx]
	}
	if value == "" {
		return VariantID{}, fmt.Errorf("%w: empty", ErrMalformedVariantID)
	}

	var namespace string
	if idx := strings.LastIndexByte(value, '/'); idx >= 0 {
		namespace = value[:idx]
		value = value[idx+1:]
	}
	if value == "" {
		return VariantID{}, fmt.Errorf("%w: %q has no id segment", ErrMalformedVariantID, raw)
	}
	if !isIDSegment(value) || strings.HasPrefix(value, "-") || strings.HasSuffix(value, "-") {
		return VariantID{}, fmt.Errorf("%w: %q", ErrMalformedVariantID, raw)
	}

	return VariantID{id: value, namespace: namespace}, nil
}

// MustParseVariantID is ParseVariantID for fixtures and constants.
func MustParseVariantID(raw string) VariantID {
	id, err := ParseVariantID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the normalized id.
func (v VariantID) String() string { return v.id }

// Namespace returns the stripped prefix (e.g. "gid://shop/ProductVariant").
func (v VariantID) Namespace() string { return v.namespace }

// IsZero reports whether v was never parsed.
func (v VariantID) IsZero() bool { return v.id == "" }

func isIDSegment(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
