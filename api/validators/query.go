package validators

import (
	"net/http"
	"strings"
	"unicode/utf8"

	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
)

const maxReferenceLength = 100

// Trim strips surrounding whitespace and cuts s to at most maxLen bytes
// without splitting a UTF-8 sequence. maxLen <= 0 means no limit.
func Trim(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// FirstQueryValue returns the first non-blank value among keys, trimmed.
func FirstQueryValue(r *http.Request, keys ...string) string {
	q := r.URL.Query()
	for _, key := range keys {
		if v := Trim(q.Get(key), maxReferenceLength); v != "" {
			return v
		}
	}
	return ""
}

// Reference validates a path or query supplied payment reference.
func Reference(raw string) (string, error) {
	ref := Trim(raw, 0)
	switch {
	case ref == "":
		return "", referenceError("reference is required", nil)
	case len(ref) > maxReferenceLength:
		return "", referenceError("reference is too long", map[string]any{"max": maxReferenceLength})
	case !referencePattern.MatchString(ref):
		return "", referenceError("reference has invalid characters", nil)
	}
	return ref, nil
}

func referenceError(msg string, extra map[string]any) error {
	details := map[string]any{"field": "reference"}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}
