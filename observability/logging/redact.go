package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces credential material in log lines.
const RedactedValue = "[REDACTED]"

// Keys that never carry secrets. Anything else passed through MaskField is
// redacted.
var safeKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"operation": {},
	"route":     {},
	"method":    {},
	"status":    {},
	"caller":    {},
	"asset":     {},
	"amount":    {},
}

// IsAllowlisted reports whether key may be logged verbatim.
func IsAllowlisted(key string) bool {
	_, ok := safeKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the verbatim keys, sorted.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(safeKeys))
	for key := range safeKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField redacts value unless key is allowlisted. For an Authorization
// style value the scheme survives ("Bearer [REDACTED]") so rejected requests
// still show which credential type was presented.
func MaskField(key, value string) slog.Attr {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	if scheme, _, ok := strings.Cut(trimmed, " "); ok && isAuthScheme(scheme) {
		return slog.String(key, scheme+" "+RedactedValue)
	}
	return slog.String(key, RedactedValue)
}

func isAuthScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "bearer", "basic":
		return true
	default:
		return false
	}
}
