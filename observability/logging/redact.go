package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Ledger identifiers are public; bearer tokens, signatures, webhook secrets
// and passphrases are not.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"account":   {},
	"agent":     {},
	"owner":     {},
	"factory":   {},
	"relayer":   {},
	"asset":     {},
	"kind":      {},
	"seq":       {},
	"batch":     {},
	"path":      {},
	"url":       {},
}

// IsAllowlisted reports whether key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns the placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskURL strips credentials and the query string from raw so receiver
// endpoints can be logged. Unparseable input is redacted entirely.
func MaskURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return MaskValue(raw)
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = ""
		u.ForceQuery = true
	}
	u.Fragment = ""
	return u.String()
}
