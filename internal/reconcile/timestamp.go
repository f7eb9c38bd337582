package reconcile

import (
	"strings"
	"time"
)

// normalizeTimestamp reduces a remote timestamp to second precision in UTC so
// that representations differing only in fractional seconds or offset syntax
// compare equal. Unparseable values fall back to textual trimming.
func normalizeTimestamp(ts string) string {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return ""
	}

	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UTC().Format("2006-01-02T15:04:05")
	}

	s := strings.TrimSuffix(ts, "Z")
	if len(s) >= 6 && (s[len(s)-6] == '+' || s[len(s)-6] == '-') && s[len(s)-3] == ':' {
		s = s[:len(s)-6]
	}
	if i := strings.Index(s, "."); i >= 0 {
		s = s[:i]
	}
	return s
}
