package provider

import (
	"strings"
	"time"
	_ "time/tzdata" // zone names resolve without system tzdata
)

// NormalizeTimezone turns provider timezone strings such as
// "(GMT+01:00) Europe/Paris" into an IANA name. Empty or unknown zones become UTC.
func NormalizeTimezone(tz string) string {
	tz = strings.TrimSpace(tz)
	for strings.HasPrefix(tz, "(") {
		end := strings.Index(tz, ")")
		if end < 0 {
			break
		}
		tz = strings.TrimSpace(tz[end+1:])
	}
	if i := strings.Index(tz, " ("); i >= 0 {
		tz = strings.TrimSpace(tz[:i])
	}

	if tz == "" {
		return "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "UTC"
	}
	return tz
}
