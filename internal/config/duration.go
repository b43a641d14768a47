package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional duration; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw, 0)
}

// ParseDurationOrDefault returns def for an empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(path, raw, def)
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration like \"30s\" or \"5m\"", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", path, d)
	case d == 0:
		return def, nil
	}
	return d, nil
}
