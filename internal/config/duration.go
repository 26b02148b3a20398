package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationOrDefault reads a Go duration string at the given config path.
// Blank or zero means def; negative values are rejected.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return def, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return def, fmt.Errorf("%s: negative duration %q", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// durations collects parse errors so one pass reports every bad field.
type durations struct {
	errs []string
}

func (d *durations) get(path, raw string, def time.Duration) time.Duration {
	v, err := ParseDurationOrDefault(path, raw, def)
	if err != nil {
		d.errs = append(d.errs, err.Error())
	}
	return v
}
