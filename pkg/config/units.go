package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a human-friendly duration string of the form
// "<float><suffix>" where suffix is one of ns|us|ms|s|m|h, e.g. "250ms" or
// "1.5s". Unlike time.ParseDuration it requires exactly one number and
// suffix (no "1h30m" composites), matching the units accepted by the
// pipeline's YAML config files.
func ParseDuration(s string) (time.Duration, error) {
	suffix, mult := findDurationSuffix(s)
	if suffix == "" {
		return 0, fmt.Errorf("parse duration %q: missing suffix, expected <float><suffix> where suffix=ns|us|ms|s|m|h", s)
	}
	numPart := strings.TrimSuffix(s, suffix)
	if numPart == "" {
		return 0, fmt.Errorf("parse duration %q: missing number", s)
	}
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: not a number: %w", s, err)
	}
	return time.Duration(n * float64(mult)), nil
}

func findDurationSuffix(s string) (string, time.Duration) {
	switch {
	case strings.HasSuffix(s, "ns"):
		return "ns", time.Nanosecond
	case strings.HasSuffix(s, "us"):
		return "us", time.Microsecond
	case strings.HasSuffix(s, "ms"):
		return "ms", time.Millisecond
	case strings.HasSuffix(s, "h"):
		return "h", time.Hour
	case strings.HasSuffix(s, "m"):
		return "m", time.Minute
	case strings.HasSuffix(s, "s"):
		return "s", time.Second
	default:
		return "", 0
	}
}

// ParseSize parses a human-friendly byte-size string of the form
// "<float>[<suffix>]" where suffix is one of K|M|G (binary, 1024-based) and
// is optional (plain byte count).
func ParseSize(s string) (int64, error) {
	const (
		kibibyte = 1024
		mebibyte = 1024 * kibibyte
		gibibyte = 1024 * mebibyte
	)
	suffix := ""
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "G"):
		suffix, mult = "G", gibibyte
	case strings.HasSuffix(s, "M"):
		suffix, mult = "M", mebibyte
	case strings.HasSuffix(s, "K"):
		suffix, mult = "K", kibibyte
	}
	numPart := strings.TrimSuffix(s, suffix)
	if numPart == "" {
		return 0, fmt.Errorf("parse size %q: missing number", s)
	}
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: not a number: %w", s, err)
	}
	return int64(n * float64(mult)), nil
}
