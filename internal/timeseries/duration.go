package timeseries

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDuration is returned for duration strings that do not match the
// <number><unit> grammar.
var ErrInvalidDuration = errors.New("invalid duration format")

var durationPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(ms|[smhd])$`)

// ParseDuration parses human-readable duration strings like "5s", "2m",
// "1.5h", "1d" or "200ms". Units are case-insensitive and the number may
// carry a decimal part. Malformed input fails fast; there is no silent
// default.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q (expected number followed by ms/s/m/h/d, e.g. \"1s\", \"5m\", \"1h\")", ErrInvalidDuration, s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	var unit time.Duration
	switch m[2] {
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	return time.Duration(value * float64(unit)), nil
}
