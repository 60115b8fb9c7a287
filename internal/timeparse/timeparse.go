// Package timeparse resolves small human time phrases into instants and
// durations. Supported forms are deliberately narrow: Go durations ("10m",
// "1h30m"), spelled-out durations ("10 minutes", "2 hours 30 minutes"),
// "in <duration>", "at HH:MM" (rolls to tomorrow when already past), and
// "tomorrow [at HH:MM]".
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable marks a phrase that matches no supported form.
var ErrUnparseable = errors.New("unrecognized time phrase")

var (
	reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(am|pm)?$`)
	reWords = regexp.MustCompile(`^(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d)$`)
)

// When resolves a phrase to an absolute instant relative to now.
func When(phrase string, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(phrase))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparseable)
	}

	if rest, ok := strings.CutPrefix(s, "in "); ok {
		d, err := Span(rest)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	}

	if rest, ok := strings.CutPrefix(s, "tomorrow"); ok {
		rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "at "))
		day := now.AddDate(0, 0, 1)
		if rest == "" {
			// Same wall time tomorrow.
			return day, nil
		}
		hh, mm, err := parseClock(rest)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, now.Location()), nil
	}

	if rest, ok := strings.CutPrefix(s, "at "); ok {
		s = strings.TrimSpace(rest)
	}
	if hh, mm, err := parseClock(s); err == nil {
		at := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !at.After(now) {
			// Already past today; interpret as tomorrow.
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}

	if d, err := Span(s); err == nil {
		return now.Add(d), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, phrase)
}

// Span resolves a duration phrase: either a Go duration string or a sequence
// of "<n> <unit>" words ("2 hours 30 minutes").
func Span(phrase string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(phrase))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnparseable)
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive: %q", phrase)
		}
		return d, nil
	}

	// "<n> <unit>" pairs, possibly several ("1 hour 20 minutes").
	fields := strings.Fields(s)
	var total time.Duration
	i := 0
	for i < len(fields) {
		// Allow glued forms like "10min" by matching one or two fields.
		tok := fields[i]
		j := i + 1
		if m := reWords.FindStringSubmatch(tok); m == nil && j < len(fields) {
			tok = fields[i] + " " + fields[j]
			j++
		}
		m := reWords.FindStringSubmatch(tok)
		if m == nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, phrase)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, phrase)
		}
		total += time.Duration(n) * unitOf(m[2])
		i = j
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", phrase)
	}
	return total, nil
}

func unitOf(u string) time.Duration {
	switch u[0] {
	case 's':
		return time.Second
	case 'm':
		return time.Minute
	case 'h':
		return time.Hour
	case 'd':
		return 24 * time.Hour
	default:
		return 0
	}
}

func parseClock(s string) (hh, mm int, err error) {
	m := reClock.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	hh, _ = strconv.Atoi(m[1])
	mm, _ = strconv.Atoi(m[2])
	switch m[3] {
	case "pm":
		if hh < 12 {
			hh += 12
		}
	case "am":
		if hh == 12 {
			hh = 0
		}
	}
	if hh > 23 || mm > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	return hh, mm, nil
}
