// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const dateLayout = "2006-01-02"

var (
	errUnparseable = errors.New("unrecognized format")

	isoDate   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockTime = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?$`)

	natural = newNaturalParser()
)

func newNaturalParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// NormalizeDate converts a date expression to YYYY-MM-DD relative to now.
// Input already in YYYY-MM-DD form is returned unchanged.
func NormalizeDate(input string, now time.Time) (string, error) {
	s := strings.TrimSpace(input)
	switch strings.ToLower(s) {
	case "":
		return "", fmt.Errorf("empty date: %w", errUnparseable)
	case "today", "tonight":
		return now.Format(dateLayout), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(dateLayout), nil
	}
	if isoDate.MatchString(s) {
		return s, nil
	}

	if t, err := dateparse.ParseIn(s, now.Location()); err == nil {
		if t.Year() == 0 {
			t = nextOccurrence(t.Month(), t.Day(), now)
		}
		return t.Format(dateLayout), nil
	}
	if t, ok := parseNatural(s, now); ok {
		return t.Format(dateLayout), nil
	}
	return "", fmt.Errorf("%q: %w", input, errUnparseable)
}

// nextOccurrence places a yearless month and day in the current year, or
// the next one when that day has already passed.
func nextOccurrence(month time.Month, day int, now time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	t := time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location())
	if t.Before(today) {
		t = t.AddDate(1, 0, 0)
	}
	return t
}

// parseNatural accepts a natural-language match only when it spans the
// whole input, so "the day after tomorrow" is not read as "tomorrow".
func parseNatural(s string, now time.Time) (time.Time, bool) {
	r, err := natural.Parse(s, now)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	if !strings.EqualFold(strings.TrimSpace(r.Text), strings.TrimSpace(s)) {
		return time.Time{}, false
	}
	return r.Time, true
}

// NormalizeClock converts a time-of-day expression to 24-hour HH:MM.
func NormalizeClock(input string, now time.Time) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "":
		return "", fmt.Errorf("empty time: %w", errUnparseable)
	case "noon":
		return "12:00", nil
	case "midnight":
		return "00:00", nil
	}

	if m := clockTime.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		meridiem := strings.ReplaceAll(m[3], ".", "")
		if meridiem != "" && (hour < 1 || hour > 12) {
			return "", fmt.Errorf("%q: out of range: %w", input, errUnparseable)
		}
		switch meridiem {
		case "am":
			if hour == 12 {
				hour = 0
			}
		case "pm":
			if hour < 12 {
				hour += 12
			}
		}
		if hour > 23 || minute > 59 {
			return "", fmt.Errorf("%q: out of range: %w", input, errUnparseable)
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), nil
	}

	if t, ok := parseNatural(s, now); ok {
		return t.Format("15:04"), nil
	}
	return "", fmt.Errorf("%q: %w", input, errUnparseable)
}
