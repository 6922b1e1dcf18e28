package schedule

import (
	"strconv"
	"strings"
	"time"
)

// ParseError reports operator-entered text that could not be interpreted.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return "cannot parse " + strconv.Quote(e.Input) + ": " + e.Reason
}

// ParseDailyTime parses a 12-hour clock time with meridiem marker,
// e.g. "2:30 PM" or "11:05am". The meridiem is required.
func ParseDailyTime(text string) (DailyTime, error) {
	raw := text
	s := strings.ToUpper(strings.TrimSpace(text))
	if s == "" {
		return DailyTime{}, &ParseError{Input: raw, Reason: "empty time"}
	}

	var meridiem string
	switch {
	case strings.HasSuffix(s, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(s, "PM"):
		meridiem = "PM"
	default:
		return DailyTime{}, &ParseError{Input: raw, Reason: "missing AM/PM marker"}
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, meridiem))

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return DailyTime{}, &ParseError{Input: raw, Reason: "expected H:MM AM/PM"}
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 1 || h > 12 {
		return DailyTime{}, &ParseError{Input: raw, Reason: "hour must be 1..12"}
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || len(strings.TrimSpace(parts[1])) != 2 || m < 0 || m > 59 {
		return DailyTime{}, &ParseError{Input: raw, Reason: "minute must be 00..59"}
	}

	// 12 AM is midnight, 12 PM is noon.
	if h == 12 {
		h = 0
	}
	if meridiem == "PM" {
		h += 12
	}
	return DailyTime{Hour: h, Minute: m}, nil
}

// ParseDuration parses composed hour/minute tokens into a duration:
// "2h 30m" -> 2h30m, "90m" -> 1h30m, "1h" -> 1h. At least one unit is
// required and only the h and m unit tokens are recognized.
func ParseDuration(text string) (time.Duration, error) {
	raw := text
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, &ParseError{Input: raw, Reason: "empty duration"}
	}

	var total time.Duration
	units := 0
	for _, tok := range strings.Fields(s) {
		for tok != "" {
			i := 0
			for i < len(tok) && tok[i] >= '0' && tok[i] <= '9' {
				i++
			}
			if i == 0 || i == len(tok) {
				return 0, &ParseError{Input: raw, Reason: "expected tokens like 2h or 30m"}
			}
			n, err := strconv.Atoi(tok[:i])
			if err != nil {
				return 0, &ParseError{Input: raw, Reason: "value out of range"}
			}
			switch tok[i] {
			case 'h':
				total += time.Duration(n) * time.Hour
			case 'm':
				total += time.Duration(n) * time.Minute
			default:
				return 0, &ParseError{Input: raw, Reason: "unknown unit " + strconv.Quote(string(tok[i]))}
			}
			units++
			tok = tok[i+1:]
		}
	}
	if units == 0 {
		return 0, &ParseError{Input: raw, Reason: "at least one of h/m is required"}
	}
	return total, nil
}

// FormatDuration renders a duration the way operators enter it: "2h 30m",
// "90m" collapses to "1h 30m", zero renders as "Never".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "Never"
	}
	mins := int(d / time.Minute)
	h, m := mins/60, mins%60
	switch {
	case h > 0 && m > 0:
		return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m"
	case h > 0:
		return strconv.Itoa(h) + "h"
	default:
		return strconv.Itoa(m) + "m"
	}
}
