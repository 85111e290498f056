// Package timeparse resolves free-form time expressions in chat messages,
// e.g. "remind me to call Bob tomorrow at 9am" or "submit report at 18:00".
//
// It is deliberately rule-based: a small set of phrases covers what people
// actually type at a reminder bot, and a miss is reported as a miss rather
// than guessed at.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Result is a resolved time expression.
type Result struct {
	// At is the absolute target time.
	At time.Time
	// Remainder is the task description: the input with the time phrase and
	// any leading reminder boilerplate ("remind me to ...") stripped.
	Remainder string
}

var (
	relativeRe = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(minutes?|mins?|hours?|hrs?|days?)\b`)
	clockRe    = regexp.MustCompile(`(?i)\b(at\s+)?(\d{1,2})(:([0-5][0-9]))?\s*(am|pm)?\b`)
	dayRe      = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight)\b`)
	prefixRe   = regexp.MustCompile(`(?i)^(please\s+)?(remind\s+me\s+(to\s+)?|reminder:?\s*)`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// Parse resolves the first time expression in text relative to now. ok is
// false when no expression is recognized; nothing is guessed.
func Parse(text string, now time.Time) (Result, bool) {
	loc := now.Location()

	if m := relativeRe.FindStringSubmatchIndex(text); m != nil {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		unit := strings.ToLower(text[m[4]:m[5]])
		var d time.Duration
		switch {
		case strings.HasPrefix(unit, "min"):
			d = time.Duration(n) * time.Minute
		case strings.HasPrefix(unit, "h"):
			d = time.Duration(n) * time.Hour
		default:
			d = time.Duration(n) * 24 * time.Hour
		}
		return Result{
			At:        now.Add(d),
			Remainder: cleanup(cut(text, m[0], m[1])),
		}, true
	}

	hour, minute, span, hasClock := findClock(text)
	day, _ := findDay(text)

	if !hasClock && day == "" {
		return Result{}, false
	}

	rest := text
	if hasClock {
		rest = cut(rest, span[0], span[1])
	}
	if day != "" {
		// Day spans shift after the clock cut; re-locate on the reduced text.
		if d, s := findDay(rest); d != "" {
			day, rest = d, cut(rest, s[0], s[1])
		}
	}

	if !hasClock {
		// Bare day word gets a conventional default hour.
		switch day {
		case "tomorrow":
			hour, minute = 9, 0
		case "tonight":
			hour, minute = 20, 0
		default:
			// "today" alone says nothing about the clock; not a reminder time.
			return Result{}, false
		}
	}
	if day == "tonight" && hasClock && hour < 12 {
		hour += 12
	}

	base := now.In(loc)
	if day == "tomorrow" {
		base = base.AddDate(0, 0, 1)
	}
	at := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, loc)

	return Result{At: at, Remainder: cleanup(rest)}, true
}

// findClock locates the first clock expression. A plain number only counts
// when it is anchored by "at", minutes or an am/pm suffix, so "buy 2 apples"
// stays a plain message.
func findClock(text string) (hour, minute int, span [2]int, ok bool) {
	for _, m := range clockRe.FindAllStringSubmatchIndex(text, -1) {
		hasAt := m[2] >= 0
		hasMin := m[6] >= 0
		hasAmPm := m[10] >= 0
		if !hasAt && !hasMin && !hasAmPm {
			continue
		}

		h, _ := strconv.Atoi(text[m[4]:m[5]])
		mi := 0
		if hasMin {
			mi, _ = strconv.Atoi(text[m[8]:m[9]])
		}
		if hasAmPm {
			if h < 1 || h > 12 {
				continue
			}
			if strings.EqualFold(text[m[10]:m[11]], "pm") {
				if h != 12 {
					h += 12
				}
			} else if h == 12 {
				h = 0
			}
		} else if h > 23 {
			continue
		}
		return h, mi, [2]int{m[0], m[1]}, true
	}
	return 0, 0, [2]int{}, false
}

func findDay(text string) (string, [2]int) {
	m := dayRe.FindStringIndex(text)
	if m == nil {
		return "", [2]int{}
	}
	return strings.ToLower(text[m[0]:m[1]]), [2]int{m[0], m[1]}
}

func cut(s string, from, to int) string {
	return s[:from] + " " + s[to:]
}

func cleanup(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = prefixRe.ReplaceAllString(s, "")
	s = strings.Trim(s, " ,.;:-")
	return s
}
