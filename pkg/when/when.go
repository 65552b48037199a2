// Package when turns the loose French date, time and duration expressions
// users type ("demain", "14h30", "2 heures") into concrete values. It is
// pure: the reference instant is always passed in.
//
// Day expressions are tried against an ordered rule table, then handed to
// dateparse with day-first preference. Anything unparseable falls back to
// today at noon with a one-hour duration.
package when

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	// DefaultHour is used when no time of day is given or understood.
	DefaultHour = 12
	// DefaultDuration is used when no duration is given or understood.
	DefaultDuration = time.Hour
)

type dayRule struct {
	re    *regexp.Regexp
	shift func(today time.Time, m []string) (time.Time, bool)
}

var weekdays = map[string]time.Weekday{
	"lundi": time.Monday, "mardi": time.Tuesday, "mercredi": time.Wednesday,
	"jeudi": time.Thursday, "vendredi": time.Friday, "samedi": time.Saturday,
	"dimanche": time.Sunday,
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

var months = map[string]time.Month{
	"janvier": time.January, "février": time.February, "fevrier": time.February,
	"mars": time.March, "avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "août": time.August, "aout": time.August,
	"septembre": time.September, "octobre": time.October, "novembre": time.November,
	"décembre": time.December, "decembre": time.December,
}

func days(n int) func(time.Time, []string) (time.Time, bool) {
	return func(today time.Time, _ []string) (time.Time, bool) {
		return today.AddDate(0, 0, n), true
	}
}

// dayRules is evaluated in order; the first match wins. après-demain must
// come before demain.
var dayRules = []dayRule{
	{regexp.MustCompile(`apr[eè]s[- ]demain`), days(2)},
	{regexp.MustCompile(`aujourd'?hui|aujourd’hui|\btoday\b|\bauj\b`), days(0)},
	{regexp.MustCompile(`\bdemain\b|\btomorrow\b|\btmr\b`), days(1)},
	{regexp.MustCompile(`dans\s+(\d+)\s+jours?`), func(today time.Time, m []string) (time.Time, bool) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		return today.AddDate(0, 0, n), true
	}},
	{regexp.MustCompile(`\b(lundi|mardi|mercredi|jeudi|vendredi|samedi|dimanche|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		func(today time.Time, m []string) (time.Time, bool) {
			ahead := (int(weekdays[m[1]]) - int(today.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return today.AddDate(0, 0, ahead), true
		}},
	{regexp.MustCompile(`(\d{1,2})(?:er)?\s+(janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[uû]t|septembre|octobre|novembre|d[ée]cembre)(?:\s+(\d{4}))?`),
		func(today time.Time, m []string) (time.Time, bool) {
			day, _ := strconv.Atoi(m[1])
			year := today.Year()
			if m[3] != "" {
				year, _ = strconv.Atoi(m[3])
			}
			month := months[m[2]]
			if day < 1 || day > 31 || month == 0 {
				return time.Time{}, false
			}
			return time.Date(year, month, day, 0, 0, 0, 0, today.Location()), true
		}},
}

var (
	clockHM     = regexp.MustCompile(`(\d{1,2})\s*[h:]\s*(\d{2})`)
	clockH      = regexp.MustCompile(`(\d{1,2})\s*h(?:eures?)?\b`)
	clockMerid  = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)`)
	durHM       = regexp.MustCompile(`^(\d+)\s*h\s*(\d+)`)
	durH        = regexp.MustCompile(`^(\d+)\s*h(?:eures?)?`)
	durM        = regexp.MustCompile(`^(\d+)\s*min(?:utes?)?`)
	leadingWord = regexp.MustCompile(`^(le|du|pour)\s+`)
)

// ParseDate resolves a day expression relative to now, in now's location.
// The result is at midnight. ok is false when nothing matched.
func ParseDate(now time.Time, s string) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	norm := leadingWord.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
	if norm == "" {
		return today, false
	}

	for _, rule := range dayRules {
		if m := rule.re.FindStringSubmatch(norm); m != nil {
			if t, ok := rule.shift(today, m); ok {
				return t, true
			}
		}
	}

	parsed, err := dateparse.ParseIn(norm, now.Location(), dateparse.PreferMonthFirst(false))
	if err != nil {
		return today, false
	}
	return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, now.Location()), true
}

// ParseClock extracts an hour and minute. Accepted forms are 14h30, 14:30,
// 14h, 2pm, midi and minuit.
func ParseClock(s string) (hour, minute int, ok bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch {
	case norm == "":
		return DefaultHour, 0, false
	case strings.Contains(norm, "midi"):
		return 12, 0, true
	case strings.Contains(norm, "minuit"):
		return 0, 0, true
	}

	if m := clockMerid.FindStringSubmatch(norm); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour == 12 {
			hour = 0
		}
		if m[3] == "pm" {
			hour += 12
		}
		return validClock(hour, minute)
	}
	if m := clockHM.FindStringSubmatch(norm); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		return validClock(hour, minute)
	}
	if m := clockH.FindStringSubmatch(norm); m != nil {
		hour, _ = strconv.Atoi(m[1])
		return validClock(hour, 0)
	}
	return DefaultHour, 0, false
}

func validClock(hour, minute int) (int, int, bool) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return DefaultHour, 0, false
	}
	return hour, minute, true
}

// ParseDateTime combines ParseDate and ParseClock. Unparseable parts fall
// back to today and to noon.
func ParseDateTime(now time.Time, date, clock string) time.Time {
	day, _ := ParseDate(now, date)
	hour, minute, _ := ParseClock(clock)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
}

// ParseDuration understands 2h30, 2h, 2 heures, 30min and 30 minutes.
// Anything else is one hour.
func ParseDuration(s string) time.Duration {
	norm := strings.ToLower(strings.TrimSpace(s))
	if m := durHM.FindStringSubmatch(norm); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		return time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute
	}
	if m := durH.FindStringSubmatch(norm); m != nil {
		h, _ := strconv.Atoi(m[1])
		return time.Duration(h) * time.Hour
	}
	if m := durM.FindStringSubmatch(norm); m != nil {
		mins, _ := strconv.Atoi(m[1])
		return time.Duration(mins) * time.Minute
	}
	return DefaultDuration
}
