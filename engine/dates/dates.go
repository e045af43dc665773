// Package dates turns the relative and French-language timestamps shown on
// community posts ("5h", "hier", "il y a 3 jours", "12 mars") into absolute
// instants.
package dates

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Fixed approximations used for coarse units.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var (
	compactRe = regexp.MustCompile(`^(\d+)\s*(min|sem|hr|mo|h|m|d|j|w)\.?$`)
	agoRe     = regexp.MustCompile(`^il y a\s+(\d+)\s*(jour|semaine|mois|heure)`)
	dayRe     = regexp.MustCompile(`\d{1,2}`)
	yearRe    = regexp.MustCompile(`\d{4}`)
)

type monthName struct {
	name  string
	month time.Month
}

// Full names are tried before abbreviations.
var monthNames = []monthName{
	{"janvier", time.January},
	{"février", time.February},
	{"mars", time.March},
	{"avril", time.April},
	{"mai", time.May},
	{"juin", time.June},
	{"juillet", time.July},
	{"août", time.August},
	{"septembre", time.September},
	{"octobre", time.October},
	{"novembre", time.November},
	{"décembre", time.December},
	{"jan", time.January},
	{"fév", time.February},
	{"mar", time.March},
	{"avr", time.April},
	{"jun", time.June},
	{"juil", time.July},
	{"aoû", time.August},
	{"sep", time.September},
	{"oct", time.October},
	{"nov", time.November},
	{"déc", time.December},
}

// Parse resolves text relative to the current wall clock.
func Parse(text string) (time.Time, bool) {
	return ParseAt(text, time.Now())
}

// ParseAt resolves text relative to ref. Rules are tried in order: compact
// "<n><unit>", "hier", "il y a <n> <unit>", then a French month name with a
// day and optional year. The boolean is false when no rule applies.
func ParseAt(text string, ref time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return time.Time{}, false
	}

	if m := compactRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return before(ref, n, compactUnit(m[2]))
		}
	}

	if strings.Contains(s, "hier") {
		return ref.Add(-Day), true
	}

	if m := agoRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return before(ref, n, agoUnit(m[2]))
		}
	}

	return parseMonthDate(s, ref)
}

// before returns ref minus n units. Counts whose span does not fit in a
// time.Duration are unparseable.
func before(ref time.Time, n int, unit time.Duration) (time.Time, bool) {
	if int64(n) > math.MaxInt64/int64(unit) {
		return time.Time{}, false
	}
	return ref.Add(-time.Duration(n) * unit), true
}

func compactUnit(u string) time.Duration {
	switch u {
	case "h", "hr":
		return time.Hour
	case "m", "min":
		return time.Minute
	case "d", "j":
		return Day
	case "w", "sem":
		return Week
	default: // "mo"
		return Month
	}
}

func agoUnit(u string) time.Duration {
	switch u {
	case "heure":
		return time.Hour
	case "jour":
		return Day
	case "semaine":
		return Week
	default: // "mois"
		return Month
	}
}

func parseMonthDate(s string, ref time.Time) (time.Time, bool) {
	for _, mn := range monthNames {
		if !strings.Contains(s, mn.name) {
			continue
		}
		dm := dayRe.FindString(s)
		if dm == "" {
			continue
		}
		day, _ := strconv.Atoi(dm)
		year := ref.Year()
		if ym := yearRe.FindString(s); ym != "" {
			year, _ = strconv.Atoi(ym)
		}
		d, ok := calendarDate(year, mn.month, day, ref.Location())
		if !ok {
			continue
		}
		if d.After(ref) {
			d, ok = calendarDate(year-1, mn.month, day, ref.Location())
			if !ok {
				continue
			}
		}
		return d, true
	}
	return time.Time{}, false
}

// calendarDate builds midnight of the given day, rejecting dates that
// time.Date would silently normalize (e.g. 31 February).
func calendarDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if day < 1 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// AgeDays returns how many whole days before ref the text resolves to.
func AgeDays(text string, ref time.Time) (int, bool) {
	t, ok := ParseAt(text, ref)
	if !ok {
		return 0, false
	}
	return int(ref.Sub(t) / Day), true
}

// FormatAge renders an age in days the way the operator log shows it.
// Negative ages mean unknown.
func FormatAge(days int) string {
	switch {
	case days < 0:
		return "?"
	case days == 0:
		return "today"
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%d days", days)
	case days < int(Month/Day):
		return fmt.Sprintf("%d wk", days/7)
	case days < int(Year/Day):
		return fmt.Sprintf("%d mo", days/int(Month/Day))
	default:
		return fmt.Sprintf("%d yr", days/int(Year/Day))
	}
}
