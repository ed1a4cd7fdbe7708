package skills

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
)

const (
	longDate  = "Monday, January 2, 2006"
	shortDate = "January 2, 2006"
)

type monthDay struct {
	month time.Month
	day   int
}

var holidays = map[string]monthDay{
	"christmas":          {time.December, 25},
	"christmas day":      {time.December, 25},
	"christmas eve":      {time.December, 24},
	"new year":           {time.January, 1},
	"new years":          {time.January, 1},
	"new years day":      {time.January, 1},
	"new years eve":      {time.December, 31},
	"valentines":         {time.February, 14},
	"valentines day":     {time.February, 14},
	"halloween":          {time.October, 31},
	"independence day":   {time.July, 4},
	"april fools":        {time.April, 1},
	"april fools day":    {time.April, 1},
	"st patricks":        {time.March, 17},
	"st patricks day":    {time.March, 17},
	"saint patricks day": {time.March, 17},
}

var (
	monthFirst = regexp.MustCompile(`^([a-z]+)\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)
	dayFirst   = regexp.MustCompile(`^(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?([a-z]+)(?:,?\s+(\d{4}))?$`)
)

// DateTime answers calendar questions locally with the given clock.
func DateTime(now func() time.Time) intent.Capability {
	if now == nil {
		now = time.Now
	}
	tag := func(ask string) map[string]string { return map[string]string{"ask": ask} }

	return intent.Capability{
		Name:        NameDateTime,
		Description: "Answer date and time questions",
		Matchers: []intent.Matcher{
			intent.Pattern(`what time is it(?: now)?|what's the time|what is the time|(?:tell me )?the (?:current )?time|current time|time now`, 1, tag("time")),
			intent.Pattern(`what(?:'s| is)(?: the| today's)? date(?: today)?|what day is (?:it|today)|today's date|what year is it|what's today`, 1, tag("date")),
			intent.Pattern(`(?:when is |when's )?(?:the )?next friday (?:the )?13(?:th)?`, 1, tag("friday13")),
			intent.Pattern(`(?:how many days|how long) (?:is it )?(?:until|till|before) (?P<event>.+)`, 1, tag("until")),
			intent.Pattern(`what day (?:of the week )?(?:is|was|will be|will) (?P<date>.+?)(?: be| fall on| on)?`, 0.9, tag("weekday")),
		},
		Execute: func(_ context.Context, p core.Params, _ memory.View) (core.Reply, error) {
			t := now()
			switch p.Get("ask") {
			case "time":
				return reply("It's %s on %s.", t.Format("3:04 PM"), t.Format(longDate))
			case "date":
				return reply("Today is %s.", t.Format(longDate))
			case "friday13":
				return reply("The next Friday the 13th is %s.", NextFriday13(t).Format(longDate))
			case "until":
				return daysUntil(t, p.Get("event"))
			case "weekday":
				return weekday(t, p.Get("date"))
			}
			return core.Reply{}, core.NotFound("unknown date question")
		},
		Apologies: map[core.Kind]string{
			core.KindNotFound: "Sorry, I couldn't work out that date.",
		},
	}
}

func reply(format string, args ...any) (core.Reply, error) {
	return core.Reply{Text: fmt.Sprintf(format, args...)}, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextFriday13 returns the first Friday the 13th on or after t's date.
func NextFriday13(t time.Time) time.Time {
	today := midnight(t)
	d := time.Date(today.Year(), today.Month(), 13, 0, 0, 0, 0, t.Location())
	if d.Before(today) {
		d = d.AddDate(0, 1, 0)
	}
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 1, 0)
	}
	return d
}

// DaysUntil counts days to the next occurrence of month/day strictly after
// t's date, so on the day itself it counts to next year.
func DaysUntil(t time.Time, month time.Month, day int) (int, time.Time) {
	today := midnight(t)
	target := time.Date(today.Year(), month, day, 0, 0, 0, 0, t.Location())
	if !target.After(today) {
		target = target.AddDate(1, 0, 0)
	}
	return int(target.Sub(today).Hours()/24 + 0.5), target
}

func daysUntil(t time.Time, event string) (core.Reply, error) {
	key := plainKey(event)

	var label string
	md, ok := holidays[key]
	if ok {
		label = titleWords(key) + ", "
	} else {
		d, err := parseDate(key, t)
		if err != nil {
			return core.Reply{}, core.NewActionError(core.KindNotFound, "days until "+event, err)
		}
		md = monthDay{d.Month(), d.Day()}
	}

	n, target := DaysUntil(t, md.month, md.day)
	if n == 1 {
		return reply("There is 1 day until %s%s.", label, target.Format(shortDate))
	}
	return reply("There are %d days until %s%s.", n, label, target.Format(shortDate))
}

func weekday(t time.Time, spoken string) (core.Reply, error) {
	key := plainKey(spoken)
	d, err := parseDate(key, t)
	if md, ok := holidays[key]; ok {
		d, err = time.Date(t.Year(), md.month, md.day, 0, 0, 0, 0, t.Location()), nil
	}
	if err != nil {
		return core.Reply{}, core.NewActionError(core.KindNotFound, "weekday of "+spoken, err)
	}

	verb := "is"
	if d.Before(midnight(t)) {
		verb = "was"
	}
	return reply("%s %s a %s.", d.Format(shortDate), verb, d.Weekday())
}

// parseDate understands today, tomorrow, yesterday, "march 13[, 2026]" and
// "13th of march [2026]". A missing year means the current one.
func parseDate(s string, now time.Time) (time.Time, error) {
	today := midnight(now)
	switch s {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}

	var monthName, dayStr, yearStr string
	if m := monthFirst.FindStringSubmatch(s); m != nil {
		monthName, dayStr, yearStr = m[1], m[2], m[3]
	} else if m := dayFirst.FindStringSubmatch(s); m != nil {
		dayStr, monthName, yearStr = m[1], m[2], m[3]
	} else {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}

	month, err := time.Parse("January", titleWords(monthName))
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown month %q", monthName)
	}
	day, _ := strconv.Atoi(dayStr)
	year := now.Year()
	if yearStr != "" {
		year, _ = strconv.Atoi(yearStr)
	}

	d := time.Date(year, month.Month(), day, 0, 0, 0, 0, now.Location())
	if d.Day() != day {
		return time.Time{}, fmt.Errorf("%s has no day %d", month.Month(), day)
	}
	return d, nil
}

// plainKey lowercases and drops apostrophes, periods and a leading "the".
func plainKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("'", "", ".", "", "?", "").Replace(s)
	s = strings.TrimPrefix(s, "the ")
	return strings.Join(strings.Fields(s), " ")
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
