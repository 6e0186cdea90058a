package queryparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"resource-orm/internal/ormerr"
)

// Layouts used when substituting dynamic date variables.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

var (
	dynamicCall = regexp.MustCompile(`\$(TIME|DATETIME|DATE)\((.*?)\)`)
	relativeOp  = regexp.MustCompile(`^([+-]?\d+)\s*([a-z]+)$`)
)

// ExpandDynamic substitutes the variables $TIME, $DATETIME and $DATE with the
// current Unix time, datetime and date. The call forms $TIME(expr),
// $DATETIME(expr) and $DATE(expr) evaluate a relative expression such as
// "-1 day" or "2 weeks ago" against now first.
func ExpandDynamic(s string, now time.Time) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var expandErr error
	s = dynamicCall.ReplaceAllStringFunc(s, func(match string) string {
		parts := dynamicCall.FindStringSubmatch(match)
		at, err := RelativeTime(parts[2], now)
		if err != nil {
			if expandErr == nil {
				expandErr = err
			}
			return match
		}
		return formatDynamic(parts[1], at)
	})
	if expandErr != nil {
		return "", expandErr
	}

	return strings.NewReplacer(
		"$DATETIME", formatDynamic("DATETIME", now),
		"$DATE", formatDynamic("DATE", now),
		"$TIME", formatDynamic("TIME", now),
	).Replace(s), nil
}

func formatDynamic(kind string, t time.Time) string {
	switch kind {
	case "DATETIME":
		return t.Format(DateTimeLayout)
	case "DATE":
		return t.Format(DateLayout)
	default:
		return strconv.FormatInt(t.Unix(), 10)
	}
}

// RelativeTime evaluates expr against now. Supported forms are "now", "today",
// "tomorrow", "yesterday", absolute dates and datetimes, and sequences of
// signed offsets ("+1 day -2 hours"), optionally followed by "ago".
func RelativeTime(expr string, now time.Time) (time.Time, error) {
	e := strings.ToLower(strings.TrimSpace(expr))
	switch e {
	case "", "now":
		return now, nil
	case "today", "midnight":
		return startOfDay(now), nil
	case "tomorrow":
		return startOfDay(now).AddDate(0, 0, 1), nil
	case "yesterday":
		return startOfDay(now).AddDate(0, 0, -1), nil
	}
	for _, layout := range []string{DateTimeLayout, DateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(expr), now.Location()); err == nil {
			return t, nil
		}
	}

	ago := false
	if strings.HasSuffix(e, " ago") {
		ago = true
		e = strings.TrimSpace(strings.TrimSuffix(e, " ago"))
	}

	tokens := strings.Fields(e)
	if len(tokens) == 0 {
		return time.Time{}, invalidExpr(expr)
	}
	t := now
	for i := 0; i < len(tokens); i++ {
		var amount int
		var unit string
		switch tokens[i] {
		case "next", "last":
			if i+1 >= len(tokens) {
				return time.Time{}, invalidExpr(expr)
			}
			amount = 1
			if tokens[i] == "last" {
				amount = -1
			}
			unit = tokens[i+1]
			i++
		default:
			// Accept both "-1 day" and "-1day".
			chunk := tokens[i]
			if i+1 < len(tokens) && !relativeOp.MatchString(chunk) {
				chunk += " " + tokens[i+1]
				i++
			}
			m := relativeOp.FindStringSubmatch(strings.ReplaceAll(chunk, " ", ""))
			if m == nil {
				return time.Time{}, invalidExpr(expr)
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return time.Time{}, invalidExpr(expr)
			}
			amount = n
			unit = m[2]
		}
		if ago {
			amount = -amount
		}
		next, ok := shift(t, amount, unit)
		if !ok {
			return time.Time{}, invalidExpr(expr)
		}
		t = next
	}
	return t, nil
}

func shift(t time.Time, n int, unit string) (time.Time, bool) {
	switch strings.TrimSuffix(unit, "s") {
	case "sec", "second":
		return t.Add(time.Duration(n) * time.Second), true
	case "min", "minute":
		return t.Add(time.Duration(n) * time.Minute), true
	case "hour":
		return t.Add(time.Duration(n) * time.Hour), true
	case "day":
		return t.AddDate(0, 0, n), true
	case "week":
		return t.AddDate(0, 0, 7*n), true
	case "fortnight":
		return t.AddDate(0, 0, 14*n), true
	case "month":
		return t.AddDate(0, n, 0), true
	case "year":
		return t.AddDate(n, 0, 0), true
	}
	return t, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func invalidExpr(expr string) error {
	return ormerr.InvalidRequest("unable to list resource: invalid dynamic time expression (%s)", expr)
}
