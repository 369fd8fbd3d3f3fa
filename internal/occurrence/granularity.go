package occurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Granularity is how often an operation recurs. The numeric values are part
// of the API wire format.
type Granularity int

const (
	None Granularity = iota
	Every15Min
	Hourly
	Daily
	Weekly
	Monthly
)

var granularityNames = [...]string{"none", "15m", "hourly", "daily", "weekly", "monthly"}

// All lists every granularity in declaration order.
var All = []Granularity{None, Every15Min, Hourly, Daily, Weekly, Monthly}

func (g Granularity) Valid() bool { return g >= None && g <= Monthly }

func (g Granularity) String() string {
	if !g.Valid() {
		return "granularity(" + strconv.Itoa(int(g)) + ")"
	}
	return granularityNames[g]
}

// ParseGranularity accepts the canonical names, a few aliases and the
// numeric form.
func ParseGranularity(s string) (Granularity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "once":
		return None, nil
	case "15m", "min15", "every15min", "quarter":
		return Every15Min, nil
	case "hourly", "hour":
		return Hourly, nil
	case "daily", "day":
		return Daily, nil
	case "weekly", "week":
		return Weekly, nil
	case "monthly", "month":
		return Monthly, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Granularity(n).Valid() {
		return Granularity(n), nil
	}
	return None, fmt.Errorf("unknown granularity %q", s)
}

func (g Granularity) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("invalid granularity %d", int(g))
	}
	return []byte(g.String()), nil
}

func (g *Granularity) UnmarshalText(b []byte) error {
	v, err := ParseGranularity(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// OffsetFor converts a granularity into a reminder lead time: a "daily"
// reminder fires 24h before the operation. Months count as 30 days.
func OffsetFor(g Granularity) time.Duration {
	switch g {
	case Every15Min:
		return 15 * time.Minute
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Window returns the calendar period [start, end) containing now, in UTC:
// the day, the week starting Sunday, or the month. Other granularities have
// no window.
func Window(g Granularity, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case Daily:
		return day, day.AddDate(0, 0, 1), nil
	case Weekly:
		start := day.AddDate(0, 0, -int(day.Weekday()))
		return start, start.AddDate(0, 0, 7), nil
	case Monthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("no listing window for granularity %s", g)
	}
}
