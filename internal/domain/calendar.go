package domain

import (
	"sort"
	"time"
)

// Calendar is the trading calendar derived from the loaded price frame: a day
// is a trading day iff at least one stock has a price row on it.
type Calendar struct {
	days  []time.Time
	index map[time.Time]int
}

// NewCalendar builds a calendar from the distinct dates present in bars.
func NewCalendar(dates []time.Time) *Calendar {
	seen := make(map[time.Time]struct{}, len(dates))
	var days []time.Time
	for _, d := range dates {
		d = Day(d)
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	idx := make(map[time.Time]int, len(days))
	for i, d := range days {
		idx[d] = i
	}
	return &Calendar{days: days, index: idx}
}

// Days returns the trading days within [start, end] inclusive.
func (c *Calendar) Days(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	var out []time.Time
	for _, d := range c.days {
		if d.Before(start) {
			continue
		}
		if d.After(end) {
			break
		}
		out = append(out, d)
	}
	return out
}

// All returns every trading day known to the calendar.
func (c *Calendar) All() []time.Time { return c.days }

// Prev returns the trading day immediately before d, ok=false at the start.
func (c *Calendar) Prev(d time.Time) (time.Time, bool) {
	i, ok := c.index[Day(d)]
	if !ok || i == 0 {
		return time.Time{}, false
	}
	return c.days[i-1], true
}

// IsRebalanceDay reports whether d opens new entries under freq. WEEKLY uses
// the first trading day of the ISO week, MONTHLY and QUARTERLY the first
// trading day of the month / quarter.
func (c *Calendar) IsRebalanceDay(d time.Time, freq RebalanceFrequency) bool {
	d = Day(d)
	switch freq {
	case RebalanceDaily:
		return true
	case RebalanceWeekly:
		prev, ok := c.Prev(d)
		if !ok {
			return true
		}
		y1, w1 := prev.ISOWeek()
		y2, w2 := d.ISOWeek()
		return y1 != y2 || w1 != w2
	case RebalanceMonthly:
		prev, ok := c.Prev(d)
		if !ok {
			return true
		}
		return prev.Month() != d.Month() || prev.Year() != d.Year()
	case RebalanceQuarterly:
		prev, ok := c.Prev(d)
		if !ok {
			return true
		}
		return quarterOf(prev) != quarterOf(d) || prev.Year() != d.Year()
	default:
		return false
	}
}

func quarterOf(d time.Time) int { return (int(d.Month()) - 1) / 3 }

// BusinessDaysBetween counts Mon-Fri days in (from, to]. Used by the live
// adapter to advance hold_days across real calendar gaps.
func BusinessDaysBetween(from, to time.Time) int {
	from, to = Day(from), Day(to)
	if !to.After(from) {
		return 0
	}
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			n++
		}
	}
	return n
}
