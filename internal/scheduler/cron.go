// Package scheduler runs the outreach pipeline on a cron schedule, with a
// file lock so that two processes never run it at the same time.
package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// field bounds: minute, hour, day-of-month, month, day-of-week.
var bounds = [5]struct{ min, max int }{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// CronExpr is a parsed 5-field cron expression. Each field is a bit set of
// the values it matches.
type CronExpr struct {
	minute, hour, dom, month, dow uint64
	// domStar and dowStar record an unrestricted field; when both day
	// fields are restricted a time matches if either one does.
	domStar, dowStar bool
}

// ParseCron parses "minute hour day-of-month month day-of-week" or one of the
// @yearly/@monthly/@weekly/@daily/@hourly shorthands. Fields accept *, N,
// N-M, */S, N-M/S and comma lists. Day-of-week 7 is Sunday.
func ParseCron(expr string) (*CronExpr, error) {
	expr = strings.TrimSpace(expr)
	if d, ok := descriptors[strings.ToLower(expr)]; ok {
		expr = d
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}
	var sets [5]uint64
	for i, f := range fields {
		max := bounds[i].max
		if i == 4 {
			max = 7
		}
		set, err := parseField(f, bounds[i].min, max)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", fieldNames[i], err)
		}
		sets[i] = set
	}
	if sets[4]&(1<<7) != 0 {
		sets[4] = sets[4]&^(1<<7) | 1
	}
	return &CronExpr{
		minute:  sets[0],
		hour:    sets[1],
		dom:     sets[2],
		month:   sets[3],
		dow:     sets[4],
		domStar: fields[2] == "*",
		dowStar: fields[4] == "*",
	}, nil
}

// Matches reports whether t, truncated to the minute, is a scheduled time.
func (c *CronExpr) Matches(t time.Time) bool {
	return has(c.minute, t.Minute()) &&
		has(c.hour, t.Hour()) &&
		has(c.month, int(t.Month())) &&
		c.dayMatches(t)
}

func (c *CronExpr) dayMatches(t time.Time) bool {
	dom := has(c.dom, t.Day())
	dow := has(c.dow, int(t.Weekday()))
	if c.domStar || c.dowStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first scheduled time strictly after t, searching up to
// four years ahead. It returns the zero time when nothing matches.
func (c *CronExpr) Next(t time.Time) time.Time {
	cur := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)
	for cur.Before(limit) {
		switch {
		case !has(c.month, int(cur.Month())):
			cur = time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, cur.Location())
		case !c.dayMatches(cur):
			cur = time.Date(cur.Year(), cur.Month(), cur.Day()+1, 0, 0, 0, 0, cur.Location())
		case !has(c.hour, cur.Hour()):
			cur = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour()+1, 0, 0, 0, cur.Location())
		case !has(c.minute, cur.Minute()):
			cur = cur.Add(time.Minute)
		default:
			return cur
		}
	}
	return time.Time{}
}

// Minutes returns the matched minutes in ascending order.
func (c *CronExpr) Minutes() []int { return members(c.minute) }

func parseField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		s, err := parsePart(part, min, max)
		if err != nil {
			return 0, err
		}
		set |= s
	}
	return set, nil
}

func parsePart(part string, min, max int) (uint64, error) {
	rangeExpr, stepExpr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepExpr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", part)
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case rangeExpr == "*":
	case strings.Contains(rangeExpr, "-"):
		a, b, _ := strings.Cut(rangeExpr, "-")
		var err error
		if lo, err = strconv.Atoi(a); err != nil {
			return 0, fmt.Errorf("invalid range start %q", a)
		}
		if hi, err = strconv.Atoi(b); err != nil {
			return 0, fmt.Errorf("invalid range end %q", b)
		}
		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("range %d-%d out of bounds [%d,%d]", lo, hi, min, max)
		}
	default:
		v, err := strconv.Atoi(rangeExpr)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", rangeExpr)
		}
		if v < min || v > max {
			return 0, fmt.Errorf("value %d out of bounds [%d,%d]", v, min, max)
		}
		lo = v
		if hasStep {
			hi = max
		} else {
			hi = v
		}
	}

	var set uint64
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

func has(set uint64, v int) bool { return set&(1<<uint(v)) != 0 }

func members(set uint64) []int {
	out := make([]int, 0, bits.OnesCount64(set))
	for set != 0 {
		v := bits.TrailingZeros64(set)
		out = append(out, v)
		set &^= 1 << uint(v)
	}
	return out
}
