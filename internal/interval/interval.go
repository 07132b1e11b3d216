// Package interval models the contiguous date ranges a station has
// observations for. A Set is ordered, non-overlapping, and any two
// consecutive periods are separated by at least one full calendar day.
package interval

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const dateFormat = "2006-01-02"

type Period struct {
	Start time.Time
	End   time.Time
	Days  int
}

type Set []Period

// day truncates t to a UTC calendar date.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nextDay(t time.Time) time.Time {
	return t.AddDate(0, 0, 1)
}

func dayCount(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}

// New builds a Set from periods, enforcing the invariants: sorted
// ascending by start, start <= end, and a gap of at least one full day
// between consecutive periods.
func New(periods []Period) (Set, error) {
	s := make(Set, len(periods))
	copy(s, periods)
	for i := range s {
		s[i].Start = day(s[i].Start)
		s[i].End = day(s[i].End)
		if s[i].End.Before(s[i].Start) {
			return nil, fmt.Errorf("period %s ends before it starts (%s)",
				s[i].Start.Format(dateFormat), s[i].End.Format(dateFormat))
		}
		s[i].Days = dayCount(s[i].Start, s[i].End)
	}
	sort.Slice(s, func(i, j int) bool { return s[i].Start.Before(s[j].Start) })
	for i := 1; i < len(s); i++ {
		if !s[i].Start.After(nextDay(s[i-1].End)) {
			return nil, fmt.Errorf("periods %s..%s and %s..%s overlap or touch",
				s[i-1].Start.Format(dateFormat), s[i-1].End.Format(dateFormat),
				s[i].Start.Format(dateFormat), s[i].End.Format(dateFormat))
		}
	}
	return s, nil
}

// FindContinuous converts a set of observation dates into the periods
// they cover. Duplicate dates are tolerated; input order is irrelevant.
func FindContinuous(dates []time.Time) Set {
	if len(dates) == 0 {
		return nil
	}

	unique := make([]time.Time, 0, len(dates))
	seen := make(map[time.Time]bool, len(dates))
	for _, d := range dates {
		d = day(d)
		if !seen[d] {
			seen[d] = true
			unique = append(unique, d)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Before(unique[j]) })

	var out Set
	start := unique[0]
	end := unique[0]
	for _, d := range unique[1:] {
		if d.Equal(nextDay(end)) {
			end = d
			continue
		}
		out = append(out, Period{Start: start, End: end, Days: dayCount(start, end)})
		start, end = d, d
	}
	out = append(out, Period{Start: start, End: end, Days: dayCount(start, end)})
	return out
}

// Merge combines two sets into one. Periods that overlap or are exactly
// adjacent (next starts the day after current ends) coalesce; a gap of
// one or more full calendar days keeps them separate.
func Merge(existing, incoming Set) Set {
	all := make(Set, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })

	out := Set{all[0]}
	for _, p := range all[1:] {
		cur := &out[len(out)-1]
		if !p.Start.After(nextDay(cur.End)) {
			if p.End.After(cur.End) {
				cur.End = p.End
			}
			continue
		}
		out = append(out, p)
	}
	for i := range out {
		out[i].Days = dayCount(out[i].Start, out[i].End)
	}
	return out
}

// TotalDays is the number of covered calendar days across all periods.
func (s Set) TotalDays() int {
	total := 0
	for _, p := range s {
		total += p.Days
	}
	return total
}

// Contains reports whether date falls inside any period.
func (s Set) Contains(date time.Time) bool {
	d := day(date)
	for _, p := range s {
		if !d.Before(p.Start) && !d.After(p.End) {
			return true
		}
	}
	return false
}

type periodJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodJSON{
		Start: p.Start.Format(dateFormat),
		End:   p.End.Format(dateFormat),
		Days:  p.Days,
	})
}

func (p *Period) UnmarshalJSON(data []byte) error {
	var pj periodJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	start, err := time.Parse(dateFormat, pj.Start)
	if err != nil {
		return fmt.Errorf("parse period start %q: %w", pj.Start, err)
	}
	end, err := time.Parse(dateFormat, pj.End)
	if err != nil {
		return fmt.Errorf("parse period end %q: %w", pj.End, err)
	}
	p.Start = start
	p.End = end
	p.Days = pj.Days
	return nil
}

// ParseSet decodes the serialized column value. Empty input is an empty set.
func ParseSet(data []byte) (Set, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse active periods: %w", err)
	}
	return New(s)
}

// Encode serializes the set for storage.
func (s Set) Encode() ([]byte, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}
