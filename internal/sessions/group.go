package sessions

import (
	"sort"
	"time"

	"chatsave/internal/store"
)

// DayGroup is every session that starts on one calendar day.
type DayGroup struct {
	Day      time.Time       `json:"day"`
	Sessions []store.Session `json:"sessions"`
}

func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Group buckets sessions by the start of day of their Date in loc.
// Days are ordered newest first, and so are the sessions inside each day.
func Group(sessions []store.Session, loc *time.Location) []DayGroup {
	byDay := make(map[time.Time][]store.Session)
	var days []time.Time
	for _, s := range sessions {
		day := StartOfDay(s.Date, loc)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], s)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	groups := make([]DayGroup, 0, len(days))
	for _, day := range days {
		bucket := byDay[day]
		sort.SliceStable(bucket, func(i, j int) bool {
			if !bucket[i].Date.Equal(bucket[j].Date) {
				return bucket[i].Date.After(bucket[j].Date)
			}
			return bucket[i].ID < bucket[j].ID
		})
		groups = append(groups, DayGroup{Day: day, Sessions: bucket})
	}
	return groups
}

// Flatten returns the sessions of groups in display order.
func Flatten(groups []DayGroup) []store.Session {
	var n int
	for _, g := range groups {
		n += len(g.Sessions)
	}
	out := make([]store.Session, 0, n)
	for _, g := range groups {
		out = append(out, g.Sessions...)
	}
	return out
}

func cloneGroups(groups []DayGroup) []DayGroup {
	out := make([]DayGroup, len(groups))
	for i, g := range groups {
		out[i] = DayGroup{Day: g.Day, Sessions: append([]store.Session(nil), g.Sessions...)}
	}
	return out
}
