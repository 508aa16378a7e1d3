package businesstime

import (
	"time"
)

// Calendar defines the work week used for SLA hour counting: which weekdays
// count, the daily hour window [StartHour, EndHour), and the timezone the
// window is anchored in.
type Calendar struct {
	WorkDays  map[time.Weekday]bool
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Default returns the standard Monday-Friday 9-17 UTC calendar.
func Default() Calendar {
	return Calendar{
		WorkDays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		StartHour: 9,
		EndHour:   17,
		Location:  time.UTC,
	}
}

// New builds a calendar from an explicit work-day list and daily window.
func New(workDays []time.Weekday, startHour, endHour int, loc *time.Location) Calendar {
	days := make(map[time.Weekday]bool, len(workDays))
	for _, d := range workDays {
		days[d] = true
	}
	return Calendar{WorkDays: days, StartHour: startHour, EndHour: endHour, Location: loc}
}

func (c Calendar) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// IsBusinessHour reports whether t falls on a work day inside the daily
// window. The check is at whole-hour resolution: minutes within the hour
// don't matter.
func (c Calendar) IsBusinessHour(t time.Time) bool {
	local := t.In(c.location())
	if !c.WorkDays[local.Weekday()] {
		return false
	}
	h := local.Hour()
	return h >= c.StartHour && h < c.EndHour
}

// HoursBetween counts the business hours elapsed between start and end by
// walking the interval one hour at a time and counting in-window slots.
// The walk floors start to the top of its hour, so the result is always a
// whole hour count; sub-hour precision is intentionally not provided.
// Returns 0 when start >= end.
func (c Calendar) HoursBetween(start, end time.Time) int {
	if !start.Before(end) {
		return 0
	}
	loc := c.location()
	cursor := start.In(loc).Truncate(time.Hour)
	end = end.In(loc)

	hours := 0
	for cursor.Before(end) {
		if c.IsBusinessHour(cursor) {
			hours++
		}
		cursor = cursor.Add(time.Hour)
	}
	return hours
}

// TotalElapsedHours is the naive wall-clock difference in whole hours with
// no calendar awareness. Audit and display only.
func TotalElapsedHours(start, end time.Time) int {
	if !start.Before(end) {
		return 0
	}
	return int(end.Sub(start) / time.Hour)
}

// NextBusinessHour advances to the top of the next hour, then jumps forward
// (next day at StartHour when past the window or on a non-work day) until it
// lands on a business hour.
func (c Calendar) NextBusinessHour(t time.Time) time.Time {
	loc := c.location()
	cursor := t.In(loc).Truncate(time.Hour).Add(time.Hour)
	for !c.IsBusinessHour(cursor) {
		local := cursor.In(loc)
		if local.Hour() >= c.EndHour || !c.WorkDays[local.Weekday()] {
			next := local.AddDate(0, 0, 1)
			cursor = time.Date(next.Year(), next.Month(), next.Day(), c.StartHour, 0, 0, 0, loc)
			continue
		}
		if local.Hour() < c.StartHour {
			cursor = time.Date(local.Year(), local.Month(), local.Day(), c.StartHour, 0, 0, 0, loc)
			continue
		}
		cursor = cursor.Add(time.Hour)
	}
	return cursor
}

// EstimatedCompletion projects the instant at which hoursRemaining business
// hours will have elapsed, starting from from.
func (c Calendar) EstimatedCompletion(hoursRemaining int, from time.Time) time.Time {
	cursor := from
	for i := 0; i < hoursRemaining; i++ {
		cursor = c.NextBusinessHour(cursor)
	}
	return cursor
}
