package businesstime

import (
	"testing"
	"time"
)

// 2024-01-01 is a Monday.
func mon(hour int) time.Time {
	return time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)
}

func TestHoursBetweenWeekendIsZero(t *testing.T) {
	cal := Default()
	sat := time.Date(2024, 1, 6, 8, 0, 0, 0, time.UTC)
	sun := time.Date(2024, 1, 7, 20, 0, 0, 0, time.UTC)
	if got := cal.HoursBetween(sat, sun); got != 0 {
		t.Fatalf("expected 0 business hours over the weekend, got %d", got)
	}
}

func TestHoursBetweenClampsToWindow(t *testing.T) {
	cal := Default()
	start := mon(8)
	end := mon(18)
	if got := cal.HoursBetween(start, end); got != 8 {
		t.Fatalf("expected 8 hours for 8am-6pm with a 9-17 window, got %d", got)
	}
}

func TestHoursBetweenMultiDay(t *testing.T) {
	cal := Default()
	start := mon(10)
	end := time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC) // Wednesday
	// Mon 10-17 = 7, Tue = 8, Wed 9-15 = 6.
	if got := cal.HoursBetween(start, end); got != 21 {
		t.Fatalf("expected 21 hours Mon 10:00 -> Wed 15:00, got %d", got)
	}
}

func TestHoursBetweenSpansWeekend(t *testing.T) {
	cal := Default()
	fri := time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC)
	nextMon := time.Date(2024, 1, 8, 11, 0, 0, 0, time.UTC)
	// Fri 15-17 = 2, weekend = 0, Mon 9-11 = 2.
	if got := cal.HoursBetween(fri, nextMon); got != 4 {
		t.Fatalf("expected 4 hours across the weekend, got %d", got)
	}
}

func TestHoursBetweenEmptyInterval(t *testing.T) {
	cal := Default()
	if got := cal.HoursBetween(mon(12), mon(12)); got != 0 {
		t.Fatalf("expected 0 for start == end, got %d", got)
	}
	if got := cal.HoursBetween(mon(14), mon(10)); got != 0 {
		t.Fatalf("expected 0 for start after end, got %d", got)
	}
}

func TestHoursBetweenMonotonic(t *testing.T) {
	cal := Default()
	start := mon(10)
	prev := 0
	for end := start.Add(time.Hour); end.Before(start.Add(10 * 24 * time.Hour)); end = end.Add(3 * time.Hour) {
		got := cal.HoursBetween(start, end)
		if got < prev {
			t.Fatalf("hours decreased from %d to %d at end=%s", prev, got, end)
		}
		prev = got
	}
}

func TestTotalElapsedHours(t *testing.T) {
	if got := TotalElapsedHours(mon(10), mon(15)); got != 5 {
		t.Fatalf("expected 5 wall-clock hours, got %d", got)
	}
	if got := TotalElapsedHours(mon(15), mon(10)); got != 0 {
		t.Fatalf("expected 0 for inverted interval, got %d", got)
	}
}

func TestIsBusinessHour(t *testing.T) {
	cal := Default()
	if !cal.IsBusinessHour(mon(9)) {
		t.Fatalf("9:00 Monday should be a business hour")
	}
	if cal.IsBusinessHour(mon(17)) {
		t.Fatalf("17:00 should be outside a 9-17 window")
	}
	if cal.IsBusinessHour(time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("Saturday should not be a business hour")
	}
}

func TestNextBusinessHour(t *testing.T) {
	cal := Default()

	if got := cal.NextBusinessHour(mon(10)); !got.Equal(mon(11)) {
		t.Fatalf("expected Mon 11:00, got %s", got)
	}

	// Past the window: jumps to Tuesday 9:00.
	tue9 := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if got := cal.NextBusinessHour(mon(16)); !got.Equal(tue9) {
		t.Fatalf("expected Tue 09:00 after Mon 16:00, got %s", got)
	}

	// Friday evening: jumps over the weekend.
	fri := time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC)
	nextMon9 := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if got := cal.NextBusinessHour(fri); !got.Equal(nextMon9) {
		t.Fatalf("expected Mon 09:00 after Fri 18:00, got %s", got)
	}

	// Early morning on a work day: jumps to the window start.
	if got := cal.NextBusinessHour(mon(5)); !got.Equal(mon(9)) {
		t.Fatalf("expected Mon 09:00 after Mon 05:00, got %s", got)
	}
}

func TestEstimatedCompletion(t *testing.T) {
	cal := Default()

	// 4 hours from Mon 10:00 lands at Mon 14:00.
	if got := cal.EstimatedCompletion(4, mon(10)); !got.Equal(mon(14)) {
		t.Fatalf("expected Mon 14:00, got %s", got)
	}

	// 8 hours from Mon 13:00 crosses into Tuesday: 14,15,16 then Tue 9..13.
	want := time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC)
	if got := cal.EstimatedCompletion(8, mon(13)); !got.Equal(want) {
		t.Fatalf("expected Tue 13:00, got %s", got)
	}
}
