package markethours

import (
	"testing"
	"time"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"weekday mid-session", ist(2026, time.September, 1, 11, 0), true},
		{"at the open", ist(2026, time.September, 1, 9, 15), true},
		{"just before open", ist(2026, time.September, 1, 9, 14), false},
		{"at the close", ist(2026, time.September, 1, 15, 30), false},
		{"just before close", ist(2026, time.September, 1, 15, 29), true},
		{"saturday", ist(2026, time.September, 5, 11, 0), false},
		{"sunday", ist(2026, time.September, 6, 11, 0), false},
		{"republic day holiday", ist(2026, time.January, 26, 11, 0), false},
		{"christmas holiday", ist(2026, time.December, 25, 11, 0), false},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.t); got != tc.want {
			t.Errorf("%s: IsMarketOpen=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsMarketOpenConvertsZones(t *testing.T) {
	// 05:30 UTC is 11:00 IST, inside the session.
	utc := time.Date(2026, time.September, 1, 5, 30, 0, 0, time.UTC)
	if !IsMarketOpen(utc) {
		t.Error("UTC timestamp inside the IST session should be open")
	}
}

func TestTradingDate(t *testing.T) {
	// 20:00 UTC on the 1st is already the 2nd in IST.
	utc := time.Date(2026, time.September, 1, 20, 0, 0, 0, time.UTC)
	if got := TradingDate(utc); got != "2026-09-02" {
		t.Errorf("TradingDate=%s, want 2026-09-02", got)
	}
	if got := TradingDate(ist(2026, time.September, 1, 23, 59)); got != "2026-09-01" {
		t.Errorf("TradingDate=%s, want 2026-09-01", got)
	}
}

func TestSameTradingDay(t *testing.T) {
	a := ist(2026, time.September, 1, 9, 15)
	b := ist(2026, time.September, 1, 15, 29)
	if !SameTradingDay(a, b) {
		t.Error("same IST date should match")
	}
	if SameTradingDay(a, a.Add(24*time.Hour)) {
		t.Error("next day should not match")
	}
}

func TestNextOpen(t *testing.T) {
	// Before the open on a trading day: today's open.
	got := NextOpen(ist(2026, time.September, 1, 8, 0))
	if want := ist(2026, time.September, 1, 9, 15); !got.Equal(want) {
		t.Errorf("NextOpen=%v, want %v", got, want)
	}

	// Friday afternoon rolls to Monday.
	got = NextOpen(ist(2026, time.September, 4, 16, 0))
	if want := ist(2026, time.September, 7, 9, 15); !got.Equal(want) {
		t.Errorf("NextOpen from Friday=%v, want Monday %v", got, want)
	}
}

func TestHolidayLookup(t *testing.T) {
	if !IsHoliday(ist(2026, time.January, 26, 12, 0)) {
		t.Error("2026-01-26 is Republic Day")
	}
	if IsHoliday(ist(2026, time.September, 1, 12, 0)) {
		t.Error("2026-09-01 is a regular trading day")
	}
}
