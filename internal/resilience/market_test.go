package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"swing-trader/internal/models"
)

func ist(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, IndiaLocation)
}

func TestGetMarketStatusAt(t *testing.T) {
	m := NewMarketHoursManager()
	InitializeHolidays(m, 2026)

	tests := []struct {
		name string
		at   time.Time
		want models.MarketStatus
	}{
		{"before pre-open", ist(2026, 6, 2, 8, 59), models.MarketClosed},
		{"pre-open start", ist(2026, 6, 2, 9, 0), models.MarketPreOpen},
		{"last pre-open minute", ist(2026, 6, 2, 9, 14), models.MarketPreOpen},
		{"open bell", ist(2026, 6, 2, 9, 15), models.MarketOpen},
		{"midday", ist(2026, 6, 2, 12, 30), models.MarketOpen},
		{"last trading minute", ist(2026, 6, 2, 15, 29), models.MarketOpen},
		{"close bell", ist(2026, 6, 2, 15, 30), models.MarketClosed},
		{"saturday", ist(2026, 6, 6, 12, 0), models.MarketClosed},
		{"sunday", ist(2026, 6, 7, 12, 0), models.MarketClosed},
		{"independence day", ist(2026, 8, 14, 12, 0), models.MarketOpen},
		{"gandhi jayanti holiday", ist(2026, 10, 2, 12, 0), models.MarketClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.GetMarketStatusAt(tt.at))
		})
	}
}

func TestNextMarketOpenAfter(t *testing.T) {
	m := NewMarketHoursManager()
	InitializeHolidays(m, 2026)

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"evening rolls to next morning", ist(2026, 6, 2, 18, 0), ist(2026, 6, 3, 9, 15)},
		{"early morning opens same day", ist(2026, 6, 2, 7, 0), ist(2026, 6, 2, 9, 15)},
		{"friday evening skips the weekend", ist(2026, 6, 5, 18, 0), ist(2026, 6, 8, 9, 15)},
		{"holiday eve skips the holiday", ist(2026, 10, 1, 18, 0), ist(2026, 10, 5, 9, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.NextMarketOpenAfter(tt.at)
			assert.True(t, got.Equal(tt.want), "want %s, got %s", tt.want, got)
		})
	}
}

func TestIsTradingDay(t *testing.T) {
	m := NewMarketHoursManager()
	m.AddHoliday(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, m.IsTradingDay(ist(2026, 6, 30, 12, 0)))
	assert.False(t, m.IsTradingDay(ist(2026, 7, 1, 12, 0)))
	assert.False(t, m.IsTradingDay(ist(2026, 7, 4, 12, 0)))
}
