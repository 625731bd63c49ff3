// Package resilience provides market-hours awareness for workers and
// order placement.
package resilience

import (
	"fmt"
	"time"

	"swing-trader/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketHoursManager provides market hours awareness.
type MarketHoursManager struct {
	holidays map[string]bool // Date string -> is holiday
}

// NewMarketHoursManager creates a new market hours manager.
func NewMarketHoursManager() *MarketHoursManager {
	return &MarketHoursManager{
		holidays: make(map[string]bool),
	}
}

// AddHoliday adds a market holiday.
func (m *MarketHoursManager) AddHoliday(date time.Time) {
	key := date.Format("2006-01-02")
	m.holidays[key] = true
}

// IsHoliday checks if a date is a market holiday.
func (m *MarketHoursManager) IsHoliday(date time.Time) bool {
	key := date.In(IndiaLocation).Format("2006-01-02")
	return m.holidays[key]
}

// IsTradingDay returns true if the exchange trades on the given date.
func (m *MarketHoursManager) IsTradingDay(date time.Time) bool {
	d := date.In(IndiaLocation)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !m.IsHoliday(d)
}

// GetMarketStatus returns the current market status.
func (m *MarketHoursManager) GetMarketStatus() models.MarketStatus {
	return m.GetMarketStatusAt(time.Now())
}

// GetMarketStatusAt returns the market status at a specific time.
func (m *MarketHoursManager) GetMarketStatusAt(t time.Time) models.MarketStatus {
	t = t.In(IndiaLocation)

	if !m.IsTradingDay(t) {
		return models.MarketClosed
	}

	timeMinutes := t.Hour()*60 + t.Minute()

	// Pre-open session: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return models.MarketPreOpen
	}

	// Normal trading: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return models.MarketOpen
	}

	return models.MarketClosed
}

// IsMarketOpen returns true if the market is currently open for trading.
func (m *MarketHoursManager) IsMarketOpen() bool {
	return m.GetMarketStatus() == models.MarketOpen
}

// IsMarketOpenAt returns true if the market is open at the given time.
func (m *MarketHoursManager) IsMarketOpenAt(t time.Time) bool {
	return m.GetMarketStatusAt(t) == models.MarketOpen
}

// CanPlaceOrder checks if orders can be placed and returns a message if not.
func (m *MarketHoursManager) CanPlaceOrder() (bool, string) {
	switch m.GetMarketStatus() {
	case models.MarketClosed:
		return false, fmt.Sprintf("Market is closed. Next open: %s",
			m.GetNextMarketOpen().Format("Mon 02-Jan 15:04"))
	case models.MarketPreOpen:
		return false, "Pre-open session: order placement resumes at 9:15 AM."
	}
	return true, ""
}

// GetNextMarketOpen returns the next market opening time.
func (m *MarketHoursManager) GetNextMarketOpen() time.Time {
	return m.NextMarketOpenAfter(time.Now())
}

// NextMarketOpenAfter returns the first market open at or after t.
func (m *MarketHoursManager) NextMarketOpenAfter(t time.Time) time.Time {
	t = t.In(IndiaLocation)

	next := time.Date(t.Year(), t.Month(), t.Day(), 9, 15, 0, 0, IndiaLocation)
	if t.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	for !m.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

// MarketCloseOn returns the market close time on the given date.
func (m *MarketHoursManager) MarketCloseOn(date time.Time) time.Time {
	d := date.In(IndiaLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, IndiaLocation)
}

// TimeUntilMarketClose returns the duration until today's market close.
func (m *MarketHoursManager) TimeUntilMarketClose() time.Duration {
	return time.Until(m.MarketCloseOn(time.Now()))
}

// InitializeHolidays adds known NSE holidays for the given year.
func InitializeHolidays(manager *MarketHoursManager, year int) {
	holidays2025 := []string{
		"2025-01-26", // Republic Day
		"2025-02-26", // Maha Shivaratri
		"2025-03-14", // Holi
		"2025-03-31", // Id-Ul-Fitr
		"2025-04-10", // Mahavir Jayanti
		"2025-04-14", // Dr. Ambedkar Jayanti
		"2025-04-18", // Good Friday
		"2025-05-01", // Maharashtra Day
		"2025-05-12", // Buddha Purnima
		"2025-06-07", // Bakri Id
		"2025-08-15", // Independence Day
		"2025-08-27", // Janmashtami
		"2025-10-02", // Mahatma Gandhi Jayanti
		"2025-10-21", // Diwali Laxmi Pujan
		"2025-11-05", // Guru Nanak Jayanti
		"2025-12-25", // Christmas
	}

	holidays2026 := []string{
		"2026-01-26", // Republic Day
		"2026-02-15", // Maha Shivaratri
		"2026-03-03", // Holi
		"2026-03-21", // Id-Ul-Fitr
		"2026-03-31", // Mahavir Jayanti
		"2026-04-03", // Good Friday
		"2026-04-14", // Dr. Ambedkar Jayanti
		"2026-05-01", // Maharashtra Day
		"2026-08-15", // Independence Day
		"2026-09-04", // Janmashtami
		"2026-10-02", // Mahatma Gandhi Jayanti
		"2026-11-10", // Diwali Laxmi Pujan
		"2026-11-24", // Guru Nanak Jayanti
		"2026-12-25", // Christmas
	}

	var holidays []string
	switch year {
	case 2025:
		holidays = holidays2025
	case 2026:
		holidays = holidays2026
	default:
		return
	}

	for _, dateStr := range holidays {
		date, err := time.Parse("2006-01-02", dateStr)
		if err == nil {
			manager.AddHoliday(date)
		}
	}
}
