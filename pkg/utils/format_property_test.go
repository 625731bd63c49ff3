package utils

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: a tick-rounded price is always a whole number of ticks and
// never further than half a tick from the input.
func TestProperty_RoundToTick(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("result is on the tick grid and close to the input", prop.ForAll(
		func(price float64) bool {
			rounded := RoundToTick(price, NSETickSize)

			// On the grid: rounded/0.05 is integral (within float noise).
			ticks := rounded / NSETickSize
			if math.Abs(ticks-math.Round(ticks)) > 1e-6 {
				t.Logf("%f rounds to %f which is not a tick multiple", price, rounded)
				return false
			}

			if math.Abs(rounded-price) > NSETickSize/2+1e-9 {
				t.Logf("%f rounds to %f, more than half a tick away", price, rounded)
				return false
			}
			return true
		},
		gen.Float64Range(0.05, 100000),
	))

	properties.Property("zero or negative tick returns the price unchanged", prop.ForAll(
		func(price float64) bool {
			return RoundToTick(price, 0) == price
		},
		gen.Float64Range(0, 1000),
	))

	properties.TestingRun(t)
}

// Property: currency formatting keeps the value and uses the Indian
// grouping scheme.
func TestProperty_IndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("format round-trips through a parse", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatIndianCurrency(amount)

			if amount >= 0 && !strings.HasPrefix(formatted, "₹") {
				return false
			}
			if amount < 0 && !strings.HasPrefix(formatted, "-₹") {
				return false
			}

			numeric := strings.NewReplacer("₹", "", ",", "").Replace(formatted)
			parsed, err := strconv.ParseFloat(numeric, 64)
			if err != nil {
				t.Logf("cannot parse %q back: %v", formatted, err)
				return false
			}
			return math.Abs(parsed-amount) < 0.005+math.Abs(amount)*1e-12
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}

func TestFormatIndianCurrencyGrouping(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "₹0.00"},
		{999, "₹999.00"},
		{1000, "₹1,000.00"},
		{100000, "₹1,00,000.00"},
		{12345678.9, "₹1,23,45,678.90"},
		{-2500.5, "-₹2,500.50"},
	}

	for _, tt := range tests {
		if got := FormatIndianCurrency(tt.in); got != tt.want {
			t.Errorf("FormatIndianCurrency(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
