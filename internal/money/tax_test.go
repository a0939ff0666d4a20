package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTaxNone(t *testing.T) {
	s := SplitTax(Cents(10000), TaxNone, 15)
	assert.Equal(t, Cents(10000), s.Net)
	assert.Equal(t, Cents(0), s.Tax)
	assert.Equal(t, Cents(10000), s.Gross)
}

func TestSplitTaxOnTop(t *testing.T) {
	s := SplitTax(Cents(10000), TaxOnTop, 15)
	assert.Equal(t, Cents(10000), s.Net)
	assert.Equal(t, Cents(1500), s.Tax)
	assert.Equal(t, Cents(11500), s.Gross)
	assert.Equal(t, s.Net+s.Tax, s.Gross)
}

func TestSplitTaxIncluded(t *testing.T) {
	s := SplitTax(Cents(11500), TaxIncluded, 15)
	assert.Equal(t, Cents(11500), s.Gross)
	assert.Equal(t, Cents(10000), s.Net)
	assert.Equal(t, Cents(1500), s.Tax)
	assert.Equal(t, s.Net+s.Tax, s.Gross)
}

func TestSplitTaxAlwaysBalances(t *testing.T) {
	bases := []Cents{1, 7, 99, 1000, 33333, 999999}
	rates := []float64{0, 5, 7.5, 14, 15, 20}
	for _, base := range bases {
		for _, rate := range rates {
			onTop := SplitTax(base, TaxOnTop, rate)
			assert.Equal(t, onTop.Gross, onTop.Net+onTop.Tax, "on-top base=%d rate=%v", base, rate)

			included := SplitTax(base, TaxIncluded, rate)
			assert.Equal(t, included.Gross, included.Net+included.Tax, "included base=%d rate=%v", base, rate)
		}
	}
}
