package money

// TaxTreatment selects how a base amount relates to tax.
type TaxTreatment string

const (
	TaxNone     TaxTreatment = "NONE"
	TaxIncluded TaxTreatment = "INCLUDED"
	TaxOnTop    TaxTreatment = "ON_TOP"
)

// Split is the result of a tax calculation: net + tax == gross, always,
// after rounding.
type Split struct {
	Net   Cents
	Tax   Cents
	Gross Cents
}

// SplitTax computes (net, tax, gross) for a base amount given a treatment
// and a tax rate expressed as a percent (e.g. 15 for 15%).
//
// NONE:     net = gross = base, tax = 0.
// ON_TOP:   net = base, tax = base * rate/100, gross = net + tax.
// INCLUDED: gross = base, net = base / (1 + rate/100), tax = gross - net.
//
// net+tax==gross holds exactly over the rounded values by construction:
// ON_TOP derives gross from the rounded tax, INCLUDED derives tax as
// gross minus the rounded net.
func SplitTax(base Cents, treatment TaxTreatment, ratePercent float64) Split {
	switch treatment {
	case TaxOnTop:
		net := base
		tax := FromCents(base).MulPercent(ratePercent).Round()
		gross := net + tax
		return Split{Net: net, Tax: tax, Gross: gross}
	case TaxIncluded:
		gross := base
		net := FromCents(gross).DivByPercentPlusOne(ratePercent).Round()
		tax := gross - net
		return Split{Net: net, Tax: tax, Gross: gross}
	default:
		return Split{Net: base, Tax: 0, Gross: base}
	}
}
