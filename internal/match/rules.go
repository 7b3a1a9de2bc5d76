package match

import (
	"github.com/shopspring/decimal"

	"savingbee-alerts/internal/storage"
)

// kindRules parameterises the scan for one product family, so deposits
// and savings share a single matching path.
type kindRules struct {
	kind      storage.ProductKind
	enabled   func(storage.AlertSetting) bool
	optionOK  func(storage.RateOption, storage.AlertSetting) bool
	productOK func(storage.Product, storage.AlertSetting) bool
}

func depositRules() kindRules {
	return kindRules{
		kind:    storage.KindDeposit,
		enabled: func(s storage.AlertSetting) bool { return s.WantDeposit },
		optionOK: func(_ storage.RateOption, _ storage.AlertSetting) bool {
			return true
		},
		productOK: amountRangesOverlap,
	}
}

func savingsRules() kindRules {
	return kindRules{
		kind:    storage.KindSavings,
		enabled: func(s storage.AlertSetting) bool { return s.WantSavings },
		optionOK: func(opt storage.RateOption, s storage.AlertSetting) bool {
			// Style filter applies only when the setting pins exactly one style.
			if len(s.Styles) != 1 {
				return true
			}
			return opt.Style == s.Styles[0]
		},
		productOK: func(_ storage.Product, _ storage.AlertSetting) bool {
			return true
		},
	}
}

// amountRangesOverlap reports whether the setting's [min,max] amount range
// intersects the product's, with open-ended bounds treated as infinite.
// Both intervals are inclusive.
func amountRangesOverlap(p storage.Product, s storage.AlertSetting) bool {
	if s.MinAmount == nil && s.MaxAmount == nil {
		return true
	}
	if s.MinAmount != nil && p.MaxAmount != nil && *s.MinAmount > *p.MaxAmount {
		return false
	}
	if s.MaxAmount != nil && p.MinAmount != nil && *s.MaxAmount < *p.MinAmount {
		return false
	}
	return true
}

// restrictedMethod returns the single interest method a setting pins, if any.
// An empty selection or both methods means no restriction.
func restrictedMethod(s storage.AlertSetting) (storage.InterestMethod, bool) {
	distinct := make(map[storage.InterestMethod]struct{}, len(s.Methods))
	for _, m := range s.Methods {
		distinct[m] = struct{}{}
	}
	if len(distinct) != 1 {
		return "", false
	}
	return s.Methods[0], true
}

// bestRateRow selects the top rate option for the setting's term: highest
// preferential rate first, ties broken by highest base rate.
func bestRateRow(p storage.Product, s storage.AlertSetting, rules kindRules) (storage.RateOption, bool) {
	method, methodPinned := restrictedMethod(s)

	var best storage.RateOption
	found := false
	for _, opt := range p.Options {
		if opt.TermMonths != s.TermMonths {
			continue
		}
		if methodPinned && opt.Method != method {
			continue
		}
		if !rules.optionOK(opt, s) {
			continue
		}
		if !found || betterRate(opt, best) {
			best = opt
			found = true
		}
	}
	return best, found
}

func betterRate(a, b storage.RateOption) bool {
	prefA := prefOrZero(a)
	prefB := prefOrZero(b)
	if cmp := prefA.Cmp(prefB); cmp != 0 {
		return cmp > 0
	}
	return a.BaseRate.Cmp(b.BaseRate) > 0
}

func prefOrZero(opt storage.RateOption) decimal.Decimal {
	if opt.PrefRate != nil {
		return *opt.PrefRate
	}
	return decimal.Zero
}

// comparisonRate is the row's preferential rate if present, else its base rate.
func comparisonRate(opt storage.RateOption) decimal.Decimal {
	if opt.PrefRate != nil {
		return *opt.PrefRate
	}
	return opt.BaseRate
}
