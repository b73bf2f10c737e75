package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ShippingMethod selects the delivery speed chosen at checkout.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
	ShippingSameDay  ShippingMethod = "same-day"
)

// ParseShippingMethod validates the method name.
func ParseShippingMethod(value string) (ShippingMethod, error) {
	method := ShippingMethod(strings.ToLower(strings.TrimSpace(value)))
	switch method {
	case ShippingStandard, ShippingExpress, ShippingSameDay:
		return method, nil
	case "":
		return ShippingStandard, nil
	case "sameday", "same_day":
		return ShippingSameDay, nil
	}
	return "", fmt.Errorf("unknown shipping method %q", value)
}

// ShippingRates is the flat per-method checkout table.
type ShippingRates map[ShippingMethod]int64

// DefaultShippingRates charges nothing for standard delivery.
var DefaultShippingRates = ShippingRates{
	ShippingStandard: 0,
	ShippingExpress:  100,
	ShippingSameDay:  200,
}

// Cost returns the charge for the method.
func (r ShippingRates) Cost(method ShippingMethod) (int64, bool) {
	cost, ok := r[method]
	return cost, ok
}

// WeightTier is one bracket of the storefront delivery-charge schedule.
type WeightTier struct {
	// UpToGrams is inclusive. Zero means unbounded.
	UpToGrams int64
	Charge    int64
}

// DefaultWeightTiers is the storefront display schedule. It is independent of ShippingRates.
var DefaultWeightTiers = []WeightTier{
	{UpToGrams: 1000, Charge: 50},
	{UpToGrams: 5000, Charge: 100},
	{UpToGrams: 10000, Charge: 150},
	{UpToGrams: 0, Charge: 250},
}

// WeightTierCharge returns the delivery charge for a parcel weight.
func WeightTierCharge(tiers []WeightTier, grams int64) int64 {
	if len(tiers) == 0 {
		return 0
	}
	sorted := append([]WeightTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].UpToGrams, sorted[j].UpToGrams
		if a == 0 {
			return false
		}
		if b == 0 {
			return true
		}
		return a < b
	})
	for _, tier := range sorted {
		if tier.UpToGrams == 0 || grams <= tier.UpToGrams {
			return tier.Charge
		}
	}
	return sorted[len(sorted)-1].Charge
}
