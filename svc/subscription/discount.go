package subscription

import (
	"github.com/shopspring/decimal"
)

const (
	DiscountStepPercent = 10
	MaxDiscountPercent  = 50
)

// DiscountForOrdinal returns the sibling discount for the n-th subscription of
// one family: the first pays full price and each further one gets another
// DiscountStepPercent off, up to MaxDiscountPercent.
func DiscountForOrdinal(ordinal int) int {
	if ordinal <= 1 {
		return 0
	}
	return min((ordinal-1)*DiscountStepPercent, MaxDiscountPercent)
}

// Price is a discounted price in minor units.
type Price struct {
	Base     int64
	Discount int64
	Final    int64
	Percent  int
}

// ApplyDiscount takes percent off base, rounding the discount half away from zero.
func ApplyDiscount(base int64, percent int) Price {
	percent = max(0, min(percent, 100))
	discount := decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()

	return Price{
		Base:     base,
		Discount: discount,
		Final:    base - discount,
		Percent:  percent,
	}
}
