package enums

import "fmt"

// PromotionKind describes how a promotion adjusts a payment.
type PromotionKind string

const (
	PromotionKindPercentage  PromotionKind = "PERCENTAGE"
	PromotionKindFixedAmount PromotionKind = "FIXED_AMOUNT"
	PromotionKindExtraDays   PromotionKind = "EXTRA_DAYS"
)

// IsValid reports whether the promotion kind is known.
func (k PromotionKind) IsValid() bool {
	switch k {
	case PromotionKindPercentage, PromotionKindFixedAmount, PromotionKindExtraDays:
		return true
	}
	return false
}

// ParsePromotionKind converts raw input into PromotionKind.
func ParsePromotionKind(value string) (PromotionKind, error) {
	k := PromotionKind(value)
	if !k.IsValid() {
		return "", fmt.Errorf("invalid promotion kind %q", value)
	}
	return k, nil
}
