package model

import "math"

// Unlimited is the daily limit given to tiers without a practical cap.
const Unlimited = math.MaxInt32

// Tier is a subscription level.
type Tier struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	DailyLimit int    `json:"daily_limit"`
	Price      int    `json:"price"`
	AIAccess   bool   `json:"ai_access"`
}

// IsUnlimited reports whether the tier uses the Unlimited sentinel.
func (t Tier) IsUnlimited() bool {
	return t.DailyLimit >= Unlimited
}
