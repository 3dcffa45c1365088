package model

import "time"

// DateLayout is the calendar-date format used for Account.LastReset.
// ISO dates compare correctly as strings.
const DateLayout = "2006-01-02"

// Account is the quota record for one user identity.
type Account struct {
	Identity  string    `json:"identity"`
	Tier      string    `json:"tier"`
	UsedToday int       `json:"used_today"`
	TotalUsed int       `json:"total_used"`
	LastReset string    `json:"last_reset"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage is the quota view of an account returned to callers.
type Usage struct {
	Tier       string `json:"tier"`
	TierTitle  string `json:"tier_title"`
	UsedToday  int    `json:"used_today"`
	DailyLimit int    `json:"daily_limit"`
	Remaining  int    `json:"remaining"`
	TotalUsed  int    `json:"total_used"`
}
