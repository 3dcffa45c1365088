package quota

import "github.com/dukerupert/docscan/internal/model"

// EventType names a ledger mutation.
type EventType string

const (
	EventAccountCreated EventType = "account_created"
	EventAccountDeleted EventType = "account_deleted"
	EventUsageRecorded  EventType = "usage_recorded"
	EventUsageReset     EventType = "usage_reset"
	EventAllUsageReset  EventType = "all_usage_reset"
	EventTierChanged    EventType = "tier_changed"
	EventRollover       EventType = "rollover"
	EventLedgerRestored EventType = "ledger_restored"
)

// Event describes one ledger mutation. Account is nil for events that touch
// every account, which report Count instead.
type Event struct {
	Type    EventType      `json:"type"`
	Account *model.Account `json:"account,omitempty"`
	Usage   *model.Usage   `json:"usage,omitempty"`
	Count   int            `json:"count,omitempty"`
}

func (l *Ledger) event(t EventType, acct *model.Account) Event {
	a := *acct
	u := l.usageOf(acct)
	return Event{Type: t, Account: &a, Usage: &u}
}
