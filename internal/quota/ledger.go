// Package quota tracks per-identity daily usage against subscription tiers.
//
// The Ledger is the only shared mutable state in the service. Every read
// and mutation goes through its mutex, and every mutation is written to the
// AccountStore as a whole-map snapshot. Daily counters roll over lazily: an
// account whose last reset date is before today is zeroed the next time it
// is read.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/docscan/internal/metrics"
	"github.com/dukerupert/docscan/internal/model"
)

const saveTimeout = 5 * time.Second

var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrInvalidTier   = errors.New("invalid tier")
	ErrAccountExists = errors.New("account already exists")
)

// QuotaExceededError is returned when an identity has no analyses left today.
type QuotaExceededError struct {
	Usage model.Usage
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: %d/%d used", e.Usage.UsedToday, e.Usage.DailyLimit)
}

// AccountStore persists the identity-to-account map.
type AccountStore interface {
	Load(ctx context.Context) (map[string]model.Account, error)
	Save(ctx context.Context, accounts map[string]model.Account) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for day rollover.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithNotifier registers a callback that receives every ledger event.
// It is called outside the ledger lock.
func WithNotifier(fn func(Event)) Option {
	return func(l *Ledger) { l.notify = fn }
}

// Ledger gates and accounts for analysis requests.
type Ledger struct {
	mu       sync.Mutex
	tiers    *TierSet
	accounts map[string]*model.Account
	inflight map[string]int
	store    AccountStore

	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
	notify func(Event)
}

// New loads accounts from store and returns a ready Ledger.
func New(ctx context.Context, store AccountStore, tiers *TierSet, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		tiers:    tiers,
		accounts: make(map[string]*model.Account),
		inflight: make(map[string]int),
		store:    store,
		now:      time.Now,
		loc:      time.Local,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	for id, a := range loaded {
		a.Identity = id
		acct := a
		l.accounts[id] = &acct
	}
	return l, nil
}

// Tiers returns the configured tiers in order.
func (l *Ledger) Tiers() []model.Tier {
	return l.tiers.All()
}

// TierSet returns the tier lookup table.
func (l *Ledger) TierSet() *TierSet {
	return l.tiers
}

// Resolve returns the account for identity, creating it on first reference
// and applying the day rollover.
func (l *Ledger) Resolve(identity string) model.Account {
	l.mu.Lock()
	acct, events := l.resolveLocked(identity)
	out := *acct
	l.mu.Unlock()

	l.publish(events...)
	return out
}

// Get returns the account for identity without creating it.
func (l *Ledger) Get(identity string) (model.Account, bool) {
	l.mu.Lock()
	if _, ok := l.accounts[identity]; !ok {
		l.mu.Unlock()
		return model.Account{}, false
	}
	acct, events := l.resolveLocked(identity)
	out := *acct
	l.mu.Unlock()

	l.publish(events...)
	return out, true
}

// CanAdmit reports whether identity may start another analysis today.
func (l *Ledger) CanAdmit(identity string) bool {
	l.mu.Lock()
	acct, events := l.resolveLocked(identity)
	ok := l.admitsLocked(acct)
	l.mu.Unlock()

	l.publish(events...)
	return ok
}

// Usage returns the quota view of identity's account.
func (l *Ledger) Usage(identity string) model.Usage {
	l.mu.Lock()
	acct, events := l.resolveLocked(identity)
	u := l.usageOf(acct)
	l.mu.Unlock()

	l.publish(events...)
	return u
}

// Record counts one completed analysis for identity.
func (l *Ledger) Record(identity string) model.Usage {
	l.mu.Lock()
	acct, events := l.resolveLocked(identity)
	acct.UsedToday++
	acct.TotalUsed++
	l.persistLocked()
	u := l.usageOf(acct)
	events = append(events, l.event(EventUsageRecorded, acct))
	l.mu.Unlock()

	l.publish(events...)
	return u
}

// Reserve admits one analysis for identity and holds its slot until the
// reservation is committed or released. Concurrent reservations for the same
// identity count against the limit, so the analysis path can never push
// used_today past the daily limit.
func (l *Ledger) Reserve(identity string) (*Reservation, error) {
	l.mu.Lock()
	acct, events := l.resolveLocked(identity)
	if !l.admitsLocked(acct) {
		u := l.usageOf(acct)
		l.mu.Unlock()
		l.publish(events...)
		return nil, &QuotaExceededError{Usage: u}
	}
	l.inflight[identity]++
	l.mu.Unlock()

	l.publish(events...)
	return &Reservation{ledger: l, identity: identity}, nil
}

// SetTier assigns tier to an existing account and starts a fresh daily
// window. Lifetime usage is untouched.
func (l *Ledger) SetTier(identity, tier string) (model.Account, error) {
	l.mu.Lock()
	if _, ok := l.accounts[identity]; !ok {
		l.mu.Unlock()
		return model.Account{}, ErrUnknownUser
	}
	if _, ok := l.tiers.Get(tier); !ok {
		l.mu.Unlock()
		return model.Account{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	acct, events := l.resolveLocked(identity)
	acct.Tier = tier
	acct.UsedToday = 0
	l.persistLocked()
	out := *acct
	events = append(events, l.event(EventTierChanged, acct))
	l.mu.Unlock()

	l.publish(events...)
	return out, nil
}

// CreateAccount registers identity with the default tier. An empty identity
// is replaced by a generated one.
func (l *Ledger) CreateAccount(identity string) (model.Account, error) {
	if identity == "" {
		identity = uuid.NewString()
	}

	l.mu.Lock()
	if _, ok := l.accounts[identity]; ok {
		l.mu.Unlock()
		return model.Account{}, ErrAccountExists
	}
	acct := l.newAccount(identity)
	l.accounts[identity] = acct
	l.persistLocked()
	out := *acct
	ev := l.event(EventAccountCreated, acct)
	l.mu.Unlock()

	l.publish(ev)
	return out, nil
}

// ResetUsage zeroes today's counter for identity.
func (l *Ledger) ResetUsage(identity string) (model.Account, error) {
	l.mu.Lock()
	acct, ok := l.accounts[identity]
	if !ok {
		l.mu.Unlock()
		return model.Account{}, ErrUnknownUser
	}
	acct.UsedToday = 0
	acct.LastReset = l.today()
	l.persistLocked()
	out := *acct
	ev := l.event(EventUsageReset, acct)
	l.mu.Unlock()

	l.publish(ev)
	return out, nil
}

// ResetAllUsage zeroes today's counter for every account and returns how
// many accounts were touched.
func (l *Ledger) ResetAllUsage() int {
	l.mu.Lock()
	today := l.today()
	for _, acct := range l.accounts {
		acct.UsedToday = 0
		acct.LastReset = today
	}
	n := len(l.accounts)
	l.persistLocked()
	l.mu.Unlock()

	l.publish(Event{Type: EventAllUsageReset, Count: n})
	return n
}

// DeleteAccount removes identity from the ledger.
func (l *Ledger) DeleteAccount(identity string) error {
	l.mu.Lock()
	acct, ok := l.accounts[identity]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownUser
	}
	delete(l.accounts, identity)
	l.persistLocked()
	ev := l.event(EventAccountDeleted, acct)
	l.mu.Unlock()

	l.publish(ev)
	return nil
}

// Accounts returns every account, rollover applied, sorted by identity.
func (l *Ledger) Accounts() []model.Account {
	l.mu.Lock()
	var events []Event
	changed := false
	today := l.today()
	out := make([]model.Account, 0, len(l.accounts))
	for _, acct := range l.accounts {
		if stale(acct.LastReset, today) {
			acct.UsedToday = 0
			acct.LastReset = today
			changed = true
			events = append(events, l.event(EventRollover, acct))
		}
		out = append(out, *acct)
	}
	if changed {
		l.persistLocked()
	}
	l.mu.Unlock()

	l.publish(events...)
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Snapshot returns a copy of the stored accounts.
func (l *Ledger) Snapshot() map[string]model.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyLocked()
}

// Replace swaps the whole account map, as when restoring a snapshot.
// Reservations in flight are kept.
func (l *Ledger) Replace(accounts map[string]model.Account) {
	l.mu.Lock()
	l.accounts = make(map[string]*model.Account, len(accounts))
	for id, a := range accounts {
		a.Identity = id
		acct := a
		l.accounts[id] = &acct
	}
	l.persistLocked()
	n := len(l.accounts)
	l.mu.Unlock()

	l.publish(Event{Type: EventLedgerRestored, Count: n})
}

// UsageOf returns the quota view of acct under the current tier table.
func (l *Ledger) UsageOf(acct model.Account) model.Usage {
	return l.usageOf(&acct)
}

func (l *Ledger) finish(identity string, record bool) model.Usage {
	l.mu.Lock()
	if n := l.inflight[identity]; n <= 1 {
		delete(l.inflight, identity)
	} else {
		l.inflight[identity] = n - 1
	}
	acct, events := l.resolveLocked(identity)
	if record {
		acct.UsedToday++
		acct.TotalUsed++
		l.persistLocked()
		events = append(events, l.event(EventUsageRecorded, acct))
	}
	u := l.usageOf(acct)
	l.mu.Unlock()

	l.publish(events...)
	return u
}

func (l *Ledger) resolveLocked(identity string) (*model.Account, []Event) {
	acct, ok := l.accounts[identity]
	if !ok {
		acct = l.newAccount(identity)
		l.accounts[identity] = acct
		l.persistLocked()
		return acct, []Event{l.event(EventAccountCreated, acct)}
	}

	if today := l.today(); stale(acct.LastReset, today) {
		acct.UsedToday = 0
		acct.LastReset = today
		l.persistLocked()
		return acct, []Event{l.event(EventRollover, acct)}
	}
	return acct, nil
}

func (l *Ledger) admitsLocked(acct *model.Account) bool {
	tier := l.tiers.resolve(acct.Tier)
	return acct.UsedToday+l.inflight[acct.Identity] < tier.DailyLimit
}

func (l *Ledger) usageOf(acct *model.Account) model.Usage {
	tier := l.tiers.resolve(acct.Tier)
	return model.Usage{
		Tier:       tier.Name,
		TierTitle:  tier.Title,
		UsedToday:  acct.UsedToday,
		DailyLimit: tier.DailyLimit,
		Remaining:  max(tier.DailyLimit-acct.UsedToday, 0),
		TotalUsed:  acct.TotalUsed,
	}
}

func (l *Ledger) newAccount(identity string) *model.Account {
	return &model.Account{
		Identity:  identity,
		Tier:      l.tiers.Default().Name,
		LastReset: l.today(),
		CreatedAt: l.now().UTC(),
	}
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(model.DateLayout)
}

// stale reports whether lastReset is before today. Dates that do not parse
// count as stale.
func stale(lastReset, today string) bool {
	if _, err := time.Parse(model.DateLayout, lastReset); err != nil {
		return true
	}
	return lastReset < today
}

func (l *Ledger) copyLocked() map[string]model.Account {
	out := make(map[string]model.Account, len(l.accounts))
	for id, acct := range l.accounts {
		out[id] = *acct
	}
	return out
}

// persistLocked writes the whole map. Failures are logged and counted; the
// in-memory state stays authoritative.
func (l *Ledger) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := l.store.Save(ctx, l.copyLocked()); err != nil {
		metrics.LedgerPersistFailures.Inc()
		l.logger.Error("persist accounts", "error", err, "accounts", len(l.accounts))
	}
}

func (l *Ledger) publish(events ...Event) {
	if l.notify == nil {
		return
	}
	for _, ev := range events {
		l.notify(ev)
	}
}
