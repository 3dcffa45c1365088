package quota

import (
	"fmt"

	"github.com/dukerupert/docscan/internal/model"
)

// TierSet is the configured, ordered table of subscription tiers.
type TierSet struct {
	version  string
	ordered  []model.Tier
	byName   map[string]model.Tier
	fallback string
}

// NewTierSet validates tiers and returns a lookup table. defaultTier is
// assigned to newly created accounts.
func NewTierSet(version string, tiers []model.Tier, defaultTier string) (*TierSet, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no tiers configured")
	}
	ts := &TierSet{
		version:  version,
		byName:   make(map[string]model.Tier, len(tiers)),
		fallback: defaultTier,
	}
	for _, t := range tiers {
		if t.Name == "" {
			return nil, fmt.Errorf("tier with empty name")
		}
		if t.DailyLimit <= 0 {
			return nil, fmt.Errorf("tier %q: daily limit must be positive", t.Name)
		}
		if _, dup := ts.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", t.Name)
		}
		ts.byName[t.Name] = t
		ts.ordered = append(ts.ordered, t)
	}
	if _, ok := ts.byName[defaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q is not configured", defaultTier)
	}
	return ts, nil
}

// Get returns the tier with the given name.
func (ts *TierSet) Get(name string) (model.Tier, bool) {
	t, ok := ts.byName[name]
	return t, ok
}

// Default returns the tier assigned to new accounts.
func (ts *TierSet) Default() model.Tier {
	return ts.byName[ts.fallback]
}

// Version identifies the tier table revision.
func (ts *TierSet) Version() string {
	return ts.version
}

// All returns the tiers in configured order.
func (ts *TierSet) All() []model.Tier {
	out := make([]model.Tier, len(ts.ordered))
	copy(out, ts.ordered)
	return out
}

// resolve maps an account's tier name to its tier, treating tiers removed
// from configuration as the default tier.
func (ts *TierSet) resolve(name string) model.Tier {
	if t, ok := ts.byName[name]; ok {
		return t
	}
	return ts.Default()
}
