package quota

import (
	"sync"

	"github.com/dukerupert/docscan/internal/model"
)

// Reservation holds one admitted analysis slot. Exactly one of Commit or
// Release takes effect; later calls are no-ops.
type Reservation struct {
	ledger   *Ledger
	identity string

	once  sync.Once
	usage model.Usage
}

// Identity returns the identity the slot was reserved for.
func (r *Reservation) Identity() string {
	return r.identity
}

// Commit records the analysis and returns the updated usage.
func (r *Reservation) Commit() model.Usage {
	r.once.Do(func() {
		r.usage = r.ledger.finish(r.identity, true)
	})
	return r.usage
}

// Release frees the slot without recording usage.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.usage = r.ledger.finish(r.identity, false)
	})
}
