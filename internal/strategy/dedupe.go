// Package strategy holds the engine's per-trade bookkeeping: the intent
// dedupe that suppresses duplicate order sends, and the position ledger.
package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// IntentKind labels the three order intents the engine can emit.
type IntentKind int

const (
	IntentBuy IntentKind = iota
	IntentSellTP
	IntentSellSL
)

func (k IntentKind) String() string {
	switch k {
	case IntentBuy:
		return "buy"
	case IntentSellTP:
		return "sell_tp"
	case IntentSellSL:
		return "sell_sl"
	default:
		return "unknown"
	}
}

// intentKey is (kind, size). For sells the size participates so that a
// smaller remainder after a partial fill counts as a new intent; for buys
// size is empty (only one buy intent at a time).
type intentKey struct {
	kind IntentKind
	size string
}

func makeKey(kind IntentKind, size *decimal.Decimal) intentKey {
	k := intentKey{kind: kind}
	if size != nil {
		k.size = size.String()
	}
	return k
}

// Dedupe suppresses identical intents inside a TTL window.
type Dedupe struct {
	mu       sync.Mutex
	ttl      time.Duration
	lastSent map[intentKey]time.Time
}

// NewDedupe creates a dedupe with the given TTL.
func NewDedupe(ttl time.Duration) *Dedupe {
	return &Dedupe{
		ttl:      ttl,
		lastSent: make(map[intentKey]time.Time),
	}
}

// CanSend reports whether the intent may be sent: no prior record, or the
// prior record is at least one TTL old.
func (d *Dedupe) CanSend(kind IntentKind, size *decimal.Decimal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts, ok := d.lastSent[makeKey(kind, size)]
	if !ok {
		return true
	}
	return time.Since(ts) >= d.ttl
}

// Record marks the intent as sent now.
func (d *Dedupe) Record(kind IntentKind, size *decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSent[makeKey(kind, size)] = time.Now()
}

// Cleanup evicts entries older than ten TTLs. Run periodically.
func (d *Dedupe) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.ttl * 10
	for k, ts := range d.lastSent {
		if time.Since(ts) >= cutoff {
			delete(d.lastSent, k)
		}
	}
}
