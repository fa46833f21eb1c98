package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func size(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCanSendFreshIntent(t *testing.T) {
	t.Parallel()
	d := NewDedupe(50 * time.Millisecond)

	if !d.CanSend(IntentBuy, nil) {
		t.Error("fresh buy intent should be sendable")
	}
}

func TestRecordSuppressesUntilTTL(t *testing.T) {
	t.Parallel()
	d := NewDedupe(30 * time.Millisecond)

	d.Record(IntentSellSL, size("5"))
	if d.CanSend(IntentSellSL, size("5")) {
		t.Error("identical intent sendable immediately after record")
	}

	time.Sleep(40 * time.Millisecond)
	if !d.CanSend(IntentSellSL, size("5")) {
		t.Error("intent still suppressed after TTL elapsed")
	}
}

func TestSellSizeIsPartOfKey(t *testing.T) {
	t.Parallel()
	d := NewDedupe(time.Minute)

	d.Record(IntentSellTP, size("5"))
	// A smaller remainder after a partial fill is a new intent.
	if !d.CanSend(IntentSellTP, size("2")) {
		t.Error("different size should not be suppressed")
	}
	if d.CanSend(IntentSellTP, size("5")) {
		t.Error("same size should be suppressed")
	}
}

func TestBuyIgnoresSize(t *testing.T) {
	t.Parallel()
	d := NewDedupe(time.Minute)

	d.Record(IntentBuy, nil)
	if d.CanSend(IntentBuy, nil) {
		t.Error("buy intent should be suppressed")
	}
}

func TestKindsAreIndependent(t *testing.T) {
	t.Parallel()
	d := NewDedupe(time.Minute)

	d.Record(IntentSellSL, size("5"))
	if !d.CanSend(IntentSellTP, size("5")) {
		t.Error("TP suppressed by an SL record")
	}
}

func TestCleanupEvictsStaleEntries(t *testing.T) {
	t.Parallel()
	d := NewDedupe(time.Millisecond)

	d.Record(IntentSellSL, size("5"))
	time.Sleep(15 * time.Millisecond) // > 10 TTLs
	d.Cleanup()

	d.mu.Lock()
	n := len(d.lastSent)
	d.mu.Unlock()
	if n != 0 {
		t.Errorf("cleanup left %d entries, want 0", n)
	}
}
