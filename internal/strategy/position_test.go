package strategy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestPosition() *Position {
	return NewPosition(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAddAndSubtractFill(t *testing.T) {
	t.Parallel()
	p := newTestPosition()

	p.AddFill(decimal.RequireFromString("5"))
	if !p.HasPosition() {
		t.Fatal("no position after buy fill")
	}
	p.SubtractFill(decimal.RequireFromString("3"))
	if !p.Shares().Equal(decimal.RequireFromString("2")) {
		t.Errorf("shares = %v, want 2", p.Shares())
	}
}

func TestSubtractClampsAtZero(t *testing.T) {
	t.Parallel()
	p := newTestPosition()

	p.AddFill(decimal.RequireFromString("1"))
	p.SubtractFill(decimal.RequireFromString("2"))

	if p.Shares().IsNegative() {
		t.Errorf("shares went negative: %v", p.Shares())
	}
	if p.HasPosition() {
		t.Error("clamped position should be empty")
	}
}

func TestSetAndClear(t *testing.T) {
	t.Parallel()
	p := newTestPosition()

	p.Set(decimal.RequireFromString("4.1234"))
	if !p.Shares().Equal(decimal.RequireFromString("4.1234")) {
		t.Errorf("shares = %v", p.Shares())
	}
	p.Clear()
	if p.HasPosition() {
		t.Error("cleared position should be empty")
	}
}
