package decimals

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundToTick(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"0.93", "0.93"},
		{"0.931", "0.93"},
		{"0.935", "0.94"},
		{"0.9449", "0.94"},
		{"0.005", "0.01"},
		{"1", "1"},
	}
	for _, c := range cases {
		got := RoundToTick(dec(c.in))
		if !got.Equal(dec(c.want)) {
			t.Errorf("RoundToTick(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestFloorShares(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"5", "5"},
		{"5.00009", "5"},
		{"3.12345", "3.1234"},
		{"0.00999", "0.0099"},
	}
	for _, c := range cases {
		got := FloorShares(dec(c.in))
		if !got.Equal(dec(c.want)) {
			t.Errorf("FloorShares(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestFloorToNeverRoundsUp(t *testing.T) {
	t.Parallel()

	got := FloorTo(dec("0.999999"), 2)
	if !got.Equal(dec("0.99")) {
		t.Errorf("FloorTo(0.999999, 2) = %s, want 0.99", got)
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	lo, hi := dec("0.90"), dec("0.95")
	if got := Clamp(dec("0.80"), lo, hi); !got.Equal(lo) {
		t.Errorf("Clamp below = %s, want %s", got, lo)
	}
	if got := Clamp(dec("0.99"), lo, hi); !got.Equal(hi) {
		t.Errorf("Clamp above = %s, want %s", got, hi)
	}
	if got := Clamp(dec("0.93"), lo, hi); !got.Equal(dec("0.93")) {
		t.Errorf("Clamp inside = %s, want 0.93", got)
	}
}

func TestFormat2(t *testing.T) {
	t.Parallel()

	if got := Format2(dec("0.4")); got != "0.40" {
		t.Errorf("Format2(0.4) = %q, want \"0.40\"", got)
	}
	if got := Format2(dec("10.5")); got != "10.50" {
		t.Errorf("Format2(10.5) = %q, want \"10.50\"", got)
	}
	if got := Format2Ptr(nil); got != "-" {
		t.Errorf("Format2Ptr(nil) = %q, want \"-\"", got)
	}
}
