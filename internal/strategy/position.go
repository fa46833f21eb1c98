package strategy

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// Position is the net share ledger for the single active trade. Shares never
// go negative; an over-subtraction clamps to zero with a warning.
type Position struct {
	mu     sync.Mutex
	shares decimal.Decimal
	logger *slog.Logger
}

// NewPosition creates an empty ledger.
func NewPosition(logger *slog.Logger) *Position {
	return &Position{logger: logger.With("component", "position")}
}

// AddFill credits bought shares.
func (p *Position) AddFill(filled decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shares = p.shares.Add(filled)
	p.logger.Info("position increased (buy fill)", "filled", filled, "shares", p.shares)
}

// SubtractFill debits sold shares, clamping at zero.
func (p *Position) SubtractFill(filled decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shares = p.shares.Sub(filled)
	if p.shares.IsNegative() {
		p.logger.Warn("position went negative, clamping to 0", "shares", p.shares)
		p.shares = decimal.Zero
	}
	p.logger.Info("position decreased (sell fill)", "filled", filled, "shares", p.shares)
}

// Set overwrites the ledger, e.g. after a balance refresh.
func (p *Position) Set(shares decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shares = shares
	p.logger.Info("position set", "shares", p.shares)
}

// Clear zeroes the ledger on close.
func (p *Position) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shares = decimal.Zero
}

// Shares returns the current share count.
func (p *Position) Shares() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shares
}

// HasPosition reports whether any shares are held.
func (p *Position) HasPosition() bool {
	return p.Shares().IsPositive()
}
