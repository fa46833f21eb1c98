// Package market provides the local top-of-book cache and market discovery.
//
// Book mirrors the best bid/ask for one interval market (Up + Down tokens).
// It is updated from two sources:
//   - the engine's REST seed at each interval switch, via ApplyBestBidAsk
//     (prices only); the engine's REST staleness fallback does not write here
//   - WebSocket events via ApplySnapshot (full book), ApplyBestBidAsk and
//     ApplyPriceChange (compact updates)
//
// Apart from that seed, the stream task is the only writer; an RWMutex protects the state
// and Snapshot hands out deep copies so readers never alias cache memory.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"interval-sniper/pkg/types"
)

// Level is a single price level as parsed from REST or WS payloads.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book maintains the top of book for the two outcome tokens of one market.
type Book struct {
	mu      sync.RWMutex
	tokenUp string
	tokenDn string
	up      *types.BookSide
	down    *types.BookSide
	updated time.Time
}

// NewBook creates a top-of-book cache keyed by the two token IDs.
func NewBook(tokenUp, tokenDown string) *Book {
	return &Book{tokenUp: tokenUp, tokenDn: tokenDown}
}

// ApplySnapshot replaces one token's side from full bid/ask level lists.
// Best bid is the highest-priced bid and best ask the lowest-priced ask —
// input order is not trusted. Zero-price and zero-size levels are dropped.
// A crossed result (best bid above best ask) is ignored wholesale.
func (b *Book) ApplySnapshot(assetID string, bids, asks []Level) {
	side := &types.BookSide{}
	for i := range bids {
		l := bids[i]
		if !l.Price.IsPositive() || !l.Size.IsPositive() {
			continue
		}
		if side.BestBid == nil || l.Price.GreaterThan(*side.BestBid) {
			p, s := l.Price, l.Size
			side.BestBid, side.BestBidSize = &p, &s
		}
	}
	for i := range asks {
		l := asks[i]
		if !l.Price.IsPositive() || !l.Size.IsPositive() {
			continue
		}
		if side.BestAsk == nil || l.Price.LessThan(*side.BestAsk) {
			p, s := l.Price, l.Size
			side.BestAsk, side.BestAskSize = &p, &s
		}
	}
	if side.BestBid != nil && side.BestAsk != nil && side.BestBid.GreaterThan(*side.BestAsk) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.setSideLocked(assetID, side)
}

// ApplyBestBidAsk sets the best bid and/or ask for a token when present in a
// compact update. Absent values leave the prior level in place.
func (b *Book) ApplyBestBidAsk(assetID string, bestBid, bestAsk *decimal.Decimal) {
	if bestBid == nil && bestAsk == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	side := b.sideLocked(assetID)
	if side == nil {
		side = &types.BookSide{}
		if !b.setSideLocked(assetID, side) {
			return
		}
	}
	if bestBid != nil {
		v := *bestBid
		side.BestBid = &v
	}
	if bestAsk != nil {
		v := *bestAsk
		side.BestAsk = &v
	}
	b.updated = time.Now()
}

// PriceChange is one element of a price_change batch.
type PriceChange struct {
	AssetID string
	BestBid *decimal.Decimal
	BestAsk *decimal.Decimal
}

// ApplyPriceChange applies a price_change batch, element by element.
func (b *Book) ApplyPriceChange(changes []PriceChange) {
	for _, c := range changes {
		b.ApplyBestBidAsk(c.AssetID, c.BestBid, c.BestAsk)
	}
}

// IsStale reports whether no update has arrived within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// Snapshot returns deep copies of both side records.
func (b *Book) Snapshot() types.TopOfBook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return types.TopOfBook{
		Up:        b.up.Clone(),
		Down:      b.down.Clone(),
		UpdatedAt: b.updated,
	}
}

func (b *Book) sideLocked(assetID string) *types.BookSide {
	switch assetID {
	case b.tokenUp:
		return b.up
	case b.tokenDn:
		return b.down
	}
	return nil
}

// setSideLocked stores side for assetID; messages for unknown tokens are
// ignored and it returns false.
func (b *Book) setSideLocked(assetID string, side *types.BookSide) bool {
	switch assetID {
	case b.tokenUp:
		b.up = side
	case b.tokenDn:
		b.down = side
	default:
		return false
	}
	b.updated = time.Now()
	return true
}
