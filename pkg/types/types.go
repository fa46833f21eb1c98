// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order sides and
// lifecycles, resolved market metadata, top-of-book records, and the pending
// take-profit / stop-loss bookkeeping the engine carries between ticks. It
// has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: rests on the book
	OrderTypeGTD OrderType = "GTD" // Good-Til-Date: rests until expiration
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill: all-or-nothing immediate
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill: match what crosses, cancel the rest
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// EntrySide is the outcome we bought into: Up (Yes) or Down (No).
type EntrySide string

const (
	EntryUp   EntrySide = "Up"
	EntryDown EntrySide = "Down"
)

// IntervalAsset selects which 5-minute Up/Down market family the bot trades.
type IntervalAsset string

const (
	AssetBTC5m IntervalAsset = "btc_5m"
	AssetSOL5m IntervalAsset = "sol_5m"
)

// SlugPrefix returns the Gamma slug prefix for the asset family.
func (a IntervalAsset) SlugPrefix() string {
	switch a {
	case AssetSOL5m:
		return "sol-updown-5m"
	default:
		return "btc-updown-5m"
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// ResolvedMarket is one 5-minute interval market resolved from the Gamma API.
// Immutable for the life of the interval; replaced wholesale at each switch.
type ResolvedMarket struct {
	Slug          string // e.g. "btc-updown-5m-1772169300"
	ConditionID   string // CTF condition ID
	TokenIDUp     string // CLOB token ID for the Up outcome
	TokenIDDown   string // CLOB token ID for the Down outcome
	CloseTime     int64  // Unix seconds when the interval resolves
	IntervalStart int64  // CloseTime - 300
}

// SecondsToClose returns how many seconds remain until the market closes.
func (m ResolvedMarket) SecondsToClose(nowUnix int64) int64 {
	if nowUnix >= m.CloseTime {
		return 0
	}
	return m.CloseTime - nowUnix
}

// ————————————————————————————————————————————————————————————————————————
// Top of book
// ————————————————————————————————————————————————————————————————————————

// BookSide holds the best bid and best ask (with sizes) for one outcome
// token. Nil pointers mean that side of the book is empty or unknown.
type BookSide struct {
	BestBid     *decimal.Decimal
	BestBidSize *decimal.Decimal
	BestAsk     *decimal.Decimal
	BestAskSize *decimal.Decimal
}

// Clone returns a deep copy so readers never alias cache-owned values.
func (s *BookSide) Clone() *BookSide {
	if s == nil {
		return nil
	}
	cp := BookSide{}
	if s.BestBid != nil {
		v := *s.BestBid
		cp.BestBid = &v
	}
	if s.BestBidSize != nil {
		v := *s.BestBidSize
		cp.BestBidSize = &v
	}
	if s.BestAsk != nil {
		v := *s.BestAsk
		cp.BestAsk = &v
	}
	if s.BestAskSize != nil {
		v := *s.BestAskSize
		cp.BestAskSize = &v
	}
	return &cp
}

// HasData reports whether at least one of bid/ask is known.
func (s *BookSide) HasData() bool {
	return s != nil && (s.BestBid != nil || s.BestAsk != nil)
}

// TopOfBook is a point-in-time view of both outcome tokens' best levels.
type TopOfBook struct {
	Up        *BookSide
	Down      *BookSide
	UpdatedAt time.Time
}

// HasData reports whether either side carries book data (WS warm-up check).
func (t TopOfBook) HasData() bool {
	return t.Up.HasData() || t.Down.HasData()
}

// SideFor returns the side record for the given entry side.
func (t TopOfBook) SideFor(side EntrySide) *BookSide {
	if side == EntryUp {
		return t.Up
	}
	return t.Down
}

// ————————————————————————————————————————————————————————————————————————
// Position bookkeeping
// ————————————————————————————————————————————————————————————————————————

// LastBuyOrder records the fill that opened the current position.
type LastBuyOrder struct {
	TokenID     string
	Side        EntrySide
	Size        decimal.Decimal
	Price       decimal.Decimal
	TimestampMS int64
}

// PendingTakeProfit sells when best_bid reaches the target price.
type PendingTakeProfit struct {
	TokenID     string
	TargetPrice decimal.Decimal
	Size        decimal.Decimal
	PlacedAtMS  int64
}

// PendingStopLoss sells when best_bid falls to the trigger price.
// EntryPrice is carried for close logging only.
type PendingStopLoss struct {
	TokenID      string
	EntryPrice   decimal.Decimal
	TriggerPrice decimal.Decimal
	Size         decimal.Decimal
	PlacedAtMS   int64
}

// ————————————————————————————————————————————————————————————————————————
// Order placement
// ————————————————————————————————————————————————————————————————————————

// LimitOrderParams is the high-level order the engine hands to the exchange
// façade, which signs and posts it.
type LimitOrderParams struct {
	TokenID        string
	Side           Side
	Price          decimal.Decimal
	Size           decimal.Decimal
	ExpirationUnix int64 // 0 for non-GTD orders
	FeeRateBps     int64 // 0 = façade default
}

// PlaceOrderResult is the engine-facing outcome of an order placement.
// FilledSize is derived from the API's takingAmount: for BUY it is shares
// received, for SELL taker USDC divided by the limit price.
type PlaceOrderResult struct {
	OrderID    string
	Success    bool
	ErrorMsg   string
	FilledSize *decimal.Decimal
	HTTPStatus int
}

// CancelOrdersResult is the outcome of cancelling a token's open orders.
type CancelOrdersResult struct {
	Canceled    []string
	NotCanceled map[string]string // order ID → reason
}
