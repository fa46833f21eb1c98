package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"interval-sniper/internal/exchange"
	"interval-sniper/internal/journal"
	"interval-sniper/internal/metrics"
	"interval-sniper/internal/strategy"
	"interval-sniper/pkg/decimals"
	"interval-sniper/pkg/types"
)

// Delay between FAK retries on no-match. Minimal so the retry loop tracks
// the bid as closely as possible while the interval is still open.
const fakRetryDelay = 10 * time.Millisecond

// After a cancel the CLOB takes a moment to release the balance.
const cancelPropagationDelay = 350 * time.Millisecond

// Escalating backoff when a sell is rejected with balance/allowance.
var balanceRetryBackoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

const balanceRetryBackoffMax = 400 * time.Millisecond

// Schedule for re-reading the balance after a cancel before concluding the
// position is gone.
var balanceAfterCancelRetry = []time.Duration{
	150 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond,
	350 * time.Millisecond, 500 * time.Millisecond, 700 * time.Millisecond,
}

// sellOutcome is how one sell placement resolved.
type sellOutcome int

const (
	sellClosed        sellOutcome = iota // fully filled; state cleared
	sellResting                          // GTC accepted with no fill; do not place again
	sellPartial                          // partial fill; pending sizes now hold the remainder
	sellRetryNoMatch                     // IOC crossed nothing
	sellRetryBalance                     // balance/allowance rejection with balance still present
	sellAlreadyClosed                    // balance rejection and balance reads zero/dust
	sellDustClosed                       // API dust verdict; position closed
	sellAbort                            // unknown rejection; leave the branch
)

// effectiveSellSize caps the position size by the available balance minus one
// base unit of headroom, floored to sell precision. A nil balance means the
// API could not answer; fall back to the position size.
func effectiveSellSize(positionSize decimal.Decimal, available *decimal.Decimal) decimal.Decimal {
	capped := positionSize
	if available != nil {
		safe := available.Sub(balanceBufferShares)
		if safe.IsNegative() {
			safe = decimal.Zero
		}
		if safe.LessThan(capped) {
			capped = safe
		}
	}
	return decimals.FloorShares(capped)
}

// balanceZeroOrDust reports whether a known balance is below the CLOB sell
// minimum. An unknown balance is not treated as dust.
func balanceZeroOrDust(available *decimal.Decimal) bool {
	return available != nil && available.LessThan(minSellSizeMaker)
}

// readBalanceSettled reads the available balance, retrying on the
// escalating schedule while it reads zero/dust — after a cancel the freed
// shares take a moment to reappear.
func (e *Engine) readBalanceSettled(tokenID string) *decimal.Decimal {
	available, err := e.clob.GetAvailableBalance(e.ctx, tokenID)
	if err != nil {
		available = nil
	}
	for _, delay := range balanceAfterCancelRetry {
		if !balanceZeroOrDust(available) {
			break
		}
		e.sleepFn(e.ctx, delay)
		if e.ctx.Err() != nil {
			break
		}
		available, err = e.clob.GetAvailableBalance(e.ctx, tokenID)
		if err != nil {
			available = nil
		}
	}
	return available
}

// sellRemainderAfterFill returns the remainder still to sell after a fill,
// or nil when the position should be considered fully closed (full fill, or
// a remainder too small to ever sell). A missing filled size counts as a
// full fill. Callers must handle the resting-GTC case before this.
func sellRemainderAfterFill(sizeTried decimal.Decimal, filled *decimal.Decimal) *decimal.Decimal {
	f := sizeTried
	if filled != nil {
		f = *filled
	}
	if f.GreaterThanOrEqual(sizeTried) {
		return nil
	}
	rem := decimals.FloorShares(sizeTried.Sub(f))
	if rem.LessThan(minSellSize) {
		return nil
	}
	return &rem
}

// gtcPlacedNoFill reports whether a successful sell is a resting GTC order
// (accepted, nothing matched yet).
func gtcPlacedNoFill(tif types.OrderType, filled *decimal.Decimal) bool {
	return tif == types.OrderTypeGTC && (filled == nil || filled.IsZero())
}

// stopLossBranch fires when a pending stop loss is triggered:
// best_bid > 0 and best_bid <= trigger. Returns true when the branch
// consumed the tick.
func (e *Engine) stopLossBranch(top types.TopOfBook) bool {
	if !e.cfg.EnableStopLoss || e.pendingSL == nil || e.slPlaced {
		return false
	}
	sl := e.pendingSL
	side := top.SideFor(e.entrySideOf(sl.TokenID))
	if side == nil || side.BestBid == nil {
		return false
	}
	bid := *side.BestBid
	if !bid.IsPositive() || bid.GreaterThan(sl.TriggerPrice) {
		return false
	}
	if !e.dedupe.CanSend(strategy.IntentSellSL, &sl.Size) {
		return true
	}

	e.liquidate(liquidation{
		kind:       strategy.IntentSellSL,
		exitType:   journal.ExitStopLoss,
		tif:        e.cfg.StopLossTimeInForce,
		tokenID:    sl.TokenID,
		entryPrice: sl.EntryPrice,
		// FAK must cross, so the limit equals the best bid, not an SL premium.
		initialPrice: decimals.RoundToTick(bid),
		trigger:      sl.TriggerPrice,
		// Once triggered we are committed to exit even if the bid recovers.
		requireTriggerOnRetry: false,
		allowReEntry:          true,
	})
	return true
}

// takeProfitBranch fires when the pending take profit is triggered. The
// trigger depends on the TIF: GTC waits for bid >= target (placing earlier
// would rest an order and lock the balance the SL needs); FAK/FOK fire at
// bid >= target - margin.
func (e *Engine) takeProfitBranch(top types.TopOfBook) bool {
	if !e.cfg.EnableAutoSell && !e.cfg.AutoSellAtMaxPrice {
		return false
	}
	if e.pendingTP == nil || e.tpPlaced {
		return false
	}
	tp := e.pendingTP
	if (e.nowFn().UnixMilli()-tp.PlacedAtMS)/1000 < int64(e.cfg.MinSecondsAfterBuy) {
		return false
	}
	side := top.SideFor(e.entrySideOf(tp.TokenID))
	if side == nil || side.BestBid == nil {
		return false
	}
	bid := *side.BestBid

	margin := e.cfg.TakeProfitPriceMargin
	trigger := tp.TargetPrice.Sub(margin)
	if e.cfg.TakeProfitTimeInForce == types.OrderTypeGTC {
		trigger = tp.TargetPrice
	}
	if bid.LessThan(trigger) {
		return false
	}
	if !e.dedupe.CanSend(strategy.IntentSellTP, &tp.Size) {
		return true
	}

	var limit decimal.Decimal
	switch e.cfg.TakeProfitTimeInForce {
	case types.OrderTypeGTC:
		// Limit at the entry price so the resting order fills automatically
		// once the bid is already at target.
		entry := bid
		if e.lastBuy != nil {
			entry = e.lastBuy.Price
		}
		limit = decimals.RoundToTick(entry)
	case types.OrderTypeFOK:
		capPrice := tp.TargetPrice.Add(margin)
		if bid.LessThan(capPrice) {
			capPrice = bid
		}
		limit = decimals.RoundToTick(capPrice)
	default: // FAK crosses at the bid
		limit = decimals.RoundToTick(bid)
	}

	e.liquidate(liquidation{
		kind:                  strategy.IntentSellTP,
		exitType:              journal.ExitTakeProfit,
		tif:                   e.cfg.TakeProfitTimeInForce,
		tokenID:               tp.TokenID,
		entryPrice:            e.entryPriceOr(bid),
		initialPrice:          limit,
		trigger:               trigger,
		requireTriggerOnRetry: true,
		allowReEntry:          false,
	})
	return true
}

func (e *Engine) entryPriceOr(fallback decimal.Decimal) decimal.Decimal {
	if e.lastBuy != nil {
		return e.lastBuy.Price
	}
	return fallback
}

// liquidation carries the per-branch parameters of the sell sub-protocol.
type liquidation struct {
	kind                  strategy.IntentKind
	exitType              journal.ExitType
	tif                   types.OrderType
	tokenID               string
	entryPrice            decimal.Decimal
	initialPrice          decimal.Decimal
	trigger               decimal.Decimal
	requireTriggerOnRetry bool
	allowReEntry          bool
}

// pendingSize returns the live size to sell for this liquidation; partial
// fills shrink it between attempts.
func (e *Engine) pendingSize(kind strategy.IntentKind) decimal.Decimal {
	if kind == strategy.IntentSellSL && e.pendingSL != nil {
		return e.pendingSL.Size
	}
	if e.pendingTP != nil {
		return e.pendingTP.Size
	}
	return decimal.Zero
}

// liquidate runs the sell sub-protocol: cancel resting orders, reconcile the
// size against the exchange balance, place the sell, and drive the retry
// loop until the position is flat, the interval ends, or the API issues a
// terminal verdict.
func (e *Engine) liquidate(liq liquidation) {
	// Unlock shares held by any resting order (e.g. a GTC TP) first.
	if _, err := e.clob.CancelOrdersForToken(e.ctx, liq.tokenID); err != nil {
		e.logger.Warn("cancel before sell failed, continuing", "kind", liq.kind, "error", err)
	}
	e.sleepFn(e.ctx, cancelPropagationDelay)

	positionSize := e.pendingSize(liq.kind)

	available := e.readBalanceSettled(liq.tokenID)
	if balanceZeroOrDust(available) {
		// The balance API can lag the cancel. Probe once with the position
		// size before concluding the position is closed.
		fallback := decimals.FloorShares(positionSize)
		if fallback.LessThan(minSellSizeMaker) {
			e.logger.Info("position already closed (balance 0 or dust)",
				"kind", liq.kind, "available", available)
			e.closePosition(false)
			return
		}
		e.logger.Info("balance 0/dust after cancel retries; probing with position size",
			"kind", liq.kind, "size", fallback)
		available = &fallback
	}

	size, ok := e.chooseSellSize(positionSize, available, liq.kind, 0)
	if !ok {
		return
	}
	if size.LessThan(minSellSizeMaker) {
		e.logger.Info("dust, position closed", "kind", liq.kind, "size", size)
		e.closePosition(false)
		return
	}

	result, err := e.clob.PlaceSellOrder(e.ctx, liq.tokenID, liq.initialPrice, size, liq.tif)
	e.dedupe.Record(liq.kind, &size)
	if err != nil {
		e.logTickError("sell placement failed", err)
		return
	}
	outcome := e.handleSellResult(liq, liq.initialPrice, size, result)

	switch outcome {
	case sellRetryNoMatch, sellRetryBalance:
		e.sellRetryLoop(liq, outcome == sellRetryBalance)
	default:
		// closed / resting / partial / dust / already closed / abort —
		// nothing further this tick; a partial re-triggers next tick.
	}
}

// sellRetryLoop retries the sell until it fills, the interval closes, or the
// API returns a terminal verdict. No attempt-count budget.
func (e *Engine) sellRetryLoop(liq liquidation, balanceError bool) {
	canceledOnceForBalance := false
	attempt := 0

	for {
		attempt++
		if e.ctx.Err() != nil {
			return
		}
		if e.market == nil || e.nowFn().Unix() >= e.market.CloseTime {
			e.logger.Warn("sell retry abort: interval ended, position may remain open",
				"kind", liq.kind, "attempt", attempt)
			return
		}

		delay := fakRetryDelay
		if balanceError {
			if attempt-1 < len(balanceRetryBackoff) {
				delay = balanceRetryBackoff[attempt-1]
			} else {
				delay = balanceRetryBackoffMax
			}
		}
		e.sleepFn(e.ctx, delay)

		if balanceError && !canceledOnceForBalance {
			if _, err := e.clob.CancelOrdersForToken(e.ctx, liq.tokenID); err != nil {
				e.logger.Warn("cancel during balance retry failed", "error", err)
			}
			canceledOnceForBalance = true
			e.sleepFn(e.ctx, cancelPropagationDelay)
		}

		top, ok := e.topOfBook()
		if !ok {
			continue
		}
		side := top.SideFor(e.entrySideOf(liq.tokenID))
		if side == nil || side.BestBid == nil || !side.BestBid.IsPositive() {
			continue
		}
		bid := *side.BestBid
		if liq.requireTriggerOnRetry && bid.LessThan(liq.trigger) {
			continue
		}

		positionSize := e.pendingSize(liq.kind)
		available, err := e.clob.GetAvailableBalance(e.ctx, liq.tokenID)
		if err != nil {
			available = nil
		}
		size, okSize := e.chooseSellSize(positionSize, available, liq.kind, attempt)
		if !okSize {
			e.logger.Warn("sell retry abort: size below minimum",
				"kind", liq.kind, "attempt", attempt, "available", available, "position", positionSize)
			return
		}
		if size.LessThan(minSellSizeMaker) {
			e.logger.Info("retry dust, position closed", "kind", liq.kind, "size", size)
			e.closePosition(false)
			return
		}

		price := decimals.RoundToTick(bid)
		result, err := e.clob.PlaceSellOrder(e.ctx, liq.tokenID, price, size, liq.tif)
		e.dedupe.Record(liq.kind, &size)
		if err != nil {
			e.logTickError("sell retry placement failed", err)
			continue
		}

		switch e.handleSellResult(liq, price, size, result) {
		case sellClosed, sellResting, sellPartial, sellDustClosed, sellAlreadyClosed, sellAbort:
			// Success (even partial) and terminal verdicts end the loop; a
			// partial remainder re-triggers the branch on the next tick.
			return
		case sellRetryBalance:
			balanceError = true
		case sellRetryNoMatch:
			// spin again at the latest bid
		}
	}
}

// chooseSellSize reconciles the size to sell with the authoritative balance,
// falling back to the tracked position size when the API reports low/zero.
// ok=false means nothing sellable this attempt.
func (e *Engine) chooseSellSize(positionSize decimal.Decimal, available *decimal.Decimal, kind strategy.IntentKind, attempt int) (decimal.Decimal, bool) {
	if !balanceZeroOrDust(available) {
		fromAPI := effectiveSellSize(positionSize, available)
		if fromAPI.GreaterThanOrEqual(minSellSize) {
			return fromAPI, true
		}
	}
	fallback := decimals.FloorShares(positionSize)
	if fallback.GreaterThanOrEqual(minSellSize) {
		e.logger.Info("using position size (balance API low/zero)",
			"kind", kind, "attempt", attempt, "size", fallback)
		return fallback, true
	}
	return decimal.Zero, false
}

// handleSellResult interprets one placement response and mutates engine
// state accordingly.
func (e *Engine) handleSellResult(liq liquidation, price, size decimal.Decimal, result *types.PlaceOrderResult) sellOutcome {
	if result.Success {
		metrics.Orders.WithLabelValues("SELL", "success").Inc()
	} else {
		metrics.Orders.WithLabelValues("SELL", "rejected").Inc()
	}
	if result.Success {
		if gtcPlacedNoFill(liq.tif, result.FilledSize) {
			e.logger.Info("GTC sell resting, waiting for fill",
				"kind", liq.kind, "price", decimals.Format2(price))
			e.tpPlaced = true
			e.slPlaced = true
			return sellResting
		}
		rem := sellRemainderAfterFill(size, result.FilledSize)
		if rem == nil {
			e.logger.Info("position closed",
				"kind", liq.kind,
				"entry_price", decimals.Format2(liq.entryPrice),
				"exit_price", decimals.Format2(price),
				"trades_this_interval", e.trades,
			)
			e.closeFilled(liq, price, size)
			return sellClosed
		}
		filled := size.Sub(*rem)
		if result.FilledSize != nil {
			filled = *result.FilledSize
		}
		e.logger.Info("partial fill, will retry remainder",
			"kind", liq.kind,
			"sold", decimals.Format2(filled),
			"price", decimals.Format2(price),
			"remaining", decimals.Format2(*rem),
		)
		e.position.SubtractFill(filled)
		e.setPendingSizes(*rem)
		f, _ := e.position.Shares().Float64()
		metrics.PositionShares.Set(f)
		return sellPartial
	}

	if result.HTTPStatus == 400 {
		ba, err := e.clob.GetBalanceAllowance(e.ctx, liq.tokenID)
		if err != nil {
			ba = "error: " + err.Error()
		}
		e.logger.Info("sell rejected with 400",
			"kind", liq.kind, "size", size, "balance_allowance", ba)
	}

	switch exchange.ClassifyReject(result.ErrorMsg) {
	case exchange.RejectDust:
		e.logger.Info("dust/invalid amounts verdict, position closed",
			"kind", liq.kind, "remaining", decimals.Format2(size))
		e.closePosition(false)
		return sellDustClosed
	case exchange.RejectBalance:
		available, err := e.clob.GetAvailableBalance(e.ctx, liq.tokenID)
		if err != nil {
			available = nil
		}
		if balanceZeroOrDust(available) {
			e.logger.Info("position already closed (balance 0 or dust)",
				"kind", liq.kind, "available", available)
			e.closePosition(false)
			return sellAlreadyClosed
		}
		e.logger.Info("balance/allowance error, will cancel once and retry with backoff",
			"kind", liq.kind)
		return sellRetryBalance
	case exchange.RejectNoMatch:
		return sellRetryNoMatch
	default:
		e.logger.Warn("sell failed", "kind", liq.kind, "error", result.ErrorMsg)
		return sellAbort
	}
}

// closeFilled records a fully-filled close: journal, PnL, state reset.
func (e *Engine) closeFilled(liq liquidation, exitPrice, size decimal.Decimal) {
	entryMS := int64(0)
	side := e.entrySideOf(liq.tokenID)
	if e.lastBuy != nil {
		entryMS = e.lastBuy.TimestampMS
	}
	var mkt types.ResolvedMarket
	if e.market != nil {
		mkt = *e.market
	}
	e.recordClose(journal.Close{
		Market:      mkt,
		Side:        side,
		EntryPrice:  liq.entryPrice,
		ExitPrice:   exitPrice,
		EntryTimeMS: entryMS,
		ExitTimeMS:  e.nowFn().UnixMilli(),
		ExitType:    liq.exitType,
		Size:        size,
		BidsUp:      e.bidsUp,
		BidsDown:    e.bidsDown,
	})
	e.closePosition(liq.allowReEntry)
}

// setPendingSizes mutates both pending records to the remainder after a
// partial fill so the next attempt sells only what is left.
func (e *Engine) setPendingSizes(remainder decimal.Decimal) {
	if e.pendingTP != nil {
		e.pendingTP.Size = remainder
	}
	if e.pendingSL != nil {
		e.pendingSL.Size = remainder
	}
}

// closePosition clears all position state. allowReEntry is set only by a
// fully-filled stop loss; TP and terminal verdicts never permit re-entry.
func (e *Engine) closePosition(allowReEntry bool) {
	e.tpPlaced = true
	e.slPlaced = true
	e.pendingTP = nil
	e.pendingSL = nil
	e.lastBuy = nil
	e.totalShares = decimal.Zero
	e.reEntryAfter = allowReEntry
	e.position.Clear()
	metrics.PositionShares.Set(0)
}
