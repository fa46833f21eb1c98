package engine

import (
	"github.com/shopspring/decimal"

	"interval-sniper/internal/metrics"
	"interval-sniper/internal/strategy"
	"interval-sniper/pkg/decimals"
	"interval-sniper/pkg/types"
)

// candidate is one entry side that passed the band and liquidity filters.
type candidate struct {
	side    types.EntrySide
	ask     decimal.Decimal
	askSize decimal.Decimal
}

// chooseSide picks the entry side: among the allowed sides whose best ask is
// inside [lo, hi] with enough size resting, take the one with the higher ask
// (higher implied probability = more confident side).
func chooseSide(allowUp, allowDown bool, lo, hi decimal.Decimal, top types.TopOfBook, minOrderSize decimal.Decimal) *candidate {
	var out *candidate
	consider := func(side types.EntrySide, book *types.BookSide) {
		if book == nil || book.BestAsk == nil {
			return
		}
		ask := *book.BestAsk
		if ask.LessThan(lo) || ask.GreaterThan(hi) {
			return
		}
		askSize := decimal.Zero
		if book.BestAskSize != nil {
			askSize = *book.BestAskSize
		}
		if askSize.LessThan(minOrderSize) {
			return
		}
		if out == nil || ask.GreaterThan(out.ask) {
			out = &candidate{side: side, ask: ask, askSize: askSize}
		}
	}
	if allowUp {
		consider(types.EntryUp, top.Up)
	}
	if allowDown {
		consider(types.EntryDown, top.Down)
	}
	return out
}

// buyEffectivePrice crosses the spread by one tick but never leaves the
// configured band, then lifts back to the ask so a FAK still crosses.
func buyEffectivePrice(ask, lo, hi decimal.Decimal) decimal.Decimal {
	price := decimals.RoundToTick(decimals.Clamp(ask.Add(decimals.Tick), lo, hi))
	if price.LessThan(ask) {
		price = ask
	}
	return price
}

// buyBranch considers an entry. Preconditions: no pending TP/SL, the
// two-trades rule, the entry window, the post-open delays, cooldown, dedupe.
func (e *Engine) buyBranch(top types.TopOfBook, nowUnix int64) {
	if e.pendingTP != nil || e.pendingSL != nil {
		return
	}
	if !(e.trades == 0 || (e.trades == 1 && e.reEntryAfter)) {
		return
	}
	if e.market == nil {
		return
	}

	secsToClose := e.market.SecondsToClose(nowUnix)
	inWindow := e.cfg.NoWindowAllIntervals || secsToClose <= int64(e.cfg.SecondsBeforeClose)
	if !inWindow {
		return
	}

	// Both clocks must clear the post-open delay: interval time and wall
	// time since the switch (a late resolve can make them differ).
	secSinceStart := nowUnix - e.market.IntervalStart
	if secSinceStart < int64(e.cfg.MinSecondsAfterMarketOpen) {
		return
	}
	nowMS := e.nowFn().UnixMilli()
	if e.switchWallMS > 0 && nowMS-e.switchWallMS < int64(e.cfg.MinSecondsAfterMarketOpen)*1000 {
		return
	}
	if e.cfg.CooldownMS > 0 && e.lastOrderMS > 0 && nowMS-e.lastOrderMS < int64(e.cfg.CooldownMS) {
		return
	}
	if !e.dedupe.CanSend(strategy.IntentBuy, nil) {
		return
	}

	cand := chooseSide(e.cfg.AllowBuyUp, e.cfg.AllowBuyDown, e.cfg.MinBuyPrice, e.cfg.MaxBuyPrice, top, clobDefaultMinOrderSize)
	if cand == nil {
		return
	}

	tokenID := e.market.TokenIDUp
	if cand.side == types.EntryDown {
		tokenID = e.market.TokenIDDown
	}

	price := buyEffectivePrice(cand.ask, e.cfg.MinBuyPrice, e.cfg.MaxBuyPrice)

	sharesLeft := e.cfg.SizeShares.Sub(e.totalShares)
	if !sharesLeft.IsPositive() {
		return
	}
	size := sharesLeft
	if cand.askSize.LessThan(size) {
		size = cand.askSize
	}
	if size.LessThan(clobDefaultMinOrderSize) {
		size = clobDefaultMinOrderSize
	}
	size = decimals.FloorShares(size.Round(2))
	if size.LessThan(clobDefaultMinOrderSize) || !size.IsPositive() {
		return
	}

	result, err := e.clob.PlaceLimitOrder(e.ctx, types.LimitOrderParams{
		TokenID: tokenID,
		Side:    types.BUY,
		Price:   price,
		Size:    size,
	}, types.OrderTypeFAK)
	e.dedupe.Record(strategy.IntentBuy, nil)
	if err != nil {
		e.logTickError("buy placement failed", err)
		return
	}
	if !result.Success {
		metrics.Orders.WithLabelValues("BUY", "rejected").Inc()
		e.logger.Warn("buy failed", "error", result.ErrorMsg)
		return
	}
	metrics.Orders.WithLabelValues("BUY", "success").Inc()

	// A FAK can fill partially. Trust filled_size when plausible (>= 1% of
	// requested); otherwise use the requested size as an optimistic stand-in
	// that the next sell path reconciles against the real balance.
	filled := size
	if result.FilledSize != nil && result.FilledSize.IsPositive() &&
		result.FilledSize.GreaterThanOrEqual(size.Mul(decimal.RequireFromString("0.01"))) {
		filled = *result.FilledSize
	}
	if filled.GreaterThan(size) {
		filled = size
	}

	e.trades++
	e.totalShares = e.totalShares.Add(filled)
	e.lastOrderMS = nowMS
	e.position.AddFill(filled)
	f, _ := e.position.Shares().Float64()
	metrics.PositionShares.Set(f)

	e.lastBuy = &types.LastBuyOrder{
		TokenID:     tokenID,
		Side:        cand.side,
		Size:        filled,
		Price:       price,
		TimestampMS: nowMS,
	}

	targetPrice := decimals.RoundToTick(e.cfg.TakeProfitPrice)
	if e.cfg.AutoSellAtMaxPrice {
		targetPrice = decimal.RequireFromString("0.99")
	}

	baseSellSize := filled
	if e.cfg.SizeShares.LessThan(baseSellSize) {
		baseSellSize = e.cfg.SizeShares
	}
	baseSellSize = decimals.FloorShares(baseSellSize)
	if baseSellSize.LessThan(minSellSize) {
		baseSellSize = minSellSize
	}
	tpSize := sellPortion(baseSellSize, e.cfg.AutoSellQuantityPct)
	slSize := sellPortion(baseSellSize, e.cfg.StopLossQuantityPct)

	e.pendingTP = &types.PendingTakeProfit{
		TokenID:     tokenID,
		TargetPrice: targetPrice,
		Size:        tpSize,
		PlacedAtMS:  nowMS,
	}
	e.pendingSL = &types.PendingStopLoss{
		TokenID:      tokenID,
		EntryPrice:   price,
		TriggerPrice: decimals.RoundToTick(e.cfg.StopLossPrice),
		Size:         slSize,
		PlacedAtMS:   nowMS,
	}
	e.tpPlaced = false
	e.slPlaced = false

	e.logger.Info("BUY",
		"side", cand.side,
		"entry_price", decimals.Format2(price),
		"size", decimals.Format2(filled),
		"tp_size", decimals.Format2(tpSize),
		"tp_pct", e.cfg.AutoSellQuantityPct,
		"sl_size", decimals.Format2(slSize),
		"sl_pct", e.cfg.StopLossQuantityPct,
		"trades_this_interval", e.trades,
	)
}

// sellPortion applies a configured percentage to the bought size, floored to
// sell precision, with a 1e-4 floor and capped at the base size.
func sellPortion(base decimal.Decimal, pct int) decimal.Decimal {
	portion := decimals.FloorShares(base.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)))
	if portion.LessThan(minSellSize) {
		portion = minSellSize
	}
	if portion.GreaterThan(base) {
		portion = base
	}
	return portion
}
