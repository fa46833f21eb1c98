// Package engine is the per-interval trading orchestrator.
//
// It owns the interval clock and all per-interval state: on each tick it
// detects interval switches (resolve market → reconnect stream → reset
// counters), reads a consistent top-of-book snapshot (stream cache with REST
// fallback), and dispatches at most one of the three branches in strict
// priority order: stop loss, then take profit, then buy. Sell branches drive
// the liquidation sub-protocol in sell.go, which spans many ticks worth of
// I/O but never outlives the interval's close timestamp.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"interval-sniper/internal/config"
	"interval-sniper/internal/exchange"
	"interval-sniper/internal/journal"
	"interval-sniper/internal/market"
	"interval-sniper/internal/metrics"
	"interval-sniper/internal/strategy"
	"interval-sniper/pkg/decimals"
	"interval-sniper/pkg/types"
)

// Log the order book and TP/SL status every this many ticks (10 → ~1s at the
// default 100 ms loop).
const logBookEveryTicks = 10

// Exchange minimum order size used when the book response does not carry one.
var clobDefaultMinOrderSize = decimal.NewFromInt(5)

// Sell size floor accepted by the API.
var minSellSize = decimal.RequireFromString("0.0001")

// The CLOB floors the sell maker amount at 2 decimals; below 0.01 shares the
// encoded amount is zero and the API rejects with "invalid amounts".
var minSellSizeMaker = decimal.RequireFromString("0.01")

// One base unit of headroom so an encoded amount never exceeds the balance
// after rounding.
var balanceBufferShares = decimal.RequireFromString("0.000001")

// identical tick errors are logged at most once per this window.
const errorLogThrottle = 30 * time.Second

// resolver is the slice of market.Resolver the engine consumes.
type resolver interface {
	FetchBySlug(ctx context.Context, slug string) (*types.ResolvedMarket, error)
}

// stream is the slice of exchange.BookStream the engine consumes.
type stream interface {
	Alive() bool
	Close()
}

// Engine runs the interval sniper loop.
type Engine struct {
	cfg      *config.Config
	clob     exchange.Clob
	resolver resolver
	journal  *journal.Journal
	logger   *slog.Logger

	// Injected for tests; real implementations by default.
	nowFn         func() time.Time
	sleepFn       func(ctx context.Context, d time.Duration)
	connectStream func(ctx context.Context, book *market.Book, m *types.ResolvedMarket) (stream, error)

	// Per-interval state, owned exclusively by the engine goroutine.
	market       *types.ResolvedMarket
	book         *market.Book
	bookStream   stream
	tickCount    uint64
	trades       int // buys executed this interval (0..2)
	reEntryAfter bool
	totalShares  decimal.Decimal
	lastBuy      *types.LastBuyOrder
	pendingTP    *types.PendingTakeProfit
	pendingSL    *types.PendingStopLoss
	tpPlaced     bool
	slPlaced     bool
	switchWallMS int64
	lastOrderMS  int64
	bidsUp       journal.BidRange
	bidsDown     journal.BidRange
	lastHeldBid  *decimal.Decimal
	sessionPnL   decimal.Decimal

	position *strategy.Position
	dedupe   *strategy.Dedupe

	errLogMu sync.Mutex
	errLogAt map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an engine from its collaborators.
func New(cfg *config.Config, clob exchange.Clob, res resolver, jrnl *journal.Journal, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		clob:     clob,
		resolver: res,
		journal:  jrnl,
		logger:   logger.With("component", "engine"),
		nowFn:    time.Now,
		sleepFn:  sleepCtx,
		position: strategy.NewPosition(logger),
		dedupe:   strategy.NewDedupe(cfg.DedupeTTL),
		errLogAt: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.connectStream = func(ctx context.Context, book *market.Book, m *types.ResolvedMarket) (stream, error) {
		return exchange.ConnectBookStream(ctx, cfg.WSMarketURL, book, m.TokenIDUp, m.TokenIDDown, logger)
	}
	return e
}

// Start launches the engine loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()
}

// Stop cancels the loop, waits for it, and writes the session summary.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()
	if e.bookStream != nil {
		e.bookStream.Close()
	}
	e.journal.Close()
	e.logger.Info("shutdown complete")
}

// run is the main loop: interval switch, top-of-book, SL > TP > Buy.
func (e *Engine) run() {
	loopPeriod := time.Duration(e.cfg.LoopMS) * time.Millisecond
	cleanupEvery := uint64(1000)

	for {
		if e.ctx.Err() != nil {
			return
		}
		e.tickCount++
		metrics.Ticks.Inc()
		if e.tickCount%cleanupEvery == 0 {
			e.dedupe.Cleanup()
		}

		nowU := e.nowFn().Unix()

		if e.needNewMarket(nowU) {
			if !e.switchInterval() {
				e.sleepFn(e.ctx, loopPeriod)
				continue
			}
		}

		top, ok := e.topOfBook()
		if !ok {
			e.sleepFn(e.ctx, loopPeriod)
			continue
		}
		e.observeBids(top)

		if e.tickCount%logBookEveryTicks == 0 {
			e.logBook(top, nowU)
		}

		// Strict priority; at most one branch fires per tick.
		switch {
		case e.stopLossBranch(top):
		case e.takeProfitBranch(top):
		default:
			e.buyBranch(top, nowU)
		}

		e.sleepFn(e.ctx, loopPeriod)
	}
}

// needNewMarket signals an interval switch: no market tracked, the close
// timestamp passed, or the wall clock moved into a different slug.
func (e *Engine) needNewMarket(nowUnix int64) bool {
	if e.market == nil {
		return true
	}
	if nowUnix >= e.market.CloseTime {
		return true
	}
	return market.CurrentSlug(e.cfg.Asset, nowUnix) != e.market.Slug
}

// switchInterval resolves the next market, reconnects the stream and resets
// all per-interval state. Returns false when resolution failed and the tick
// should be skipped.
func (e *Engine) switchInterval() bool {
	nowMS := e.nowFn().UnixMilli()
	slug := market.CurrentSlug(e.cfg.Asset, e.nowFn().Unix())

	e.finishInterval()

	m, err := e.resolver.FetchBySlug(e.ctx, slug)
	if err != nil {
		e.logTickError("fetch market failed", err)
		return false
	}

	// Never reuse the prior socket.
	if e.bookStream != nil {
		e.bookStream.Close()
		e.bookStream = nil
	}

	e.book = market.NewBook(m.TokenIDUp, m.TokenIDDown)
	st, err := e.connectStream(e.ctx, e.book, m)
	if err != nil {
		e.logger.Warn("book stream connect failed, using REST", "error", err)
	} else {
		e.bookStream = st
	}
	e.seedBook(m)

	e.market = m
	e.trades = 0
	e.reEntryAfter = false
	e.totalShares = decimal.Zero
	e.lastBuy = nil
	e.pendingTP = nil
	e.pendingSL = nil
	e.tpPlaced = false
	e.slPlaced = false
	e.switchWallMS = nowMS
	e.bidsUp = journal.BidRange{}
	e.bidsDown = journal.BidRange{}
	e.lastHeldBid = nil
	e.position.Clear()
	metrics.IntervalSwitches.Inc()
	metrics.PositionShares.Set(0)

	e.logger.Info("interval switch",
		"slug", m.Slug,
		"up", shortToken(m.TokenIDUp),
		"down", shortToken(m.TokenIDDown),
	)
	return true
}

// finishInterval journals the interval that is ending. An open position is
// recorded as MARKET_CLOSE; no final liquidation is attempted — residual
// shares stay in the wallet for the operator.
func (e *Engine) finishInterval() {
	if e.market == nil {
		return
	}
	if e.pendingTP != nil || e.pendingSL != nil {
		entry := decimal.Zero
		entryMS := int64(0)
		side := types.EntryUp
		size := e.position.Shares()
		if e.lastBuy != nil {
			entry = e.lastBuy.Price
			entryMS = e.lastBuy.TimestampMS
			side = e.lastBuy.Side
			if size.IsZero() {
				size = e.lastBuy.Size
			}
		}
		exit := entry
		if e.lastHeldBid != nil {
			exit = *e.lastHeldBid
		}
		e.logger.Warn("interval ended with open position, shares remain in wallet",
			"slug", e.market.Slug, "size", size)
		e.recordClose(journal.Close{
			Market:      *e.market,
			Side:        side,
			EntryPrice:  entry,
			ExitPrice:   exit,
			EntryTimeMS: entryMS,
			ExitTimeMS:  e.nowFn().UnixMilli(),
			ExitType:    journal.ExitMarketClose,
			Size:        size,
		})
	}
	e.journal.LogIntervalSummary(*e.market, e.bidsUp, e.bidsDown)
}

// seedBook loads both sides from REST so the cache is warm before the first
// stream event arrives.
func (e *Engine) seedBook(m *types.ResolvedMarket) {
	for _, tokenID := range []string{m.TokenIDUp, m.TokenIDDown} {
		res, err := e.clob.FetchBook(e.ctx, tokenID)
		if err != nil {
			e.logTickError("initial book fetch failed", err)
			continue
		}
		if res.Side == nil {
			continue
		}
		e.book.ApplyBestBidAsk(tokenID, res.Side.BestBid, res.Side.BestAsk)
	}
}

// topOfBook returns a consistent snapshot: the stream cache when it is warm
// and fresh, REST otherwise. A REST failure falls back to whatever the cache
// still holds.
func (e *Engine) topOfBook() (types.TopOfBook, bool) {
	var cached types.TopOfBook
	if e.book != nil {
		cached = e.book.Snapshot()
		streamAlive := e.bookStream != nil && e.bookStream.Alive()
		if streamAlive && cached.HasData() && !e.book.IsStale(e.cfg.StaleThreshold) {
			return cached, true
		}
	}

	rest, err := e.fetchTopREST()
	if err != nil {
		if cached.HasData() {
			return cached, true
		}
		e.logTickError("order book fetch failed", err)
		return types.TopOfBook{}, false
	}
	return rest, true
}

func (e *Engine) fetchTopREST() (types.TopOfBook, error) {
	up, err := e.clob.FetchBook(e.ctx, e.market.TokenIDUp)
	if err != nil {
		return types.TopOfBook{}, err
	}
	down, err := e.clob.FetchBook(e.ctx, e.market.TokenIDDown)
	if err != nil {
		return types.TopOfBook{}, err
	}
	return types.TopOfBook{Up: up.Side, Down: down.Side, UpdatedAt: e.nowFn()}, nil
}

// observeBids tracks per-interval bid ranges for the journal and the last
// bid of the held token for MARKET_CLOSE accounting.
func (e *Engine) observeBids(top types.TopOfBook) {
	if top.Up != nil && top.Up.BestBid != nil {
		e.bidsUp.Observe(*top.Up.BestBid)
	}
	if top.Down != nil && top.Down.BestBid != nil {
		e.bidsDown.Observe(*top.Down.BestBid)
	}
	if e.lastBuy != nil {
		if side := top.SideFor(e.lastBuy.Side); side != nil && side.BestBid != nil {
			v := *side.BestBid
			e.lastHeldBid = &v
		}
	}
}

func (e *Engine) logBook(top types.TopOfBook, nowUnix int64) {
	secs := int64(0)
	if e.market != nil {
		secs = e.market.SecondsToClose(nowUnix)
	}
	upBid, upAsk := sideStrings(top.Up)
	dnBid, dnAsk := sideStrings(top.Down)
	e.logger.Info("order book",
		"up_bid", upBid, "up_ask", upAsk,
		"down_bid", dnBid, "down_ask", dnAsk,
		"secs_to_close", secs,
	)
	if e.pendingTP != nil && !e.tpPlaced {
		side := top.SideFor(e.entrySideOf(e.pendingTP.TokenID))
		e.logger.Info("POS TP monitoring",
			"target", decimals.Format2(e.pendingTP.TargetPrice),
			"best_bid", bidString(side),
		)
	}
	if e.pendingSL != nil && !e.slPlaced {
		side := top.SideFor(e.entrySideOf(e.pendingSL.TokenID))
		e.logger.Info("POS SL monitoring",
			"trigger", decimals.Format2(e.pendingSL.TriggerPrice),
			"best_bid", bidString(side),
		)
	}
}

func (e *Engine) entrySideOf(tokenID string) types.EntrySide {
	if e.market != nil && tokenID == e.market.TokenIDDown {
		return types.EntryDown
	}
	return types.EntryUp
}

// recordClose updates the journal, session PnL and metrics for one close.
func (e *Engine) recordClose(c journal.Close) {
	e.journal.LogClose(c)
	pnl := c.Size.Mul(c.ExitPrice.Sub(c.EntryPrice))
	e.sessionPnL = e.sessionPnL.Add(pnl)
	f, _ := e.sessionPnL.Float64()
	metrics.SessionPnL.Set(f)
	metrics.Closes.WithLabelValues(string(c.ExitType)).Inc()
	metrics.PositionShares.Set(0)
}

// logTickError logs a tick-level failure, throttling identical messages to
// once per 30 s.
func (e *Engine) logTickError(msg string, err error) {
	key := msg
	if err != nil {
		key += ": " + err.Error()
	}
	e.errLogMu.Lock()
	last, seen := e.errLogAt[key]
	now := e.nowFn()
	throttled := seen && now.Sub(last) < errorLogThrottle
	if !throttled {
		e.errLogAt[key] = now
	}
	e.errLogMu.Unlock()
	if !throttled {
		e.logger.Warn(msg, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func sideStrings(s *types.BookSide) (bid, ask string) {
	if s == nil {
		return "-", "-"
	}
	return decimals.Format2Ptr(s.BestBid), decimals.Format2Ptr(s.BestAsk)
}

func bidString(s *types.BookSide) string {
	if s == nil {
		return "-"
	}
	return decimals.Format2Ptr(s.BestBid)
}

func shortToken(tokenID string) string {
	if len(tokenID) > 12 {
		return tokenID[:12] + "..."
	}
	return tokenID
}
