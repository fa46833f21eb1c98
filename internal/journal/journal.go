// Package journal appends one JSON object per line to a per-run session
// file: position closes, interval summaries, and a final session summary.
// Every write is flushed immediately so a crash loses at most the line being
// written.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"interval-sniper/pkg/types"
)

// ExitType labels how a position was closed.
type ExitType string

const (
	ExitTakeProfit  ExitType = "TP"
	ExitStopLoss    ExitType = "SL"
	ExitMarketClose ExitType = "MARKET_CLOSE"
)

// BidRange is the min/max best bid observed for one side over an interval.
type BidRange struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

// Observe widens the range with a new best bid.
func (r *BidRange) Observe(bid decimal.Decimal) {
	if r.Min == nil || bid.LessThan(*r.Min) {
		v := bid
		r.Min = &v
	}
	if r.Max == nil || bid.GreaterThan(*r.Max) {
		v := bid
		r.Max = &v
	}
}

// ranged0199 reports whether the side swept (almost) the full probability
// range during the interval.
func (r BidRange) ranged0199() bool {
	return r.Min != nil && r.Max != nil &&
		r.Min.LessThanOrEqual(decimal.RequireFromString("0.02")) &&
		r.Max.GreaterThanOrEqual(decimal.RequireFromString("0.98"))
}

// Close describes one closed position for the journal.
type Close struct {
	Market      types.ResolvedMarket
	Side        types.EntrySide
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	EntryTimeMS int64
	ExitTimeMS  int64
	ExitType    ExitType
	Size        decimal.Decimal
	BidsUp      BidRange
	BidsDown    BidRange
}

// Journal is the per-run JSONL session log. Nil *Journal is a valid no-op
// receiver so callers don't guard every write behind the enabled flag.
type Journal struct {
	mu             sync.Mutex
	file           *os.File
	runID          string
	sessionStartMS int64
	tpCount        int
	slCount        int
	mktCloseCount  int
	totalPnL       decimal.Decimal
	logger         *slog.Logger
}

// Open creates <dir>/session_<timestamp>.jsonl (dir is created if missing).
func Open(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	now := time.Now()
	name := filepath.Join(dir, "session_"+now.UTC().Format("2006-01-02T15-04-05")+".jsonl")
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{
		file:           file,
		runID:          uuid.NewString(),
		sessionStartMS: now.UnixMilli(),
		logger:         logger.With("component", "journal"),
	}
	j.logger.Info("session journal opened", "path", name, "run_id", j.runID)
	return j, nil
}

func (j *Journal) writeLine(obj map[string]any) {
	data, err := json.Marshal(obj)
	if err != nil {
		j.logger.Warn("journal marshal failed", "error", err)
		return
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		j.logger.Warn("journal write failed", "error", err)
		return
	}
	j.file.Sync()
}

func decOpt(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// LogClose appends a position-close event and updates the session totals.
// PnL = size * (exit - entry).
func (j *Journal) LogClose(c Close) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	pnl := c.Size.Mul(c.ExitPrice.Sub(c.EntryPrice))
	switch c.ExitType {
	case ExitTakeProfit:
		j.tpCount++
	case ExitStopLoss:
		j.slCount++
	case ExitMarketClose:
		j.mktCloseCount++
	}
	j.totalPnL = j.totalPnL.Add(pnl)

	j.writeLine(map[string]any{
		"event":               "close",
		"run_id":              j.runID,
		"slug":                c.Market.Slug,
		"interval_start_unix": c.Market.IntervalStart,
		"close_time_unix":     c.Market.CloseTime,
		"side":                string(c.Side),
		"entry_price":         c.EntryPrice.String(),
		"exit_price":          c.ExitPrice.String(),
		"entry_time_ms":       c.EntryTimeMS,
		"exit_time_ms":        c.ExitTimeMS,
		"exit_type":           string(c.ExitType),
		"size":                c.Size.String(),
		"pnl_usd":             pnl.String(),
		"duration_sec":        (c.ExitTimeMS - c.EntryTimeMS) / 1000,
		"min_bid_up":          decOpt(c.BidsUp.Min),
		"max_bid_up":          decOpt(c.BidsUp.Max),
		"min_bid_down":        decOpt(c.BidsDown.Min),
		"max_bid_down":        decOpt(c.BidsDown.Max),
		"ranged_01_99_up":     c.BidsUp.ranged0199(),
		"ranged_01_99_down":   c.BidsDown.ranged0199(),
	})
}

// LogIntervalSummary records the bid ranges observed over a finished interval.
func (j *Journal) LogIntervalSummary(m types.ResolvedMarket, up, down BidRange) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.writeLine(map[string]any{
		"event":               "interval_summary",
		"run_id":              j.runID,
		"slug":                m.Slug,
		"interval_start_unix": m.IntervalStart,
		"close_time_unix":     m.CloseTime,
		"min_bid_up":          decOpt(up.Min),
		"max_bid_up":          decOpt(up.Max),
		"min_bid_down":        decOpt(down.Min),
		"max_bid_down":        decOpt(down.Max),
		"ranged_01_99_up":     up.ranged0199(),
		"ranged_01_99_down":   down.ranged0199(),
	})
}

// Close writes the session summary (win rate = TP/(TP+SL)) and closes the file.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	endMS := time.Now().UnixMilli()
	var winRate any
	if n := j.tpCount + j.slCount; n > 0 {
		winRate = float64(j.tpCount) / float64(n)
	}
	j.writeLine(map[string]any{
		"event":                "session_summary",
		"run_id":               j.runID,
		"session_start_ms":     j.sessionStartMS,
		"session_end_ms":       endMS,
		"session_duration_sec": (endMS - j.sessionStartMS) / 1000,
		"tp_count":             j.tpCount,
		"sl_count":             j.slCount,
		"market_close_count":   j.mktCloseCount,
		"total_closes":         j.tpCount + j.slCount + j.mktCloseCount,
		"win_rate":             winRate,
		"total_pnl_usd":        j.totalPnL.String(),
	})
	j.file.Close()
}
