package journal

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"interval-sniper/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testMarket() types.ResolvedMarket {
	return types.ResolvedMarket{
		Slug:          "btc-updown-5m-1772169300",
		TokenIDUp:     "1",
		TokenIDDown:   "2",
		CloseTime:     1772169600,
		IntervalStart: 1772169300,
	}
}

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return j, dir
}

func readLines(t *testing.T, dir string) []map[string]any {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("journal dir entries = %v, err = %v", entries, err)
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var obj map[string]any
		if err := json.Unmarshal(sc.Bytes(), &obj); err != nil {
			t.Fatalf("bad JSONL line %q: %v", sc.Text(), err)
		}
		lines = append(lines, obj)
	}
	return lines
}

func TestLogClosePnLAndCounts(t *testing.T) {
	t.Parallel()
	j, dir := openTestJournal(t)

	up := BidRange{}
	up.Observe(dec("0.90"))
	up.Observe(dec("0.97"))

	j.LogClose(Close{
		Market:      testMarket(),
		Side:        types.EntryUp,
		EntryPrice:  dec("0.94"),
		ExitPrice:   dec("0.97"),
		EntryTimeMS: 1000,
		ExitTimeMS:  31000,
		ExitType:    ExitTakeProfit,
		Size:        dec("5"),
		BidsUp:      up,
	})
	j.Close()

	lines := readLines(t, dir)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want close + session_summary", len(lines))
	}
	closeEvt := lines[0]
	if closeEvt["event"] != "close" || closeEvt["exit_type"] != "TP" {
		t.Errorf("close event = %v", closeEvt)
	}
	// 5 * (0.97-0.94) = 0.15
	if closeEvt["pnl_usd"] != "0.15" {
		t.Errorf("pnl = %v, want 0.15", closeEvt["pnl_usd"])
	}
	if closeEvt["duration_sec"] != float64(30) {
		t.Errorf("duration = %v, want 30", closeEvt["duration_sec"])
	}

	summary := lines[1]
	if summary["event"] != "session_summary" {
		t.Fatalf("summary = %v", summary)
	}
	if summary["tp_count"] != float64(1) || summary["win_rate"] != float64(1) {
		t.Errorf("summary counts = %v", summary)
	}
	if summary["total_pnl_usd"] != "0.15" {
		t.Errorf("total pnl = %v", summary["total_pnl_usd"])
	}
}

func TestWinRateNullWithoutTPOrSL(t *testing.T) {
	t.Parallel()
	j, dir := openTestJournal(t)

	j.LogClose(Close{
		Market:     testMarket(),
		Side:       types.EntryDown,
		EntryPrice: dec("0.94"),
		ExitPrice:  dec("0.94"),
		ExitType:   ExitMarketClose,
		Size:       dec("5"),
	})
	j.Close()

	lines := readLines(t, dir)
	summary := lines[len(lines)-1]
	if summary["win_rate"] != nil {
		t.Errorf("win_rate = %v, want null", summary["win_rate"])
	}
	if summary["market_close_count"] != float64(1) {
		t.Errorf("market_close_count = %v", summary["market_close_count"])
	}
}

func TestIntervalSummaryRangedFlags(t *testing.T) {
	t.Parallel()
	j, dir := openTestJournal(t)

	up := BidRange{}
	up.Observe(dec("0.01"))
	up.Observe(dec("0.99"))
	down := BidRange{}
	down.Observe(dec("0.4"))

	j.LogIntervalSummary(testMarket(), up, down)
	j.Close()

	lines := readLines(t, dir)
	evt := lines[0]
	if evt["event"] != "interval_summary" {
		t.Fatalf("event = %v", evt["event"])
	}
	if evt["ranged_01_99_up"] != true {
		t.Error("up side swept the range, flag should be true")
	}
	if evt["ranged_01_99_down"] != false {
		t.Error("down side did not sweep the range")
	}
	if evt["min_bid_down"] != "0.4" {
		t.Errorf("min_bid_down = %v", evt["min_bid_down"])
	}
}

func TestNilJournalIsNoOp(t *testing.T) {
	t.Parallel()

	var j *Journal
	j.LogClose(Close{Market: testMarket(), Size: dec("1")})
	j.LogIntervalSummary(testMarket(), BidRange{}, BidRange{})
	j.Close()
}
