// ws.go implements the CLOB market WebSocket feed (no auth).
//
// One BookStream is created per interval: it subscribes to the two outcome
// tokens, applies "book" / "best_bid_ask" / "price_change" events to the
// shared top-of-book cache, and sends a ping every 10 s. There is no
// auto-reconnect — on any error the read loop exits and Done() closes. The
// engine does not redial within an interval: it opens a new stream at the
// next interval switch and reads the book over REST until then.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"interval-sniper/internal/market"
)

const (
	wsPingInterval  = 10 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsReadTimeout   = 60 * time.Second
)

// wsSubscribeMsg is the initial subscription sent on connect. The
// custom_feature_enabled flag turns on compact best_bid_ask events.
type wsSubscribeMsg struct {
	AssetIDs             []string `json:"assets_ids"`
	Type                 string   `json:"type"`
	CustomFeatureEnabled bool     `json:"custom_feature_enabled"`
}

type wsEnvelope struct {
	EventType string `json:"event_type"`
}

type wsBookEvent struct {
	AssetID string        `json:"asset_id"`
	Bids    []wsBookLevel `json:"bids"`
	Asks    []wsBookLevel `json:"asks"`
}

type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsBestBidAskEvent struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wsPriceChangeEvent struct {
	PriceChanges []wsPriceChangeItem `json:"price_changes"`
}

type wsPriceChangeItem struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// BookStream owns one WebSocket connection and the writer side of the
// top-of-book cache for the current interval.
type BookStream struct {
	conn    *websocket.Conn
	connMu  sync.Mutex
	book    *market.Book
	tokenUp string
	tokenDn string
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// ConnectBookStream dials the market feed, subscribes to the two tokens and
// starts the read + ping loops.
func ConnectBookStream(ctx context.Context, wsURL string, book *market.Book, tokenUp, tokenDown string, logger *slog.Logger) (*BookStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial market ws: %w", err)
	}

	s := &BookStream{
		conn:    conn,
		book:    book,
		tokenUp: tokenUp,
		tokenDn: tokenDown,
		done:    make(chan struct{}),
		logger:  logger.With("component", "ws_book"),
	}

	// Subscribe immediately; the server drops idle connections.
	sub := wsSubscribeMsg{
		AssetIDs:             []string{tokenUp, tokenDown},
		Type:                 "market",
		CustomFeatureEnabled: true,
	}
	if err := s.writeJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	go s.readLoop(ctx)
	go s.pingLoop(ctx)

	s.logger.Info("book stream connected", "up", shortToken(tokenUp), "down", shortToken(tokenDown))
	return s, nil
}

// Done closes when the stream has stopped (error, server close, or Close).
func (s *BookStream) Done() <-chan struct{} { return s.done }

// Alive reports whether the read loop is still running.
func (s *BookStream) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close tears down the connection. The prior socket is never reused; the
// engine dials a fresh stream for the next subscription.
func (s *BookStream) Close() {
	s.once.Do(func() { close(s.done) })
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn.Close()
}

func (s *BookStream) readLoop(ctx context.Context) {
	defer s.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("book stream read failed", "error", err)
			}
			return
		}
		s.apply(msg)
	}
}

// apply routes one message into the cache. Parse failures are logged at
// debug and dropped; a bad message never kills the stream.
func (s *BookStream) apply(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Debug("ignoring non-json ws message", "payload", truncate(string(msg), 200))
		return
	}

	switch env.EventType {
	case "book":
		var evt wsBookEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			s.logger.Debug("bad book event", "error", err)
			return
		}
		if evt.AssetID != s.tokenUp && evt.AssetID != s.tokenDn {
			return
		}
		s.book.ApplySnapshot(evt.AssetID, toLevels(evt.Bids), toLevels(evt.Asks))

	case "best_bid_ask":
		var evt wsBestBidAskEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			s.logger.Debug("bad best_bid_ask event", "error", err)
			return
		}
		if evt.AssetID != s.tokenUp && evt.AssetID != s.tokenDn {
			return
		}
		s.book.ApplyBestBidAsk(evt.AssetID, parseWSDecimal(evt.BestBid), parseWSDecimal(evt.BestAsk))

	case "price_change":
		var evt wsPriceChangeEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			s.logger.Debug("bad price_change event", "error", err)
			return
		}
		changes := make([]market.PriceChange, 0, len(evt.PriceChanges))
		for _, c := range evt.PriceChanges {
			if c.AssetID != s.tokenUp && c.AssetID != s.tokenDn {
				continue
			}
			changes = append(changes, market.PriceChange{
				AssetID: c.AssetID,
				BestBid: parseWSDecimal(c.BestBid),
				BestAsk: parseWSDecimal(c.BestAsk),
			})
		}
		s.book.ApplyPriceChange(changes)

	default:
		s.logger.Debug("ignoring ws event", "type", env.EventType)
	}
}

func (s *BookStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			s.connMu.Unlock()
			if err != nil {
				s.logger.Warn("ping failed", "error", err)
				s.Close()
				return
			}
		}
	}
}

func (s *BookStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

func toLevels(in []wsBookLevel) []market.Level {
	out := make([]market.Level, 0, len(in))
	for _, l := range in {
		p, err := decimal.NewFromString(strings.TrimSpace(l.Price))
		if err != nil {
			continue
		}
		sz, err := decimal.NewFromString(strings.TrimSpace(l.Size))
		if err != nil {
			continue
		}
		out = append(out, market.Level{Price: p, Size: sz})
	}
	return out
}

// parseWSDecimal parses a WS price field; empty and zero values mean "absent".
func parseWSDecimal(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsZero() {
		return nil
	}
	return &d
}
