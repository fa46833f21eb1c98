package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"interval-sniper/pkg/types"
)

func TestCurrentSlug(t *testing.T) {
	t.Parallel()

	// 1772169315 lies inside the window starting at 1772169300.
	slug := CurrentSlug(types.AssetBTC5m, 1772169315)
	if slug != "btc-updown-5m-1772169300" {
		t.Errorf("slug = %q", slug)
	}
	slug = CurrentSlug(types.AssetSOL5m, 1772169600)
	if slug != "sol-updown-5m-1772169600" {
		t.Errorf("slug = %q", slug)
	}
}

func TestCurrentIntervalStartIsMultipleOf300(t *testing.T) {
	t.Parallel()

	for _, now := range []int64{0, 1, 299, 300, 1772169315, 1772169599} {
		if start := CurrentIntervalStart(now); start%300 != 0 {
			t.Errorf("interval start %d not a multiple of 300 (now=%d)", start, now)
		}
	}
}

func newResolverForServer(t *testing.T, srv *httptest.Server) *Resolver {
	t.Helper()
	return NewResolver(srv.URL, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestFetchBySlugWithOutcomeLabels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/slug/btc-updown-5m-1772169300" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"conditionId": "0xcond",
			"endDate":     "2026-02-27T05:20:00Z",
			// Reversed array order: labels must win.
			"clobTokenIds": `["222", "111"]`,
			"tokens": []map[string]string{
				{"token_id": "111", "outcome": "Up"},
				{"token_id": "222", "outcome": "Down"},
			},
		})
	}))
	defer srv.Close()

	m, err := newResolverForServer(t, srv).FetchBySlug(context.Background(), "btc-updown-5m-1772169300")
	if err != nil {
		t.Fatalf("FetchBySlug: %v", err)
	}
	if m.TokenIDUp != "111" || m.TokenIDDown != "222" {
		t.Errorf("tokens = (%s, %s), want (111, 222)", m.TokenIDUp, m.TokenIDDown)
	}
	if m.CloseTime%300 != 0 {
		t.Errorf("close time %d not aligned to interval", m.CloseTime)
	}
	if m.IntervalStart != m.CloseTime-300 {
		t.Errorf("interval start = %d, want close-300", m.IntervalStart)
	}
}

func TestFetchBySlugFallsBackToTokenArrayOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"conditionId":  "0xcond",
			"endDate":      "1772169600",
			"clobTokenIds": `["up-id", "down-id"]`,
		})
	}))
	defer srv.Close()

	m, err := newResolverForServer(t, srv).FetchBySlug(context.Background(), "btc-updown-5m-1772169300")
	if err != nil {
		t.Fatalf("FetchBySlug: %v", err)
	}
	if m.TokenIDUp != "up-id" || m.TokenIDDown != "down-id" {
		t.Errorf("tokens = (%s, %s)", m.TokenIDUp, m.TokenIDDown)
	}
	if m.CloseTime != 1772169600 {
		t.Errorf("close time = %d, want 1772169600 (unix seconds accepted)", m.CloseTime)
	}
}

func TestFetchBySlugEventFallbackOn404(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/markets/slug/x" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/events/slug/x" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"markets": []map[string]any{{
					"conditionId":  "0xcond",
					"endDate":      "2026-02-27T05:20:00Z",
					"clobTokenIds": `["a", "b"]`,
				}},
			})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m, err := newResolverForServer(t, srv).FetchBySlug(context.Background(), "x")
	if err != nil {
		t.Fatalf("FetchBySlug: %v", err)
	}
	if m.TokenIDUp != "a" || m.TokenIDDown != "b" {
		t.Errorf("tokens = (%s, %s)", m.TokenIDUp, m.TokenIDDown)
	}
}

func TestFetchBySlugRejectsAmbiguousTokens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"conditionId":  "0xcond",
			"endDate":      "1772169600",
			"clobTokenIds": `["same", "same"]`,
		})
	}))
	defer srv.Close()

	if _, err := newResolverForServer(t, srv).FetchBySlug(context.Background(), "x"); err == nil {
		t.Fatal("expected error for duplicate token IDs")
	}
}
