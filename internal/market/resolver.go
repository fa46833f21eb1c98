package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"interval-sniper/pkg/types"
)

// IntervalSeconds is the length of one Up/Down market window.
const IntervalSeconds = 300

// CurrentIntervalStart returns floor(now/300)*300 — the number encoded in
// the market slug.
func CurrentIntervalStart(nowUnix int64) int64 {
	return (nowUnix / IntervalSeconds) * IntervalSeconds
}

// CurrentSlug builds the slug for the interval the wall clock is inside.
func CurrentSlug(asset types.IntervalAsset, nowUnix int64) string {
	return fmt.Sprintf("%s-%d", asset.SlugPrefix(), CurrentIntervalStart(nowUnix))
}

// gammaMarket is the subset of the Gamma API market shape the resolver needs.
type gammaMarket struct {
	ID           string       `json:"id"`
	ConditionID  string       `json:"conditionId"`
	EndDate      string       `json:"endDate"`
	EndDateISO   string       `json:"endDateIso"`
	ClobTokenIds string       `json:"clobTokenIds"` // stringified JSON array
	Tokens       []gammaToken `json:"tokens"`
}

type gammaToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

type gammaEvent struct {
	Markets []gammaMarket `json:"markets"`
}

// Resolver fetches interval markets from the Gamma API by slug.
type Resolver struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewResolver creates a resolver pointed at the Gamma API base URL.
func NewResolver(gammaBaseURL string, logger *slog.Logger) *Resolver {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(gammaBaseURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("User-Agent", "interval-sniper")

	return &Resolver{
		http:   client,
		logger: logger.With("component", "resolver"),
	}
}

// FetchBySlug resolves a market: GET /markets/slug/{slug}, falling back to
// /events/slug/{slug} (whose first market has the same shape) on 404.
func (r *Resolver) FetchBySlug(ctx context.Context, slug string) (*types.ResolvedMarket, error) {
	var m gammaMarket
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&m).
		Get("/markets/slug/" + url.PathEscape(slug))
	if err != nil {
		return nil, fmt.Errorf("gamma market request: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		var ev gammaEvent
		resp, err = r.http.R().
			SetContext(ctx).
			SetResult(&ev).
			Get("/events/slug/" + url.PathEscape(slug))
		if err != nil {
			return nil, fmt.Errorf("gamma event request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("gamma event: status %d: %s", resp.StatusCode(), resp.String())
		}
		if len(ev.Markets) == 0 {
			return nil, fmt.Errorf("event %q has no markets", slug)
		}
		m = ev.Markets[0]
	} else if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("gamma market: status %d: %s", resp.StatusCode(), resp.String())
	}

	return parseGammaMarket(&m, slug)
}

func parseGammaMarket(m *gammaMarket, slug string) (*types.ResolvedMarket, error) {
	conditionID := strings.TrimSpace(m.ConditionID)
	if conditionID == "" {
		conditionID = strings.TrimSpace(m.ID)
	}
	if conditionID == "" {
		return nil, fmt.Errorf("market %q has no conditionId", slug)
	}

	endDate := m.EndDate
	if !strings.Contains(endDate, "T") && m.EndDateISO != "" {
		endDate = m.EndDateISO
	}
	closeTime, err := parseEndDate(endDate)
	if err != nil {
		return nil, fmt.Errorf("market %q: %w", slug, err)
	}

	up, down, err := parseTokenIDs(m)
	if err != nil {
		return nil, fmt.Errorf("market %q: %w", slug, err)
	}

	return &types.ResolvedMarket{
		Slug:          slug,
		ConditionID:   conditionID,
		TokenIDUp:     up,
		TokenIDDown:   down,
		CloseTime:     closeTime,
		IntervalStart: closeTime - IntervalSeconds,
	}, nil
}

// parseEndDate accepts either Unix seconds or an RFC-3339 timestamp.
func parseEndDate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing endDate")
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unix, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid endDate %q: %w", s, err)
	}
	return t.Unix(), nil
}

// parseTokenIDs extracts the Up and Down token IDs. Outcome labels win when
// present; otherwise the documented [Yes, No] order of clobTokenIds applies.
func parseTokenIDs(m *gammaMarket) (up, down string, err error) {
	if len(m.Tokens) >= 2 {
		for _, t := range m.Tokens {
			id := strings.TrimSpace(t.TokenID)
			if id == "" {
				continue
			}
			switch strings.ToLower(t.Outcome) {
			case "up", "yes":
				up = id
			case "down", "no":
				down = id
			}
		}
		// Both or neither: a single labelled token cannot be disambiguated.
		if up == "" || down == "" {
			up, down = "", ""
		}
	}

	if up == "" || down == "" {
		ids := parseClobTokenIds(m.ClobTokenIds)
		if len(ids) >= 2 {
			up, down = ids[0], ids[1]
		}
	}

	if up == "" || down == "" {
		return "", "", fmt.Errorf("could not resolve Up/Down token IDs (clobTokenIds=%q)", m.ClobTokenIds)
	}
	if up == down {
		return "", "", fmt.Errorf("outcome token IDs are not distinct")
	}
	return up, down, nil
}

func parseClobTokenIds(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err == nil {
			return ids
		}
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
