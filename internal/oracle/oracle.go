// Package oracle resolves the BTC spot price from a Pyth price feed with an
// ordered list of alternate endpoints and a secondary exchange ticker fallback.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"quarterwatch/internal/config"
)

// ErrUnavailable means every configured source failed and no acceptably
// fresh last-known value exists.
var ErrUnavailable = errors.New("oracle unavailable")

// Quote is one observed spot price.
type Quote struct {
	Price      float64
	ObservedAt time.Time
}

// Age reports how old the quote is.
func (q Quote) Age() time.Duration {
	return time.Since(q.ObservedAt)
}

// Source queries the primary feed, then alternates in order, keeping the
// last successful value for staleness-bounded reuse. Single-owner state:
// only the tracker's control loop calls it.
type Source struct {
	cfg  config.OracleConfig
	http *http.Client
	last Quote
}

func New(cfg config.OracleConfig) *Source {
	return &Source{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout.Duration},
	}
}

// Price iterates the primary endpoint and its alternates in order and
// returns the first success. On total failure it returns the last known
// value if it is younger than the staleness bound.
func (s *Source) Price(ctx context.Context) (Quote, error) {
	endpoints := append([]string{s.cfg.PrimaryURL}, s.cfg.FallbackURLs...)

	for _, endpoint := range endpoints {
		q, err := s.fetch(ctx, endpoint)
		if err != nil {
			slog.Debug("oracle endpoint failed", "endpoint", endpoint, "error", err)
			continue
		}
		s.last = q
		return q, nil
	}

	if !s.last.ObservedAt.IsZero() && s.last.Age() <= s.cfg.Staleness.Duration {
		slog.Warn("all oracle endpoints failed, using last known value", "age", s.last.Age())
		return s.last, nil
	}
	return Quote{}, ErrUnavailable
}

// Resolve is Price plus the secondary spot-ticker fallback, consulted only
// once the primary chain has failed and the last value is stale.
func (s *Source) Resolve(ctx context.Context) (Quote, error) {
	q, err := s.Price(ctx)
	if err == nil {
		return q, nil
	}

	price, spotErr := s.SpotPrice(ctx)
	if spotErr != nil {
		return Quote{}, fmt.Errorf("%w: secondary spot source: %w", ErrUnavailable, spotErr)
	}
	slog.Warn("oracle stale, using secondary spot source", "price", price)
	return Quote{Price: price, ObservedAt: time.Now()}, nil
}

// pythUpdate mirrors the Hermes price update shape: integer price string
// scaled by a decimal exponent.
type pythUpdate struct {
	Parsed []pythFeed `json:"parsed"`
}

type pythFeed struct {
	ID    string    `json:"id"`
	Price pythPrice `json:"price"`
}

type pythPrice struct {
	Price       string `json:"price"`
	Expo        int    `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

func (s *Source) fetch(ctx context.Context, endpoint string) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetching oracle price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	var update pythUpdate
	if err := json.NewDecoder(resp.Body).Decode(&update); err != nil {
		return Quote{}, fmt.Errorf("decoding oracle response: %w", err)
	}
	if len(update.Parsed) == 0 {
		return Quote{}, fmt.Errorf("oracle response has no parsed feeds")
	}

	feed := update.Parsed[0].Price
	price, err := parsePythPrice(feed.Price, feed.Expo)
	if err != nil {
		return Quote{}, err
	}
	if price <= 0 {
		return Quote{}, fmt.Errorf("oracle price %v not positive", price)
	}

	observed := time.Unix(feed.PublishTime, 0)
	if feed.PublishTime == 0 {
		observed = time.Now()
	}
	return Quote{Price: price, ObservedAt: observed}, nil
}

// parsePythPrice converts Pyth's fixed-point price string and exponent.
func parsePythPrice(priceStr string, expo int) (float64, error) {
	priceInt, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing pyth price %q: %w", priceStr, err)
	}
	return float64(priceInt) * math.Pow10(expo), nil
}

// spotTicker mirrors the Binance ticker/price response.
type spotTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// SpotPrice queries the secondary exchange ticker. Independent of the
// Pyth chain by design: a Pyth outage must not take both sources down.
func (s *Source) SpotPrice(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.SpotURL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching spot price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("spot source status %d", resp.StatusCode)
	}

	var ticker spotTicker
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return 0, fmt.Errorf("decoding spot response: %w", err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing spot price %q: %w", ticker.Price, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("spot price %v not positive", price)
	}
	return price, nil
}
