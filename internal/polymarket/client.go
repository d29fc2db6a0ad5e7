// Package polymarket fetches market metadata, order books, and rendered
// event pages from the Polymarket Gamma and CLOB APIs.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quarterwatch/internal/analyzer"
	"quarterwatch/internal/config"
	"quarterwatch/internal/window"
)

// ErrNotFound means the window has no corresponding market yet.
var ErrNotFound = errors.New("market not found")

// ErrUnavailable means a network or decoding failure; callers skip the tick.
var ErrUnavailable = errors.New("source unavailable")

// Market is the metadata the tracker needs for one window's market.
type Market struct {
	Slug        string
	Question    string
	EndTime     time.Time
	UpTokenID   string
	DownTokenID string
}

// Client is a thin REST client over the Gamma and CLOB APIs.
type Client struct {
	gammaURL string
	clobURL  string
	pageURL  string
	http     *http.Client
}

func NewClient(cfg config.PolymarketConfig) *Client {
	return &Client{
		gammaURL: cfg.GammaURL,
		clobURL:  cfg.ClobURL,
		pageURL:  cfg.EventPageURL,
		http:     &http.Client{Timeout: cfg.FetchTimeout.Duration},
	}
}

// gammaMarket mirrors the Gamma API market shape. Numeric fields arrive as
// strings and clobTokenIds is a JSON array encoded as a string.
type gammaMarket struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	Slug         string `json:"slug"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	EndDate      string `json:"endDate"`
	Outcomes     string `json:"outcomes"`
	ClobTokenIDs string `json:"clobTokenIds"`
}

// FetchMarket looks up the market whose slug matches the window id.
// Returns ErrNotFound when the market does not exist yet.
func (c *Client) FetchMarket(ctx context.Context, id window.ID) (*Market, error) {
	u := fmt.Sprintf("%s/markets?slug=%s", c.gammaURL, url.QueryEscape(string(id)))

	var markets []gammaMarket
	if err := c.getJSON(ctx, u, &markets); err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("window %s: %w", id, ErrNotFound)
	}

	m := markets[0]

	var tokenIDs []string
	if m.ClobTokenIDs != "" {
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
			return nil, fmt.Errorf("parsing clobTokenIds for %s: %w", m.Slug, err)
		}
	}
	if len(tokenIDs) < 2 {
		return nil, fmt.Errorf("window %s: market has %d tokens: %w", id, len(tokenIDs), ErrNotFound)
	}

	endTime, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		// Fall back to the window arithmetic when the API date is malformed.
		endTime, err = id.EndTime()
		if err != nil {
			return nil, err
		}
	}

	// Gamma lists outcome tokens in outcome order; the Up/Down markets
	// report ["Up", "Down"].
	return &Market{
		Slug:        m.Slug,
		Question:    m.Question,
		EndTime:     endTime,
		UpTokenID:   tokenIDs[0],
		DownTokenID: tokenIDs[1],
	}, nil
}

// clobBook mirrors the CLOB /book response; prices and sizes are strings.
type clobBook struct {
	Bids []clobLevel `json:"bids"`
	Asks []clobLevel `json:"asks"`
}

type clobLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// FetchOrderBook fetches the resting order book for one outcome token.
func (c *Client) FetchOrderBook(ctx context.Context, tokenID string) (analyzer.Book, error) {
	u := fmt.Sprintf("%s/book?token_id=%s", c.clobURL, url.QueryEscape(tokenID))

	var raw clobBook
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return analyzer.Book{}, err
	}
	return parseBook(raw)
}

func parseBook(raw clobBook) (analyzer.Book, error) {
	var book analyzer.Book
	var err error
	if book.Bids, err = parseLevels(raw.Bids); err != nil {
		return analyzer.Book{}, fmt.Errorf("parsing bids: %w", err)
	}
	if book.Asks, err = parseLevels(raw.Asks); err != nil {
		return analyzer.Book{}, fmt.Errorf("parsing asks: %w", err)
	}
	return book, nil
}

func parseLevels(raw []clobLevel) ([]analyzer.Level, error) {
	levels := make([]analyzer.Level, 0, len(raw))
	for _, l := range raw {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", l.Price, err)
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", l.Size, err)
		}
		levels = append(levels, analyzer.Level{Price: price, Size: size})
	}
	return levels, nil
}

// FetchPageState downloads the rendered event page for a window. The
// reconciler extracts the open price from this blob; nothing else reads it.
func (c *Client) FetchPageState(ctx context.Context, id window.ID) (string, error) {
	u := fmt.Sprintf("%s/%s", c.pageURL, url.PathEscape(string(id)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page state: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page state status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading page state: %w: %w", ErrUnavailable, err)
	}
	return string(body), nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w: %w", u, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s: %w", resp.StatusCode, u, ErrUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w: %w", u, ErrUnavailable, err)
	}
	return nil
}
