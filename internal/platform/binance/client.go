// Package binance talks to the Binance spot REST and market-data WebSocket
// APIs. Only the public endpoints needed to discover trading pairs and stream
// top-of-book quotes are covered.
package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// RestClient is the REST client for the Binance spot API.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRestClient creates a REST client. requestsPerSecond bounds outbound
// request rate; values <= 0 disable limiting.
//
// baseURL is the API root, e.g. "https://api.binance.com".
func NewRestClient(baseURL string, requestsPerSecond float64) *RestClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &RestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// ExchangeInfo returns every symbol listed on the exchange with its base and
// quote asset. Callers filter on Status.
func (c *RestClient) ExchangeInfo(ctx context.Context) ([]domain.Pair, error) {
	body, err := c.doGet(ctx, "/api/v3/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("binance/rest: exchange info: %w", err)
	}
	pairs, err := ParseExchangeInfo(body)
	if err != nil {
		return nil, fmt.Errorf("binance/rest: %w", err)
	}
	return pairs, nil
}

// ParseExchangeInfo decodes the symbols array of an exchangeInfo response.
// Entries without a symbol, base or quote asset are skipped.
func ParseExchangeInfo(body []byte) ([]domain.Pair, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode exchange info: invalid json")
	}
	symbols := gjson.GetBytes(body, "symbols")
	if !symbols.IsArray() {
		return nil, fmt.Errorf("decode exchange info: missing symbols")
	}

	var pairs []domain.Pair
	symbols.ForEach(func(_, s gjson.Result) bool {
		p := domain.Pair{
			Symbol:     s.Get("symbol").String(),
			BaseAsset:  s.Get("baseAsset").String(),
			QuoteAsset: s.Get("quoteAsset").String(),
			Status:     s.Get("status").String(),
		}
		if p.Symbol != "" && p.BaseAsset != "" && p.QuoteAsset != "" {
			pairs = append(pairs, p)
		}
		return true
	})
	return pairs, nil
}

func (c *RestClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses onto domain errors. 418 is returned
// by the exchange once an IP ban is in effect after ignoring 429s.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := gjson.GetBytes(body, "msg").String()
	if msg == "" {
		msg = string(body)
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests, http.StatusTeapot:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
