package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"binance-market-stream-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	maxRetries     = 3

	SymbolStatusTrading = "TRADING"
)

// RestClientInterface defines the REST calls the feed needs before it
// opens the trade stream.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetExchangeInfo(ctx context.Context, symbols []string) (*ExchangeInfoResponse, error)
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff func(attempt int) time.Duration
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().
		SetBaseURL(url).
		SetTimeout(10 * time.Second)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger.Named("binance-rest"),
		limiter: limiter,
		backoff: exponentialBackoff,
	}
}

// exponentialBackoff yields 1s, 2s, 4s, ...
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// GetServerTime fetches the current server time from Binance.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.RawResponse != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			if !shouldRetry {
				return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
			}
			if err == nil {
				err = fmt.Errorf("status %s", resp.Status())
			}
		} else {
			// Network or other client-side errors
			shouldRetry = true
		}

		if retryAfter == 0 {
			retryAfter = c.backoff(i)
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// ExchangeInfoResponse represents the response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// GetExchangeInfo fetches symbol information. An empty symbols slice asks
// for the whole exchange.
func (c *RestClient) GetExchangeInfo(ctx context.Context, symbols []string) (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetContext(ctx).
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")
	if len(symbols) > 0 {
		req.SetQueryParam("symbols", `["`+strings.Join(upper(symbols), `","`)+`"]`)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// ValidateSymbols checks that every symbol exists and is currently trading.
func ValidateSymbols(ctx context.Context, client RestClientInterface, symbols []string) error {
	info, err := client.GetExchangeInfo(ctx, symbols)
	if err != nil {
		return err
	}

	status := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		status[s.Symbol] = s.Status
	}

	var bad []string
	for _, s := range upper(symbols) {
		st, ok := status[s]
		switch {
		case !ok:
			bad = append(bad, s+" (unknown)")
		case st != SymbolStatusTrading:
			bad = append(bad, s+" ("+st+")")
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("symbols not tradable: %s", strings.Join(bad, ", "))
	}
	return nil
}

// ClockSkew returns local time minus exchange time.
func ClockSkew(ctx context.Context, client RestClientInterface, now func() time.Time) (time.Duration, error) {
	serverTime, err := client.GetServerTime(ctx)
	if err != nil {
		return 0, err
	}
	return now().Sub(time.UnixMilli(serverTime)), nil
}

func upper(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToUpper(s)
	}
	return out
}
