package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agent-engine/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second

	backoffMult = 2.0
)

// DefaultQuoteTTL bounds quote cache staleness. Quotes are indicative, so
// a short window is acceptable; simulation re-prices before execution.
const DefaultQuoteTTL = 2 * time.Second

// HTTPGateway implements Gateway against the aggregator's REST API.
type HTTPGateway struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration

	cache    *redis.Client
	cacheTTL time.Duration
}

// GatewayOption configures HTTPGateway.
type GatewayOption func(*HTTPGateway)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		g.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for idempotent calls.
func WithMaxRetries(n int) GatewayOption {
	return func(g *HTTPGateway) {
		g.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		g.retryDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay.
func WithMaxDelay(d time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		g.maxDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *HTTPGateway) {
		g.client = client
	}
}

// WithQuoteCache caches quote responses in Redis for ttl. A nil client
// disables caching.
func WithQuoteCache(rdb *redis.Client, ttl time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		g.cache = rdb
		if ttl > 0 {
			g.cacheTTL = ttl
		}
	}
}

// NewHTTPGateway creates a gateway for the aggregator at baseURL.
func NewHTTPGateway(baseURL string, opts ...GatewayOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		cacheTTL:   DefaultQuoteTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Gateway = (*HTTPGateway)(nil)

// apiError is the aggregator's error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("aggregator error %s: %s", e.Code, e.Message)
}

// mapAPIError converts known aggregator error codes to sentinels.
func mapAPIError(e *apiError) error {
	switch e.Code {
	case "NO_ROUTE":
		return fmt.Errorf("%w: %s", ErrQuoteUnavailable, e.Message)
	case "INSUFFICIENT_LIQUIDITY":
		return fmt.Errorf("%w: %s", ErrLiquidityInsufficient, e.Message)
	default:
		return e
	}
}

// get performs an idempotent GET with retries and exponential backoff.
func (g *HTTPGateway) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	u := g.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	delay := g.retryDelay
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		err = g.do(req, result)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do executes one HTTP round trip and decodes the response.
func (g *HTTPGateway) do(req *http.Request, result interface{}) error {
	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return errRateLimited
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", errServerFault, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return mapAPIError(&apiErr)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

var (
	errRateLimited = errors.New("exchange: rate limited (429)")
	errServerFault = errors.New("exchange: server error")
)

func retryable(err error) bool {
	return errors.Is(err, errRateLimited) ||
		errors.Is(err, errServerFault) ||
		errors.Is(err, ErrNetworkTimeout)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func quoteCacheKey(inputMint, outputMint string, amountIn int64) string {
	return fmt.Sprintf("quote:%s:%s:%d", inputMint, outputMint, amountIn)
}

// Quote returns an indicative price, served from the Redis cache when a
// fresh entry exists.
func (g *HTTPGateway) Quote(ctx context.Context, inputMint, outputMint string, amountIn int64) (*QuoteResult, error) {
	if amountIn <= 0 {
		return nil, fmt.Errorf("quote amount must be positive, got %d", amountIn)
	}

	key := quoteCacheKey(inputMint, outputMint, amountIn)
	if g.cache != nil {
		if raw, err := g.cache.Get(ctx, key).Bytes(); err == nil {
			var cached QuoteResult
			if json.Unmarshal(raw, &cached) == nil {
				return &cached, nil
			}
		}
	}

	query := url.Values{}
	query.Set("inputMint", inputMint)
	query.Set("outputMint", outputMint)
	query.Set("amount", strconv.FormatInt(amountIn, 10))

	var result quoteResponse
	if err := g.get(ctx, "/v1/quote", query, &result); err != nil {
		return nil, err
	}
	if result.OutAmount <= 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrQuoteUnavailable, inputMint, outputMint)
	}

	quote := &QuoteResult{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       amountIn,
		ExpectedOut:    result.OutAmount,
		PriceImpactBps: result.PriceImpactBps,
		Route:          result.Route,
	}

	if g.cache != nil {
		if raw, err := json.Marshal(quote); err == nil {
			// Best effort; a cache fault never fails the quote.
			g.cache.Set(ctx, key, raw, g.cacheTTL)
		}
	}
	return quote, nil
}

type quoteResponse struct {
	OutAmount      int64  `json:"outAmount"`
	PriceImpactBps int64  `json:"priceImpactBps"`
	Route          string `json:"route"`
}

// Simulate dry-runs the swap described by order.
func (g *HTTPGateway) Simulate(ctx context.Context, order *domain.TradeOrder) (*SimulationResult, error) {
	reqBody, err := json.Marshal(simulateRequest{
		InputMint:   order.InputMint,
		OutputMint:  order.OutputMint,
		Amount:      order.AmountIn,
		SlippageBps: order.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// Simulation is idempotent, so it gets the same retry loop as quotes.
	delay := g.retryDelay
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/simulate", bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		var result simulateResponse
		err = g.do(req, &result)
		if err == nil {
			return &SimulationResult{
				EstimatedOut:   result.EstimatedOut,
				PriceImpactBps: result.PriceImpactBps,
				Feasible:       result.Feasible,
				Reason:         result.Reason,
			}, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type simulateRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      int64  `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
}

type simulateResponse struct {
	EstimatedOut   int64  `json:"estimatedOut"`
	PriceImpactBps int64  `json:"priceImpactBps"`
	Feasible       bool   `json:"feasible"`
	Reason         string `json:"reason"`
}

// Swap broadcasts the signed transaction. It is attempted exactly once:
// any failure after the request may have left the swap in flight, so it
// surfaces as ErrAmbiguousSwapState for the caller to reconcile.
func (g *HTTPGateway) Swap(ctx context.Context, order *domain.TradeOrder, serializedTx string) (*SwapReceipt, error) {
	reqBody, err := json.Marshal(swapRequest{
		OrderID:       order.OrderID,
		SignedTxB64:   serializedTx,
		InputMint:     order.InputMint,
		OutputMint:    order.OutputMint,
		Amount:        order.AmountIn,
		SlippageBps:   order.SlippageBps,
		SkipPreflight: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/swap", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result swapResponse
	if err := g.do(req, &result); err != nil {
		if errors.Is(err, ErrNetworkTimeout) || errors.Is(err, errServerFault) || errors.Is(err, errRateLimited) {
			return nil, fmt.Errorf("%w: order %s: %v", ErrAmbiguousSwapState, order.OrderID, err)
		}
		return nil, err
	}

	return &SwapReceipt{
		TxSignature: result.TxSignature,
		RealizedIn:  result.RealizedIn,
		RealizedOut: result.RealizedOut,
	}, nil
}

type swapRequest struct {
	OrderID       string `json:"orderId"`
	SignedTxB64   string `json:"signedTx"`
	InputMint     string `json:"inputMint"`
	OutputMint    string `json:"outputMint"`
	Amount        int64  `json:"amount"`
	SlippageBps   int    `json:"slippageBps"`
	SkipPreflight bool   `json:"skipPreflight"`
}

type swapResponse struct {
	TxSignature string `json:"txSignature"`
	RealizedIn  int64  `json:"realizedIn"`
	RealizedOut int64  `json:"realizedOut"`
}

// ResolveSwap looks up a broadcast swap by order ID.
func (g *HTTPGateway) ResolveSwap(ctx context.Context, orderID string) (*SwapReceipt, error) {
	var result resolveResponse
	err := g.get(ctx, "/v1/swap/"+url.PathEscape(orderID), nil, &result)
	if err != nil {
		return nil, err
	}
	if !result.Found {
		return nil, fmt.Errorf("%w: order %s", ErrSwapUnresolved, orderID)
	}
	return &SwapReceipt{
		TxSignature: result.TxSignature,
		RealizedIn:  result.RealizedIn,
		RealizedOut: result.RealizedOut,
	}, nil
}

type resolveResponse struct {
	Found       bool   `json:"found"`
	TxSignature string `json:"txSignature"`
	RealizedIn  int64  `json:"realizedIn"`
	RealizedOut int64  `json:"realizedOut"`
}

// Tradable probes whether the venue can route the pair at all.
func (g *HTTPGateway) Tradable(ctx context.Context, inputMint, outputMint string) (bool, error) {
	query := url.Values{}
	query.Set("inputMint", inputMint)
	query.Set("outputMint", outputMint)

	var result struct {
		Tradable bool `json:"tradable"`
	}
	if err := g.get(ctx, "/v1/tradable", query, &result); err != nil {
		if errors.Is(err, ErrQuoteUnavailable) {
			return false, nil
		}
		return false, err
	}
	return result.Tradable, nil
}
