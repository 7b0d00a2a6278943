package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// ClientConfig tunes the HTTP client.
type ClientConfig struct {
	BaseURL    string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration

	// Key signs submitted calls. Without it placeBet and claimWinnings are
	// rejected by the server.
	Key *ecdsa.PrivateKey
}

// DefaultClientConfig returns client defaults for a ledger at baseURL.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:    baseURL,
		RatePerSec: 20,
		Burst:      10,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RetryWait:  500 * time.Millisecond,
	}
}

// Client talks to a remote ledger with rate limiting and retries. It
// implements ports.LedgerClient.
//
// Reads are retried on network errors, 429 and 5xx. Submit is only retried on
// 429, which the server answers before touching the ledger: a lost response to
// an accepted placeBet must not be replayed blindly.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	dialer  websocket.Dialer
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig(cfg.BaseURL)
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

var _ ports.LedgerClient = (*Client)(nil)

// Address returns the account of the signing key, or the zero address.
func (c *Client) Address() common.Address {
	if c.cfg.Key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.cfg.Key.PublicKey)
}

// Submit sends call. With a key configured, an empty Caller defaults to the
// key's address and every attempt is signed with a fresh timestamp.
func (c *Client) Submit(ctx context.Context, call domain.Call) (domain.Receipt, error) {
	if c.cfg.Key != nil && call.Caller == (common.Address{}) {
		call.Caller = c.Address()
	}
	b, err := json.Marshal(call)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%s: marshal body: %w", call.Op, err)
	}
	var receipt domain.Receipt
	err = c.do(ctx, string(call.Op), false, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/calls", bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.cfg.Key != nil {
			ts := time.Now().UnixMilli()
			sig, err := SignCall(c.cfg.Key, b, ts)
			if err != nil {
				return nil, err
			}
			req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
			req.Header.Set(HeaderSignature, sig)
		}
		return c.http.Do(req)
	}, &receipt)
	return receipt, err
}

func (c *Client) CurrentRound(ctx context.Context) (domain.RoundView, error) {
	var v domain.RoundView
	return v, c.get(ctx, "/v1/round", &v)
}

func (c *Client) RoundAt(ctx context.Context, id uint64) (domain.RoundSummary, error) {
	var s domain.RoundSummary
	return s, c.get(ctx, fmt.Sprintf("/v1/rounds/%d", id), &s)
}

func (c *Client) Positions(ctx context.Context) (domain.Positions, error) {
	var p domain.Positions
	return p, c.get(ctx, "/v1/positions", &p)
}

func (c *Client) TotalBets(ctx context.Context) (domain.Pools, error) {
	var p domain.Pools
	return p, c.get(ctx, "/v1/pools", &p)
}

func (c *Client) UserBets(ctx context.Context, roundID uint64, addr common.Address) ([]domain.Bet, error) {
	var bets []domain.Bet
	return bets, c.get(ctx, fmt.Sprintf("/v1/rounds/%d/bets/%s", roundID, addr.Hex()), &bets)
}

func (c *Client) UserWinnings(ctx context.Context, roundID uint64, addr common.Address) (decimal.Decimal, error) {
	var body amountBody
	err := c.get(ctx, fmt.Sprintf("/v1/rounds/%d/winnings/%s", roundID, addr.Hex()), &body)
	return body.Amount, err
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	var body amountBody
	err := c.get(ctx, fmt.Sprintf("/v1/accounts/%s/balance", addr.Hex()), &body)
	return body.Amount, err
}

func (c *Client) CheckUpkeep(ctx context.Context) (domain.Upkeep, error) {
	var up domain.Upkeep
	return up, c.get(ctx, "/v1/upkeep", &up)
}

// Subscribe opens the websocket event stream. The channel closes when ctx is
// done or the connection drops.
func (c *Client) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	url := "ws" + strings.TrimPrefix(c.cfg.BaseURL, "http") + "/v1/events"
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, domain.NewTransportError("subscribe", err)
	}

	ch := make(chan domain.Event, 256)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var ev domain.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					slog.Warn("event stream closed", "err", err)
				}
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// get performs a rate-limited, retried GET.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, "GET "+path, true, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// do runs fn with exponential backoff. Network errors and 5xx are only
// retried when idempotent is set; 429 is always retried.
func (c *Client) do(ctx context.Context, op string, idempotent bool, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", op, err)
		}

		resp, err := fn()
		if err != nil {
			lastErr = domain.NewTransportError(op, err)
			if !idempotent || ctx.Err() != nil {
				return lastErr
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by ledger", "op", op, "attempt", attempt+1)
			lastErr = domain.NewTransportError(op, errors.New("rate limited"))
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			var body errorBody
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if json.Unmarshal(raw, &body) != nil {
				body.Error = strings.TrimSpace(string(raw))
			}
			lastErr = decodeError(op, resp.StatusCode, body)
			if resp.StatusCode >= 500 && idempotent {
				c.sleep(ctx, attempt)
				continue
			}
			return lastErr
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}
	return fmt.Errorf("%s: exhausted %d retries: %w", op, c.cfg.MaxRetries, lastErr)
}

// sleep backs off exponentially, honoring ctx.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.RetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
