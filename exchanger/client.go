// Package exchanger is a client for the PremiumExchanger user API.
package exchanger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	coreconfig "github.com/m3rciful/swapbot/core/config"
	"github.com/m3rciful/swapbot/core/httpclient"
	"github.com/m3rciful/swapbot/core/logger"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client talks to the exchanger API. It is safe for concurrent use.
type Client struct {
	baseURL     string
	login       string
	key         string
	lang        string
	callbackURL string

	http    *http.Client
	limiter *rate.Limiter
	apiID   func() string
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIID sets the generator of create_bid api_id values.
func WithAPIID(fn func() string) Option {
	return func(cl *Client) {
		if fn != nil {
			cl.apiID = fn
		}
	}
}

// New builds a client from cfg. cfg is expected to be normalized.
func New(cfg coreconfig.ExchangerConfig, opts ...Option) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:     base,
		login:       cfg.Login,
		key:         cfg.Key,
		lang:        cfg.Lang,
		callbackURL: cfg.CallbackURL,
		http:        httpclient.Build(httpclient.Options{Timeout: timeout}),
		apiID:       newAPIID,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call posts params to method and decodes the envelope payload into out.
// out may be nil.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	start := time.Now()
	err := c.do(ctx, method, params, out)
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		logger.Warn(ctx, logger.CompExchanger, "exchanger.call", attrs...)
		return err
	}
	logger.Debug(ctx, logger.CompExchanger, "exchanger.call", attrs...)
	return nil
}

func (c *Client) do(ctx context.Context, method string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("exchanger: %s: rate limit: %w", method, err)
		}
	}
	if params == nil {
		params = url.Values{}
	}
	body := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("exchanger: %s: build request: %w", method, err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("API-LOGIN", c.login)
	req.Header.Set("API-KEY", c.key)
	if c.lang != "" {
		req.Header.Set("API-LANG", c.lang)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exchanger: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("exchanger: %s: read body: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method: method,
			Status: resp.StatusCode,
			Text:   logger.SanitizeLimit(string(raw), 200),
		}
	}
	return decodeEnvelope(method, raw, out)
}

func decodeEnvelope(method string, raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyResponse, method)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("exchanger: %s: invalid JSON: %w", method, err)
	}
	if code := strings.TrimSpace(env.Error.String()); code != "" && code != "0" {
		text := env.ErrorText.String()
		return &APIError{Method: method, Code: code, Text: text, kind: classify(text)}
	}
	if out == nil {
		return nil
	}
	payload := []byte(env.Data)
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = raw
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("exchanger: %s: decode payload: %w", method, err)
	}
	return nil
}
