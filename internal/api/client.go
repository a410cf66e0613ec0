package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/example/roadside-assist/internal/observability"
)

// Client performs authenticated calls against the roadside backend. It
// neither retries nor caches.
type Client struct {
	BaseURL    string
	PathSuffix string // appended to every path, ".php" for the legacy backend
	HTTP       *http.Client
	Limiter    *rate.Limiter // optional outbound throttle
	Logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  slog.Default(),
	}
}

// envelope is embedded in every response body.
type envelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) get(ctx context.Context, path, token string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, token, q, nil, out)
}

func (c *Client) post(ctx context.Context, path, token string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, token, nil, body, out)
}

// do issues one request. token may be empty only for the auth endpoints.
func (c *Client) do(ctx context.Context, method, path, token string, q url.Values, body, out any) (err error) {
	start := time.Now()
	defer func() {
		observability.APICallDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		observability.APICallsTotal.WithLabelValues(path, outcome(err)).Inc()
	}()

	if c.Limiter != nil {
		if werr := c.Limiter.Wait(ctx); werr != nil {
			return &Error{Kind: KindNetwork, Op: path, Cause: werr}
		}
	}

	u := c.BaseURL + "/" + strings.TrimLeft(path, "/") + c.PathSuffix
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, merr := json.Marshal(body)
		if merr != nil {
			return &Error{Kind: KindDecode, Op: path, Cause: merr}
		}
		rd = bytes.NewReader(b)
	}
	req, rerr := http.NewRequestWithContext(ctx, method, u, rd)
	if rerr != nil {
		return &Error{Kind: KindNetwork, Op: path, Cause: rerr}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, derr := c.httpClient().Do(req)
	if derr != nil {
		return &Error{Kind: KindNetwork, Op: path, Cause: derr}
	}
	defer resp.Body.Close()

	raw, rerr := io.ReadAll(resp.Body)
	if rerr != nil {
		return &Error{Kind: KindNetwork, Op: path, Code: resp.StatusCode, Cause: rerr}
	}

	var env envelope
	var envErr error
	empty := len(bytes.TrimSpace(raw)) == 0
	if !empty {
		envErr = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Op: path, Code: resp.StatusCode, Message: env.Error}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			e.Kind = KindUnauthorized
		case http.StatusNotFound:
			e.Kind = KindNotFound
		default:
			e.Kind = KindServer
		}
		c.logger().Debug("api call failed", "path", path, "status", resp.StatusCode, "error", env.Error)
		return e
	}
	if envErr != nil {
		return &Error{Kind: KindDecode, Op: path, Code: resp.StatusCode, Cause: envErr}
	}
	if env.Error != "" {
		return &Error{Kind: KindServer, Op: path, Code: resp.StatusCode, Message: env.Error}
	}
	if out == nil {
		return nil
	}
	if empty {
		return &Error{Kind: KindDecode, Op: path, Code: resp.StatusCode, Cause: io.ErrUnexpectedEOF}
	}
	if uerr := json.Unmarshal(raw, out); uerr != nil {
		return &Error{Kind: KindDecode, Op: path, Code: resp.StatusCode, Cause: uerr}
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "error"
}
