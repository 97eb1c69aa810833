package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"terminalconnect-backend/models"
)

// DefaultTimeout bounds every gateway call.
const DefaultTimeout = 60 * time.Second

const apiKeyHeader = "x-api-key"

// ErrTimeout is returned when the gateway does not answer within the timeout.
var ErrTimeout = errors.New("gateway request timed out")

// HTTPError covers non-2xx answers and transport failures. StatusCode is 0
// when no response was received.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Caller is the single operation the orchestration layer needs from the gateway.
type Caller interface {
	Call(ctx context.Context, gctx models.Context, method, endpoint string, payload any) (map[string]any, error)
}

// Client performs JSON calls against the terminal gateway. It never retries.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client with the given timeout (DefaultTimeout when <= 0).
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		logger:     logger,
	}
}

// Call sends payload (nil for no body) to gctx.BaseURL+endpoint and decodes
// the JSON answer. Numbers are kept as json.Number so they can be forwarded
// unchanged.
func (c *Client) Call(ctx context.Context, gctx models.Context, method, endpoint string, payload any) (map[string]any, error) {
	url := strings.TrimRight(gctx.BaseURL, "/") + endpoint

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode gateway payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &HTTPError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, gctx.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("gateway call timed out",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil, ErrTimeout
		}
		c.logger.Error("gateway call failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return nil, &HTTPError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	c.logger.Info("gateway call",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, url, raw)}
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: "invalid JSON in gateway response"}
	}
	return out, nil
}

// errorMessage prefers the gateway's {"message": ...} and falls back to the
// transport-style status text.
func errorMessage(status int, url string, raw []byte) string {
	var body struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg, ok := body.Message.(string); ok && msg != "" {
			return msg
		}
	}
	kind := "Server Error"
	if status < 500 {
		kind = "Client Error"
	}
	return fmt.Sprintf("%d %s: %s for url: %s", status, kind, http.StatusText(status), url)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
