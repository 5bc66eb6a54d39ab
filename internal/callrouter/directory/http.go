package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config configures the HTTP directory client.
type Config struct {
	// URL is the lookup endpoint. The caller number is sent as ?phone=.
	URL string
	// Timeout bounds a single request. Default: 5s.
	Timeout time.Duration
	// MaxRetries is the number of retries for transient failures. Default: 2.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay, doubled per attempt. Default: 200ms.
	RetryBaseDelay time.Duration
}

// HTTPLookup queries the office directory over HTTP.
type HTTPLookup struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTPLookup creates a directory client.
func NewHTTPLookup(cfg Config, logger *slog.Logger) (*HTTPLookup, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("directory: URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("directory: invalid URL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLookup{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Lookup fetches and validates the operator record for caller.
func (l *HTTPLookup) Lookup(ctx context.Context, caller string) (*Operator, error) {
	if caller == "" {
		return nil, ErrEmptyCaller
	}

	body, err := l.fetch(ctx, caller)
	if err != nil {
		return nil, err
	}

	op, err := Decode(body)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("[Directory] Lookup complete",
		"caller", caller,
		"resolved", op != nil,
	)
	return op, nil
}

func (l *HTTPLookup) fetch(ctx context.Context, caller string) ([]byte, error) {
	u, _ := url.Parse(l.cfg.URL)
	q := u.Query()
	q.Set("phone", caller)
	u.RawQuery = q.Encode()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("directory: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("directory: request: %w", err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("directory: read response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		if !isRetryableStatus(resp.StatusCode) || attempt >= l.cfg.MaxRetries {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       string(bytes.TrimSpace(body)),
			}
		}

		delay := retryDelay(resp, l.cfg.RetryBaseDelay, attempt)
		l.logger.Debug("[Directory] Retrying lookup",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

func retryDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return baseDelay * (1 << uint(attempt))
}

// Decode validates a directory response body. Empty bodies and the JSON
// values null, false and "" mean no operator.
func Decode(body []byte) (*Operator, error) {
	body = bytes.TrimSpace(body)
	switch string(body) {
	case "", "null", "false", `""`:
		return nil, nil
	}

	var op Operator
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if err := op.validate(); err != nil {
		return nil, err
	}
	return &op, nil
}

func (o *Operator) validate() error {
	var problems []string
	if len(o.Phones) == 0 {
		problems = append(problems, "phones must be a non-empty list")
	}
	for i, p := range o.Phones {
		if PhoneResource(p) == "" {
			problems = append(problems, fmt.Sprintf("phones[%d] %q is not a phone address", i, p))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
