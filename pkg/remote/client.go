// Package remote is the JSON-over-HTTP client shared by the collaborators
// that run as separate services: the intent parser, the code generator and
// the remote provisioning backend. Every call runs behind a circuit breaker
// and inside an otel span, and carries the trace context to the server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError is a non-2xx response.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Options configures a Client.
type Options struct {
	// Name identifies the remote service in logs, spans and breaker events.
	Name    string
	BaseURL string
	Token   string
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. OpenTimeout is how long it stays open.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	HTTPClient *http.Client
	Logger     zerolog.Logger

	// OnStateChange is called on breaker transitions.
	OnStateChange func(name, from, to string)
}

// Client calls a JSON HTTP service.
type Client struct {
	name    string
	baseURL string
	token   string
	http    *http.Client
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// New returns a client for the service at opts.BaseURL.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    httpClient,
		tracer:  otel.Tracer("cloudpilot/" + opts.Name),
		logger:  opts.Logger.With().Str("component", "remote").Str("service", opts.Name).Logger(),
	}

	threshold := opts.FailureThreshold
	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors say nothing about the health of the service.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500 || se.Code == http.StatusNotImplemented
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			if opts.OnStateChange != nil {
				opts.OnStateChange(name, from.String(), to.String())
			}
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(settings)
	return c
}

// Name returns the service name.
func (c *Client) Name() string { return c.name }

// State returns the breaker state: closed, half-open or open.
func (c *Client) State() string { return c.breaker.State().String() }

// Post sends in as JSON to path and decodes the response into out.
func (c *Client) Post(ctx context.Context, span, path string, in, out interface{}) error {
	return c.Do(ctx, span, http.MethodPost, path, in, out)
}

// Get fetches path and decodes the response into out.
func (c *Client) Get(ctx context.Context, span, path string, out interface{}) error {
	return c.Do(ctx, span, http.MethodGet, path, nil, out)
}

// Do performs one call through the breaker. out may be nil.
func (c *Client) Do(ctx context.Context, spanName, method, path string, in, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("remote.service", c.name),
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer span.End()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("Remote call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Service: c.name, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	return nil
}
