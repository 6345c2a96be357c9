// Package scoring provides an HTTP client for an external priority scoring
// engine. The queue service treats the engine as an optional stand-in for its
// local calculator and falls back locally when the engine misbehaves.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/queue"
)

// Request is the wire format the scoring engine accepts. Boolean attributes
// travel as 0/1 integers.
type Request struct {
	Age         int `json:"age"`
	Severity    int `json:"severity"`
	Rural       int `json:"rural"`
	Chronic     int `json:"chronic"`
	WaitingTime int `json:"waiting_time"`
}

// Response is the scoring engine's reply.
type Response struct {
	PriorityScore int    `json:"priority_score"`
	Reason        string `json:"reason"`
}

// Client calls the external scoring engine. It satisfies the queue service's
// Scorer interface.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient builds a scoring engine client against the given base URL. The
// timeout bounds a single request; retries are left to the caller's fallback
// policy because a stale score is better than a slow queue read.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, logger: logger}
}

// Score asks the engine to score one patient snapshot.
func (c *Client) Score(ctx context.Context, s queue.Snapshot) (int, string, error) {
	req := Request{
		Age:         s.Age,
		Severity:    s.Severity,
		WaitingTime: s.WaitingMinutes,
	}
	if s.Rural {
		req.Rural = 1
	}
	if s.Chronic {
		req.Chronic = 1
	}

	var result Response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/score")
	if err != nil {
		return 0, "", fmt.Errorf("scoring engine request: %w", err)
	}
	if resp.IsError() {
		return 0, "", fmt.Errorf("scoring engine returned status %d", resp.StatusCode())
	}

	if result.PriorityScore < 0 || result.PriorityScore > 100 {
		c.logger.Warn().
			Int("priority_score", result.PriorityScore).
			Msg("scoring engine returned out-of-range score")
		return 0, "", fmt.Errorf("scoring engine returned out-of-range score %d", result.PriorityScore)
	}

	return result.PriorityScore, result.Reason, nil
}

// Health probes the engine's health endpoint. The server calls it once at
// startup to log engine availability; a failure is informational because
// every scoring call falls back locally anyway.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("scoring engine health check: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("scoring engine health check returned status %d", resp.StatusCode())
	}
	return nil
}
