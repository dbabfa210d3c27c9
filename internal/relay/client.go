package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnconfigured = errors.New("answer service URL not configured")
	ErrNoAnswer     = errors.New("answer service response contained no answer")
)

// StatusError reports a non-success HTTP status from the answer service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("answer service returned status %d", e.Code)
}

// Client calls the external answer service: a JSON POST of
// {sender, query} answered by {answer}. Every call is a bounded round
// trip; callers must not hold any shared state while one is in flight.
type Client struct {
	url   string
	httpc *http.Client
	log   *zap.Logger
}

type request struct {
	Sender string `json:"sender"`
	Query  string `json:"query"`
}

type response struct {
	Answer string `json:"answer"`
}

// New creates a client for the answer service at url. timeout bounds the
// full round trip including body read.
func New(url string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		url:   url,
		httpc: &http.Client{Timeout: timeout},
		log:   log,
	}
}

// Ask forwards a message to the answer service and returns its reply.
func (c *Client) Ask(ctx context.Context, sender, query string) (string, error) {
	if c.url == "" {
		return "", ErrUnconfigured
	}

	body, err := json.Marshal(request{Sender: sender, Query: query})
	if err != nil {
		return "", fmt.Errorf("encode answer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("contact answer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode answer response: %w", err)
	}
	if out.Answer == "" {
		return "", ErrNoAnswer
	}

	c.log.Debug("answer service replied",
		zap.String("sender", sender), zap.Int("answer_len", len(out.Answer)))
	return out.Answer, nil
}
