// Package agent implements the client side of the conversational agent
// service: a synchronous run-session call and a websocket streaming variant.
// Both address the agent by session resource name; session IDs must already
// satisfy the contract enforced by the session package.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

var (
	// ErrRequestFailed marks a non-2xx response from the agent service.
	ErrRequestFailed = errors.New("agent request failed")
	// ErrTimedOut marks an agent call that exceeded its deadline.
	ErrTimedOut = errors.New("agent request timed out")
)

// Caller is the turn contract shared by the sync and streaming clients.
type Caller interface {
	Call(ctx context.Context, sessionID, text string) (string, error)
}

// Client calls the agent service's run-session endpoint.
type Client struct {
	BaseURL     string
	AppResource string // projects/{p}/locations/{l}/apps/{a}
	Deployment  string // optional full deployment resource name
	AuthToken   string
	HTTP        *http.Client
	Timeout     time.Duration
}

// NewClient returns a Client with a dedicated HTTP client sized for the
// configured per-call timeout.
func NewClient(baseURL, appResource, deployment, authToken string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AppResource: appResource,
		Deployment:  deployment,
		AuthToken:   authToken,
		HTTP:        &http.Client{Timeout: timeout},
		Timeout:     timeout,
	}
}

type runRequest struct {
	Config runConfig  `json:"config"`
	Inputs []runInput `json:"inputs"`
}

type runConfig struct {
	Session    string `json:"session"`
	Deployment string `json:"deployment,omitempty"`
}

type runInput struct {
	Text string `json:"text"`
}

type runResponse struct {
	Outputs []struct {
		Text string `json:"text"`
	} `json:"outputs"`
}

func (c *Client) endpoint(sessionID string) string {
	return fmt.Sprintf("%s/%s/sessions/%s:runSession", c.BaseURL, c.AppResource, sessionID)
}

// Call sends one user message under the given session and returns the
// agent's reply text. Transient failures (network errors, 5xx) are retried
// with backoff inside the caller's deadline; 4xx responses fail immediately.
// The returned error wraps ErrTimedOut or ErrRequestFailed so callers can
// classify with errors.Is.
func (c *Client) Call(ctx context.Context, sessionID, text string) (string, error) {
	payload := runRequest{
		Config: runConfig{
			Session:    c.AppResource + "/sessions/" + sessionID,
			Deployment: c.Deployment,
		},
		Inputs: []runInput{{Text: text}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrRequestFailed, err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(sessionID), bytes.NewReader(body))
		if rerr != nil {
			return "", fmt.Errorf("%w: %v", ErrRequestFailed, rerr)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.AuthToken)
		}

		resp, derr := c.HTTP.Do(req)
		if derr != nil {
			if isTimeout(ctx, derr) {
				return "", fmt.Errorf("%w: %v", ErrTimedOut, derr)
			}
			lastErr = derr
			logging.Debugw("agent: POST attempt failed", "attempt", attempt+1, "err", derr, "session_id", sessionID)
			if attempt < 2 {
				if !sleepCtx(ctx, time.Duration(200*(1<<attempt))*time.Millisecond) {
					return "", fmt.Errorf("%w: %v", ErrTimedOut, ctx.Err())
				}
				continue
			}
			return "", fmt.Errorf("%w: %v", ErrRequestFailed, lastErr)
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			logging.Warnw("agent: server error", "status", resp.StatusCode, "attempt", attempt+1, "session_id", sessionID)
			if attempt < 2 {
				if !sleepCtx(ctx, time.Duration(200*(1<<attempt))*time.Millisecond) {
					return "", fmt.Errorf("%w: %v", ErrTimedOut, ctx.Err())
				}
				continue
			}
			return "", fmt.Errorf("%w: %v", ErrRequestFailed, lastErr)
		}
		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return "", fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
		}

		var out runResponse
		decErr := json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if decErr != nil {
			return "", fmt.Errorf("%w: decode response: %v", ErrRequestFailed, decErr)
		}
		texts := make([]string, 0, len(out.Outputs))
		for _, o := range out.Outputs {
			if o.Text != "" {
				texts = append(texts, o.Text)
			}
		}
		return strings.Join(texts, "\n"), nil
	}
	return "", fmt.Errorf("%w: %v", ErrRequestFailed, lastErr)
}

// isTimeout classifies a transport error as a deadline hit, either via the
// request context or the HTTP client's own timeout.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// sleepCtx sleeps for d unless ctx expires first; returns false on expiry.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
