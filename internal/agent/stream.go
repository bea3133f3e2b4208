package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// StreamClient runs a session turn over the agent service's bidirectional
// websocket endpoint instead of the synchronous REST call. The turn contract
// is the same: one user text in, one concatenated reply out.
type StreamClient struct {
	BaseURL     string
	AppResource string
	Deployment  string
	AuthToken   string
	Timeout     time.Duration
	Dialer      *websocket.Dialer
}

// NewStreamClient returns a StreamClient using the default websocket dialer.
func NewStreamClient(baseURL, appResource, deployment, authToken string, timeout time.Duration) *StreamClient {
	return &StreamClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AppResource: appResource,
		Deployment:  deployment,
		AuthToken:   authToken,
		Timeout:     timeout,
		Dialer:      websocket.DefaultDialer,
	}
}

type streamFrame struct {
	Type       string `json:"type"`
	Session    string `json:"session,omitempty"`
	Deployment string `json:"deployment,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	frameConfig       = "config"
	frameText         = "text"
	frameTurnComplete = "turn_complete"
	frameError        = "error"
)

// wsEndpoint rewrites the HTTP base URL to its websocket scheme and appends
// the bidi-session path for the given session.
func (c *StreamClient) wsEndpoint(sessionID string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + c.AppResource + "/sessions/" + sessionID + ":bidiSession"
	return u.String(), nil
}

// Call opens a websocket to the agent, sends a config frame then the user
// text, and accumulates reply text frames until the service signals
// turn_complete. A missing turn_complete within the deadline yields
// ErrTimedOut; the partial text accumulated so far is discarded.
func (c *StreamClient) Call(ctx context.Context, sessionID, text string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := c.wsEndpoint(sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: bad base url: %v", ErrRequestFailed, err)
	}

	hdr := map[string][]string{}
	if c.AuthToken != "" {
		hdr["Authorization"] = []string{"Bearer " + c.AuthToken}
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, hdr)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: dial: %v", ErrTimedOut, err)
		}
		return "", fmt.Errorf("%w: dial: %v", ErrRequestFailed, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	cfg := streamFrame{
		Type:       frameConfig,
		Session:    c.AppResource + "/sessions/" + sessionID,
		Deployment: c.Deployment,
	}
	if err := conn.WriteJSON(cfg); err != nil {
		return "", fmt.Errorf("%w: send config: %v", ErrRequestFailed, err)
	}
	if err := conn.WriteJSON(streamFrame{Type: frameText, Text: text}); err != nil {
		return "", fmt.Errorf("%w: send text: %v", ErrRequestFailed, err)
	}

	var reply strings.Builder
	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var ne interface{ Timeout() bool }
			if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
				return "", fmt.Errorf("%w: no turn_complete before deadline", ErrTimedOut)
			}
			return "", fmt.Errorf("%w: read: %v", ErrRequestFailed, err)
		}
		switch frame.Type {
		case frameText:
			reply.WriteString(frame.Text)
		case frameTurnComplete:
			return reply.String(), nil
		case frameError:
			return "", fmt.Errorf("%w: %s", ErrRequestFailed, frame.Error)
		default:
			logging.Debugw("agent: ignoring stream frame", "type", frame.Type, "session_id", sessionID)
		}
	}
}
