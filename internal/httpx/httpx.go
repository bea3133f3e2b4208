// Package httpx holds small HTTP helpers shared by the speech clients.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// PostWithRetries posts a payload with retry/backoff and returns the
// response. Non-2xx responses are returned as-is; only transport errors are
// retried. Caller must close resp.Body.
func PostWithRetries(ctx context.Context, client *http.Client, url, contentType string, body []byte, authToken string, attempts int, correlationID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Content-Type", contentType)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			logging.Debugw("postWithRetries: POST attempt failed", "attempt", i+1, "err", err, "correlation_id", correlationID)
			if i < attempts-1 && ctx.Err() == nil {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
				}
				continue
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, fmt.Errorf("no response after %d attempts: %w", attempts, lastErr)
}
