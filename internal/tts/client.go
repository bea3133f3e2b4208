// Package tts wraps the external text-to-speech service, which returns
// synthesized speech as an Ogg/Opus stream ready for voice playback.
package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/httpx"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// Client posts synthesis requests to the TTS endpoint.
type Client struct {
	URL          string
	AuthToken    string
	LanguageCode string
	VoiceName    string
	HTTP         *http.Client
	Timeout      time.Duration
}

// NewClient returns a synthesis client with its own HTTP client.
func NewClient(rawURL, authToken, languageCode, voiceName string, timeout time.Duration) *Client {
	return &Client{
		URL:          rawURL,
		AuthToken:    authToken,
		LanguageCode: languageCode,
		VoiceName:    voiceName,
		HTTP:         &http.Client{Timeout: timeout},
		Timeout:      timeout,
	}
}

type synthesizeRequest struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code,omitempty"`
	VoiceName    string `json:"voice_name,omitempty"`
}

// Synthesize converts text to Ogg/Opus audio bytes.
func (c *Client) Synthesize(ctx context.Context, text, correlationID string) ([]byte, error) {
	if c == nil || c.URL == "" {
		return nil, fmt.Errorf("tts client not configured")
	}
	body, err := json.Marshal(synthesizeRequest{
		Text:         text,
		LanguageCode: c.LanguageCode,
		VoiceName:    c.VoiceName,
	})
	if err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := httpx.PostWithRetries(ctx, c.HTTP, c.URL, "application/json", body, c.AuthToken, 2, correlationID)
	if err != nil {
		logging.Debugw("tts: POST failed", "err", err, "correlation_id", correlationID)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		logging.Warnw("tts: returned non-2xx", "status", resp.StatusCode, "correlation_id", correlationID)
		return nil, fmt.Errorf("tts returned status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.Debugw("tts: synthesized", "chars", len(text), "bytes", len(audio), "correlation_id", correlationID)
	return audio, nil
}
