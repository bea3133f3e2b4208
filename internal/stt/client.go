// Package stt wraps the external speech-to-text service. Input is raw
// PCM16LE mono at 16kHz, already downmixed and decimated by the voice
// pipeline; the client wraps it in a WAV container and posts it.
package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/httpx"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

const (
	// SampleRate is the rate the service expects.
	SampleRate = 16000
	channels   = 1
	bitDepth   = 16
)

// Client posts WAV audio to the recognizer endpoint.
type Client struct {
	URL          string
	AuthToken    string
	LanguageCode string
	HTTP         *http.Client
	Timeout      time.Duration
}

// NewClient returns a recognizer client with its own HTTP client.
func NewClient(rawURL, authToken, languageCode string, timeout time.Duration) *Client {
	return &Client{
		URL:          rawURL,
		AuthToken:    authToken,
		LanguageCode: languageCode,
		HTTP:         &http.Client{Timeout: timeout},
		Timeout:      timeout,
	}
}

// buildWAV prepends a RIFF/WAVE header for 16-bit PCM to the sample data.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Recognize transcribes one utterance of 16kHz mono PCM and returns the
// trimmed transcript, which may be empty when the service heard nothing.
func (c *Client) Recognize(ctx context.Context, pcm []byte, correlationID string) (string, error) {
	if c == nil || c.URL == "" {
		return "", fmt.Errorf("stt client not configured")
	}

	endpoint := c.URL
	if u, err := url.Parse(c.URL); err == nil && c.LanguageCode != "" {
		q := u.Query()
		q.Set("language", c.LanguageCode)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	wav := buildWAV(pcm, SampleRate, channels, bitDepth)
	samples := len(pcm) / 2
	logging.Debugw("stt: sending audio", "bytes", len(pcm), "samples", samples,
		"duration_ms", samples*1000/SampleRate, "correlation_id", correlationID)

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := httpx.PostWithRetries(ctx, c.HTTP, endpoint, "audio/wav", wav, c.AuthToken, 3, correlationID)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		return "", fmt.Errorf("stt returned status %d", resp.StatusCode)
	}

	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("stt decode response: %w", err)
	}
	parts := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		if len(r.Alternatives) > 0 {
			if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " "), nil
}
