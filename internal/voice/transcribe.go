package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// Recognizer converts 16kHz mono PCM16LE into text.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte, correlationID string) (string, error)
}

// Transcriber adapts a captured 48kHz stereo utterance to the recognizer's
// 16kHz mono input format and runs recognition.
type Transcriber struct {
	rec Recognizer
}

// NewTranscriber wraps a recognizer.
func NewTranscriber(rec Recognizer) *Transcriber {
	return &Transcriber{rec: rec}
}

// DownmixStereo averages interleaved L/R samples into mono, rounding half
// away from zero. Deliberately not loudness-weighted.
func DownmixStereo(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		sum := int(stereo[2*i]) + int(stereo[2*i+1])
		if sum >= 0 {
			mono[i] = int16((sum + 1) / 2)
		} else {
			mono[i] = int16((sum - 1) / 2)
		}
	}
	return mono
}

// Decimate3 downsamples 48kHz to 16kHz by keeping every third sample.
// Nearest-sample decimation, no anti-alias filter; simplicity over fidelity.
func Decimate3(mono []int16) []int16 {
	out := make([]int16, 0, (len(mono)+2)/3)
	for i := 0; i < len(mono); i += 3 {
		out = append(out, mono[i])
	}
	return out
}

func bytesToSamples(b []byte) []int16 {
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return s
}

func samplesToBytes(s []int16) []byte {
	b := make([]byte, len(s)*2)
	for i, v := range s {
		b[2*i] = byte(v)
		b[2*i+1] = byte(v >> 8)
	}
	return b
}

// Transcribe downmixes, decimates, and recognizes one utterance. An empty
// transcript is returned as ("", nil); recognizer failures are wrapped in
// ErrTranscriptionFailed.
func (t *Transcriber) Transcribe(ctx context.Context, u Utterance) (string, error) {
	mono := DownmixStereo(bytesToSamples(u.PCM))
	low := Decimate3(mono)
	text, err := t.rec.Recognize(ctx, samplesToBytes(low), u.CorrelationID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	text = strings.TrimSpace(text)
	logging.Debugw("transcribe: result", "user_id", u.SpeakerID, "chars", len(text),
		"correlation_id", u.CorrelationID)
	return text, nil
}
