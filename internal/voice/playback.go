package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jonas747/ogg"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// Synthesizer converts reply text into Ogg/Opus audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, correlationID string) ([]byte, error)
}

// MaxSynthesisChars caps the text sent to synthesis in one request.
const MaxSynthesisChars = 5000

// TruncateForSynthesis enforces the synthesis cap, truncating with a
// trailing ellipsis rather than sending overlong text whole.
func TruncateForSynthesis(text string) string {
	r := []rune(text)
	if len(r) <= MaxSynthesisChars {
		return text
	}
	return string(r[:MaxSynthesisChars]) + "..."
}

// Player streams Ogg/Opus audio into one room's connection. Playback is
// paced at the 20ms Opus frame interval; completion is signaled exactly
// once per Play call, on finish, stop, or error.
type Player struct {
	conn    Conn
	playing atomic.Bool
	stop    chan struct{}
}

func newPlayer(conn Conn) *Player {
	return &Player{conn: conn, stop: make(chan struct{})}
}

// IsPlaying reports whether a Play call is in flight.
func (p *Player) IsPlaying() bool { return p.playing.Load() }

// Stop aborts the current and all future Play calls on this player. Used
// only during session teardown.
func (p *Player) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

// demuxOpus extracts the individual Opus packets from an Ogg container,
// dropping the OpusHead and OpusTags header packets. Packets are
// reassembled from the pages' lacing tables; real encoders pack many
// packets per page and the transport needs them one at a time.
func demuxOpus(data []byte) ([][]byte, error) {
	dec := ogg.NewPacketDecoder(ogg.NewDecoder(bytes.NewReader(data)))
	var packets [][]byte
	for {
		packet, _, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return packets, nil
		}
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(packet, []byte("OpusHead")) || bytes.HasPrefix(packet, []byte("OpusTags")) {
			continue
		}
		packets = append(packets, packet)
	}
}

// Play demuxes the Ogg container and streams its Opus packets until the
// audio ends, ctx expires, or the player is stopped. It blocks for the
// duration of playback and always clears the speaking state before
// returning.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	if !p.playing.CompareAndSwap(false, true) {
		return fmt.Errorf("player busy")
	}
	defer p.playing.Store(false)

	packets, err := demuxOpus(audio)
	if err != nil {
		return fmt.Errorf("parse ogg: %w", err)
	}

	if err := p.conn.Speaking(true); err != nil {
		return fmt.Errorf("set speaking: %w", err)
	}
	defer func() {
		if err := p.conn.Speaking(false); err != nil {
			logging.Debugw("playback: clear speaking failed", "err", err)
		}
	}()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for _, frame := range packets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case <-ticker.C:
		}
		select {
		case p.conn.SendOpus() <- frame:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		}
	}
	return nil
}
