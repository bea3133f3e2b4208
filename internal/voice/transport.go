package voice

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// Conn is one live voice connection to a channel. The Manager owns exactly
// one per room; implementations other than the Discord one exist only for
// tests.
type Conn interface {
	ChannelID() string
	IsReady() bool
	Speaking(bool) error
	SendOpus() chan<- []byte
	RecvOpus() <-chan *Packet
	// OnSpeakingUpdate registers a callback mapping SSRC to user ID; the
	// transport delivers one call per speaking-state change.
	OnSpeakingUpdate(func(ssrc uint32, userID string, speaking bool))
	Close() error
}

// Transport establishes voice connections. Join blocks until the connection
// is ready or ctx expires.
type Transport interface {
	Join(ctx context.Context, roomID, channelID string) (Conn, error)
}

// discordTransport joins voice channels through a discordgo session.
type discordTransport struct {
	s *discordgo.Session
}

// NewDiscordTransport wraps a discordgo session as a Transport.
func NewDiscordTransport(s *discordgo.Session) Transport {
	return &discordTransport{s: s}
}

func (t *discordTransport) Join(ctx context.Context, roomID, channelID string) (Conn, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joinResult, 1)
	go func() {
		vc, err := t.s.ChannelVoiceJoin(roomID, channelID, false, false)
		ch <- joinResult{vc, err}
	}()
	select {
	case <-ctx.Done():
		// The join may still complete later; disconnect it when it does.
		go func() {
			if r := <-ch; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		c := &discordConn{vc: r.vc, recv: make(chan *Packet, 64)}
		r.vc.AddHandler(c.handleSpeakingUpdate)
		go c.pumpRecv()
		return c, nil
	}
}

// discordConn adapts *discordgo.VoiceConnection to Conn.
type discordConn struct {
	vc   *discordgo.VoiceConnection
	recv chan *Packet

	mu        sync.Mutex
	onSpeak   func(ssrc uint32, userID string, speaking bool)
	closeOnce sync.Once
}

func (c *discordConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c *discordConn) IsReady() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

func (c *discordConn) Speaking(b bool) error { return c.vc.Speaking(b) }

func (c *discordConn) SendOpus() chan<- []byte { return c.vc.OpusSend }

func (c *discordConn) RecvOpus() <-chan *Packet { return c.recv }

func (c *discordConn) OnSpeakingUpdate(fn func(ssrc uint32, userID string, speaking bool)) {
	c.mu.Lock()
	c.onSpeak = fn
	c.mu.Unlock()
}

func (c *discordConn) handleSpeakingUpdate(vc *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	c.mu.Lock()
	fn := c.onSpeak
	c.mu.Unlock()
	if fn != nil {
		fn(uint32(su.SSRC), su.UserID, su.Speaking)
	}
}

// pumpRecv forwards packets from discordgo until OpusRecv closes, dropping
// when the consumer falls behind rather than blocking the UDP reader.
func (c *discordConn) pumpRecv() {
	defer close(c.recv)
	for pkt := range c.vc.OpusRecv {
		p := &Packet{SSRC: pkt.SSRC, Opus: pkt.Opus}
		select {
		case c.recv <- p:
		default:
			logging.Debugw("voice: recv queue full, dropping packet", "ssrc", pkt.SSRC)
		}
	}
}

func (c *discordConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.vc.Disconnect()
	})
	return err
}

// waitReady polls a connection until it reports ready or the deadline
// passes. discordgo flips Ready during reconnects, so this is also used for
// the post-disconnect self-heal window.
func waitReady(ctx context.Context, conn Conn, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if conn.IsReady() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
