package voice

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// opusDecoder is the slice of the Opus decoder API the capture uses.
type opusDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// speakerCapture accumulates one in-flight utterance for a single SSRC.
// Each speaker gets its own decoder; Opus decoder state is per-stream.
type speakerCapture struct {
	dec           opusDecoder
	userID        string
	buf           []byte
	last          time.Time
	createdAt     time.Time
	correlationID string
}

// Capture turns the packet stream of one room's connection into discrete
// utterances: per-speaker decode and buffering, with trailing silence as
// the utterance terminator.
type Capture struct {
	roomID        string
	silenceWindow time.Duration
	handler       func(Utterance)
	newDecoder    func() (opusDecoder, error)

	mu        sync.Mutex
	speakers  map[uint32]*speakerCapture
	ssrcUsers map[uint32]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCapture returns a Capture for one room. handler receives each completed
// utterance on its own goroutine; speakers complete independently.
func NewCapture(roomID string, silenceWindow time.Duration, handler func(Utterance)) *Capture {
	if silenceWindow <= 0 {
		silenceWindow = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Capture{
		roomID:        roomID,
		silenceWindow: silenceWindow,
		handler:       handler,
		newDecoder: func() (opusDecoder, error) {
			return opus.NewDecoder(SampleRate, Channels)
		},
		speakers:      make(map[uint32]*speakerCapture),
		ssrcUsers:     make(map[uint32]string),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start attaches to a connection and runs the packet reader and the silence
// sweeper until Close or the connection's receive stream ends.
func (c *Capture) Start(conn Conn) {
	conn.OnSpeakingUpdate(c.handleSpeakingUpdate)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case pkt, ok := <-conn.RecvOpus():
				if !ok {
					return
				}
				c.handlePacket(pkt)
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.flushExpired()
			}
		}
	}()
	logging.Debugw("capture: started", logging.RoomFields(c.roomID, conn.ChannelID())...)
}

// Close stops the workers and flushes whatever is still buffered.
func (c *Capture) Close() {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	ssrcs := make([]uint32, 0, len(c.speakers))
	for ssrc := range c.speakers {
		ssrcs = append(ssrcs, ssrc)
	}
	c.mu.Unlock()
	for _, ssrc := range ssrcs {
		c.flush(ssrc)
	}
}

func (c *Capture) handleSpeakingUpdate(ssrc uint32, userID string, speaking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ssrcUsers[ssrc] = userID
	if sc, ok := c.speakers[ssrc]; ok && sc.userID == "" {
		sc.userID = userID
	}
}

func (c *Capture) handlePacket(pkt *Packet) {
	c.mu.Lock()
	sc, ok := c.speakers[pkt.SSRC]
	if !ok {
		dec, err := c.newDecoder()
		if err != nil {
			c.mu.Unlock()
			logging.Errorw("capture: decoder init failed", "ssrc", pkt.SSRC, "err", err)
			return
		}
		now := time.Now()
		sc = &speakerCapture{
			dec:           dec,
			userID:        c.ssrcUsers[pkt.SSRC],
			last:          now,
			createdAt:     now,
			correlationID: uuid.NewString(),
		}
		c.speakers[pkt.SSRC] = sc
		metricCaptureStarts.Inc()
	}
	c.mu.Unlock()

	pcm := make([]int16, FrameSamples*Channels)
	n, err := sc.dec.Decode(pkt.Opus, pcm)
	if err != nil {
		metricDecodeErrors.Inc()
		logging.Errorw("capture: opus decode error, abandoning utterance", "ssrc", pkt.SSRC, "err", err)
		c.mu.Lock()
		delete(c.speakers, pkt.SSRC)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	// The sweeper may have flushed this speaker while we were decoding
	// outside the lock; a late frame belongs to the finished utterance.
	if cur, still := c.speakers[pkt.SSRC]; !still || cur != sc {
		c.mu.Unlock()
		return
	}
	for _, s := range pcm[:n*Channels] {
		sc.buf = append(sc.buf, byte(s), byte(s>>8))
	}
	sc.last = time.Now()
	c.mu.Unlock()
}

// flushExpired ends every utterance whose speaker has been silent for the
// configured window.
func (c *Capture) flushExpired() {
	now := time.Now()
	var expired []uint32
	c.mu.Lock()
	for ssrc, sc := range c.speakers {
		if now.Sub(sc.last) >= c.silenceWindow {
			expired = append(expired, ssrc)
		}
	}
	c.mu.Unlock()
	for _, ssrc := range expired {
		c.flush(ssrc)
	}
}

func (c *Capture) flush(ssrc uint32) {
	c.mu.Lock()
	sc, ok := c.speakers[ssrc]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.speakers, ssrc)
	buf := sc.buf
	userID := sc.userID
	if userID == "" {
		userID = c.ssrcUsers[ssrc]
	}
	c.mu.Unlock()

	if len(buf) < MinUtteranceBytes {
		logging.Debugw("capture: discarding short utterance",
			"ssrc", ssrc, "bytes", len(buf), "correlation_id", sc.correlationID)
		metricUtterances.WithLabelValues("too_short").Inc()
		return
	}
	if userID == "" {
		logging.Warnw("capture: dropping utterance with unknown speaker",
			"ssrc", ssrc, "bytes", len(buf), "correlation_id", sc.correlationID)
		metricUtterances.WithLabelValues("unknown_speaker").Inc()
		return
	}

	u := Utterance{
		RoomID:        c.roomID,
		SpeakerID:     userID,
		PCM:           buf,
		CorrelationID: sc.correlationID,
		CapturedAt:    sc.createdAt,
	}
	logging.Infow("capture: utterance complete", "ssrc", ssrc, "user_id", userID,
		"bytes", len(u.PCM), "duration_ms", u.Duration().Milliseconds(),
		"correlation_id", u.CorrelationID)
	metricUtterances.WithLabelValues("captured").Inc()
	if c.handler != nil {
		go c.handler(u)
	}
}
