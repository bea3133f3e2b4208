package voice

import "time"

// Audio format constants for Discord voice: the decoder always produces
// 48kHz stereo PCM16LE, 960 samples per channel per 20ms frame.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameSamples  = 960
	bytesPerSec   = SampleRate * Channels * 2
	frameDuration = 20 * time.Millisecond

	// MinUtteranceBytes is the 0.5s floor below which a captured utterance
	// is discarded as noise without transcription.
	MinUtteranceBytes = bytesPerSec / 2
)

// Utterance is one silence-terminated span of a single speaker's audio,
// decoded to 48kHz stereo PCM16LE.
type Utterance struct {
	RoomID        string
	SpeakerID     string
	PCM           []byte
	CorrelationID string
	CapturedAt    time.Time
}

// Duration returns the utterance length implied by its sample count.
func (u Utterance) Duration() time.Duration {
	return time.Duration(len(u.PCM)) * time.Second / bytesPerSec
}

// Packet is one compressed audio frame from the transport, keyed by the
// sender's synchronization source.
type Packet struct {
	SSRC uint32
	Opus []byte
}
