package voice

import "errors"

var (
	// ErrConnectionFailed marks a voice join that never reached ready state.
	ErrConnectionFailed = errors.New("voice connection failed")
	// ErrTranscriptionFailed marks a recognizer failure for one utterance.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrSynthesisFailed marks a reply that could not be turned into audio.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)
