// Package session builds and validates agent-service session identifiers.
//
// The agent service accepts session IDs matching
// [a-zA-Z0-9][a-zA-Z0-9-_]{4,62}; every platform adapter must normalize its
// native chat/room identifiers into that shape before calling the service.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// MinLen and MaxLen bound valid session identifiers.
	MinLen = 5
	MaxLen = 63
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{4,62}$`)

// Validate reports whether id satisfies the agent-service session contract.
func Validate(id string) error {
	if len(id) < MinLen || len(id) > MaxLen {
		return fmt.Errorf("session id length %d outside [%d,%d]", len(id), MinLen, MaxLen)
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("session id %q contains invalid characters", id)
	}
	return nil
}

// Normalize coerces an arbitrary platform identifier into a valid session
// ID: invalid runes are replaced with '-', a non-alphanumeric leading rune
// gets an 's' prefix, short IDs are padded and long ones truncated.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	id := b.String()
	if id == "" || !isAlnum(id[0]) {
		id = "s" + id
	}
	if len(id) < MinLen {
		id = id + strings.Repeat("0", MinLen-len(id))
	}
	if len(id) > MaxLen {
		id = id[:MaxLen]
	}
	return id
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ForVoiceRoom returns the deterministic session ID used for a voice room.
// All speakers in one room share a session so the agent keeps a single
// conversational context per channel.
func ForVoiceRoom(roomID string) string {
	return Normalize("discord-voice-" + roomID)
}

// ForChat returns the deterministic session ID for a text conversation.
func ForChat(channelID, userID string) string {
	return Normalize("discord-" + channelID + "-" + userID)
}

// Reset derives a fresh session ID from an existing one by appending a
// timestamp, discarding the agent's conversational context for that chat.
// The base is truncated first so the timestamp always survives intact.
func Reset(id string) string {
	suffix := fmt.Sprintf("-%d", time.Now().Unix())
	if len(id)+len(suffix) > MaxLen {
		id = id[:MaxLen-len(suffix)]
	}
	return id + suffix
}
