// Package chat implements the text-channel path: each message becomes one
// agent turn, and replies are split to fit the platform message limit.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/agent"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/session"
)

// MessageLimit is the platform's maximum message length.
const MessageLimit = 2000

const (
	resetCommand = "!reset"
	resetReply   = "Conversation reset. Starting fresh!"
	apologyReply = "Sorry, I couldn't process that. Please try again."
)

// Sender delivers reply text to a channel.
type Sender interface {
	Send(channelID, content string) error
}

// Handler routes text messages to the agent service. Session IDs are
// deterministic per channel+user; a reset swaps in a timestamped ID so the
// agent starts a fresh conversational context.
type Handler struct {
	agent  agent.Caller
	sender Sender

	mu     sync.Mutex
	resets map[string]string // chat key -> overridden session ID
}

// NewHandler wires the agent caller and reply sender.
func NewHandler(agentClient agent.Caller, sender Sender) *Handler {
	return &Handler{
		agent:  agentClient,
		sender: sender,
		resets: make(map[string]string),
	}
}

func (h *Handler) sessionID(channelID, userID string) string {
	key := channelID + ":" + userID
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.resets[key]; ok {
		return id
	}
	return session.ForChat(channelID, userID)
}

// HandleMessage processes one inbound message. Bot messages are ignored.
// Failures send an apology instead of surfacing an error to the platform.
func (h *Handler) HandleMessage(ctx context.Context, channelID, userID, content string, isBot bool) {
	if isBot {
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	if strings.EqualFold(content, resetCommand) {
		key := channelID + ":" + userID
		h.mu.Lock()
		h.resets[key] = session.Reset(session.ForChat(channelID, userID))
		h.mu.Unlock()
		logging.Infow("chat: session reset", "channel_id", channelID, "user_id", userID)
		if err := h.sender.Send(channelID, resetReply); err != nil {
			logging.Warnw("chat: failed to send reset confirmation", "channel_id", channelID, "err", err)
		}
		return
	}

	sessionID := h.sessionID(channelID, userID)
	reply, err := h.agent.Call(ctx, sessionID, content)
	if err != nil {
		logging.Errorw("chat: agent call failed", "channel_id", channelID,
			"session_id", sessionID, "err", err)
		if serr := h.sender.Send(channelID, apologyReply); serr != nil {
			logging.Warnw("chat: failed to send apology", "channel_id", channelID, "err", serr)
		}
		return
	}
	if reply == "" {
		logging.Debugw("chat: empty agent reply", "channel_id", channelID, "session_id", sessionID)
		return
	}

	for _, part := range SplitMessage(reply, MessageLimit) {
		if err := h.sender.Send(channelID, part); err != nil {
			logging.Warnw("chat: failed to send reply part", "channel_id", channelID, "err", err)
			return
		}
	}
}

// SplitMessage breaks text into chunks of at most limit runes, preferring
// whitespace boundaries. A single overlong token is hard-split.
func SplitMessage(text string, limit int) []string {
	r := []rune(text)
	if len(r) <= limit {
		return []string{text}
	}
	var parts []string
	for len(r) > 0 {
		if len(r) <= limit {
			parts = append(parts, strings.TrimSpace(string(r)))
			break
		}
		cut := limit
		for i := limit; i > 0; i-- {
			if r[i] == ' ' || r[i] == '\n' || r[i] == '\t' {
				cut = i
				break
			}
		}
		part := strings.TrimSpace(string(r[:cut]))
		if part != "" {
			parts = append(parts, part)
		}
		r = r[cut:]
		for len(r) > 0 && (r[0] == ' ' || r[0] == '\n' || r[0] == '\t') {
			r = r[1:]
		}
	}
	return parts
}
