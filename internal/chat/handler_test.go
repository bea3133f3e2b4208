package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeAgent struct {
	mu      sync.Mutex
	reply   string
	err     error
	gotSess []string
	gotText []string
}

func (f *fakeAgent) Call(ctx context.Context, sessionID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotSess = append(f.gotSess, sessionID)
	f.gotText = append(f.gotText, text)
	return f.reply, f.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return f.err
}

func TestHandleMessageRepliesInOrder(t *testing.T) {
	ag := &fakeAgent{reply: "short answer"}
	s := &fakeSender{}
	h := NewHandler(ag, s)

	h.HandleMessage(context.Background(), "chan1", "user1", "hello there", false)
	if len(s.sent) != 1 || s.sent[0] != "short answer" {
		t.Fatalf("sent: %v", s.sent)
	}
	if len(ag.gotText) != 1 || ag.gotText[0] != "hello there" {
		t.Fatalf("agent input: %v", ag.gotText)
	}
}

func TestHandleMessageIgnoresBots(t *testing.T) {
	ag := &fakeAgent{reply: "x"}
	s := &fakeSender{}
	h := NewHandler(ag, s)

	h.HandleMessage(context.Background(), "chan1", "bot1", "beep", true)
	if len(ag.gotText) != 0 || len(s.sent) != 0 {
		t.Fatalf("bot message must be ignored")
	}
}

func TestHandleMessageSplitsLongReply(t *testing.T) {
	words := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	ag := &fakeAgent{reply: words}
	s := &fakeSender{}
	h := NewHandler(ag, s)

	h.HandleMessage(context.Background(), "chan1", "user1", "essay please", false)
	if len(s.sent) < 2 {
		t.Fatalf("long reply should be split, got %d parts", len(s.sent))
	}
	for i, p := range s.sent {
		if len([]rune(p)) > MessageLimit {
			t.Fatalf("part %d exceeds limit: %d", i, len([]rune(p)))
		}
	}
	joined := strings.Join(s.sent, " ")
	if strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(words), " ") {
		t.Fatalf("split lost content")
	}
}

func TestHandleMessageApologyOnFailure(t *testing.T) {
	ag := &fakeAgent{err: errors.New("boom")}
	s := &fakeSender{}
	h := NewHandler(ag, s)

	h.HandleMessage(context.Background(), "chan1", "user1", "hi", false)
	if len(s.sent) != 1 || s.sent[0] != apologyReply {
		t.Fatalf("expected apology, got %v", s.sent)
	}
}

func TestResetSwapsSessionID(t *testing.T) {
	ag := &fakeAgent{reply: "ok"}
	s := &fakeSender{}
	h := NewHandler(ag, s)

	h.HandleMessage(context.Background(), "chan1", "user1", "first", false)
	h.HandleMessage(context.Background(), "chan1", "user1", "!reset", false)
	h.HandleMessage(context.Background(), "chan1", "user1", "second", false)

	if len(ag.gotSess) != 2 {
		t.Fatalf("agent calls: %d", len(ag.gotSess))
	}
	if ag.gotSess[0] == ag.gotSess[1] {
		t.Fatalf("session ID unchanged after reset: %q", ag.gotSess[0])
	}
	if s.sent[len(s.sent)-2] != resetReply {
		t.Fatalf("missing reset confirmation: %v", s.sent)
	}
}

func TestResetScopedPerUser(t *testing.T) {
	ag := &fakeAgent{reply: "ok"}
	s := &fakeSender{}
	h := NewHandler(ag, s)

	h.HandleMessage(context.Background(), "chan1", "user1", "!reset", false)
	h.HandleMessage(context.Background(), "chan1", "user1", "msg", false)
	h.HandleMessage(context.Background(), "chan1", "user2", "msg", false)

	if ag.gotSess[0] == ag.gotSess[1] {
		t.Fatalf("user2 session should be unaffected by user1 reset")
	}
}

func TestSplitMessageBoundaries(t *testing.T) {
	if got := SplitMessage("tiny", 2000); len(got) != 1 || got[0] != "tiny" {
		t.Fatalf("short text: %v", got)
	}
	long := strings.Repeat("a", 4500)
	parts := SplitMessage(long, 2000)
	total := 0
	for _, p := range parts {
		if len(p) > 2000 {
			t.Fatalf("hard split exceeded limit: %d", len(p))
		}
		total += len(p)
	}
	if total != 4500 {
		t.Fatalf("hard split lost characters: %d", total)
	}
}
