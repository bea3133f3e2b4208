package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu        sync.Mutex
	channelID string
	ready     bool
	closed    bool
	speaking  []bool
	send      chan []byte
	recv      chan *Packet
	onSpeak   func(uint32, string, bool)
}

func newFakeConn(channelID string, ready bool) *fakeConn {
	return &fakeConn{
		channelID: channelID,
		ready:     ready,
		send:      make(chan []byte, 256),
		recv:      make(chan *Packet, 256),
	}
}

func (f *fakeConn) ChannelID() string { return f.channelID }

func (f *fakeConn) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeConn) setReady(b bool) {
	f.mu.Lock()
	f.ready = b
	f.mu.Unlock()
}

func (f *fakeConn) Speaking(b bool) error {
	f.mu.Lock()
	f.speaking = append(f.speaking, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SendOpus() chan<- []byte  { return f.send }
func (f *fakeConn) RecvOpus() <-chan *Packet { return f.recv }

func (f *fakeConn) OnSpeakingUpdate(fn func(uint32, string, bool)) { f.onSpeak = fn }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	close(f.recv)
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	next  func(channelID string) *fakeConn
}

func (t *fakeTransport) Join(ctx context.Context, roomID, channelID string) (Conn, error) {
	c := t.next(channelID)
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func newTestManager(t *fakeTransport) *Manager {
	return NewManager(t, 500*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)
}

func TestJoinDifferentChannelDestroysOld(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, true) }}
	m := newTestManager(tr)

	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if err := m.Join(context.Background(), "room1", "chanB"); err != nil {
		t.Fatalf("join B: %v", err)
	}
	if got, _ := m.ConnectedChannel("room1"); got != "chanB" {
		t.Fatalf("connected channel: got %q", got)
	}
	if !tr.conns[0].isClosed() {
		t.Fatalf("old connection not destroyed")
	}
	if tr.conns[1].isClosed() {
		t.Fatalf("new connection should stay open")
	}
}

func TestJoinSameChannelIdempotent(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, true) }}
	m := newTestManager(tr)

	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(tr.conns) != 1 {
		t.Fatalf("expected 1 transport join, got %d", len(tr.conns))
	}
}

func TestLeaveIdempotent(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, true) }}
	m := newTestManager(tr)

	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !m.Leave("room1") {
		t.Fatalf("first leave should report a connection existed")
	}
	if m.Leave("room1") {
		t.Fatalf("second leave should be a no-op returning false")
	}
	if !tr.conns[0].isClosed() {
		t.Fatalf("connection not closed on leave")
	}
}

func TestJoinNeverReadyFails(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, false) }}
	m := newTestManager(tr)

	err := m.Join(context.Background(), "room1", "chanA")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if !tr.conns[0].isClosed() {
		t.Fatalf("half-open connection not destroyed")
	}
	if _, ok := m.ConnectedChannel("room1"); ok {
		t.Fatalf("no session should remain after failed join")
	}
}

func TestDisconnectSelfHeal(t *testing.T) {
	c := newFakeConn("chanA", true)
	tr := &fakeTransport{next: func(string) *fakeConn { return c }}
	m := newTestManager(tr)

	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.setReady(false)
	go func() {
		time.Sleep(100 * time.Millisecond)
		c.setReady(true)
	}()
	m.HandleDisconnect("room1")
	if _, ok := m.ConnectedChannel("room1"); !ok {
		t.Fatalf("recovered connection should keep session")
	}
}

func TestDisconnectTeardownAfterWindow(t *testing.T) {
	c := newFakeConn("chanA", true)
	tr := &fakeTransport{next: func(string) *fakeConn { return c }}
	m := newTestManager(tr)

	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.setReady(false)
	m.HandleDisconnect("room1")
	if _, ok := m.ConnectedChannel("room1"); ok {
		t.Fatalf("session should be torn down after reconnect window")
	}
}

func TestBusyFlagSingleFlight(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, true) }}
	m := newTestManager(tr)

	if m.TryAcquire("room1") {
		t.Fatalf("acquire with no session should fail")
	}
	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !m.TryAcquire("room1") {
		t.Fatalf("first acquire should succeed")
	}
	if m.TryAcquire("room1") {
		t.Fatalf("second acquire should fail while busy")
	}
	m.Release("room1")
	if !m.TryAcquire("room1") {
		t.Fatalf("acquire after release should succeed")
	}
}

func TestPlayAudioNoSessionIsNoop(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, true) }}
	m := newTestManager(tr)
	if err := m.PlayAudio(context.Background(), "nowhere", []byte("x")); err != nil {
		t.Fatalf("playAudio without session must not error: %v", err)
	}
	if m.IsPlaying("nowhere") {
		t.Fatalf("isPlaying without session must be false")
	}
}

func TestIdleTimerFiresOnce(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, true) }}
	m := newTestManager(tr)
	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join: %v", err)
	}
	fired := make(chan struct{}, 2)
	m.StartIdleTimer("room1", 30*time.Millisecond, func() { fired <- struct{}{} })
	m.StartIdleTimer("room1", 30*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("idle timer never fired")
	}
	select {
	case <-fired:
		t.Fatalf("re-arming should replace, not stack, timers")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIdleTimerCancel(t *testing.T) {
	tr := &fakeTransport{next: func(ch string) *fakeConn { return newFakeConn(ch, true) }}
	m := newTestManager(tr)
	if err := m.Join(context.Background(), "room1", "chanA"); err != nil {
		t.Fatalf("join: %v", err)
	}
	fired := make(chan struct{}, 1)
	m.StartIdleTimer("room1", 50*time.Millisecond, func() { fired <- struct{}{} })
	m.CancelIdleTimer("room1")
	select {
	case <-fired:
		t.Fatalf("cancelled idle timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}
