package voice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
)

// RoomSession is the per-room connection state: one connection, one player,
// one capture pipeline, plus the busy flag and idle timer the coordinator
// drives through the Manager's accessors.
type RoomSession struct {
	RoomID  string
	conn    Conn
	player  *Player
	capture *Capture

	busy      atomic.Bool
	idleMu    sync.Mutex
	idleTimer *time.Timer
}

// Manager owns the lifecycle of at most one voice connection per room.
type Manager struct {
	transport     Transport
	joinReadyWait time.Duration
	reconnectWait time.Duration
	silenceWindow time.Duration

	handler func(Utterance)

	mu       sync.Mutex
	sessions map[string]*RoomSession
}

// NewManager returns a Manager joining through the given transport.
func NewManager(transport Transport, joinReadyWait, reconnectWait, silenceWindow time.Duration) *Manager {
	if joinReadyWait <= 0 {
		joinReadyWait = 30 * time.Second
	}
	if reconnectWait <= 0 {
		reconnectWait = 5 * time.Second
	}
	return &Manager{
		transport:     transport,
		joinReadyWait: joinReadyWait,
		reconnectWait: reconnectWait,
		silenceWindow: silenceWindow,
		sessions:      make(map[string]*RoomSession),
	}
}

// SetUtteranceHandler sets the per-room utterance handler used for every
// capture pipeline created by later joins.
func (m *Manager) SetUtteranceHandler(fn func(Utterance)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

// Join connects the room to the target channel. Joining the channel the
// room is already connected to is a no-op; joining a different channel
// destroys the old connection first. A connection that does not reach ready
// within the bounded wait is torn down and reported as ErrConnectionFailed.
func (m *Manager) Join(ctx context.Context, roomID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[roomID]; ok {
		if s.conn.ChannelID() == channelID && s.conn.IsReady() {
			logging.Debugw("manager: already connected", logging.RoomFields(roomID, channelID)...)
			return nil
		}
		logging.Infow("manager: switching channels", "room_id", roomID,
			"from", s.conn.ChannelID(), "to", channelID)
		m.destroyLocked(s)
	}

	joinCtx, cancel := context.WithTimeout(ctx, m.joinReadyWait)
	defer cancel()
	conn, err := m.transport.Join(joinCtx, roomID, channelID)
	if err != nil {
		metricJoins.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if !conn.IsReady() && !waitReady(joinCtx, conn, m.joinReadyWait) {
		_ = conn.Close()
		metricJoins.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: not ready within %s", ErrConnectionFailed, m.joinReadyWait)
	}

	s := &RoomSession{
		RoomID:  roomID,
		conn:    conn,
		player:  newPlayer(conn),
		capture: NewCapture(roomID, m.silenceWindow, m.handler),
	}
	s.capture.Start(conn)
	m.sessions[roomID] = s
	metricJoins.WithLabelValues("ok").Inc()
	logging.Infow("manager: joined voice channel", logging.RoomFields(roomID, channelID)...)
	return nil
}

// Leave tears down the room's session and reports whether one existed.
// Leaving an unconnected room is a no-op returning false.
func (m *Manager) Leave(roomID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	if ok {
		m.destroyLocked(s)
	}
	m.mu.Unlock()
	if ok {
		logging.Infow("manager: left voice channel", "room_id", roomID)
	}
	return ok
}

// destroyLocked stops the player, capture, and connection and removes the
// session entry. Caller holds m.mu.
func (m *Manager) destroyLocked(s *RoomSession) {
	s.idleMu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleMu.Unlock()
	s.player.Stop()
	s.capture.Close()
	if err := s.conn.Close(); err != nil {
		logging.Debugw("manager: disconnect error", "room_id", s.RoomID, "err", err)
	}
	delete(m.sessions, s.RoomID)
}

// DestroyAll leaves every connected room. Used at shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	sessions := make([]*RoomSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		m.destroyLocked(s)
	}
	m.mu.Unlock()
}

// ConnectedChannel returns the channel the room is connected to, if any.
func (m *Manager) ConnectedChannel(roomID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return "", false
	}
	return s.conn.ChannelID(), true
}

// HandleDisconnect gives the transport a bounded window to self-heal after
// a reported disconnect; if it does not recover, the session is torn down
// as if Leave had been called.
func (m *Manager) HandleDisconnect(roomID string) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if waitReady(context.Background(), s.conn, m.reconnectWait) {
		logging.Infow("manager: connection recovered", "room_id", roomID)
		return
	}
	logging.Warnw("manager: connection did not recover, tearing down",
		"room_id", roomID, "waited", m.reconnectWait.String())
	m.Leave(roomID)
}

// TryAcquire attempts to take the room's single-flight busy flag. It
// returns false when no session exists or a cycle is already in flight.
func (m *Manager) TryAcquire(roomID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return s.busy.CompareAndSwap(false, true)
}

// Release clears the room's busy flag. Safe to call after the session was
// destroyed.
func (m *Manager) Release(roomID string) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	if ok {
		s.busy.Store(false)
	}
}

// StartIdleTimer (re)arms the room's idle timer; fn runs once after d
// unless the timer is cancelled or re-armed first.
func (m *Manager) StartIdleTimer(roomID string, d time.Duration, fn func()) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, fn)
}

// CancelIdleTimer stops the room's idle timer if armed.
func (m *Manager) CancelIdleTimer(roomID string) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.idleMu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleMu.Unlock()
}

// IsPlaying reports whether the room is mid-playback; false when no
// session exists.
func (m *Manager) IsPlaying(roomID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	return ok && s.player.IsPlaying()
}

// PlayAudio plays one Ogg/Opus buffer to the room, blocking until playback
// completes. Playing to a room with no session is a warned no-op, never an
// error.
func (m *Manager) PlayAudio(ctx context.Context, roomID string, audio []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok || s.player == nil {
		logging.Warnw("manager: playAudio with no active connection", "room_id", roomID)
		return nil
	}
	start := time.Now()
	err := s.player.Play(ctx, audio)
	if err != nil {
		metricPlaybacks.WithLabelValues("error").Inc()
		return err
	}
	metricPlaybacks.WithLabelValues("ok").Inc()
	metricPlaybackSeconds.Observe(time.Since(start).Seconds())
	return nil
}
