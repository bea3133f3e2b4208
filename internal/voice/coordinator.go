package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/agent"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/logging"
	"github.com/Yash-Kavaiya/cx-agent-studio-channels/internal/session"
)

// Roster answers occupancy questions about a voice channel, used for the
// auto-join and auto-leave policy. Bots never count as humans.
type Roster interface {
	HumanCount(roomID, channelID string) int
}

// Coordinator drives the speech-to-reply cycle and the room join/leave
// policy. One instance serves all rooms; per-room exclusion is the
// Manager's busy flag, an advisory single-flight guard that drops rather
// than queues overlapping utterances.
type Coordinator struct {
	mgr         *Manager
	transcriber *Transcriber
	agent       agent.Caller
	synth       Synthesizer
	roster      Roster
	autoJoin    bool
	idleTimeout time.Duration
	dump        *Dumper
}

// SetDumper enables best-effort WAV dumping of captured utterances.
func (co *Coordinator) SetDumper(d *Dumper) { co.dump = d }

// NewCoordinator wires the pipeline stages together and registers the
// utterance handler on the manager.
func NewCoordinator(mgr *Manager, transcriber *Transcriber, agentClient agent.Caller, synth Synthesizer, roster Roster, autoJoin bool, idleTimeout time.Duration) *Coordinator {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	co := &Coordinator{
		mgr:         mgr,
		transcriber: transcriber,
		agent:       agentClient,
		synth:       synth,
		roster:      roster,
		autoJoin:    autoJoin,
		idleTimeout: idleTimeout,
	}
	mgr.SetUtteranceHandler(co.HandleUtterance)
	return co
}

// HandleVoiceState applies the join/leave policy for one voice-state
// change: auto-join when a human enters a channel while the room is
// unconnected, and arm or cancel the idle timer based on whether any
// humans remain in the connected channel. Edge-triggered per event.
func (co *Coordinator) HandleVoiceState(roomID, joinedChannelID string, isBot bool) {
	if co.autoJoin && !isBot && joinedChannelID != "" {
		if _, connected := co.mgr.ConnectedChannel(roomID); !connected {
			if err := co.mgr.Join(context.Background(), roomID, joinedChannelID); err != nil {
				logging.Errorw("coordinator: auto-join failed",
					"room_id", roomID, "channel_id", joinedChannelID, "err", err)
			}
		}
	}

	channelID, connected := co.mgr.ConnectedChannel(roomID)
	if !connected {
		return
	}
	if co.roster.HumanCount(roomID, channelID) == 0 {
		logging.Infow("coordinator: channel empty of humans, arming idle timer",
			"room_id", roomID, "channel_id", channelID, "idle_timeout", co.idleTimeout.String())
		co.mgr.StartIdleTimer(roomID, co.idleTimeout, func() {
			logging.Infow("coordinator: idle timeout, leaving", "room_id", roomID)
			co.mgr.Leave(roomID)
		})
		return
	}
	co.mgr.CancelIdleTimer(roomID)
}

// HandleUtterance runs one captured utterance through transcription, the
// agent call, synthesis, and playback. Every failure drops the utterance
// and releases the busy flag; nothing is retried or queued.
func (co *Coordinator) HandleUtterance(u Utterance) {
	co.dump.Save(u)
	if !co.mgr.TryAcquire(u.RoomID) {
		logging.Infow("coordinator: room busy, dropping utterance",
			"room_id", u.RoomID, "user_id", u.SpeakerID, "correlation_id", u.CorrelationID)
		metricPipelineDrops.WithLabelValues("busy").Inc()
		return
	}
	defer co.mgr.Release(u.RoomID)

	ctx := context.Background()
	text, err := co.transcriber.Transcribe(ctx, u)
	if err != nil {
		logging.Errorw("coordinator: transcription failed, dropping utterance",
			"room_id", u.RoomID, "err", err, "correlation_id", u.CorrelationID)
		metricPipelineDrops.WithLabelValues("transcription").Inc()
		return
	}
	if text == "" {
		logging.Debugw("coordinator: empty transcript, nothing to process",
			"room_id", u.RoomID, "correlation_id", u.CorrelationID)
		metricPipelineDrops.WithLabelValues("empty_transcript").Inc()
		return
	}
	logging.Infow("coordinator: transcript", "room_id", u.RoomID,
		"user_id", u.SpeakerID, "text", text, "correlation_id", u.CorrelationID)

	sessionID := session.ForVoiceRoom(u.RoomID)
	start := time.Now()
	reply, err := co.agent.Call(ctx, sessionID, text)
	metricAgentSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		stage := "agent"
		if errors.Is(err, agent.ErrTimedOut) {
			stage = "agent_timeout"
		}
		fields := append([]interface{}{"room_id", u.RoomID, "err", err},
			logging.SessionFields(sessionID, u.CorrelationID)...)
		logging.Errorw("coordinator: agent call failed, dropping utterance", fields...)
		metricPipelineDrops.WithLabelValues(stage).Inc()
		return
	}
	if reply == "" {
		logging.Debugw("coordinator: agent returned empty reply",
			"room_id", u.RoomID, "correlation_id", u.CorrelationID)
		metricPipelineDrops.WithLabelValues("empty_reply").Inc()
		return
	}

	audio, err := co.synth.Synthesize(ctx, TruncateForSynthesis(reply), u.CorrelationID)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
		logging.Errorw("coordinator: synthesis failed, dropping reply",
			"room_id", u.RoomID, "err", err, "correlation_id", u.CorrelationID)
		metricPipelineDrops.WithLabelValues("synthesis").Inc()
		return
	}
	if err := co.mgr.PlayAudio(ctx, u.RoomID, audio); err != nil {
		logging.Errorw("coordinator: playback failed",
			"room_id", u.RoomID, "err", err, "correlation_id", u.CorrelationID)
		metricPipelineDrops.WithLabelValues("playback").Inc()
	}
}
