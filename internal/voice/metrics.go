package voice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_joins_total",
		Help: "Voice channel join attempts by result.",
	}, []string{"result"})

	metricCaptureStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_captures_started_total",
		Help: "Per-speaker capture streams opened.",
	})

	metricDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_decode_errors_total",
		Help: "Opus decode failures; each abandons one in-flight utterance.",
	})

	metricUtterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_utterances_total",
		Help: "Completed capture buffers by outcome.",
	}, []string{"outcome"})

	metricPipelineDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_drops_total",
		Help: "Utterances dropped after capture, by stage.",
	}, []string{"stage"})

	metricAgentSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_call_seconds",
		Help:    "Latency of agent-service calls made for voice utterances.",
		Buckets: prometheus.DefBuckets,
	})

	metricPlaybacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_playbacks_total",
		Help: "Playback attempts by result.",
	}, []string{"result"})

	metricPlaybackSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_playback_seconds",
		Help:    "Wall time of completed playbacks.",
		Buckets: []float64{.5, 1, 2, 5, 10, 20, 40, 80},
	})
)
