package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcomes recorded by MarkResponseDone.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeUnclassified = "unclassified"
	OutcomeCanceled     = "canceled"
)

// Metrics tracks latency at each stage of one turn.
// All durations are measured from the moment speech ends.
type Metrics struct {
	TurnID string

	// Timestamps for key events
	SpeechEndTime    time.Time // When the recognizer detected end of speech
	TranscriptTime   time.Time // When the final transcript arrived
	ClassifiedTime   time.Time // When the intent label arrived
	FirstTokenTime   time.Time // When the first completion fragment arrived
	FirstAudioTime   time.Time // When the first sentence unit went to synthesis
	ResponseDoneTime time.Time // When the last unit finished playing

	// Computed latencies (from speech end)
	RecognitionLatency time.Duration
	ClassifyLatency    time.Duration
	LLMFirstToken      time.Duration
	TTSFirstAudio      time.Duration
	TotalLatency       time.Duration

	Sentences int
	Outcome   string
}

// MetricsCollector collects per-turn latency metrics and exports them as
// Prometheus histograms. It is goroutine-safe.
type MetricsCollector struct {
	mu       sync.Mutex
	current  Metrics
	history  []Metrics
	onUpdate func(Metrics)

	registry     *prometheus.Registry
	stageLatency *prometheus.HistogramVec
	turns        *prometheus.CounterVec
	recognitions *prometheus.CounterVec
	sentences    prometheus.Counter
}

const historySize = 100

// NewMetricsCollector creates a collector with its own registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &MetricsCollector{
		history:  make([]Metrics, 0, historySize),
		registry: reg,
		stageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "voiceloop",
				Name:      "stage_latency_seconds",
				Help:      "Time from end of speech to each turn stage",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voiceloop",
				Name:      "turns_total",
				Help:      "Conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		recognitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voiceloop",
				Name:      "recognitions_total",
				Help:      "Recognition attempts by status",
			},
			[]string{"status"},
		),
		sentences: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "voiceloop",
				Name:      "sentences_spoken_total",
				Help:      "Sentence units sent to synthesis",
			},
		),
	}
}

// OnUpdate sets a callback that fires whenever metrics are updated.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// ObserveRecognition counts one recognition attempt.
func (m *MetricsCollector) ObserveRecognition(status string) {
	m.recognitions.WithLabelValues(status).Inc()
}

// MarkSpeechEnd starts a new turn. at is when speech ended; the zero time
// means now. This is the reference point for all latency measurements.
func (m *MetricsCollector) MarkSpeechEnd(turnID string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{TurnID: turnID, SpeechEndTime: at}
}

// MarkTranscript records when the final transcript arrived.
func (m *MetricsCollector) MarkTranscript(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TranscriptTime = at
	m.current.RecognitionLatency = m.since(at, "recognition")
	m.notify()
}

// MarkClassified records when the intent label arrived.
func (m *MetricsCollector) MarkClassified() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.current.ClassifiedTime = now
	m.current.ClassifyLatency = m.since(now, "classify")
	m.notify()
}

// MarkFirstToken records the first completion fragment of the turn.
func (m *MetricsCollector) MarkFirstToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstTokenTime.IsZero() {
		now := time.Now()
		m.current.FirstTokenTime = now
		m.current.LLMFirstToken = m.since(now, "first_token")
		m.notify()
	}
}

// MarkFirstAudio records when the first sentence unit went to synthesis
// and returns the latency from end of speech.
func (m *MetricsCollector) MarkFirstAudio() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstAudioTime.IsZero() {
		now := time.Now()
		m.current.FirstAudioTime = now
		m.current.TTSFirstAudio = m.since(now, "first_audio")
		m.notify()
	}
	return m.current.TTSFirstAudio
}

// MarkSentence counts one sentence unit sent to synthesis.
func (m *MetricsCollector) MarkSentence() {
	m.sentences.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Sentences++
}

// MarkResponseDone closes the turn with outcome and archives it.
func (m *MetricsCollector) MarkResponseDone(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.current.ResponseDoneTime = now
	m.current.Outcome = outcome
	if outcome == OutcomeCompleted {
		m.current.TotalLatency = m.since(now, "total")
	} else if !m.current.SpeechEndTime.IsZero() {
		m.current.TotalLatency = now.Sub(m.current.SpeechEndTime)
	}
	m.turns.WithLabelValues(outcome).Inc()

	m.history = append(m.history, m.current)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
	m.notify()
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns the archived turns, oldest first.
func (m *MetricsCollector) History() []Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Metrics, len(m.history))
	copy(out, m.history)
	return out
}

// Average returns average latencies over completed turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg Metrics
	n := 0
	for _, h := range m.history {
		if h.Outcome != OutcomeCompleted {
			continue
		}
		n++
		avg.RecognitionLatency += h.RecognitionLatency
		avg.ClassifyLatency += h.ClassifyLatency
		avg.LLMFirstToken += h.LLMFirstToken
		avg.TTSFirstAudio += h.TTSFirstAudio
		avg.TotalLatency += h.TotalLatency
	}
	if n == 0 {
		return Metrics{}
	}

	d := time.Duration(n)
	avg.RecognitionLatency /= d
	avg.ClassifyLatency /= d
	avg.LLMFirstToken /= d
	avg.TTSFirstAudio /= d
	avg.TotalLatency /= d
	return avg
}

// Registry returns the Prometheus registry holding the loop metrics.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToTextfile writes the metrics in the node exporter textfile format.
func (m *MetricsCollector) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("voice: write metrics: %w", err)
	}
	return nil
}

// since returns the latency from end of speech to at and observes it
// under stage. Must be called with mutex held.
func (m *MetricsCollector) since(at time.Time, stage string) time.Duration {
	if m.current.SpeechEndTime.IsZero() {
		return 0
	}
	d := at.Sub(m.current.SpeechEndTime)
	if d < 0 {
		d = 0
	}
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
	return d
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a formatted string of the turn latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.RecognitionLatency) + " STT | " +
		formatDuration(m.ClassifyLatency) + " INTENT | " +
		formatDuration(m.LLMFirstToken) + " LLM | " +
		formatDuration(m.TTSFirstAudio) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
