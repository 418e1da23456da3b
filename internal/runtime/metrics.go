package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks per-topic sample statistics and discovery activity. A nil
// *Metrics records nothing.
type Metrics struct {
	mu sync.RWMutex

	topics        map[string]*TopicMetrics
	activeReaders int
	activeWriters int

	samplesSent       *prometheus.CounterVec
	bytesSent         *prometheus.CounterVec
	samplesReceived   *prometheus.CounterVec
	decodeFailures    *prometheus.CounterVec
	encodeFailures    *prometheus.CounterVec
	sendFailures      *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	sendLatency       *prometheus.HistogramVec
	readersGauge      prometheus.Gauge
	writersGauge      prometheus.Gauge
	droppedDeliveries prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

// TopicMetrics holds the counters of one topic.
type TopicMetrics struct {
	SamplesSent     uint64    `json:"samples_sent"`
	BytesSent       uint64    `json:"bytes_sent"`
	SamplesReceived uint64    `json:"samples_received"`
	DecodeFailures  uint64    `json:"decode_failures"`
	EncodeFailures  uint64    `json:"encode_failures"`
	SendFailures    uint64    `json:"send_failures"`
	LastSentAt      time.Time `json:"last_sent_at,omitempty"`
	LastReceivedAt  time.Time `json:"last_received_at,omitempty"`
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	ActiveReaders int                      `json:"active_readers"`
	ActiveWriters int                      `json:"active_writers"`
	Topics        map[string]*TopicMetrics `json:"topics"`
	CollectedAt   time.Time                `json:"collected_at"`
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtpsbridge",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtpsbridge",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		topics:          make(map[string]*TopicMetrics),
		registerer:      registerer,
		samplesSent:     newCounterVec("samples_sent_total", "Samples handed to the engine", "topic"),
		bytesSent:       newCounterVec("sent_bytes_total", "Encoded payload bytes handed to the engine", "topic"),
		samplesReceived: newCounterVec("samples_received_total", "Samples delivered to reader callbacks", "topic"),
		decodeFailures:  newCounterVec("decode_failures_total", "Payloads the codec could not decode", "topic"),
		encodeFailures:  newCounterVec("encode_failures_total", "Values the codec could not encode", "topic"),
		sendFailures:    newCounterVec("send_failures_total", "Sends rejected by the engine", "topic"),
		notifications:   newCounterVec("notifications_total", "Engine notifications by class and reason", "class", "reason"),
		sendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rtpsbridge",
				Name:      "send_duration_seconds",
				Help:      "Time spent encoding and sending one sample",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"topic"},
		),
		readersGauge:      newGauge("active_readers", "Registered readers"),
		writersGauge:      newGauge("active_writers", "Registered writers"),
		droppedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpsbridge",
			Name:      "dropped_deliveries_total",
			Help:      "Deliveries for readers that were already released",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.samplesSent, err = adopt(m.registerer, m.samplesSent); err != nil {
		return err
	}
	if m.bytesSent, err = adopt(m.registerer, m.bytesSent); err != nil {
		return err
	}
	if m.samplesReceived, err = adopt(m.registerer, m.samplesReceived); err != nil {
		return err
	}
	if m.decodeFailures, err = adopt(m.registerer, m.decodeFailures); err != nil {
		return err
	}
	if m.encodeFailures, err = adopt(m.registerer, m.encodeFailures); err != nil {
		return err
	}
	if m.sendFailures, err = adopt(m.registerer, m.sendFailures); err != nil {
		return err
	}
	if m.notifications, err = adopt(m.registerer, m.notifications); err != nil {
		return err
	}
	if m.sendLatency, err = adopt(m.registerer, m.sendLatency); err != nil {
		return err
	}
	if m.readersGauge, err = adopt(m.registerer, m.readersGauge); err != nil {
		return err
	}
	if m.writersGauge, err = adopt(m.registerer, m.writersGauge); err != nil {
		return err
	}
	if m.droppedDeliveries, err = adopt(m.registerer, m.droppedDeliveries); err != nil {
		return err
	}

	m.registered = true
	return nil
}

// adopt registers c, or returns the collector already registered under the
// same description so several participants in a process feed one series.
func adopt[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	err := r.Register(c)
	if err == nil {
		return c, nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// RecordSent records one sample handed to the engine.
func (m *Metrics) RecordSent(topic string, size int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tm := m.topic(topic)
	tm.SamplesSent++
	tm.BytesSent += uint64(size)
	tm.LastSentAt = time.Now()

	m.samplesSent.WithLabelValues(topic).Inc()
	m.bytesSent.WithLabelValues(topic).Add(float64(size))
	m.sendLatency.WithLabelValues(topic).Observe(elapsed.Seconds())
}

// RecordReceived records one sample delivered to a reader callback.
func (m *Metrics) RecordReceived(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tm := m.topic(topic)
	tm.SamplesReceived++
	tm.LastReceivedAt = time.Now()
	m.samplesReceived.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordDecodeFailure(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic(topic).DecodeFailures++
	m.decodeFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordEncodeFailure(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic(topic).EncodeFailures++
	m.encodeFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordSendFailure(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic(topic).SendFailures++
	m.sendFailures.WithLabelValues(topic).Inc()
}

// RecordNotification counts an engine notification.
func (m *Metrics) RecordNotification(class, reason string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(class, reason).Inc()
}

// RecordDroppedDelivery counts a decode for a token that was released.
func (m *Metrics) RecordDroppedDelivery() {
	if m == nil {
		return
	}
	m.droppedDeliveries.Inc()
}

// AddReaders adjusts the active reader count by delta.
func (m *Metrics) AddReaders(delta int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeReaders += delta
	m.readersGauge.Add(float64(delta))
}

// AddWriters adjusts the active writer count by delta.
func (m *Metrics) AddWriters(delta int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeWriters += delta
	m.writersGauge.Add(float64(delta))
}

// GetSnapshot returns a point-in-time copy of the per-topic counters.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Topics:      make(map[string]*TopicMetrics),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot.ActiveReaders = m.activeReaders
	snapshot.ActiveWriters = m.activeWriters
	for topic, tm := range m.topics {
		c := *tm
		snapshot.Topics[topic] = &c
	}
	return snapshot
}

// GetTopicMetrics returns a copy of the counters of topic, or nil.
func (m *Metrics) GetTopicMetrics(topic string) *TopicMetrics {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tm, ok := m.topics[topic]; ok {
		c := *tm
		return &c
	}
	return nil
}

func (m *Metrics) topic(name string) *TopicMetrics {
	if tm, ok := m.topics[name]; ok {
		return tm
	}
	tm := &TopicMetrics{}
	m.topics[name] = tm
	return tm
}

// Reset clears all counters (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics = make(map[string]*TopicMetrics)
	m.readersGauge.Sub(float64(m.activeReaders))
	m.writersGauge.Sub(float64(m.activeWriters))
	m.activeReaders, m.activeWriters = 0, 0
	m.samplesSent.Reset()
	m.bytesSent.Reset()
	m.samplesReceived.Reset()
	m.decodeFailures.Reset()
	m.encodeFailures.Reset()
	m.sendFailures.Reset()
	m.notifications.Reset()
	m.sendLatency.Reset()
}
