package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/parking.report/internal/metrics"
	"github.com/banshee-data/parking.report/internal/occupancy"
)

// ROIMessage is published retained to <prefix>/roi/<id> on every
// occupancy transition.
type ROIMessage struct {
	ROIID           string          `json:"roi_id"`
	Label           string          `json:"label"`
	State           occupancy.State `json:"state"`
	Previous        occupancy.State `json:"previous"`
	Cycle           int             `json:"cycle"`
	At              time.Time       `json:"at"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// CountsMessage is published retained to <prefix>/counts whenever the
// tallies may have changed.
type CountsMessage struct {
	occupancy.Counts
	At time.Time `json:"at"`
}

// CalibrationMessage is published to <prefix>/calibration after an
// auto-detect run.
type CalibrationMessage struct {
	occupancy.CalibrationReport
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Stats contains publisher statistics.
type Stats struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	Dropped   uint64 `json:"dropped"`
}

// Publisher is an occupancy.Listener that forwards changes to MQTT.
// Engine callbacks only enqueue; Run does the network I/O, so a slow
// broker never stalls a tick.
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	queue   chan message
	metrics *metrics.MQTTMetrics
	now     func() time.Time

	published atomic.Uint64
	errors    atomic.Uint64
	dropped   atomic.Uint64
}

var _ occupancy.Listener = (*Publisher)(nil)

// PublisherConfig contains configuration for Publisher.
type PublisherConfig struct {
	// TopicPrefix is prepended to every topic (e.g. "parking").
	TopicPrefix string
	// QoS for all messages.
	QoS byte
	// QueueSize bounds messages waiting for Run. Defaults to 256.
	QueueSize int
	// Metrics is optional.
	Metrics *metrics.MQTTMetrics
}

// NewPublisher creates a publisher over client.
func NewPublisher(client Client, cfg PublisherConfig) *Publisher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "parking"
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		queue:   make(chan message, size),
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// OnTick enqueues one message per transition and refreshed counts.
func (p *Publisher) OnTick(report occupancy.TickReport) {
	if len(report.Transitions) == 0 {
		return
	}
	for _, tr := range report.Transitions {
		p.enqueue(p.prefix+"/roi/"+tr.ROIID, true, ROIMessage{
			ROIID:           tr.ROIID,
			Label:           tr.Label,
			State:           tr.To,
			Previous:        tr.From,
			Cycle:           tr.Cycle,
			At:              tr.At,
			DurationSeconds: tr.Duration.Seconds(),
		})
	}
	p.enqueue(p.prefix+"/counts", true, CountsMessage{Counts: report.Counts, At: report.At})
}

// OnROIsChanged enqueues refreshed counts.
func (p *Publisher) OnROIsChanged(_ occupancy.ChangeReason, rois []occupancy.ROI) {
	p.enqueue(p.prefix+"/counts", true, CountsMessage{Counts: occupancy.CountStates(rois), At: p.now()})
}

// OnCalibration enqueues the run report.
func (p *Publisher) OnCalibration(report occupancy.CalibrationReport) {
	p.enqueue(p.prefix+"/calibration", false, CalibrationMessage{CalibrationReport: report})
}

func (p *Publisher) enqueue(topic string, retained bool, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.errors.Add(1)
		opsf("[Publisher] Failed to marshal message for %s: %v", topic, err)
		return
	}
	select {
	case p.queue <- message{topic: topic, retained: retained, payload: payload}:
	default:
		if p.dropped.Add(1) == 1 {
			opsf("[Publisher] Queue full, dropping messages (first: %s)", topic)
		}
	}
}

// Run publishes queued messages until ctx is cancelled, then
// disconnects the client.
func (p *Publisher) Run(ctx context.Context) {
	defer p.client.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			p.publish(msg)
		}
	}
}

func (p *Publisher) publish(msg message) {
	start := time.Now()
	err := p.client.Publish(msg.topic, p.qos, msg.retained, msg.payload)
	if err != nil {
		p.errors.Add(1)
		if p.metrics != nil {
			p.metrics.Errors.Inc()
		}
		opsf("[Publisher] %s: %v", msg.topic, err)
		return
	}
	p.published.Add(1)
	if p.metrics != nil {
		p.metrics.MessagesDelivered.Inc()
		p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
	}
	tracef("[Publisher] Published %d bytes to %s", len(msg.payload), msg.topic)
}

// Stats returns publisher statistics.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
		Dropped:   p.dropped.Load(),
	}
}
