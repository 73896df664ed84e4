package metrics

import (
	"context"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/events"
)

const namespace = "clicker_market."

// Sink is the subset of the statsd client the BFF reports to.
type Sink interface {
	Count(name string, value int64, tags []string, rate float64) error
	Timing(name string, value time.Duration, tags []string, rate float64) error
}

// NewStatsd dials the datadog agent at addr. An empty addr yields a no-op
// sink so local runs need no agent.
func NewStatsd(addr string, log *zap.Logger) (Sink, func(), error) {
	if addr == "" {
		log.Info("statsd address not set, metrics disabled")
		return &statsd.NoOpClient{}, func() {}, nil
	}
	client, err := statsd.New(addr, statsd.WithNamespace(namespace))
	if err != nil {
		return nil, nil, err
	}
	log.Info("statsd connected", zap.String("addr", addr))
	return client, func() { _ = client.Close() }, nil
}

// CountingPublisher counts every settlement event by type before handing it on.
type CountingPublisher struct {
	next events.Publisher
	sink Sink
	log  *zap.Logger
}

func NewCountingPublisher(next events.Publisher, sink Sink, log *zap.Logger) *CountingPublisher {
	return &CountingPublisher{next: next, sink: sink, log: log}
}

func (p *CountingPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	tags := []string{"event:" + event.Type}
	if reason, ok := event.Payload["reason"].(string); ok {
		tags = append(tags, "reason:"+reason)
	}
	if err := p.sink.Count("settlement.events", 1, tags, 1); err != nil {
		p.log.Debug("statsd count failed", zap.Error(err))
	}
	return p.next.Publish(ctx, stream, event)
}

// Since reports the elapsed time since start under name.
func Since(sink Sink, name string, start time.Time, tags ...string) {
	_ = sink.Timing(name, time.Since(start), tags, 1)
}
