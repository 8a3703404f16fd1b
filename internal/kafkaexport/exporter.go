// Package kafkaexport mirrors hub events onto a Kafka topic for external
// consumers. Export is fire-and-forget: a produce failure is counted and
// logged, never surfaced to the publisher.
package kafkaexport

import (
	"context"
	"encoding/json"

	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Producer is the franz-go client surface used by the exporter.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Close()
}

type Exporter struct {
	client Producer
	topic  string
	events *bus.Bus
	logger *zap.Logger
}

// New builds an exporter from the Kafka section of the config.
func New(kc config.KafkaConfig, events *bus.Bus, logger *zap.Logger) (*Exporter, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(kc.Brokers...),
		kgo.ClientID(kc.ClientID),
		kgo.DefaultProduceTopic(kc.Topic),
	}

	tlsCfg, err := kc.BuildTLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if mech := kc.BuildSASLMechanism(); mech != nil {
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &Exporter{client: client, topic: kc.Topic, events: events, logger: logger}, nil
}

// Start subscribes to the full event stream and produces until ctx is
// canceled or the bus drops the subscription.
func (e *Exporter) Start(ctx context.Context) {
	sub := e.events.SubscribeDashboard()
	go func() {
		defer e.events.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					e.logger.Warn("event exporter dropped from bus")
					return
				}
				e.produce(ctx, ev)
			}
		}
	}()
}

func (e *Exporter) produce(ctx context.Context, ev bus.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("marshaling event", zap.String("type", ev.Type), zap.Error(err))
		metrics.KafkaExportErrorsTotal.Inc()
		return
	}

	record := &kgo.Record{
		Topic: e.topic,
		Key:   []byte(ev.Type),
		Value: value,
	}
	e.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			e.logger.Error("producing event", zap.String("type", ev.Type), zap.Error(err))
			metrics.KafkaExportErrorsTotal.Inc()
		}
	})
}

func (e *Exporter) Close() {
	e.client.Close()
}
