package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerManager reads back published gateway events.
type ConsumerManager struct {
	js jetstream.JetStream
}

// NewConsumerManager creates a new ConsumerManager.
func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates or updates a durable consumer on the given stream.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, stream, name, filterSubject string) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", name, stream, err)
	}
	return consumer, nil
}

// Tail calls fn for each event on filterSubject until ctx is done. With a
// durable name, delivery resumes where that consumer left off and messages are
// acked; otherwise only new events are delivered.
func (cm *ConsumerManager) Tail(ctx context.Context, durable, filterSubject string, fn func(subject string, data []byte)) error {
	var (
		consumer jetstream.Consumer
		err      error
	)
	if durable != "" {
		consumer, err = cm.EnsureConsumer(ctx, StreamEvents, durable, filterSubject)
	} else {
		consumer, err = cm.js.OrderedConsumer(ctx, StreamEvents, jetstream.OrderedConsumerConfig{
			FilterSubjects: []string{filterSubject},
			DeliverPolicy:  jetstream.DeliverNewPolicy,
		})
	}
	if err != nil {
		return fmt.Errorf("creating consumer: %w", err)
	}

	for {
		batch, err := consumer.Fetch(50, jetstream.FetchMaxWait(FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetching events: %w", err)
		}
		for msg := range batch.Messages() {
			fn(msg.Subject(), msg.Data())
			if durable != "" {
				if err := msg.Ack(); err != nil {
					slog.Warn("acking event", "subject", msg.Subject(), "error", err)
				}
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("reading batch: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
