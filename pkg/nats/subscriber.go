package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clinical-report-be/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventHandler processes one received event.
type EventHandler func(ctx context.Context, event events.Event) error

// Subscriber consumes report events from the REPORTS stream.
type Subscriber struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewSubscriber(url string) (*Subscriber, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js}, nil
}

// Decode rebuilds an event from a message subject and JSON payload.
func Decode(subject string, data []byte) (events.BaseEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return events.BaseEvent{}, fmt.Errorf("decode event on %s: %w", subject, err)
	}

	occurred := time.Now()
	if s, ok := payload["occurred_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			occurred = t
		}
	}
	return events.BaseEvent{
		Type:       strings.TrimPrefix(subject, SubjectPrefix+"."),
		Data:       payload,
		OccurredAt: occurred,
	}, nil
}

// Subscribe runs handler for every event on subject through a durable
// consumer until ctx is cancelled. Failed handlers nak the message.
func (s *Subscriber) Subscribe(ctx context.Context, subject, durableName string, handler EventHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		event, err := Decode(msg.Subject(), msg.Data())
		if err != nil {
			_ = msg.Term()
			return
		}
		if err := handler(ctx, event); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
