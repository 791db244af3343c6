package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// MessageQueue publishes messages with optional de-duplication.
type MessageQueue interface {
	Enqueue(ctx context.Context, subject string, message []byte, options *EnqueueOptions) error
	Close()
}

type EnqueueOptions struct {
	// IdempotentKey maps to the Nats-Msg-Id header; JetStream drops duplicates inside its window.
	IdempotentKey string
}

type jetStreamQueue struct {
	js jetstream.JetStream
}

// NewJetStreamQueue ensures a stream named streamName covering subjects exists and returns a publisher for it.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, streamName string, subjects []string) (MessageQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "Stream for " + streamName,
		Subjects:    subjects,
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", streamName, err)
	}
	info, err := stream.Info(ctx)
	if err == nil {
		logger.Info("JetStream stream ready", "name", info.Config.Name, "subjects", info.Config.Subjects, "msgs", info.State.Msgs)
	}

	return &jetStreamQueue{js: js}, nil
}

func (q *jetStreamQueue) Enqueue(ctx context.Context, subject string, message []byte, options *EnqueueOptions) error {
	header := nats.Header{}
	if options != nil && options.IdempotentKey != "" {
		header.Set(jetstream.MsgIDHeader, options.IdempotentKey)
	}

	_, err := q.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    message,
		Header:  header,
	})
	if err != nil {
		return fmt.Errorf("error enqueueing message: %w", err)
	}
	logger.Debug("Enqueued message", "subject", subject, "size", len(message))
	return nil
}

func (q *jetStreamQueue) Close() {}
