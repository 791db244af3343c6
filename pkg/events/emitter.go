package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fystack/eth-disburser/pkg/infra"
)

type Emitter interface {
	Emit(ctx context.Context, event DisbursementEvent) error
	Close()
}

type emitter struct {
	queue         infra.MessageQueue
	subjectPrefix string
	now           func() time.Time
}

func NewEmitter(queue infra.MessageQueue, subjectPrefix string) Emitter {
	return &emitter{
		queue:         queue,
		subjectPrefix: subjectPrefix,
		now:           time.Now,
	}
}

// Subject is the subject an event of type t is published on.
func Subject(prefix string, t EventType) string {
	return prefix + "." + string(t)
}

func (e *emitter) Emit(ctx context.Context, event DisbursementEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = e.now().UTC().Unix()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var opts *infra.EnqueueOptions
	if event.Hash != "" {
		opts = &infra.EnqueueOptions{IdempotentKey: event.Hash + ":" + string(event.Type)}
	}
	return e.queue.Enqueue(ctx, Subject(e.subjectPrefix, event.Type), data, opts)
}

func (e *emitter) Close() {
	if e.queue != nil {
		e.queue.Close()
	}
}
