package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/events"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/nats-io/nats.go"
)

// EventsCmd tails the published disbursement events until interrupted.
type EventsCmd struct {
	ConfigFlags
	Type []string `help:"Only print these event types (sent, resent, confirmed, pending, skipped, failed)." name:"type"`
}

func (c *EventsCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if cfg.Nats.URL == "" {
		return errors.New("nats.url is not configured")
	}

	nc, err := infra.GetNATSConnection(cfg.Nats, cfg.Environment)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer nc.Close()

	subject := cfg.Nats.SubjectPrefix + ".>"
	filter := eventFilter(c.Type)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		line, ok := formatEvent(msg.Data, filter)
		if ok {
			fmt.Println(line)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	logger.Info("Listening for disbursement events", "subject", subject)
	<-ctx.Done()
	return nil
}

func eventFilter(kinds []string) map[events.EventType]bool {
	if len(kinds) == 0 {
		return nil
	}
	filter := make(map[events.EventType]bool, len(kinds))
	for _, k := range kinds {
		filter[events.EventType(k)] = true
	}
	return filter
}

// formatEvent renders one event as a single line. Payloads that are not events are
// printed raw; events filtered out report false.
func formatEvent(data []byte, filter map[events.EventType]bool) (string, bool) {
	var ev events.DisbursementEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		return string(data), filter == nil
	}
	if filter != nil && !filter[ev.Type] {
		return "", false
	}

	line := fmt.Sprintf("%-9s chain=%d source=%s", ev.Type, ev.ChainID, ev.Source)
	if ev.Task != "" {
		line += " task=" + ev.Task
	}
	if ev.Recipient != "" {
		line += " to=" + ev.Recipient
	}
	if ev.Nonce != nil {
		line += fmt.Sprintf(" nonce=%d", *ev.Nonce)
	}
	if ev.ValueWei != "" {
		line += " value_wei=" + ev.ValueWei
	}
	if ev.Hash != "" {
		line += " hash=" + ev.Hash
	}
	if ev.Reason != "" {
		line += fmt.Sprintf(" reason=%q", ev.Reason)
	}
	return line, true
}
