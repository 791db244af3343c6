package poller

import (
	"context"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/common/logger"
)

// ReceiptSource is satisfied by chain.Ethereum.
type ReceiptSource interface {
	GetTransactionReceipt(ctx context.Context, hash domain.Hash) (*domain.Receipt, error)
}

// Result is the outcome of waiting for a receipt. Resolved is false when the
// timeout elapsed without the transaction being included.
type Result struct {
	Receipt  *domain.Receipt
	Resolved bool
}

type Poller struct {
	source ReceiptSource
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Poller)

// WithClock replaces the wall clock and the sleep between queries.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

func New(source ReceiptSource, opts ...Option) *Poller {
	p := &Poller{
		source: source,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitReceipt queries the receipt of hash every interval until it appears or timeout
// elapses. A zero timeout performs exactly one query. Query errors count as "not yet".
func (p *Poller) AwaitReceipt(ctx context.Context, hash domain.Hash, timeout, interval time.Duration) (Result, error) {
	start := p.now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		receipt, err := p.source.GetTransactionReceipt(ctx, hash)
		switch {
		case err != nil:
			logger.Warn("Receipt query failed", "hash", hash, "attempt", attempt, "err", err)
		case receipt != nil:
			return Result{Receipt: receipt, Resolved: true}, nil
		}

		elapsed := p.now().Sub(start)
		if elapsed >= timeout {
			return Result{}, nil
		}
		wait := interval
		if remaining := timeout - elapsed; wait > remaining || wait <= 0 {
			wait = remaining
		}
		if err := p.sleep(ctx, wait); err != nil {
			return Result{}, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
