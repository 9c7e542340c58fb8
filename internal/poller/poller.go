// Package poller runs the getUpdates long-poll loop and feeds each
// update to the dispatcher.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/logger"
)

// Source fetches update batches from Telegram.
type Source interface {
	GetUpdates(ctx context.Context, offset, limit, timeoutSeconds int) ([]tele.Update, error)
}

// Sink consumes one update. Dispatch must not panic through.
type Sink interface {
	Dispatch(ctx context.Context, u *tele.Update)
}

type Poller struct {
	source Source
	sink   Sink

	limit          int
	timeoutSeconds int

	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxFailures int
}

func New(source Source, sink Sink, limit, timeoutSeconds int) *Poller {
	return &Poller{
		source:         source,
		sink:           sink,
		limit:          limit,
		timeoutSeconds: timeoutSeconds,
		baseBackoff:    5 * time.Second,
		maxBackoff:     5 * time.Minute,
		maxFailures:    10,
	}
}

// Run polls until the context is cancelled or the API fails
// maxFailures times in a row. The confirmed offset advances past every
// dispatched update, so a crash re-delivers at most one batch.
func (p *Poller) Run(ctx context.Context) error {
	logger.Info(ctx, logger.TG, "poll.start",
		slog.Int("limit", p.limit),
		slog.Int("timeout_s", p.timeoutSeconds),
	)

	offset := 0
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.limit, p.timeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= p.maxFailures {
				return fmt.Errorf("polling failed %d times in a row: %w", failures, err)
			}
			wait := p.backoff(failures)
			logger.Warn(ctx, logger.TG, "poll.fail",
				slog.Int("consecutive", failures),
				slog.Int64("retry_in_ms", wait.Milliseconds()),
				slog.String("err", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		for i := range updates {
			u := &updates[i]
			if u.ID >= offset {
				offset = u.ID + 1
			}
			p.sink.Dispatch(ctx, u)
		}
		if len(updates) > 0 {
			logger.Debug(ctx, logger.TG, "poll.batch",
				slog.Int("updates", len(updates)),
				slog.Int("next_offset", offset),
			)
		}
	}
}

// backoff doubles the delay per consecutive failure up to maxBackoff.
func (p *Poller) backoff(failures int) time.Duration {
	d := p.baseBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.maxBackoff {
			return p.maxBackoff
		}
	}
	return d
}
