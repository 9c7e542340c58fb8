package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/logger"
)

func testOptions() Options {
	return Options{
		QueueSize:      8,
		WorkersPerLane: 1,
		MaxAttempts:    3,
		Backoff:        []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		AttemptTimeout: time.Second,
	}
}

func TestEnqueueRunsJob(t *testing.T) {
	d := NewDispatcher(testOptions())

	var ran atomic.Int32
	err := d.Enqueue(context.Background(), LaneNormal, Job{
		ChatID: 42,
		Action: "sendMessage",
		Run: func(context.Context) error {
			ran.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := ran.Load(); got != 1 {
		t.Fatalf("job ran %d times, want 1", got)
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("unexpected errors: %d", d.ErrorCount())
	}
}

func TestRetriesTransientFailure(t *testing.T) {
	d := NewDispatcher(testOptions())

	transient := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	var attempts atomic.Int32
	err := d.Enqueue(context.Background(), LaneNormal, Job{
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return transient
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("job should have succeeded on retry, errors = %d", d.ErrorCount())
	}
}

func TestClientErrorIsFinal(t *testing.T) {
	d := NewDispatcher(testOptions())

	var attempts atomic.Int32
	err := d.Enqueue(context.Background(), LaneUrgent, Job{
		ChatID: 7,
		Text:   "hello",
		Run: func(context.Context) error {
			attempts.Add(1)
			return &tele.Error{Code: 403, Description: "bot was blocked by the user"}
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1 for a 403", got)
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("errors = %d, want 1", d.ErrorCount())
	}
}

func TestExhaustedRetriesCountError(t *testing.T) {
	d := NewDispatcher(testOptions())

	transient := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	var attempts atomic.Int32
	err := d.Enqueue(context.Background(), LaneNormal, Job{
		Run: func(context.Context) error {
			attempts.Add(1)
			return transient
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("errors = %d, want 1", d.ErrorCount())
	}
}

func TestKeyedJobsSingleFlight(t *testing.T) {
	d := NewDispatcher(testOptions())

	release := make(chan struct{})
	var ran atomic.Int32
	blockRun := func(context.Context) error {
		ran.Add(1)
		<-release
		return nil
	}

	if err := d.Enqueue(context.Background(), LaneNormal, Job{Key: "status:1", Run: blockRun}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := d.Enqueue(context.Background(), LaneNormal, Job{Key: "status:1", Run: blockRun}); err != nil {
		t.Fatalf("duplicate enqueue should be dropped silently: %v", err)
	}
	close(release)
	d.Close()

	if got := ran.Load(); got != 1 {
		t.Fatalf("keyed job ran %d times, want 1", got)
	}
}

func TestQueueFull(t *testing.T) {
	opts := testOptions()
	opts.QueueSize = 1
	d := NewDispatcher(opts)
	defer d.Close()

	release := make(chan struct{})
	defer close(release)
	block := func(context.Context) error {
		<-release
		return nil
	}

	// First job occupies the worker, second fills the queue.
	if err := d.Enqueue(context.Background(), LaneNormal, Job{Run: block}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	var full bool
	for i := 0; i < 10; i++ {
		if err := d.Enqueue(context.Background(), LaneNormal, Job{Run: block}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Fatal("expected ErrQueueFull")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(testOptions())
	d.Close()

	err := d.Enqueue(context.Background(), LaneNormal, Job{Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestSanitizeErrorMessageRedactsToken(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:ABC-def_789/sendMessage": timeout`)
	got := sanitizeErrorMessage(err)
	if got != `Post "https://api.telegram.org/bot<redacted>/sendMessage": timeout` {
		t.Fatalf("token not redacted: %s", got)
	}
}

func TestSendLogAttrsCarryUpdateMeta(t *testing.T) {
	ctx := logger.WithUpdateMeta(context.Background(), 7, 42, 99)
	q := queued{job: Job{Action: "reply", ChatID: 5}, lane: LaneNormal}

	got := map[string]slog.Attr{}
	for _, a := range sendLogAttrs(ctx, q) {
		got[a.Key] = a
	}
	if got["update_id"].Value.Int64() != 7 {
		t.Fatalf("update_id = %v", got["update_id"].Value)
	}
	if got["user_id"].Value.Int64() != 42 {
		t.Fatalf("user_id = %v", got["user_id"].Value)
	}
	// The job addresses chat 5, so the ctx chat 99 must not override it.
	if got["chat_id"].Value.Int64() != 5 {
		t.Fatalf("chat_id = %v", got["chat_id"].Value)
	}

	q.job.ChatID = 0
	got = map[string]slog.Attr{}
	for _, a := range sendLogAttrs(ctx, q) {
		got[a.Key] = a
	}
	if got["chat_id"].Value.Int64() != 99 {
		t.Fatalf("ctx chat_id = %v", got["chat_id"].Value)
	}
}

func TestLaneString(t *testing.T) {
	if LaneNormal.String() != "normal" || LaneUrgent.String() != "urgent" {
		t.Fatal("lane labels wrong")
	}
}
