package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

type pollCall struct {
	offset int
}

type fakeSource struct {
	calls   []pollCall
	batches [][]tele.Update
	errs    []error
	done    context.CancelFunc
}

func (f *fakeSource) GetUpdates(ctx context.Context, offset, limit, timeoutSeconds int) ([]tele.Update, error) {
	f.calls = append(f.calls, pollCall{offset: offset})
	idx := len(f.calls) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.batches) {
		return f.batches[idx], nil
	}
	// Out of scripted responses, stop the loop.
	if f.done != nil {
		f.done()
	}
	return nil, nil
}

type fakeSink struct {
	ids []int
}

func (f *fakeSink) Dispatch(ctx context.Context, u *tele.Update) {
	f.ids = append(f.ids, u.ID)
}

func TestOffsetAdvancesPastDispatchedUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		batches: [][]tele.Update{
			{{ID: 100}, {ID: 101}},
			{{ID: 102}},
		},
		done: cancel,
	}
	sink := &fakeSink{}
	p := New(src, sink, 100, 30)

	err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if len(sink.ids) != 3 || sink.ids[0] != 100 || sink.ids[2] != 102 {
		t.Fatalf("dispatched = %v", sink.ids)
	}
	if len(src.calls) < 3 || src.calls[1].offset != 102 || src.calls[2].offset != 103 {
		t.Fatalf("offsets = %+v", src.calls)
	}
}

func TestTransientErrorsRetryWithBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("gateway timeout")
	src := &fakeSource{
		errs:    []error{boom, boom, nil},
		batches: [][]tele.Update{nil, nil, {{ID: 7}}},
		done:    cancel,
	}
	sink := &fakeSink{}
	p := New(src, sink, 100, 30)
	p.baseBackoff = time.Millisecond
	p.maxBackoff = 4 * time.Millisecond

	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if len(sink.ids) != 1 || sink.ids[0] != 7 {
		t.Fatalf("dispatched = %v", sink.ids)
	}
}

func TestGivesUpAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("unauthorized")
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = boom
	}
	src := &fakeSource{errs: errs}
	p := New(src, &fakeSink{}, 100, 30)
	p.baseBackoff = time.Microsecond
	p.maxBackoff = time.Millisecond
	p.maxFailures = 3

	err := p.Run(context.Background())
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if len(src.calls) != 3 {
		t.Fatalf("polled %d times, want 3", len(src.calls))
	}
}

func TestBackoffCapped(t *testing.T) {
	p := New(nil, nil, 100, 30)
	if got := p.backoff(1); got != 5*time.Second {
		t.Fatalf("backoff(1) = %v", got)
	}
	if got := p.backoff(3); got != 20*time.Second {
		t.Fatalf("backoff(3) = %v", got)
	}
	if got := p.backoff(9); got != 5*time.Minute {
		t.Fatalf("backoff(9) = %v", got)
	}
}
