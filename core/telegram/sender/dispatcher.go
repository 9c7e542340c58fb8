// Package sender delivers outbound Telegram calls asynchronously through
// two queued lanes with bounded retries.
package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Lane selects the delivery queue for a job.
type Lane int

const (
	// LaneNormal carries routine outbound messages such as executor notifications.
	LaneNormal Lane = iota
	// LaneUrgent carries author-facing status updates that should not wait
	// behind fan-out traffic.
	LaneUrgent
)

func (l Lane) String() string {
	if l == LaneUrgent {
		return "urgent"
	}
	return "normal"
}

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize      int
	WorkersPerLane int
	MaxAttempts    int
	// Backoff holds per-attempt delays; attempt n sleeps Backoff[n-1]
	// before retrying, reusing the last entry when attempts exceed it.
	Backoff []time.Duration
	// AttemptTimeout bounds a single delivery attempt.
	AttemptTimeout time.Duration
}

// Job is a single outbound delivery.
type Job struct {
	// ChatID identifies the destination chat for failure diagnostics.
	ChatID int64
	// Text is the outgoing payload preview used in failure logs.
	Text string
	// Key, when set, collapses duplicate jobs: a job is dropped while
	// another with the same key is queued or running.
	Key    string
	Action string
	// Run performs the delivery. It must be safe to invoke more than once.
	Run func(ctx context.Context) error
}

type queued struct {
	ctx  context.Context
	lane Lane
	job  Job
}

// Dispatcher executes outbound Telegram calls asynchronously with retries.
type Dispatcher struct {
	opts   Options
	normal chan queued
	urgent chan queued
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	errs   atomic.Uint64

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher starts a dispatcher with sane defaults if options are zeroed.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WorkersPerLane <= 0 {
		opts.WorkersPerLane = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 60 * time.Second
	}

	d := &Dispatcher{
		opts:     opts,
		normal:   make(chan queued, opts.QueueSize),
		urgent:   make(chan queued, opts.QueueSize),
		stop:     make(chan struct{}),
		inflight: make(map[string]struct{}),
	}

	d.wg.Add(opts.WorkersPerLane * 2)
	for i := 0; i < opts.WorkersPerLane; i++ {
		go d.worker(d.normal)
		go d.worker(d.urgent)
	}

	return d
}

// Enqueue schedules the job on the given lane. A duplicate keyed job is
// dropped silently while its twin is still in flight.
func (d *Dispatcher) Enqueue(ctx context.Context, lane Lane, j Job) error {
	if j.Run == nil {
		return errors.New("telegram sender: nil run function")
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	if j.Key != "" {
		d.mu.Lock()
		if _, dup := d.inflight[j.Key]; dup {
			d.mu.Unlock()
			logger.Debug(ctx, logger.SND, "send.dedupe",
				slog.String("key", j.Key),
				slog.String("lane", lane.String()),
			)
			return nil
		}
		d.inflight[j.Key] = struct{}{}
		d.mu.Unlock()
	}

	q := queued{ctx: ctx, lane: lane, job: j}
	ch := d.normal
	if lane == LaneUrgent {
		ch = d.urgent
	}

	select {
	case ch <- q:
		return nil
	default:
		d.release(j.Key)
		return ErrQueueFull
	}
}

// ErrorCount returns the number of terminally failed jobs.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops workers after draining the queued jobs.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.normal)
		close(d.urgent)
		d.wg.Wait()
	})
}

func (d *Dispatcher) release(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
}

func (d *Dispatcher) worker(ch chan queued) {
	defer d.wg.Done()
	for q := range ch {
		d.handleJob(q)
		d.release(q.job.Key)
	}
}

func (d *Dispatcher) handleJob(q queued) {
	ctx := q.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	logger.Debug(ctx, logger.SND, "send.start", sendLogAttrs(ctx, q)...)

	var lastErr error
	attempts := d.opts.MaxAttempts

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
		err := q.job.Run(attemptCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				logger.Info(ctx, logger.SND, "send.retry.success",
					append(sendLogAttrs(ctx, q),
						slog.Int("attempt", attempt),
						slog.Int("elapsed_ms", durationToMS(time.Since(start))),
					)...,
				)
			}
			logSendSuccess(ctx, q, attempt, time.Since(start))
			return
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}

		delay := d.backoffFor(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-d.stop:
			timer.Stop()
		case <-timer.C:
		}
		logger.Debug(ctx, logger.SND, "send.retry.backoff",
			append(sendLogAttrs(ctx, q),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)...,
		)
	}

	d.errs.Add(1)
	logSendFailure(ctx, q, lastErr, attempts, time.Since(start))
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(d.opts.Backoff) {
		idx = len(d.opts.Backoff) - 1
	}
	if idx < 0 {
		return 0
	}
	return d.opts.Backoff[idx]
}

// retryable reports whether a delivery error is worth another attempt.
// Client-side API errors are final except flood waits.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return true
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return netutil.ShouldRetry(err)
}

func sendLogAttrs(ctx context.Context, q queued) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", q.job.Action),
		slog.String("lane", q.lane.String()),
	}
	if id := logger.UpdateIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int("update_id", id))
	}
	if id := logger.UserIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int64("user_id", id))
	}
	// The job's chat wins over the ctx chat: a notification may target
	// a different chat than the update that produced it.
	switch {
	case q.job.ChatID != 0:
		attrs = append(attrs, slog.Int64("chat_id", q.job.ChatID))
	default:
		if id := logger.ChatIDFrom(ctx); id != 0 {
			attrs = append(attrs, slog.Int64("chat_id", id))
		}
	}
	return attrs
}

func logSendSuccess(ctx context.Context, q queued, attempt int, elapsed time.Duration) {
	attrs := sendLogAttrs(ctx, q)
	if attempt > 1 {
		attrs = append(attrs, slog.Int("attempt", attempt))
	}
	attrs = append(attrs, slog.Int("elapsed_ms", durationToMS(elapsed)))
	logger.Debug(ctx, logger.SND, "send.success", attrs...)
}

func logSendFailure(ctx context.Context, q queued, err error, attempts int, elapsed time.Duration) {
	attrs := sendLogAttrs(ctx, q)
	attrs = append(attrs,
		slog.String("error", sanitizeErrorMessage(err)),
		slog.String("error_kind", classifyError(err)),
		slog.Int("attempts", attempts),
		slog.Int("elapsed_ms", durationToMS(elapsed)),
	)
	if q.job.Text != "" {
		attrs = append(attrs, slog.String("text", logger.SanitizeLimit(q.job.Text, 120)))
	}
	logger.Error(ctx, logger.SND, "send.fail", attrs...)
}

func durationToMS(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(logger.RoundMS(d) / time.Millisecond)
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "timeout"
		}
		if opErr.Op == "dial" {
			return "dial"
		}
		if opErr.Op == "read" || opErr.Op == "write" {
			if kind := classifyError(opErr.Err); kind != "" && kind != "unknown" {
				return kind
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "timeout"
		}
		if urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
			if kind := classifyError(urlErr.Err); kind != "" && kind != "unknown" {
				return kind
			}
		}
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return "tls"
	}

	status := httpStatusFromError(err)
	switch {
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}

	return "unknown"
}

// sanitizeErrorMessage prevents accidental leakage of Telegram bot tokens in logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		return ""
	}
	return tokenRe.ReplaceAllString(msg, "bot<redacted>")
}

func httpStatusFromError(err error) int {
	if err == nil {
		return 0
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}

	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	msg := err.Error()
	if msg == "" {
		return 0
	}

	lastOpen := strings.LastIndex(msg, "(")
	lastClose := strings.LastIndex(msg, ")")
	if lastOpen >= 0 && lastClose > lastOpen+1 {
		codeStr := strings.TrimSpace(msg[lastOpen+1 : lastClose])
		if code, convErr := strconv.Atoi(codeStr); convErr == nil {
			return code
		}
	}

	return 0
}
