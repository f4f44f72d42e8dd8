package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
)

// Options tunes delivery.
type Options struct {
	// Events lists enabled event types; empty enables all of them.
	Events        []string
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMax      time.Duration
	RatePerSecond float64
}

type sinkState struct {
	sink    Sink
	limiter *rate.Limiter
}

// Dispatcher fans job transitions out to sinks.
type Dispatcher struct {
	sinks       []sinkState
	enabled     map[EventType]bool
	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration
	logger      *slog.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New builds a dispatcher with webhook and email sinks from config. With no
// sinks configured the dispatcher accepts events and drops them.
func New(cfg *config.Config, logger *slog.Logger) *Dispatcher {
	n := cfg.Notifications
	timeout := time.Duration(n.RequestTimeout) * time.Second
	sinks := make([]Sink, 0, len(n.WebhookURLs)+1)
	for _, url := range n.WebhookURLs {
		sinks = append(sinks, NewWebhookSink(url, timeout))
	}
	if len(n.EmailRecipients) > 0 {
		sinks = append(sinks, &EmailSink{
			Server:     n.SMTP.Server,
			Port:       n.SMTP.Port,
			Username:   n.SMTP.Username,
			Password:   n.SMTP.Password,
			UseTLS:     n.SMTP.UseTLS,
			Sender:     n.SMTP.Sender,
			Recipients: append([]string(nil), n.EmailRecipients...),
			Timeout:    timeout,
		})
	}
	return NewDispatcher(sinks, Options{
		Events:        n.Events,
		MaxAttempts:   n.MaxAttempts,
		RetryBase:     time.Duration(n.RetryBaseMillis) * time.Millisecond,
		RetryMax:      time.Duration(n.RetryMaxSeconds) * time.Second,
		RatePerSecond: n.RatePerSecond,
	}, logger)
}

// NewDispatcher builds a dispatcher over explicit sinks.
func NewDispatcher(sinks []Sink, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = opts.RetryBase
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		retryMax:    opts.RetryMax,
		logger:      logging.NewComponentLogger(logger, "notifications"),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
	if len(opts.Events) > 0 {
		d.enabled = make(map[EventType]bool, len(opts.Events))
		for _, event := range opts.Events {
			d.enabled[EventType(strings.TrimSpace(event))] = true
		}
	}
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		limiter := rate.NewLimiter(rate.Inf, 1)
		if opts.RatePerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
		}
		d.sinks = append(d.sinks, sinkState{sink: sink, limiter: limiter})
	}
	return d
}

// Sinks reports how many destinations are configured.
func (d *Dispatcher) Sinks() int {
	return len(d.sinks)
}

// Enabled reports whether eventType is delivered.
func (d *Dispatcher) Enabled(eventType EventType) bool {
	if eventType == EventTest || d.enabled == nil {
		return true
	}
	return d.enabled[eventType]
}

// OnTransition queues delivery of the transition to every sink and returns
// immediately.
func (d *Dispatcher) OnTransition(job queue.Job, prev, next queue.Status) {
	event, ok := NewEvent(job, prev, next, d.now())
	if !ok || !d.Enabled(event.Type) || len(d.sinks) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("dispatcher closed; event dropped", logging.String(logging.FieldJobID, job.ID))
		return
	}
	d.wg.Add(len(d.sinks))
	d.mu.Unlock()

	for _, state := range d.sinks {
		go func(state sinkState) {
			defer d.wg.Done()
			d.deliver(state, event)
		}(state)
	}
}

// Test sends a test event to every sink once and returns the combined error.
func (d *Dispatcher) Test(ctx context.Context) error {
	if len(d.sinks) == 0 {
		return services.Wrap(services.ErrConfiguration, "notifications", "test", "no webhook_urls or email_recipients configured", nil)
	}
	event := Event{
		ID:        fmt.Sprintf("test:%d", d.now().UnixNano()),
		Type:      EventTest,
		Timestamp: d.now().UTC(),
	}
	var errs []error
	for _, state := range d.sinks {
		if err := state.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := state.sink.Deliver(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", state.sink.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return services.Wrap(services.ErrNotification, "notifications", "test", "", err)
	}
	return nil
}

// Close stops accepting events and waits for in-flight deliveries. When ctx
// ends first, pending retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return services.Wrap(services.ErrTimeout, "notifications", "close", "deliveries abandoned", ctx.Err())
	}
}

func (d *Dispatcher) deliver(state sinkState, event Event) {
	logger := d.logger.With(
		logging.String("sink", state.sink.Name()),
		logging.String(logging.FieldJobID, event.Job.ID),
		logging.String(logging.FieldEventType, string(event.Type)),
	)
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := state.limiter.Wait(d.ctx); err != nil {
			lastErr = err
			break
		}
		lastErr = state.sink.Deliver(d.ctx, event)
		if lastErr == nil {
			logger.Debug("notification delivered", logging.Int("attempt", attempt))
			return
		}
		if IsPermanent(lastErr) || attempt == d.maxAttempts {
			break
		}
		delay := d.backoff(attempt)
		logger.Debug("notification attempt failed; retrying",
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.Error(lastErr),
		)
		if !d.sleep(delay) {
			lastErr = d.ctx.Err()
			break
		}
	}
	err := services.Wrap(services.ErrNotification, "notifications", "deliver", state.sink.Name(), lastErr)
	logging.WarnWithContext(logger, "notification delivery failed", "notification_failed",
		logging.Error(err),
		logging.Bool("permanent", IsPermanent(lastErr)),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
		logging.String(logging.FieldImpact, "listener did not receive this job event"),
	)
}

func (d *Dispatcher) sleep(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-d.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoff returns base * 2^(attempt-1), capped at retryMax.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.retryMax {
			return d.retryMax
		}
	}
	return min(delay, d.retryMax)
}
