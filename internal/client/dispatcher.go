package client

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/metrics"
)

// DispatcherConfig tunes the delivery queue.
type DispatcherConfig struct {
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	SendTimeout    time.Duration
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      1024,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		SendTimeout:    5 * time.Second,
	}
}

type dispatchJob struct {
	eventType string
	eventID   string
	send      func(ctx context.Context) error
}

// Dispatcher delivers committed events to collaborators from a bounded
// in-memory queue. Failed sends are retried with exponential backoff; an
// event that still fails, or that arrives while the queue is full, is
// logged and dropped. Event ids are deterministic, so consumers can
// de-duplicate retries.
type Dispatcher struct {
	cfg           DispatcherConfig
	notifications *NotificationPublisher
	payouts       *PayoutPublisher
	log           zerolog.Logger

	queue  chan dispatchJob
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil publisher disables that channel.
func NewDispatcher(cfg DispatcherConfig, notifications *NotificationPublisher, payouts *PayoutPublisher, log zerolog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		cfg:           cfg,
		notifications: notifications,
		payouts:       payouts,
		log:           log,
		queue:         make(chan dispatchJob, cfg.QueueSize),
	}
}

// Start launches the delivery worker. It stops when Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for job := range d.queue {
			d.deliver(ctx, job)
		}
	}()
}

// Close stops accepting events and waits for queued events to be delivered
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(job dispatchJob) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn().Str("event_type", job.eventType).Str("event_id", job.eventID).Msg("dispatch: dispatcher closed, event dropped")
		metrics.DispatchFailure(job.eventType, true)
		return
	}
	select {
	case d.queue <- job:
	default:
		d.log.Warn().Str("event_type", job.eventType).Str("event_id", job.eventID).Msg("dispatch: queue full, event dropped")
		metrics.DispatchFailure(job.eventType, true)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job dispatchJob) {
	attempt := 0
	send := func() error {
		attempt++
		sendCtx, cancel := ctx, context.CancelFunc(func() {})
		if d.cfg.SendTimeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		}
		defer cancel()

		err := job.send(sendCtx)
		if err == nil {
			return nil
		}
		final := attempt >= d.cfg.MaxAttempts
		metrics.DispatchFailure(job.eventType, final)
		d.log.Warn().Err(err).
			Str("event_type", job.eventType).
			Str("event_id", job.eventID).
			Int("attempt", attempt).
			Bool("final", final).
			Msg("dispatch: failed to deliver event (non-fatal)")
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(send, policy); err != nil {
		if attempt < d.cfg.MaxAttempts {
			d.log.Warn().Err(err).Str("event_type", job.eventType).Str("event_id", job.eventID).Msg("dispatch: retries abandoned on shutdown")
		}
		return
	}
	d.log.Debug().Str("event_type", job.eventType).Str("event_id", job.eventID).Int("attempt", attempt).Msg("dispatch: event delivered")
}

func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// ProposalSubmitted implements service.Notifier.
func (d *Dispatcher) ProposalSubmitted(_ context.Context, evt events.ProposalSubmitted) {
	if d.notifications == nil {
		return
	}
	d.enqueue(dispatchJob{eventType: events.TypeProposalSubmitted, eventID: evt.EventID, send: func(ctx context.Context) error {
		return d.notifications.PublishProposalSubmitted(ctx, evt)
	}})
}

// ProposalDecided implements service.Notifier.
func (d *Dispatcher) ProposalDecided(_ context.Context, evt events.ProposalDecided) {
	if d.notifications == nil {
		return
	}
	d.enqueue(dispatchJob{eventType: events.TypeProposalDecided, eventID: evt.EventID, send: func(ctx context.Context) error {
		return d.notifications.PublishProposalDecided(ctx, evt)
	}})
}

// ReadyForPayment implements service.Notifier.
func (d *Dispatcher) ReadyForPayment(_ context.Context, evt events.ReadyForPayment) {
	if d.notifications == nil {
		return
	}
	d.enqueue(dispatchJob{eventType: events.TypeReadyForPayment, eventID: evt.EventID, send: func(ctx context.Context) error {
		return d.notifications.PublishReadyForPayment(ctx, evt)
	}})
}

// WithdrawalDecided implements service.Notifier.
func (d *Dispatcher) WithdrawalDecided(_ context.Context, evt events.WithdrawalDecided) {
	if d.notifications == nil {
		return
	}
	d.enqueue(dispatchJob{eventType: events.TypeWithdrawalDecided, eventID: evt.EventID, send: func(ctx context.Context) error {
		return d.notifications.PublishWithdrawalDecided(ctx, evt)
	}})
}

// WithdrawalApproved implements service.Notifier.
func (d *Dispatcher) WithdrawalApproved(_ context.Context, evt events.WithdrawalApproved) {
	if d.payouts == nil {
		return
	}
	d.enqueue(dispatchJob{eventType: events.TypeWithdrawalApproved, eventID: evt.EventID, send: func(ctx context.Context) error {
		return d.payouts.PublishWithdrawalApproved(ctx, evt)
	}})
}
