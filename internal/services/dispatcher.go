package services

import (
	"context"
	"sync"
	"time"

	"github.com/ruralpay/agentledger/internal/notify"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type dispatchJob struct {
	name string
	run  func(ctx context.Context) error
}

// Dispatcher runs notification side effects on a bounded worker pool.
// Enqueueing never blocks: when the queue is full the job is dropped.
type Dispatcher struct {
	notifier    notify.Notifier
	texts       notify.TextSender
	broadcaster notify.Broadcaster
	logger      *zap.Logger

	jobs    chan dispatchJob
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started sync.Once
}

func NewDispatcher(notifier notify.Notifier, texts notify.TextSender, broadcaster notify.Broadcaster,
	queueSize, workers int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		notifier:    notifier,
		texts:       texts,
		broadcaster: broadcaster,
		logger:      logger.Named("dispatcher"),
		jobs:        make(chan dispatchJob, queueSize),
		workers:     workers,
		timeout:     timeout,
	}
}

// Start launches the workers. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
	})
}

// Stop stops accepting jobs and waits for queued ones to finish or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
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

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := job.run(ctx); err != nil {
			d.logger.Warn("side effect failed", zap.String("job", job.name), zap.Error(err))
		}
		cancel()
	}
}

func (d *Dispatcher) enqueue(job dispatchJob) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher stopped, dropping job", zap.String("job", job.name))
		return
	}
	select {
	case d.jobs <- job:
	default:
		notificationsDropped.Inc()
		d.logger.Warn("dispatch queue full, dropping job", zap.String("job", job.name))
	}
}

func (d *Dispatcher) NotifyUser(accountID, title, message, recordID string) {
	if d == nil || d.notifier == nil || accountID == "" {
		return
	}
	d.enqueue(dispatchJob{name: "notify_user", run: func(ctx context.Context) error {
		return d.notifier.NotifyUser(ctx, accountID, title, message, recordID)
	}})
}

func (d *Dispatcher) SendText(phone, message string) {
	if d == nil || d.texts == nil || phone == "" {
		return
	}
	d.enqueue(dispatchJob{name: "send_text", run: func(ctx context.Context) error {
		return d.texts.SendText(ctx, phone, message)
	}})
}

func (d *Dispatcher) BalanceChanged(accountID string, balance decimal.Decimal) {
	if d == nil || d.broadcaster == nil {
		return
	}
	d.enqueue(dispatchJob{name: "balance_changed", run: func(ctx context.Context) error {
		return d.broadcaster.BroadcastBalanceChanged(ctx, accountID, balance)
	}})
}

func (d *Dispatcher) RequestChanged(recordID, status string) {
	if d == nil || d.broadcaster == nil {
		return
	}
	d.enqueue(dispatchJob{name: "request_changed", run: func(ctx context.Context) error {
		return d.broadcaster.BroadcastRequestChanged(ctx, recordID, status)
	}})
}
