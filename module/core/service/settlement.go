package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/metrics"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database"
	"github.com/nandanugg/tollgate/module/core/internal/repository/publisher"
)

// Ledger is the part of the balance ledger the engine may use.
type Ledger interface {
	Debit(ctx context.Context, vehicleID string, amount decimal.Decimal, key string) (string, error)
	Lookup(ctx context.Context, vehicleID, key string) (string, bool, error)
}

type SettlementConfig struct {
	Workers       int
	QueueSize     int
	LedgerTimeout time.Duration
	RetryBase     time.Duration
	RetryCap      time.Duration
	MaxRetries    int
	DrainTimeout  time.Duration
	RecoverBatch  int
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		Workers:       8,
		QueueSize:     1024,
		LedgerTimeout: 5 * time.Second,
		RetryBase:     time.Second,
		RetryCap:      30 * time.Second,
		MaxRetries:    5,
		DrainTimeout:  30 * time.Second,
		RecoverBatch:  1000,
	}
}

func (c SettlementConfig) withDefaults() SettlementConfig {
	d := DefaultSettlementConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = d.LedgerTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = d.RetryCap
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.RecoverBatch <= 0 {
		c.RecoverBatch = d.RecoverBatch
	}
	return c
}

// SettlementEngine turns crossings into toll records and settles them against the ledger.
type SettlementEngine struct {
	tolls    database.TollRepository
	ledger   Ledger
	notifier publisher.TollPublisher
	cfg      SettlementConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	queue  chan job
	mu     sync.RWMutex
	closed bool
}

func NewSettlementEngine(tolls database.TollRepository, ledger Ledger, notifier publisher.TollPublisher, cfg SettlementConfig, logger *slog.Logger) *SettlementEngine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementEngine{
		tolls:    tolls,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
		queue:    make(chan job, cfg.QueueSize),
	}
}

// job is either a fresh crossing or a toll resumed from a previous process.
type job struct {
	crossing domain.Crossing
	resume   *domain.TollRecord
}

// Submit queues a crossing for the worker pool.
func (e *SettlementEngine) Submit(ctx context.Context, c domain.Crossing) error {
	return e.enqueue(ctx, job{crossing: c})
}

func (e *SettlementEngine) enqueue(ctx context.Context, j job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return domain.ErrEngineClosed
	}
	select {
	case e.queue <- j:
		metrics.SettlementQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the workers and blocks until ctx is done and the queue has drained.
// Settlements keep running after ctx is cancelled, for at most DrainTimeout.
func (e *SettlementEngine) Run(ctx context.Context) error {
	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range e.queue {
				metrics.SettlementQueueDepth.Dec()
				e.handle(work, j)
			}
		}()
	}

	<-ctx.Done()
	e.mu.Lock()
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.logger.Info("settlement engine draining", "queued", len(e.queue), "max_wait", e.cfg.DrainTimeout)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(e.cfg.DrainTimeout):
		cancelWork()
		<-done
		return fmt.Errorf("settlement drain exceeded %s", e.cfg.DrainTimeout)
	}
}

func (e *SettlementEngine) handle(ctx context.Context, j job) {
	if j.resume != nil {
		e.logRecovery(e.resume(ctx, j.resume))
		return
	}
	c := j.crossing
	rec, err := e.Settle(ctx, c)
	switch {
	case err == nil:
		e.logger.Debug("crossing handled", "toll", rec.ID, "status", rec.Status)
	case errors.Is(err, domain.ErrConflict):
		e.logger.Debug("toll already being settled", "device", c.DeviceID, "gantry", c.GantryID, "error", err)
	default:
		e.logger.Error("settlement failed",
			"device", c.DeviceID, "gantry", c.GantryID, "timestamp", c.Timestamp, "error", err)
	}
}

// Settle records the crossing and settles it. A re-delivered crossing returns the existing record.
// The record is written even when ctx is already cancelled; it is then left CREATED for recovery.
func (e *SettlementEngine) Settle(ctx context.Context, c domain.Crossing) (*domain.TollRecord, error) {
	rec, err := e.create(ctx, c)
	if errors.Is(err, domain.ErrAlreadyExists) {
		metrics.DuplicateCrossings.Inc()
		e.logger.Debug("duplicate crossing", "toll", rec.ID, "status", rec.Status)
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create toll: %w", err)
	}
	metrics.TollTransitions.WithLabelValues(string(domain.TollCreated)).Inc()

	if ctx.Err() != nil {
		e.logger.Warn("toll left CREATED for recovery", "toll", rec.ID, "vehicle", rec.DeviceID)
		return rec, nil
	}
	return e.settleFrom(ctx, rec, domain.TollCreated, e.cfg.MaxRetries)
}

// create writes the record on a context detached from cancellation, so a crossing
// taken off the queue during a drain still becomes durable.
func (e *SettlementEngine) create(ctx context.Context, c domain.Crossing) (*domain.TollRecord, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.LedgerTimeout)
	defer cancel()

	rec, err := e.tolls.Create(ctx, &domain.TollRecord{
		DeviceID:  c.DeviceID,
		GantryID:  c.GantryID,
		CrossedAt: c.Timestamp,
		Price:     c.Price,
	})
	if err == nil || errors.Is(err, domain.ErrAlreadyExists) {
		e.notify(ctx, rec)
	}
	return rec, err
}

// Retry pushes a toll back into settlement from CREATED, INSUFFICIENT_FUNDS or LEDGER_FAILED
// with a fresh retry budget. A SETTLED toll is returned unchanged.
func (e *SettlementEngine) Retry(ctx context.Context, tollID int64) (*domain.TollRecord, error) {
	rec, err := e.tolls.Get(ctx, tollID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case domain.TollSettled:
		return rec, nil
	case domain.TollSettling:
		return rec, fmt.Errorf("toll %d is settling: %w", tollID, domain.ErrConflict)
	}
	return e.settleFrom(ctx, rec, rec.Status, e.cfg.MaxRetries)
}

// Pending lists tolls left behind by a previous process: CREATED, orphaned SETTLING,
// and LEDGER_FAILED with retry budget left. Take it before any worker or producer
// starts, or a live SETTLING toll is mistaken for an orphan.
func (e *SettlementEngine) Pending(ctx context.Context) ([]domain.TollRecord, error) {
	created, err := e.tolls.ListByStatus(ctx, domain.TollCreated, e.cfg.RecoverBatch)
	if err != nil {
		return nil, fmt.Errorf("list created tolls: %w", err)
	}
	settling, err := e.tolls.ListByStatus(ctx, domain.TollSettling, e.cfg.RecoverBatch)
	if err != nil {
		return nil, fmt.Errorf("list settling tolls: %w", err)
	}
	failed, err := e.tolls.ListByStatus(ctx, domain.TollLedgerFailed, e.cfg.RecoverBatch)
	if err != nil {
		return nil, fmt.Errorf("list failed tolls: %w", err)
	}

	pending := make([]domain.TollRecord, 0, len(created)+len(settling)+len(failed))
	pending = append(pending, created...)
	pending = append(pending, settling...)
	retryable := 0
	for _, rec := range failed {
		if e.budgetLeft(&rec) > 0 {
			pending = append(pending, rec)
			retryable++
		}
	}
	e.logger.Info("tolls to recover", "created", len(created), "settling", len(settling), "ledger_failed", retryable)
	return pending, nil
}

// Resume queues recs for the worker pool, blocking while the queue is full.
// It does no ledger work itself, so a ledger outage cannot hold up the caller past the queue.
func (e *SettlementEngine) Resume(ctx context.Context, recs []domain.TollRecord) error {
	for i := range recs {
		rec := recs[i]
		if err := e.enqueue(ctx, job{resume: &rec}); err != nil {
			return fmt.Errorf("resume toll %d: %w", rec.ID, err)
		}
	}
	return nil
}

// Recover queues every pending toll. Workers started by Run settle them.
func (e *SettlementEngine) Recover(ctx context.Context) error {
	pending, err := e.Pending(ctx)
	if err != nil {
		return err
	}
	return e.Resume(ctx, pending)
}

// resume drives one recovered toll from the status it was listed in.
func (e *SettlementEngine) resume(ctx context.Context, rec *domain.TollRecord) (*domain.TollRecord, error) {
	switch rec.Status {
	case domain.TollCreated:
		return e.settleFrom(ctx, rec, domain.TollCreated, e.cfg.MaxRetries)
	case domain.TollSettling:
		return e.recoverSettling(ctx, rec)
	case domain.TollLedgerFailed:
		left := e.budgetLeft(rec)
		if left <= 0 {
			return rec, nil
		}
		return e.settleFrom(ctx, rec, domain.TollLedgerFailed, left-1)
	}
	return rec, nil
}

// budgetLeft is the number of attempts rec may still make.
func (e *SettlementEngine) budgetLeft(rec *domain.TollRecord) int {
	return e.cfg.MaxRetries - (rec.Attempts - 1)
}

func (e *SettlementEngine) logRecovery(rec *domain.TollRecord, err error) {
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		e.logger.Error("toll recovery failed", "error", err)
		return
	}
	if rec != nil {
		e.logger.Info("toll recovered", "toll", rec.ID, "status", rec.Status)
	}
}

// recoverSettling finishes a toll that was mid-debit when the process stopped.
// The ledger is asked first so a debit that already happened is not repeated.
func (e *SettlementEngine) recoverSettling(ctx context.Context, rec *domain.TollRecord) (*domain.TollRecord, error) {
	ref, found, err := e.lookup(ctx, rec)
	if err == nil && found {
		return e.transition(ctx, rec, domain.TollSettling, domain.TollSettled, domain.StatusChange{Reference: ref})
	}
	failed, err := e.transition(ctx, rec, domain.TollSettling, domain.TollLedgerFailed, domain.StatusChange{})
	if err != nil {
		return nil, err
	}
	left := e.budgetLeft(failed)
	if left <= 0 {
		return failed, nil
	}
	return e.settleFrom(ctx, failed, domain.TollLedgerFailed, left-1)
}

// settleFrom moves rec from status from into SETTLING and drives it to an outcome,
// retrying transient ledger faults at most retries times.
func (e *SettlementEngine) settleFrom(ctx context.Context, rec *domain.TollRecord, from domain.TollStatus, retries int) (*domain.TollRecord, error) {
	rec, err := e.transition(ctx, rec, from, domain.TollSettling, domain.StatusChange{CountAttempt: true})
	if err != nil {
		return nil, err
	}

	bo := e.newBackOff()
	for n := 0; ; n++ {
		next, transient, err := e.attempt(ctx, rec)
		if err != nil || !transient {
			return next, err
		}
		if n >= retries {
			e.logger.Error("toll left in LEDGER_FAILED after retries",
				"toll", next.ID, "vehicle", next.DeviceID, "attempts", next.Attempts)
			return next, nil
		}

		wait := bo.NextBackOff()
		e.logger.Warn("ledger fault, retrying", "toll", next.ID, "attempt", next.Attempts, "backoff", wait)
		if err := e.sleep(ctx, wait); err != nil {
			return next, fmt.Errorf("toll %d retry: %w", next.ID, err)
		}

		current, err := e.tolls.Get(ctx, next.ID)
		if err != nil {
			return next, fmt.Errorf("reload toll %d: %w", next.ID, err)
		}
		if current.Status != domain.TollLedgerFailed {
			return current, nil
		}
		rec, err = e.transition(ctx, current, domain.TollLedgerFailed, domain.TollSettling, domain.StatusChange{CountAttempt: true})
		if err != nil {
			return nil, err
		}
	}
}

// attempt settles a SETTLING record once. transient reports a ledger fault worth retrying.
func (e *SettlementEngine) attempt(ctx context.Context, rec *domain.TollRecord) (*domain.TollRecord, bool, error) {
	if rec.Attempts > 1 {
		ref, found, err := e.lookup(ctx, rec)
		if err != nil {
			next, terr := e.transition(ctx, rec, domain.TollSettling, domain.TollLedgerFailed, domain.StatusChange{})
			return next, terr == nil, terr
		}
		if found {
			next, err := e.transition(ctx, rec, domain.TollSettling, domain.TollSettled, domain.StatusChange{Reference: ref})
			return next, false, err
		}
	}

	ref, err := e.debit(ctx, rec)
	switch {
	case err == nil:
		next, err := e.transition(ctx, rec, domain.TollSettling, domain.TollSettled, domain.StatusChange{Reference: ref})
		return next, false, err
	case errors.Is(err, domain.ErrInsufficientFunds):
		e.logger.Info("insufficient funds", "toll", rec.ID, "vehicle", rec.DeviceID, "price", rec.Price.String())
		next, err := e.transition(ctx, rec, domain.TollSettling, domain.TollInsufficientFunds, domain.StatusChange{})
		return next, false, err
	default:
		e.logger.Warn("ledger debit failed", "toll", rec.ID, "vehicle", rec.DeviceID, "error", err)
		next, terr := e.transition(ctx, rec, domain.TollSettling, domain.TollLedgerFailed, domain.StatusChange{})
		return next, terr == nil, terr
	}
}

func (e *SettlementEngine) debit(ctx context.Context, rec *domain.TollRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()

	start := time.Now()
	ref, err := e.ledger.Debit(ctx, rec.DeviceID, rec.Price, idempotencyKey(rec.ID))
	metrics.LedgerLatency.WithLabelValues("debit").Observe(time.Since(start).Seconds())
	metrics.LedgerCalls.WithLabelValues("debit", ledgerOutcome(err)).Inc()
	return ref, err
}

func (e *SettlementEngine) lookup(ctx context.Context, rec *domain.TollRecord) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()

	start := time.Now()
	ref, found, err := e.ledger.Lookup(ctx, rec.DeviceID, idempotencyKey(rec.ID))
	metrics.LedgerLatency.WithLabelValues("lookup").Observe(time.Since(start).Seconds())
	metrics.LedgerCalls.WithLabelValues("lookup", ledgerOutcome(err)).Inc()
	return ref, found, err
}

// transition writes a status CAS on a context detached from cancellation so that
// a shutdown mid-debit still records the outcome.
func (e *SettlementEngine) transition(ctx context.Context, rec *domain.TollRecord, from, to domain.TollStatus, change domain.StatusChange) (*domain.TollRecord, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.LedgerTimeout)
	defer cancel()

	next, err := e.tolls.UpdateStatus(ctx, rec.ID, from, to, change)
	if err != nil {
		return nil, fmt.Errorf("toll %d %s -> %s: %w", rec.ID, from, to, err)
	}
	metrics.TollTransitions.WithLabelValues(string(to)).Inc()
	e.notify(ctx, next)
	return next, nil
}

func (e *SettlementEngine) notify(ctx context.Context, rec *domain.TollRecord) {
	if e.notifier == nil || rec == nil {
		return
	}
	if err := e.notifier.PublishStatus(ctx, domain.NewNotification(rec)); err != nil {
		e.logger.Warn("toll notification not published", "toll", rec.ID, "status", rec.Status, "error", err)
	}
}

func (e *SettlementEngine) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.cfg.RetryBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         e.cfg.RetryCap,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func idempotencyKey(tollID int64) string {
	return fmt.Sprintf("toll-%d", tollID)
}

func ledgerOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
