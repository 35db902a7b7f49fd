// Package retry re-executes failed trades with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/events"
	"polymarket-copytrader/internal/executor"
	"polymarket-copytrader/internal/observability"
	"polymarket-copytrader/internal/storage"
)

const (
	defaultBaseDelay     = 5 * time.Second
	defaultMaxDelay      = 5 * time.Minute
	defaultSweepInterval = time.Minute
)

var ErrNotRunning = errors.New("retry: scheduler not running")

// TradeRetrier re-executes a failed trade against its original record.
type TradeRetrier interface {
	RetryTrade(ctx context.Context, tradeID string) (*executor.ExecutionResult, error)
}

// Scheduler tracks FAILED trades and retries them after an exponential
// backoff. Trades that exhaust their attempts are marked
// PERMANENTLY_FAILED and dropped from the queue.
type Scheduler struct {
	retrier  TradeRetrier
	trades   storage.TradeStore
	activity storage.ActivityStore
	bus      *events.Bus
	logger   *log.Logger

	baseDelay     time.Duration
	maxDelay      time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options configures a Scheduler. Zero durations get production defaults.
type Options struct {
	Retrier       TradeRetrier
	Trades        storage.TradeStore
	Activity      storage.ActivityStore
	Bus           *events.Bus
	Logger        *log.Logger
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	SweepInterval time.Duration
}

// NewScheduler creates a retry scheduler. Call Start before scheduling.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		retrier:       opts.Retrier,
		trades:        opts.Trades,
		activity:      opts.Activity,
		bus:           opts.Bus,
		logger:        opts.Logger,
		baseDelay:     opts.BaseDelay,
		maxDelay:      opts.MaxDelay,
		sweepInterval: opts.SweepInterval,
		timers:        make(map[string]*time.Timer),
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.baseDelay <= 0 {
		s.baseDelay = defaultBaseDelay
	}
	if s.maxDelay <= 0 {
		s.maxDelay = defaultMaxDelay
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = defaultSweepInterval
	}
	return s
}

// Start loads the retryable backlog from the trade store, schedules it,
// and begins a periodic sweep that picks up failed trades nothing has
// scheduled yet. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	backlog, err := s.trades.GetRetryable(ctx, domain.MaxRetryAttempts)
	if err != nil {
		return fmt.Errorf("load retryable backlog: %w", err)
	}
	for _, t := range backlog {
		if err := s.ScheduleRetry(ctx, t); err != nil {
			s.logger.Printf("retry: schedule backlog trade %s: %v", t.ID, err)
		}
	}

	s.wg.Add(1)
	go s.sweepLoop()
	return nil
}

// Stop cancels every pending timer and waits for the sweep to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	observability.UpdateRetriesPending(0)
	s.mu.Unlock()
	s.wg.Wait()
}

// ScheduleRetry queues one failed trade for re-execution. A trade that
// has already used all its attempts is marked PERMANENTLY_FAILED
// instead. Scheduling an already-queued trade is a no-op.
func (s *Scheduler) ScheduleRetry(ctx context.Context, record *domain.TradeRecord) error {
	if record.Status != domain.TradeStatusFailed {
		return fmt.Errorf("retry: trade %s is %s, only FAILED trades can be retried", record.ID, record.Status)
	}
	if record.RetryCount >= domain.MaxRetryAttempts {
		return s.markPermanent(ctx, record)
	}

	delay := s.backoffDelay(record.RetryCount)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if _, queued := s.timers[record.ID]; queued {
		s.mu.Unlock()
		return nil
	}
	tradeID := record.ID
	s.timers[tradeID] = time.AfterFunc(delay, func() { s.fire(tradeID) })
	observability.RecordRetryScheduled()
	observability.UpdateRetriesPending(len(s.timers))
	s.mu.Unlock()

	// Mirror the fire time onto the record so a restart can rebuild the
	// queue from the store.
	at := time.Now().UTC().Add(delay)
	record.NextRetryAt = &at
	if err := s.trades.Update(ctx, record); err != nil {
		s.logger.Printf("retry: persist next retry for %s: %v", record.ID, err)
	}

	s.logger.Printf("retry: trade %s attempt %d/%d in %s",
		record.ID, record.RetryCount+1, domain.MaxRetryAttempts, delay)
	s.publish(events.EventTradeRetry, record.TraderID, record)
	return nil
}

// CancelRetry removes a trade from the queue. Reports whether it was queued.
func (s *Scheduler) CancelRetry(tradeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[tradeID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, tradeID)
	observability.UpdateRetriesPending(len(s.timers))
	return true
}

// Pending returns the IDs of trades currently waiting on a retry timer.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// backoffDelay returns the wait before the next attempt given the number
// of failures so far: base doubled per prior failure, capped at maxDelay.
func (s *Scheduler) backoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := s.baseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

// fire runs when a retry timer elapses.
func (s *Scheduler) fire(tradeID string) {
	s.mu.Lock()
	delete(s.timers, tradeID)
	observability.UpdateRetriesPending(len(s.timers))
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	result, err := s.retrier.RetryTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, executor.ErrNotRetryable) {
			s.logger.Printf("retry: trade %s no longer retryable: %v", tradeID, err)
			s.finalizeExhausted(ctx, tradeID)
			return
		}
		s.logger.Printf("retry: trade %s: %v", tradeID, err)
		return
	}
	if result.Success {
		s.logger.Printf("retry: trade %s succeeded", tradeID)
		return
	}

	// Still failing: queue the next attempt or give up.
	record, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		s.logger.Printf("retry: reload trade %s: %v", tradeID, err)
		return
	}
	if err := s.ScheduleRetry(ctx, record); err != nil && !errors.Is(err, ErrNotRunning) {
		s.logger.Printf("retry: reschedule trade %s: %v", tradeID, err)
	}
}

// finalizeExhausted marks a trade permanent if the store still shows it
// FAILED with no attempts left.
func (s *Scheduler) finalizeExhausted(ctx context.Context, tradeID string) {
	record, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		s.logger.Printf("retry: reload trade %s: %v", tradeID, err)
		return
	}
	if record.Status == domain.TradeStatusFailed && record.RetryCount >= domain.MaxRetryAttempts {
		if err := s.markPermanent(ctx, record); err != nil {
			s.logger.Printf("retry: finalize trade %s: %v", tradeID, err)
		}
	}
}

func (s *Scheduler) markPermanent(ctx context.Context, record *domain.TradeRecord) error {
	record.Status = domain.TradeStatusPermanentlyFailed
	if err := s.trades.Update(ctx, record); err != nil {
		return fmt.Errorf("mark trade %s permanently failed: %w", record.ID, err)
	}
	observability.RecordPermanentFailure()
	s.logger.Printf("retry: trade %s permanently failed after %d attempts: %s",
		record.ID, record.RetryCount, record.FailureReason)
	s.appendActivity(ctx, record,
		fmt.Sprintf("gave up on %s %s after %d attempts: %s",
			record.Side, record.TokenID, record.RetryCount, record.FailureReason))
	s.publish(events.EventTradeFailed, record.TraderID, record)
	return nil
}

// sweepLoop periodically picks up retryable trades that have no timer,
// e.g. ones that failed while the scheduler was down.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	backlog, err := s.trades.GetRetryable(s.ctx, domain.MaxRetryAttempts)
	if err != nil {
		s.logger.Printf("retry: sweep: %v", err)
		return
	}
	for _, t := range backlog {
		s.mu.Lock()
		_, queued := s.timers[t.ID]
		s.mu.Unlock()
		if queued {
			continue
		}
		if err := s.ScheduleRetry(s.ctx, t); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Printf("retry: sweep schedule trade %s: %v", t.ID, err)
		}
	}
}

func (s *Scheduler) publish(t events.EventType, traderID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: t, TraderID: traderID, Payload: payload})
}

func (s *Scheduler) appendActivity(ctx context.Context, record *domain.TradeRecord, message string) {
	if s.activity == nil {
		return
	}
	err := s.activity.Append(ctx, &domain.ActivityEntry{
		ID:        uuid.NewString(),
		Type:      "TRADE_PERMANENTLY_FAILED",
		TraderID:  record.TraderID,
		TradeID:   record.ID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Printf("retry: append activity: %v", err)
	}
}
