// Package monitor polls source wallets and turns holding deltas into
// position change events.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/events"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/observability"
)

const (
	defaultPollInterval = 2 * time.Second

	// shareEpsilon absorbs floating point dust in share counts so a
	// rounding wiggle never shows up as a trade.
	shareEpsilon = 1e-9
)

// ChangeHandler consumes one detected holding delta.
type ChangeHandler func(domain.PositionChangeEvent)

// WatchStatus is a point-in-time view of one watched trader.
type WatchStatus struct {
	TraderID      string
	WalletAddress string
	Positions     int
	LastPollAt    time.Time
	LastError     string
}

// Monitor watches source wallets, one polling goroutine per trader, and
// reports share deltas between consecutive snapshots.
type Monitor struct {
	source   exchange.PositionsSource
	handler  ChangeHandler
	bus      *events.Bus
	logger   *log.Logger
	interval time.Duration

	mu       sync.Mutex
	watchers map[string]*watcher
}

type watcher struct {
	trader    domain.TraderProfile
	cancel    context.CancelFunc
	done      chan struct{}
	snapshots map[domain.SnapshotKey]domain.PositionSnapshot

	lastPoll  time.Time
	lastError string
}

// Options configures a Monitor.
type Options struct {
	Source   exchange.PositionsSource
	Handler  ChangeHandler
	Bus      *events.Bus
	Logger   *log.Logger
	Interval time.Duration
}

// New creates a position monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		source:   opts.Source,
		handler:  opts.Handler,
		bus:      opts.Bus,
		logger:   opts.Logger,
		interval: opts.Interval,
		watchers: make(map[string]*watcher),
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	if m.interval <= 0 {
		m.interval = defaultPollInterval
	}
	return m
}

// StartWatching begins polling a trader's wallet. The first snapshot is
// fetched synchronously and becomes the baseline; existing holdings do
// not generate events. Watching an already-watched trader is a no-op.
func (m *Monitor) StartWatching(ctx context.Context, trader *domain.TraderProfile) error {
	m.mu.Lock()
	if _, ok := m.watchers[trader.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	positions, err := m.source.GetUserPositions(ctx, trader.WalletAddress)
	if err != nil {
		return fmt.Errorf("initial snapshot for %s: %w", trader.ID, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &watcher{
		trader:    *trader,
		cancel:    cancel,
		done:      make(chan struct{}),
		snapshots: toSnapshots(positions),
		lastPoll:  time.Now().UTC(),
	}

	m.mu.Lock()
	if _, ok := m.watchers[trader.ID]; ok {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.watchers[trader.ID] = w
	observability.UpdateWatchedTraders(len(m.watchers))
	m.mu.Unlock()

	m.logger.Printf("monitor: watching %s (%s), %d open positions",
		trader.ID, trader.WalletAddress, len(w.snapshots))

	go m.pollLoop(watchCtx, w)
	return nil
}

// StopWatching stops polling one trader and waits for its goroutine to
// exit. Reports whether the trader was being watched.
func (m *Monitor) StopWatching(traderID string) bool {
	m.mu.Lock()
	w, ok := m.watchers[traderID]
	if ok {
		delete(m.watchers, traderID)
		observability.UpdateWatchedTraders(len(m.watchers))
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	<-w.done
	m.logger.Printf("monitor: stopped watching %s", traderID)
	return true
}

// StopAll stops every watcher and waits for them all.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	watchers := make([]*watcher, 0, len(m.watchers))
	for id, w := range m.watchers {
		watchers = append(watchers, w)
		delete(m.watchers, id)
	}
	observability.UpdateWatchedTraders(0)
	m.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
		<-w.done
	}
}

// Watching reports whether the trader has an active watcher.
func (m *Monitor) Watching(traderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[traderID]
	return ok
}

// Status returns a snapshot of every watcher, sorted by trader ID.
func (m *Monitor) Status() []WatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make([]WatchStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		statuses = append(statuses, WatchStatus{
			TraderID:      w.trader.ID,
			WalletAddress: w.trader.WalletAddress,
			Positions:     len(w.snapshots),
			LastPollAt:    w.lastPoll,
			LastError:     w.lastError,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].TraderID < statuses[j].TraderID })
	return statuses
}

func (m *Monitor) pollLoop(ctx context.Context, w *watcher) {
	defer close(w.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx, w)
		}
	}
}

// poll fetches a fresh snapshot and emits the deltas against the previous
// one. Fetch failures are reported but never stop the watcher.
func (m *Monitor) poll(ctx context.Context, w *watcher) {
	positions, err := m.source.GetUserPositions(ctx, w.trader.WalletAddress)
	observability.RecordPoll(err)

	m.mu.Lock()
	w.lastPoll = time.Now().UTC()
	if err != nil {
		w.lastError = err.Error()
		m.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		m.logger.Printf("monitor: poll %s: %v", w.trader.ID, err)
		m.publish(events.EventMonitorError, w.trader.ID, err.Error())
		return
	}
	w.lastError = ""

	current := toSnapshots(positions)
	changes := diffSnapshots(&w.trader, w.snapshots, current)
	w.snapshots = current
	m.mu.Unlock()

	for _, change := range changes {
		observability.RecordPositionChange(string(change.Kind))
		m.logger.Printf("monitor: %s %s %s/%s %.4f -> %.4f",
			change.TraderID, change.Kind, change.MarketID, change.TokenID,
			change.PreviousShares, change.CurrentShares)
		if m.handler != nil {
			m.handler(change)
		}
		m.publish(events.EventPositionChange, change.TraderID, change)
	}
}

// diffSnapshots compares two holding snapshots keyed by (market, token)
// and classifies every delta.
func diffSnapshots(trader *domain.TraderProfile, prev, curr map[domain.SnapshotKey]domain.PositionSnapshot) []domain.PositionChangeEvent {
	now := time.Now().UTC()
	var changes []domain.PositionChangeEvent

	emit := func(kind domain.ChangeKind, snap domain.PositionSnapshot, prevShares, currShares float64) {
		changes = append(changes, domain.PositionChangeEvent{
			TraderID:       trader.ID,
			WalletAddress:  trader.WalletAddress,
			MarketID:       snap.MarketID,
			TokenID:        snap.TokenID,
			Outcome:        snap.Outcome,
			Kind:           kind,
			PreviousShares: prevShares,
			CurrentShares:  currShares,
			Delta:          currShares - prevShares,
			Price:          snap.AvgPrice,
			Timestamp:      now,
		})
	}

	for key, snap := range curr {
		before, existed := prev[key]
		switch {
		case !existed:
			emit(domain.ChangeNew, snap, 0, snap.Shares)
		case snap.Shares > before.Shares+shareEpsilon:
			emit(domain.ChangeIncreased, snap, before.Shares, snap.Shares)
		case snap.Shares < before.Shares-shareEpsilon:
			emit(domain.ChangeDecreased, snap, before.Shares, snap.Shares)
		}
	}
	for key, before := range prev {
		if _, still := curr[key]; !still {
			emit(domain.ChangeClosed, before, before.Shares, 0)
		}
	}

	// Stable ordering keeps downstream handling deterministic.
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].MarketID != changes[j].MarketID {
			return changes[i].MarketID < changes[j].MarketID
		}
		return changes[i].TokenID < changes[j].TokenID
	})
	return changes
}

func toSnapshots(positions []exchange.UserPosition) map[domain.SnapshotKey]domain.PositionSnapshot {
	snapshots := make(map[domain.SnapshotKey]domain.PositionSnapshot, len(positions))
	for _, p := range positions {
		snap := domain.PositionSnapshot{
			MarketID: p.MarketID,
			TokenID:  p.TokenID,
			Outcome:  p.Outcome,
			Shares:   p.Shares,
			AvgPrice: p.AvgPrice,
		}
		snapshots[snap.Key()] = snap
	}
	return snapshots
}

func (m *Monitor) publish(t events.EventType, traderID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Type: t, TraderID: traderID, Payload: payload})
}
