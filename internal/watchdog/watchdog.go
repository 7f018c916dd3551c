// Package watchdog escalates workspaces that stall in a state past their
// deadline. It runs as a periodic job outside the request path, surfaces
// urgency through the event queue and never mutates workspace state.
package watchdog

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// Stalls is the read-only slice of storage the watchdog needs.
type Stalls interface {
	ListStalled(ctx context.Context, changedBefore time.Time) ([]reasoning.StalledWorkspace, error)
}

// Bands holds the urgency thresholds. A workspace stalled longer than
// Critical is critical, longer than Urgent is urgent, longer than Elevated is
// elevated. PerState overrides the elevated threshold for individual states.
type Bands struct {
	Elevated time.Duration
	Urgent   time.Duration
	Critical time.Duration
	PerState map[reasoning.State]time.Duration
}

// DefaultBands mirrors the historical 5/15/30 minute escalation ladder.
func DefaultBands() Bands {
	return Bands{
		Elevated: 5 * time.Minute,
		Urgent:   15 * time.Minute,
		Critical: 30 * time.Minute,
	}
}

// Urgency classifies a stall duration for the given state, returning "" when
// the workspace is still within its deadline.
func (b Bands) Urgency(state reasoning.State, stalled time.Duration) string {
	elevated := b.Elevated
	if d, ok := b.PerState[state]; ok && d > 0 {
		elevated = d
	}
	switch {
	case b.Critical > 0 && stalled >= b.Critical:
		return reasoning.UrgencyCritical
	case b.Urgent > 0 && stalled >= b.Urgent:
		return reasoning.UrgencyUrgent
	case elevated > 0 && stalled >= elevated:
		return reasoning.UrgencyElevated
	}
	return ""
}

// Watchdog scans for stalled workspaces on a schedule.
type Watchdog struct {
	Store    Stalls
	Events   reasoning.Sink
	Metrics  reasoning.Recorder
	Rdb      *redis.Client
	Logger   *log.Logger
	Bands    Bands
	Schedule string        // @hourly, @daily or 5-field cron; empty = Interval
	Interval time.Duration
	Stop     chan struct{}

	now     func() time.Time
	lastRun time.Time
}

// New builds a watchdog with default bands and a one-minute interval.
func New(store Stalls, events reasoning.Sink, rdb *redis.Client, logger *log.Logger) *Watchdog {
	if logger == nil {
		logger = log.New(log.Writer(), "[WATCHDOG] ", log.LstdFlags)
	}
	if events == nil {
		events = reasoning.NopSink{}
	}
	return &Watchdog{
		Store:    store,
		Events:   events,
		Metrics:  reasoning.NopRecorder{},
		Rdb:      rdb,
		Logger:   logger,
		Bands:    DefaultBands(),
		Interval: time.Minute,
		Stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the scan loop in a goroutine.
func (w *Watchdog) Start() {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-w.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if !w.due() {
					continue
				}
				w.lastRun = w.now()
				if err := w.Tick(context.Background()); err != nil {
					w.Logger.Printf("scan failed: %v", err)
				}
			}
		}
	}()
}

// due evaluates the cron schedule against the last completed scan. With no
// schedule configured every tick is due.
func (w *Watchdog) due() bool {
	if w.Schedule == "" {
		return true
	}
	now := w.now()
	switch w.Schedule {
	case "@hourly":
		return w.lastRun.IsZero() || now.Sub(w.lastRun) >= time.Hour
	case "@daily":
		return w.lastRun.IsZero() || now.Sub(w.lastRun) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(w.Schedule)
		if err != nil {
			return true
		}
		if w.lastRun.IsZero() {
			return true
		}
		return !expr.Next(w.lastRun).After(now)
	}
}

// Tick performs one scan and publishes one escalation per stalled workspace
// and band. A Redis SETNX lock deduplicates notifications across replicas and
// across scans within the same band.
func (w *Watchdog) Tick(ctx context.Context) error {
	now := w.now().UTC()
	cutoff := now.Add(-w.minThreshold())
	stalled, err := w.Store.ListStalled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stalled workspaces: %w", err)
	}
	for _, ws := range stalled {
		stalledFor := now.Sub(ws.StateChangedAt)
		urgency := w.Bands.Urgency(ws.CurrentState, stalledFor)
		if urgency == "" {
			continue
		}
		if w.Rdb != nil {
			lockKey := fmt.Sprintf("watchdog:escalated:%s:%s", ws.ID, urgency)
			ok, err := w.Rdb.SetNX(ctx, lockKey, "1", 24*time.Hour).Result()
			if err != nil {
				w.Logger.Printf("escalation lock for %s: %v", ws.ID, err)
			} else if !ok {
				continue
			}
		}
		w.Events.Publish(ctx, reasoning.Event{
			Kind:        reasoning.EventEscalated,
			TenantID:    ws.TenantID,
			WorkspaceID: ws.ID,
			OccurredAt:  now,
			Escalation: &reasoning.EscalationPayload{
				State:          ws.CurrentState,
				Urgency:        urgency,
				StalledFor:     stalledFor,
				StateChangedAt: ws.StateChangedAt,
			},
		})
		w.Metrics.Escalated(urgency)
		w.Logger.Printf("workspace %s stalled %s in %s (%s)", ws.ID, stalledFor.Round(time.Second), ws.CurrentState, urgency)
	}
	return nil
}

// minThreshold returns the smallest configured deadline so the store query
// can pre-filter.
func (w *Watchdog) minThreshold() time.Duration {
	min := w.Bands.Elevated
	for _, d := range w.Bands.PerState {
		if d > 0 && d < min {
			min = d
		}
	}
	if min <= 0 {
		min = 5 * time.Minute
	}
	return min
}
