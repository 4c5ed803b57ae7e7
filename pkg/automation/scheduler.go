package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AutomationTrigger is the slice of the runner the scheduler needs.
// *Runner satisfies it.
type AutomationTrigger interface {
	Trigger(ctx context.Context, a *Automation, payload any, opts ...TriggerOption) (*TriggerResult, error)
}

// Scheduler fires schedule-triggered automations when their parsed schedule
// comes due. Each due tick is fired with a deterministic idempotency key, so
// duplicate scheduler processes pointed at one queue collapse onto a single
// execution per tick.
type Scheduler struct {
	trigger  AutomationTrigger
	interval time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	entries map[uuid.UUID]*scheduledAutomation
}

type scheduledAutomation struct {
	automation *Automation
	schedule   Schedule
	nextRun    time.Time
}

// SchedulerOption is a functional option for configuring a Scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	interval time.Duration
	logger   *slog.Logger
}

// WithSchedulerInterval sets how often due schedules are checked
func WithSchedulerInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewScheduler creates a scheduler that fires automations through the given
// trigger, normally a *Runner.
func NewScheduler(trigger AutomationTrigger, opts ...SchedulerOption) (*Scheduler, error) {
	if trigger == nil {
		return nil, errors.New("trigger cannot be nil")
	}

	options := &schedulerOptions{
		interval: 15 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		trigger:  trigger,
		interval: options.interval,
		log:      options.logger,
		entries:  make(map[uuid.UUID]*scheduledAutomation),
	}, nil
}

// Add registers a schedule-triggered automation. The schedule expression is
// parsed here so a bad expression fails loudly at wiring time instead of
// silently never firing.
func (s *Scheduler) Add(a *Automation) error {
	if a == nil {
		return ErrAutomationNil
	}
	if a.Trigger.Kind != TriggerSchedule {
		return fmt.Errorf("%w: %s has trigger %q", ErrNotScheduleTrigger, a.Name, a.Trigger.Kind)
	}

	schedule, err := ParseSchedule(a.Trigger.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[a.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, a.Name)
	}

	s.entries[a.ID] = &scheduledAutomation{
		automation: a,
		schedule:   schedule,
		nextRun:    schedule.Next(time.Now()),
	}

	s.log.Info("registered scheduled automation",
		slog.String("automation_id", a.ID.String()),
		slog.String("automation_name", a.Name),
		slog.String("schedule", schedule.String()))

	return nil
}

// Remove deregisters an automation.
func (s *Scheduler) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Automations lists the IDs of all registered automations.
func (s *Scheduler) Automations() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Run returns the scheduling loop for errgroup composition. Due schedules
// are checked immediately and then on every interval tick.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		s.mu.RLock()
		registered := len(s.entries)
		s.mu.RUnlock()
		if registered == 0 {
			return ErrNoAutomations
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.checkDue(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.InfoContext(ctx, "scheduler shutting down")
				return ctx.Err()
			case <-ticker.C:
				s.checkDue(ctx)
			}
		}
	}
}

// checkDue fires every entry whose tick has arrived.
func (s *Scheduler) checkDue(ctx context.Context) {
	now := time.Now()

	s.mu.RLock()
	due := make([]*scheduledAutomation, 0, len(s.entries))
	for _, entry := range s.entries {
		if !entry.nextRun.After(now) {
			due = append(due, entry)
		}
	}
	s.mu.RUnlock()

	for _, entry := range due {
		s.fire(ctx, entry, now)
	}
}

// fire triggers one due entry. The idempotency key is derived from the tick
// time, not the wall clock, so every process that observes the same tick
// derives the same key.
func (s *Scheduler) fire(ctx context.Context, entry *scheduledAutomation, now time.Time) {
	// Collapse ticks missed during downtime onto the most recent one
	tick := entry.nextRun
	for {
		next := entry.schedule.Next(tick)
		if next.After(now) {
			break
		}
		tick = next
	}

	a := entry.automation
	_, err := s.trigger.Trigger(ctx, a,
		map[string]any{"scheduled_for": tick.Format(time.RFC3339)},
		WithIdempotencyKey(fmt.Sprintf("auto:%s:%d", a.ID, tick.Unix())),
	)

	switch {
	case err == nil:
		s.log.InfoContext(ctx, "scheduled automation fired",
			slog.String("automation_id", a.ID.String()),
			slog.Time("tick", tick))
	case errors.Is(err, ErrExecutionInProgress):
		// Another scheduler process claimed this tick first
		s.log.DebugContext(ctx, "scheduled tick already claimed",
			slog.String("automation_id", a.ID.String()),
			slog.Time("tick", tick))
	case errors.Is(err, ErrAutomationDisabled):
		s.log.DebugContext(ctx, "skipping disabled automation",
			slog.String("automation_id", a.ID.String()))
	default:
		// Leave nextRun untouched so the next check retries this tick
		s.log.ErrorContext(ctx, "failed to fire scheduled automation",
			slog.String("automation_id", a.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	s.advance(a.ID, entry.schedule.Next(now))
}

func (s *Scheduler) advance(id uuid.UUID, nextRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		entry.nextRun = nextRun
	}
}
