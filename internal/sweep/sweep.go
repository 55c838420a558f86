// Package sweep runs the scheduled overdue-step check. It only reads step
// state and raises escalation notifications; nothing is written back.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/engine/approval"
	"github.com/pesio-ai/be-acq-requests/internal/metrics"
)

// StepLister returns every currently active approval step.
type StepLister interface {
	ListActive(ctx context.Context) ([]*domain.ApprovalStep, error)
}

// Notifier delivers escalation events.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// OverdueSweeper finds overdue steps and notifies the escalation role once
// per step per day overdue.
type OverdueSweeper struct {
	steps   StepLister
	notify  Notifier
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	notified map[string]int // step id -> days overdue at last notification
	cron     *cron.Cron
}

// NewOverdueSweeper creates a sweeper. m may be nil.
func NewOverdueSweeper(steps StepLister, notify Notifier, m *metrics.Metrics, log zerolog.Logger) *OverdueSweeper {
	return &OverdueSweeper{
		steps:    steps,
		notify:   notify,
		metrics:  m,
		log:      log,
		now:      time.Now,
		notified: make(map[string]int),
	}
}

// Run performs one sweep and returns the overdue steps found.
func (s *OverdueSweeper) Run(ctx context.Context) ([]approval.Overdue, error) {
	active, err := s.steps.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	overdue := approval.FindOverdue(active, s.now())
	s.metrics.SetOverdueSteps(len(overdue))

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(overdue))
	for _, o := range overdue {
		seen[o.Step.ID] = true
		if days, ok := s.notified[o.Step.ID]; ok && days == o.DaysOverdue {
			continue
		}
		s.notified[o.Step.ID] = o.DaysOverdue
		s.notify.Notify(ctx, escalation(o))
	}
	// Steps that were acted on drop out of the set.
	for id := range s.notified {
		if !seen[id] {
			delete(s.notified, id)
		}
	}

	if len(overdue) > 0 {
		s.log.Info().Int("overdue", len(overdue)).Msg("Overdue approval steps found")
	}
	return overdue, nil
}

func escalation(o approval.Overdue) domain.Notification {
	recipients := []string{o.Step.ApproverRole}
	if o.EscalationTo != "" && o.EscalationTo != o.Step.ApproverRole {
		recipients = append(recipients, o.EscalationTo)
	}
	return domain.Notification{
		EventType:  domain.EventStepOverdue,
		RequestID:  o.Step.RequestID,
		Recipients: recipients,
		Severity:   "warning",
		Actionable: true,
		Payload: map[string]interface{}{
			"step_id":       o.Step.ID,
			"step_number":   o.Step.StepNumber,
			"step_name":     o.Step.StepName,
			"approver_role": o.Step.ApproverRole,
			"escalation_to": o.EscalationTo,
			"days_overdue":  o.DaysOverdue,
			"due_at":        o.Step.DueAt,
		},
	}
}

// Start schedules Run on a standard five-field cron spec. Overlapping runs
// are skipped.
func (s *OverdueSweeper) Start(schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Run(ctx); err != nil {
			s.log.Error().Err(err).Msg("Overdue sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.Info().Str("schedule", schedule).Msg("Overdue sweep scheduled")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to
// expire.
func (s *OverdueSweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
