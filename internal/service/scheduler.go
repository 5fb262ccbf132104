package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/domain"
	"github.com/set-night/progressmate/internal/repository"
)

// PromptScheduler sends check-in prompts to sessions whose reminder is due.
type PromptScheduler struct {
	store    repository.Store
	delivery Delivery
	gen      TextGenerator
	metrics  *Metrics
	reporter ErrorReporter
	now      func() time.Time
}

// ErrorReporter mirrors failures to an operator channel.
type ErrorReporter interface {
	LogError(err error, context string)
}

func NewPromptScheduler(store repository.Store, delivery Delivery, gen TextGenerator, metrics *Metrics) *PromptScheduler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &PromptScheduler{store: store, delivery: delivery, gen: gen, metrics: metrics, now: time.Now}
}

// SetReporter mirrors per-session prompt failures to r.
func (p *PromptScheduler) SetReporter(r ErrorReporter) {
	p.reporter = r
}

type TickReport struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
}

// ProcessTick handles every session due at scheduled. A failing session is
// logged and counted without affecting the others.
func (p *PromptScheduler) ProcessTick(ctx context.Context, scheduled time.Time) (TickReport, error) {
	var report TickReport
	scheduled = scheduled.UTC()
	started := p.now()
	defer func() {
		p.metrics.Ticks.Inc()
		p.metrics.TickDuration.Observe(p.now().Sub(started).Seconds())
	}()

	slog.Info("cron.tick", "executed_at", scheduled)

	due, err := p.store.GetDueSessions(ctx, scheduled)
	if err != nil {
		return report, fmt.Errorf("get due sessions: %w", err)
	}
	report.Due = len(due)
	if len(due) == 0 {
		slog.Info("cron.tick.noop", "reference_time", scheduled)
		return report, nil
	}

	for _, session := range due {
		sent, err := p.processDueSession(ctx, session, scheduled)
		switch {
		case err != nil:
			report.Failed++
			p.metrics.PromptsFailed.Inc()
			slog.Error("cron.prompt.failed",
				"error", err,
				"session_id", session.ID,
				"reference_time", scheduled,
			)
			if p.reporter != nil {
				p.reporter.LogError(err, "prompt session "+session.ID)
			}
		case !sent:
			report.Skipped++
		default:
			report.Sent++
			p.metrics.PromptsSent.Inc()
		}
	}

	slog.Info("cron.tick.done",
		"reference_time", scheduled,
		"due", report.Due,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (p *PromptScheduler) processDueSession(ctx context.Context, session domain.PromptDueSession, scheduled time.Time) (bool, error) {
	target := session.DeliveryTarget()
	if target == "" {
		p.skip(session.ID, skipMissingChannel)
		return false, nil
	}

	history, err := p.store.ListMessagesForSession(ctx, session.ID)
	if err != nil {
		return false, fmt.Errorf("list history: %w", err)
	}

	checkIn := GenerateCheckIn(ctx, p.gen, CheckInInput{
		History:        history,
		Now:            scheduled,
		CadenceMinutes: session.CadenceMinutes,
	})
	if checkIn.Fallback {
		p.metrics.GenerationFallbacks.WithLabelValues("prompt").Inc()
	}

	delivered, err := p.delivery.CreateMessage(ctx, OutgoingMessage{
		Target:        target,
		Content:       checkIn.Text,
		MentionUserID: session.UserID,
	})
	if err != nil {
		return false, fmt.Errorf("send prompt: %w", err)
	}

	sentAt := deliveredAt(delivered, scheduled)
	msg := domain.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Author:     domain.AuthorBot,
		ExternalID: externalID(delivered),
		Content:    checkIn.Text,
		CreatedAt:  sentAt,
	}
	if err := p.store.InsertMessage(ctx, &msg); err != nil {
		return false, fmt.Errorf("store prompt: %w", err)
	}

	next := sentAt.Add(session.Cadence())
	if err := p.store.UpdateSessionAfterPrompt(ctx, session.ID, sentAt, next); err != nil {
		if errors.Is(err, domain.ErrUpdateConflict) {
			p.skip(session.ID, skipSessionInactive)
			return false, nil
		}
		return false, fmt.Errorf("reschedule after prompt: %w", err)
	}

	slog.Info("cron.prompt.sent",
		"session_id", session.ID,
		"external_message_id", delivered.GetID(),
		"next_prompt_due", next,
	)
	return true, nil
}

const (
	skipMissingChannel  = "missing_channel"
	skipSessionInactive = "session_inactive"
)

func (p *PromptScheduler) skip(sessionID, reason string) {
	p.metrics.PromptsSkipped.WithLabelValues(reason).Inc()
	slog.Warn("cron.prompt.skip", "session_id", sessionID, "reason", reason)
}

// Run fires ProcessTick on every tick of the cron expression until ctx is
// done. Ticks run inline, so a slow tick makes the loop skip the triggers it
// overran instead of overlapping them.
func (p *PromptScheduler) Run(ctx context.Context, expr string) {
	slog.Info("scheduler started", "cron", expr)
	for {
		next, err := gronx.NextTickAfter(expr, p.now(), false)
		wait := time.Until(next)
		if err != nil {
			slog.Error("cron.next_tick.failed", "cron", expr, "error", err)
			wait = config.SchedulerRetryDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler stopped")
			return
		case <-timer.C:
		}
		if err != nil {
			continue
		}

		if _, err := p.ProcessTick(ctx, next); err != nil {
			slog.Error("cron.tick.failed", "reference_time", next, "error", err)
		}
	}
}
