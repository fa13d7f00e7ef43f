package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/notify"
	"github.com/kay-darko/vybe/internal/timeline"
)

// PeakScheduler polls live public events, aggregates their feedback and
// notifies interested users the first time an event hits PEAK. The peak
// notification is event-level: one flag transition per event lifetime, no
// matter how often the composite crosses the boundary afterwards.
type PeakScheduler struct {
	events models.EventsRepo
	users  models.UsersRepo
	gate   *notify.Gate
	sender notify.Sender
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewPeakScheduler(events models.EventsRepo, users models.UsersRepo, gate *notify.Gate, sender notify.Sender, logger *slog.Logger, cfg Config) *PeakScheduler {
	return &PeakScheduler{
		events: events,
		users:  users,
		gate:   gate,
		sender: sender,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (ps *PeakScheduler) Run(ctx context.Context) RunSummary {
	var summary RunSummary
	now := ps.now()

	events, err := ps.events.FindPeakCandidates(ctx, now)
	if err != nil {
		summary.recordError("query", err)
		logRun(ps.logger, "peak", summary)
		return summary
	}

	for _, event := range events {
		summary.Checked++
		ps.processEvent(ctx, event, now, &summary)
	}

	logRun(ps.logger, "peak", summary)
	return summary
}

func (ps *PeakScheduler) processEvent(ctx context.Context, event *models.Event, now time.Time, summary *RunSummary) {
	status := timeline.ClassifyStatus(event.StartDateTime, event.EndDateTime, now)
	if event.Status != status {
		if err := ps.events.SyncStatus(ctx, event.ID, status); err != nil {
			summary.recordError(event.ID, err)
			return
		}
	}
	if status != models.StatusLive {
		summary.Skipped++
		return
	}

	if event.CapacityProfile == nil {
		summary.recordError(event.ID, fmt.Errorf("missing capacity profile"))
		return
	}

	tl, err := timeline.Aggregate(timeline.SamplesFromEvent(event), *event.CapacityProfile, event.EndDateTime, now)
	if errors.Is(err, timeline.ErrNoFeedback) {
		summary.Skipped++
		return
	}
	if err != nil {
		summary.recordError(event.ID, err)
		return
	}
	if tl.Stage != timeline.StagePeak {
		summary.Skipped++
		return
	}

	claim, err := ps.gate.TryClaim(ctx, event.ID, models.KindPeakAlert)
	if errors.Is(err, models.ErrAlreadyDelivered) {
		// Delivered on an earlier run whose flag write failed; heal the flag
		// so the event drops out of the candidate query.
		if _, err := ps.events.SetPeakNotified(ctx, event.ID, now); err != nil {
			summary.recordError(event.ID, err)
		}
		summary.Skipped++
		return
	}
	if errors.Is(err, models.ErrClaimHeld) {
		summary.Skipped++
		return
	}
	if err != nil {
		summary.recordError(event.ID, err)
		return
	}

	if len(event.InterestedUsers) == 0 {
		// Nobody to tell; mark anyway so the event stops being polled.
		if err := ps.gate.Commit(ctx, claim, 0); err != nil {
			summary.recordError(event.ID, err)
			return
		}
		if _, err := ps.events.SetPeakNotified(ctx, event.ID, now); err != nil {
			summary.recordError(event.ID, err)
			return
		}
		summary.NoRecipients++
		return
	}

	emails, err := ps.users.GetEmails(ctx, event.InterestedUsers)
	if err != nil {
		if relErr := ps.gate.Release(ctx, claim); relErr != nil {
			summary.recordError(event.ID, relErr)
		}
		summary.recordError(event.ID, err)
		return
	}

	payload := notify.Payload{
		Subject: fmt.Sprintf("%s is peaking right now", event.Title),
		Body: fmt.Sprintf("%s just hit its peak (crowd score %.0f). Head over before it dies down.",
			event.Title, tl.CompositeNow),
		Meta: map[string]string{
			"event_id": event.ID,
			"stage":    string(tl.Stage),
		},
	}

	sent, sendErrs := fanOut(ctx, ps.sender, ps.cfg, models.KindPeakAlert, emails, payload)
	for _, sendErr := range sendErrs {
		summary.recordError(event.ID, sendErr)
	}

	if sent == 0 && len(emails) > 0 {
		// Every send failed; give the claim back so the next run retries.
		if err := ps.gate.Release(ctx, claim); err != nil {
			summary.recordError(event.ID, err)
		}
		return
	}

	if err := ps.gate.Commit(ctx, claim, sent); err != nil {
		summary.recordError(event.ID, err)
		return
	}
	if _, err := ps.events.SetPeakNotified(ctx, event.ID, now); err != nil {
		summary.recordError(event.ID, err)
		return
	}

	summary.Sent++
	ps.logger.Info("Peak alert dispatched",
		"event_id", event.ID,
		"recipients", sent,
		"composite", tl.CompositeNow,
	)
}
