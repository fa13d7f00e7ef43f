package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/notify"
	"github.com/kay-darko/vybe/internal/timeline"
)

// Reminder window tolerance bands, applied to start time relative to now.
// Both ends inclusive: an event starting in exactly 24h is inside the day
// window; one starting in 20 minutes is below the hour window's floor.
const (
	DayWindowFloor = 23 * time.Hour
	DayWindowCeil  = 25 * time.Hour

	HourWindowFloor = 30 * time.Minute
	HourWindowCeil  = 90 * time.Minute
)

type reminderWindow struct {
	kind      models.NotificationKind
	floor     time.Duration
	ceil      time.Duration
	allowLive bool
}

// ReminderScheduler nudges reserved guests ahead of reservation-required
// events. The idempotency key is event-level per window: one claim covers the
// whole reserved cohort, so a window fires at most once per event no matter
// how many runs overlap.
type ReminderScheduler struct {
	events models.EventsRepo
	users  models.UsersRepo
	gate   *notify.Gate
	sender notify.Sender
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewReminderScheduler(events models.EventsRepo, users models.UsersRepo, gate *notify.Gate, sender notify.Sender, logger *slog.Logger, cfg Config) *ReminderScheduler {
	return &ReminderScheduler{
		events: events,
		users:  users,
		gate:   gate,
		sender: sender,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (rs *ReminderScheduler) Run(ctx context.Context) RunSummary {
	var summary RunSummary
	now := rs.now()

	windows := []reminderWindow{
		{kind: models.KindReminder24h, floor: DayWindowFloor, ceil: DayWindowCeil, allowLive: false},
		{kind: models.KindReminder1h, floor: HourWindowFloor, ceil: HourWindowCeil, allowLive: true},
	}

	for _, window := range windows {
		rs.runWindow(ctx, window, now, &summary)
	}

	logRun(rs.logger, "reminders", summary)
	return summary
}

func (rs *ReminderScheduler) runWindow(ctx context.Context, window reminderWindow, now time.Time, summary *RunSummary) {
	events, err := rs.events.FindReminderCandidates(ctx, now.Add(window.floor), now.Add(window.ceil))
	if err != nil {
		summary.recordError(string(window.kind), err)
		return
	}

	for _, event := range events {
		summary.Checked++

		status := timeline.ClassifyStatus(event.StartDateTime, event.EndDateTime, now)
		if event.Status != status {
			if err := rs.events.SyncStatus(ctx, event.ID, status); err != nil {
				summary.recordError(event.ID, err)
				continue
			}
		}
		eligible := status == models.StatusFuture || (window.allowLive && status == models.StatusLive)
		if !eligible || !event.RequireReservation || len(event.ReservedUsers) == 0 {
			summary.Skipped++
			continue
		}

		claim, err := rs.gate.TryClaim(ctx, event.ID, window.kind)
		if errors.Is(err, models.ErrAlreadyDelivered) || errors.Is(err, models.ErrClaimHeld) {
			summary.Skipped++
			continue
		}
		if err != nil {
			summary.recordError(event.ID, err)
			continue
		}

		emails, err := rs.users.GetEmails(ctx, event.ReservedUsers)
		if err != nil {
			if relErr := rs.gate.Release(ctx, claim); relErr != nil {
				summary.recordError(event.ID, relErr)
			}
			summary.recordError(event.ID, err)
			continue
		}

		sent, sendErrs := fanOut(ctx, rs.sender, rs.cfg, window.kind, emails, reminderPayload(event, now))
		for _, sendErr := range sendErrs {
			summary.recordError(event.ID, sendErr)
		}

		if sent == 0 && len(emails) > 0 {
			// Every send failed; give the claim back so the next run retries.
			if err := rs.gate.Release(ctx, claim); err != nil {
				summary.recordError(event.ID, err)
			}
			continue
		}

		if err := rs.gate.Commit(ctx, claim, sent); err != nil {
			summary.recordError(event.ID, err)
			continue
		}
		summary.Sent++
	}
}

func reminderPayload(event *models.Event, now time.Time) notify.Payload {
	untilStart := event.StartDateTime.Sub(now).Round(time.Minute)
	return notify.Payload{
		Subject: fmt.Sprintf("Reminder: %s starts in %s", event.Title, untilStart),
		Body: fmt.Sprintf("You have a reservation for %s starting %s at %s.",
			event.Title, event.StartDateTime.Format(time.RFC1123), event.Location),
		Meta: map[string]string{
			"event_id":       event.ID,
			"start":          event.StartDateTime.Format(time.RFC3339),
			"reserved_count": strconv.Itoa(len(event.ReservedUsers)),
		},
	}
}
