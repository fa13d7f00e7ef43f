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

const (
	OutcomeSent         = "sent"
	OutcomeNoRecipients = "no_recipients"
)

// WrapupScheduler handles events that just crossed into past: it sends the
// end-of-event digest to everyone who engaged (interested or rated) and opens
// the five-hour post-event discussion window.
//
// Marking tolerates stragglers but not total failure: once at least one
// recipient got the digest, the event is flagged and the remaining failures
// are only reported in the summary, since reprocessing an ended event to
// chase stragglers would double-send everyone else. A batch where every send
// failed releases the claim instead, so the next run retries from scratch.
type WrapupScheduler struct {
	events models.EventsRepo
	users  models.UsersRepo
	gate   *notify.Gate
	sender notify.Sender
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewWrapupScheduler(events models.EventsRepo, users models.UsersRepo, gate *notify.Gate, sender notify.Sender, logger *slog.Logger, cfg Config) *WrapupScheduler {
	return &WrapupScheduler{
		events: events,
		users:  users,
		gate:   gate,
		sender: sender,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (ws *WrapupScheduler) Run(ctx context.Context) RunSummary {
	var summary RunSummary
	now := ws.now()

	events, err := ws.events.FindWrapupCandidates(ctx, now)
	if err != nil {
		summary.recordError("query", err)
		logRun(ws.logger, "wrapup", summary)
		return summary
	}

	for _, event := range events {
		summary.Checked++
		ws.processEvent(ctx, event, now, &summary)
	}

	logRun(ws.logger, "wrapup", summary)
	return summary
}

func (ws *WrapupScheduler) processEvent(ctx context.Context, event *models.Event, now time.Time, summary *RunSummary) {
	status := timeline.ClassifyStatus(event.StartDateTime, event.EndDateTime, now)
	if event.Status != status {
		if err := ws.events.SyncStatus(ctx, event.ID, status); err != nil {
			summary.recordError(event.ID, err)
			return
		}
	}
	if status != models.StatusPast {
		summary.Skipped++
		return
	}

	// Open the discussion window. First write wins, whether it is this
	// scheduler or the first discussion comment that gets there.
	expiresAt := event.EndDateTime.Add(models.MoveNowWindow)
	if _, err := ws.events.InitMoveNowExpiry(ctx, event.ID, expiresAt); err != nil {
		summary.recordError(event.ID, err)
		return
	}

	claim, err := ws.gate.TryClaim(ctx, event.ID, models.KindEndDigest)
	if errors.Is(err, models.ErrAlreadyDelivered) {
		// Delivered on an earlier run whose flag write failed; heal the flag
		// so the event drops out of the candidate query.
		outcome := OutcomeSent
		if len(event.DigestRecipients()) == 0 {
			outcome = OutcomeNoRecipients
		}
		if _, err := ws.events.SetEndNotified(ctx, event.ID, now, outcome); err != nil {
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

	recipients := event.DigestRecipients()
	if len(recipients) == 0 {
		// Flag it so an empty event is not re-evaluated indefinitely, but
		// record the distinct outcome so "nothing to send" stays
		// distinguishable from "sent".
		if err := ws.gate.Commit(ctx, claim, 0); err != nil {
			summary.recordError(event.ID, err)
			return
		}
		if _, err := ws.events.SetEndNotified(ctx, event.ID, now, OutcomeNoRecipients); err != nil {
			summary.recordError(event.ID, err)
			return
		}
		summary.NoRecipients++
		return
	}

	emails, err := ws.users.GetEmails(ctx, recipients)
	if err != nil {
		if relErr := ws.gate.Release(ctx, claim); relErr != nil {
			summary.recordError(event.ID, relErr)
		}
		summary.recordError(event.ID, err)
		return
	}

	payload := notify.Payload{
		Subject: fmt.Sprintf("%s has wrapped up", event.Title),
		Body: fmt.Sprintf("%s has ended. The discussion stays open until %s, drop your highlights.",
			event.Title, expiresAt.Format(time.RFC1123)),
		Meta: map[string]string{
			"event_id":            event.ID,
			"move_now_expires_at": expiresAt.Format(time.RFC3339),
		},
	}

	sent, sendErrs := fanOut(ctx, ws.sender, ws.cfg, models.KindEndDigest, emails, payload)
	for _, sendErr := range sendErrs {
		summary.recordError(event.ID, sendErr)
	}

	if sent == 0 && len(emails) > 0 {
		// Every send failed; give the claim back so the next run retries.
		if err := ws.gate.Release(ctx, claim); err != nil {
			summary.recordError(event.ID, err)
		}
		return
	}

	if err := ws.gate.Commit(ctx, claim, sent); err != nil {
		summary.recordError(event.ID, err)
		return
	}
	if _, err := ws.events.SetEndNotified(ctx, event.ID, now, OutcomeSent); err != nil {
		summary.recordError(event.ID, err)
		return
	}

	summary.Sent++
	ws.logger.Info("End-of-event digest dispatched",
		"event_id", event.ID,
		"recipients", sent,
		"failed", len(sendErrs),
	)
}
