package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kay-darko/vybe/internal/helpers"
	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/notify"
)

// UpdateDispatcher delivers host-authored change announcements to everyone
// following the event. The per-recipient gate is the announcement's own
// notified set: claiming a recipient is an atomic add to that set, so a
// recipient is delivered at most once even across overlapping runs, and a
// failed send is rolled back so the next run retries just that recipient.
type UpdateDispatcher struct {
	events models.EventsRepo
	users  models.UsersRepo
	sender notify.Sender
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewUpdateDispatcher(events models.EventsRepo, users models.UsersRepo, sender notify.Sender, logger *slog.Logger, cfg Config) *UpdateDispatcher {
	return &UpdateDispatcher{
		events: events,
		users:  users,
		sender: sender,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (ud *UpdateDispatcher) Run(ctx context.Context) RunSummary {
	var summary RunSummary

	events, err := ud.events.FindEventsWithPendingUpdates(ctx)
	if err != nil {
		summary.recordError("query", err)
		logRun(ud.logger, "updates", summary)
		return summary
	}

	for _, event := range events {
		summary.Checked++
		ud.processEvent(ctx, event, &summary)
	}

	logRun(ud.logger, "updates", summary)
	return summary
}

func (ud *UpdateDispatcher) processEvent(ctx context.Context, event *models.Event, summary *RunSummary) {
	followers := helpers.RemoveDuplicates(append(append([]string{}, event.InterestedUsers...), event.ReservedUsers...))
	if len(followers) == 0 {
		summary.Skipped++
		return
	}

	for _, update := range event.UpdateNotifications {
		pending := subtract(followers, update.NotifiedUsers)
		if len(pending) == 0 {
			continue
		}

		emails, err := ud.users.GetEmails(ctx, pending)
		if err != nil {
			summary.recordError(event.ID, err)
			continue
		}

		payload := notify.Payload{
			Subject: "Update for " + event.Title,
			Body:    update.Message,
			Meta: map[string]string{
				"event_id":  event.ID,
				"update_id": update.ID,
			},
		}

		sent := ud.dispatchUpdate(ctx, event.ID, update.ID, emails, payload, summary)
		if sent > 0 {
			summary.Sent++
		}
	}
}

func (ud *UpdateDispatcher) dispatchUpdate(ctx context.Context, eventID, updateID string, emails map[string]string, payload notify.Payload, summary *RunSummary) int {
	var (
		mu   sync.Mutex
		sent int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ud.cfg.FanOutLimit)

	for userID, email := range emails {
		userID, email := userID, email
		g.Go(func() error {
			claimed, err := ud.events.ClaimUpdateRecipient(gctx, eventID, updateID, userID)
			if err != nil {
				mu.Lock()
				summary.recordError(eventID, err)
				mu.Unlock()
				return nil
			}
			if !claimed {
				// Another run already delivered to this recipient.
				return nil
			}

			sendCtx, cancel := context.WithTimeout(gctx, ud.cfg.SendTimeout)
			err = ud.sender.Send(sendCtx, models.KindEventUpdate, email, payload)
			cancel()
			if err != nil {
				if relErr := ud.events.ReleaseUpdateRecipient(gctx, eventID, updateID, userID); relErr != nil {
					mu.Lock()
					summary.recordError(eventID, relErr)
					mu.Unlock()
				}
				mu.Lock()
				summary.recordError(eventID, err)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return sent
}

func subtract(all, exclude []string) []string {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, ok := excluded[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
