package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kay-darko/vybe/internal/helpers"
	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/timeline"
)

var (
	ErrEventNotLive = errors.New("event is not live")
	ErrEventNotOver = errors.New("event has not ended yet")
	// ErrDiscussionClosed means the five-hour post-event window has expired.
	ErrDiscussionClosed = errors.New("post-event discussion window has closed")
	ErrNotEventHost     = errors.New("only the event host can publish updates")
	ErrNotPublicEvent   = errors.New("event is not publicly tagged")
)

// LiveService is the write path for crowd feedback, RSVP signals, post-event
// discussion and host announcements, plus the derived timeline read.
type LiveService struct {
	events models.EventsRepo
	now    func() time.Time
}

func NewLiveService(events models.EventsRepo) *LiveService {
	return &LiveService{
		events: events,
		now:    time.Now,
	}
}

// syncedStatus computes the event's current status and persists it when the
// stored projection is stale.
func (ls *LiveService) syncedStatus(ctx context.Context, event *models.Event, now time.Time) (models.EventStatus, error) {
	status := timeline.ClassifyStatus(event.StartDateTime, event.EndDateTime, now)
	if event.Status != status {
		if err := ls.events.SyncStatus(ctx, event.ID, status); err != nil {
			return status, fmt.Errorf("failed to sync event status: %v", err)
		}
		event.Status = status
	}
	return status, nil
}

func (ls *LiveService) SubmitLiveRating(ctx context.Context, eventID, userID string, rating models.LiveRating) (*models.Event, error) {
	if eventID == "" || userID == "" {
		return nil, fmt.Errorf("event ID and user ID are required")
	}
	rating.UserID = userID
	rating.SubmittedAt = ls.now()
	rating.Sanitize()
	if err := rating.ValidateRating(); err != nil {
		return nil, fmt.Errorf("invalid rating: %w", err)
	}

	event, err := ls.events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsPublic() {
		return nil, ErrNotPublicEvent
	}
	status, err := ls.syncedStatus(ctx, event, rating.SubmittedAt)
	if err != nil {
		return nil, err
	}
	if status != models.StatusLive {
		return nil, ErrEventNotLive
	}

	return ls.events.UpsertLiveRating(ctx, eventID, rating)
}

func (ls *LiveService) SubmitAnonymousRating(ctx context.Context, eventID string, rating models.AnonymousLiveRating) error {
	if eventID == "" {
		return fmt.Errorf("event ID is required")
	}
	rating.SubmittedAt = ls.now()
	rating.Comment = helpers.RemoveProfanity(helpers.StringTrim(rating.Comment))
	if err := rating.ValidateRating(); err != nil {
		return fmt.Errorf("invalid rating: %w", err)
	}

	event, err := ls.events.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if !event.IsPublic() {
		return ErrNotPublicEvent
	}
	status, err := ls.syncedStatus(ctx, event, rating.SubmittedAt)
	if err != nil {
		return err
	}
	if status != models.StatusLive {
		return ErrEventNotLive
	}

	return ls.events.AppendAnonymousRating(ctx, eventID, rating)
}

func (ls *LiveService) MarkInterested(ctx context.Context, eventID, userID string) error {
	if eventID == "" || userID == "" {
		return fmt.Errorf("event ID and user ID are required")
	}
	return ls.events.AddInterestedUser(ctx, eventID, userID)
}

func (ls *LiveService) Reserve(ctx context.Context, eventID, userID string) error {
	if eventID == "" || userID == "" {
		return fmt.Errorf("event ID and user ID are required")
	}
	return ls.events.AddReservedUser(ctx, eventID, userID)
}

// GetTimeline returns the derived crowd-activity view for a live or ended
// event. timeline.ErrNoFeedback passes through untouched so the handler can
// answer "no feedback yet" instead of inventing a stage.
func (ls *LiveService) GetTimeline(ctx context.Context, eventID string) (*timeline.Timeline, error) {
	event, err := ls.events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.CapacityProfile == nil {
		return nil, fmt.Errorf("event has no capacity profile")
	}

	now := ls.now()
	if _, err := ls.syncedStatus(ctx, event, now); err != nil {
		return nil, err
	}

	tl, err := timeline.Aggregate(timeline.SamplesFromEvent(event), *event.CapacityProfile, event.EndDateTime, now)
	if err != nil {
		return nil, err
	}
	return &tl, nil
}

// AddDiscussionComment appends to the post-event discussion. The first touch
// of the discussion, whether this write or the wrap-up scheduler, pins the
// window expiry to end time plus five hours; writes after expiry are
// rejected.
func (ls *LiveService) AddDiscussionComment(ctx context.Context, eventID, userID, text string) error {
	text = helpers.RemoveProfanity(helpers.StringTrim(text))
	if text == "" {
		return fmt.Errorf("comment cannot be empty")
	}
	if eventID == "" || userID == "" {
		return fmt.Errorf("event ID and user ID are required")
	}

	event, err := ls.events.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if !event.IsPublic() {
		return ErrNotPublicEvent
	}

	now := ls.now()
	status, err := ls.syncedStatus(ctx, event, now)
	if err != nil {
		return err
	}
	if status != models.StatusPast {
		return ErrEventNotOver
	}

	expiresAt, err := ls.events.InitMoveNowExpiry(ctx, eventID, event.EndDateTime.Add(models.MoveNowWindow))
	if err != nil {
		return err
	}
	if now.After(expiresAt) {
		return ErrDiscussionClosed
	}

	return ls.events.AppendMoveNowComment(ctx, eventID, models.MoveNowComment{
		UserID:    userID,
		Comment:   text,
		CreatedAt: now,
	})
}

// PublishUpdate records a host announcement with an empty notified set; the
// update dispatcher delivers it.
func (ls *LiveService) PublishUpdate(ctx context.Context, eventID, hostID, message string) (*models.UpdateNotification, error) {
	message = helpers.StringTrim(message)
	if message == "" {
		return nil, fmt.Errorf("update message cannot be empty")
	}

	event, err := ls.events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.HostID != hostID {
		return nil, ErrNotEventHost
	}

	update := models.UpdateNotification{
		ID:            uuid.New().String(),
		Message:       message,
		NotifiedUsers: []string{},
		CreatedAt:     ls.now(),
	}
	if err := ls.events.AppendUpdateNotification(ctx, eventID, update); err != nil {
		return nil, err
	}
	return &update, nil
}
