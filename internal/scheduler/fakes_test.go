package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/notify"
)

// memEvents is an in-memory EventsRepo mirroring the Mongo implementation's
// conditional-update semantics.
type memEvents struct {
	mu     sync.Mutex
	events map[string]*models.Event

	// One-shot write failures for exercising recovery paths.
	failSetPeakOnce bool
	failSetEndOnce  bool
}

func newMemEvents(events ...*models.Event) *memEvents {
	m := &memEvents{events: make(map[string]*models.Event)}
	for _, e := range events {
		m.events[e.ID] = e
	}
	return m
}

func (m *memEvents) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	clone := *event
	return &clone, nil
}

func (m *memEvents) FindPeakCandidates(ctx context.Context, now time.Time) ([]*models.Event, error) {
	return m.filter(func(e *models.Event) bool {
		return !e.StartDateTime.After(now) && !e.EndDateTime.Before(now) &&
			e.IsPublic() && !e.PeakNotificationSent
	})
}

func (m *memEvents) FindWrapupCandidates(ctx context.Context, now time.Time) ([]*models.Event, error) {
	return m.filter(func(e *models.Event) bool {
		return !e.EndDateTime.After(now) && e.IsPublic() && !e.EndNotificationSent
	})
}

func (m *memEvents) FindReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]*models.Event, error) {
	return m.filter(func(e *models.Event) bool {
		return !e.StartDateTime.Before(windowStart) && !e.StartDateTime.After(windowEnd) &&
			e.RequireReservation && len(e.ReservedUsers) > 0
	})
}

func (m *memEvents) FindEventsWithPendingUpdates(ctx context.Context) ([]*models.Event, error) {
	return m.filter(func(e *models.Event) bool {
		return len(e.UpdateNotifications) > 0
	})
}

func (m *memEvents) filter(keep func(*models.Event) bool) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Event
	for _, e := range m.events {
		if keep(e) {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memEvents) SyncStatus(ctx context.Context, id string, status models.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[id]; ok {
		e.Status = status
	}
	return nil
}

func (m *memEvents) SetPeakNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetPeakOnce {
		m.failSetPeakOnce = false
		return false, errors.New("simulated flag write failure")
	}
	e, ok := m.events[id]
	if !ok || e.PeakNotificationSent {
		return false, nil
	}
	e.PeakNotificationSent = true
	e.PeakNotifiedAt = &at
	return true, nil
}

func (m *memEvents) SetEndNotified(ctx context.Context, id string, at time.Time, outcome string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetEndOnce {
		m.failSetEndOnce = false
		return false, errors.New("simulated flag write failure")
	}
	e, ok := m.events[id]
	if !ok || e.EndNotificationSent {
		return false, nil
	}
	e.EndNotificationSent = true
	e.EndNotifiedAt = &at
	e.EndNotifyOutcome = outcome
	return true, nil
}

func (m *memEvents) InitMoveNowExpiry(ctx context.Context, id string, expiresAt time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return time.Time{}, models.ErrEventNotFound
	}
	if e.MoveNowExpiresAt == nil {
		e.MoveNowExpiresAt = &expiresAt
	}
	return *e.MoveNowExpiresAt, nil
}

func (m *memEvents) UpsertLiveRating(ctx context.Context, eventID string, rating models.LiveRating) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	if e.LiveRatings == nil {
		e.LiveRatings = make(map[string]models.LiveRating)
	}
	if prev, ok := e.LiveRatings[rating.UserID]; ok && prev.Vibe > 0 {
		e.RatingSum -= float64(prev.Vibe)
		e.RatingCount--
	}
	if rating.Vibe > 0 {
		e.RatingSum += float64(rating.Vibe)
		e.RatingCount++
	}
	if e.RatingCount > 0 {
		e.RatingAverage = e.RatingSum / float64(e.RatingCount)
	} else {
		e.RatingAverage = 0
	}
	e.LiveRatings[rating.UserID] = rating
	clone := *e
	return &clone, nil
}

func (m *memEvents) AppendAnonymousRating(ctx context.Context, eventID string, rating models.AnonymousLiveRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return models.ErrEventNotFound
	}
	e.AnonymousLiveRatings = append(e.AnonymousLiveRatings, rating)
	return nil
}

func (m *memEvents) AppendMoveNowComment(ctx context.Context, eventID string, comment models.MoveNowComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return models.ErrEventNotFound
	}
	e.MoveNowComments = append(e.MoveNowComments, comment)
	return nil
}

func (m *memEvents) addToSet(eventID, userID string, get func(*models.Event) *[]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return models.ErrEventNotFound
	}
	set := get(e)
	for _, existing := range *set {
		if existing == userID {
			return nil
		}
	}
	*set = append(*set, userID)
	return nil
}

func (m *memEvents) AddInterestedUser(ctx context.Context, eventID, userID string) error {
	return m.addToSet(eventID, userID, func(e *models.Event) *[]string { return &e.InterestedUsers })
}

func (m *memEvents) AddReservedUser(ctx context.Context, eventID, userID string) error {
	return m.addToSet(eventID, userID, func(e *models.Event) *[]string { return &e.ReservedUsers })
}

func (m *memEvents) AppendUpdateNotification(ctx context.Context, eventID string, update models.UpdateNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return models.ErrEventNotFound
	}
	e.UpdateNotifications = append(e.UpdateNotifications, update)
	return nil
}

func (m *memEvents) ClaimUpdateRecipient(ctx context.Context, eventID, updateID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return false, models.ErrEventNotFound
	}
	for i := range e.UpdateNotifications {
		if e.UpdateNotifications[i].ID != updateID {
			continue
		}
		for _, existing := range e.UpdateNotifications[i].NotifiedUsers {
			if existing == userID {
				return false, nil
			}
		}
		e.UpdateNotifications[i].NotifiedUsers = append(e.UpdateNotifications[i].NotifiedUsers, userID)
		return true, nil
	}
	return false, nil
}

func (m *memEvents) ReleaseUpdateRecipient(ctx context.Context, eventID, updateID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return models.ErrEventNotFound
	}
	for i := range e.UpdateNotifications {
		if e.UpdateNotifications[i].ID != updateID {
			continue
		}
		kept := e.UpdateNotifications[i].NotifiedUsers[:0]
		for _, existing := range e.UpdateNotifications[i].NotifiedUsers {
			if existing != userID {
				kept = append(kept, existing)
			}
		}
		e.UpdateNotifications[i].NotifiedUsers = kept
	}
	return nil
}

// mustEvent reads back the stored event for assertions.
func (m *memEvents) mustEvent(t *testing.T, id string) *models.Event {
	t.Helper()
	e, err := m.GetEventByID(context.Background(), id)
	if err != nil {
		t.Fatalf("event %s missing: %v", id, err)
	}
	return e
}

// memClaims mirrors the Mongo claim ledger.
type memClaims struct {
	mu   sync.Mutex
	rows map[string]*models.NotificationClaim
}

func newMemClaims() *memClaims {
	return &memClaims{rows: make(map[string]*models.NotificationClaim)}
}

func (m *memClaims) TryClaim(ctx context.Context, eventID string, kind models.NotificationKind, recipient string, lease time.Duration) (*models.NotificationClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	key := eventID + "|" + string(kind) + "|" + recipient

	if existing, ok := m.rows[key]; ok {
		if existing.State == models.ClaimStateDelivered {
			return nil, models.ErrAlreadyDelivered
		}
		if existing.LeaseUntil.After(now) {
			return nil, models.ErrClaimHeld
		}
		existing.ClaimedAt = now
		existing.LeaseUntil = now.Add(lease)
		clone := *existing
		return &clone, nil
	}

	claim := &models.NotificationClaim{
		ID:         primitive.NewObjectID(),
		EventID:    eventID,
		Kind:       kind,
		Recipient:  recipient,
		State:      models.ClaimStatePending,
		ClaimedAt:  now,
		LeaseUntil: now.Add(lease),
	}
	m.rows[key] = claim
	clone := *claim
	return &clone, nil
}

func (m *memClaims) Commit(ctx context.Context, claimID primitive.ObjectID, deliveredTo int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == claimID && row.State == models.ClaimStatePending {
			now := time.Now()
			row.State = models.ClaimStateDelivered
			row.DeliveredAt = &now
			row.DeliveredTo = deliveredTo
			return nil
		}
	}
	return errors.New("claim not pending")
}

func (m *memClaims) Release(ctx context.Context, claimID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, row := range m.rows {
		if row.ID == claimID && row.State == models.ClaimStatePending {
			delete(m.rows, key)
			return nil
		}
	}
	return nil
}

func (m *memClaims) EnsureClaimIndexes(ctx context.Context) error { return nil }

// memUsers resolves every id to id@example.com unless overridden.
type memUsers struct {
	missing map[string]bool
}

func (m *memUsers) GetEmails(ctx context.Context, userIDs []string) (map[string]string, error) {
	emails := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if m.missing[id] {
			continue
		}
		emails[id] = id + "@example.com"
	}
	return emails, nil
}

type sentRecord struct {
	kind      models.NotificationKind
	recipient string
	payload   notify.Payload
}

// recordingSender captures sends; recipients in failFor error out instead.
type recordingSender struct {
	mu      sync.Mutex
	sent    []sentRecord
	failFor map[string]bool
	failAll bool
}

func (s *recordingSender) Send(ctx context.Context, kind models.NotificationKind, recipient string, payload notify.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll || s.failFor[recipient] {
		return fmt.Errorf("simulated send failure for %s", recipient)
	}
	s.sent = append(s.sent, sentRecord{kind: kind, recipient: recipient, payload: payload})
	return nil
}

func (s *recordingSender) sentTo(recipient string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.sent {
		if rec.recipient == recipient {
			count++
		}
	}
	return count
}

func (s *recordingSender) kindCount(kind models.NotificationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.sent {
		if rec.kind == kind {
			count++
		}
	}
	return count
}

func (s *recordingSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
