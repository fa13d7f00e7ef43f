package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/notify"
)

func testProfile() *models.CapacityProfile {
	return &models.CapacityProfile{DeadMax: 20, ChillMax: 50, PackedMax: 80, PeakMax: 100}
}

// liveEvent builds a public live event centered on now with a single fresh
// rating at the given vibe score.
func liveEvent(id string, now time.Time, vibe int, interested ...string) *models.Event {
	return &models.Event{
		ID:              id,
		HostID:          "host-1",
		Title:           "Warehouse Night",
		StartDateTime:   now.Add(-2 * time.Hour),
		EndDateTime:     now.Add(2 * time.Hour),
		Status:          models.StatusLive,
		PublicEventType: models.PublicPub,
		CapacityProfile: testProfile(),
		InterestedUsers: interested,
		LiveRatings: map[string]models.LiveRating{
			"rater-1": {UserID: "rater-1", Vibe: vibe, SubmittedAt: now.Add(-time.Minute)},
		},
	}
}

func newPeakFixture(events ...*models.Event) (*PeakScheduler, *memEvents, *recordingSender, time.Time) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	repo := newMemEvents(events...)
	sender := &recordingSender{}
	ps := NewPeakScheduler(repo, &memUsers{}, notify.NewGate(newMemClaims()), sender, testLogger(), Config{})
	ps.now = func() time.Time { return now }
	return ps, repo, sender, now
}

func TestPeakSendsOnceToInterestedUsers(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	ps, repo, sender, _ := newPeakFixture(liveEvent("ev-1", now, 95, "alice", "bob"))

	summary := ps.Run(context.Background())

	if summary.Sent != 1 {
		t.Fatalf("expected 1 event sent, got %+v", summary)
	}
	if sender.total() != 2 {
		t.Fatalf("expected 2 recipient sends, got %d", sender.total())
	}
	if sender.sentTo("alice@example.com") != 1 || sender.sentTo("bob@example.com") != 1 {
		t.Fatalf("each interested user should get exactly one mail: %+v", sender.sent)
	}
	if !repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("peak flag not set after successful dispatch")
	}

	// Second run: the event no longer matches the candidate query.
	summary = ps.Run(context.Background())
	if summary.Checked != 0 || sender.total() != 2 {
		t.Fatalf("flagged event was re-processed: %+v, sends=%d", summary, sender.total())
	}
}

func TestPeakSkipsBelowPeakStage(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	ps, repo, sender, _ := newPeakFixture(liveEvent("ev-1", now, 40, "alice"))

	summary := ps.Run(context.Background())

	if summary.Skipped != 1 || summary.Sent != 0 {
		t.Fatalf("warm event should be skipped: %+v", summary)
	}
	if sender.total() != 0 {
		t.Fatalf("no sends expected, got %d", sender.total())
	}
	if repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("peak flag set without a peak")
	}
}

func TestPeakSkipsEventWithoutFeedback(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	event := liveEvent("ev-1", now, 95, "alice")
	event.LiveRatings = nil
	ps, _, sender, _ := newPeakFixture(event)

	summary := ps.Run(context.Background())

	if summary.Skipped != 1 || len(summary.Errors) != 0 {
		t.Fatalf("no-feedback event should be a clean skip: %+v", summary)
	}
	if sender.total() != 0 {
		t.Fatalf("no sends expected, got %d", sender.total())
	}
}

func TestPeakMissingProfileDoesNotBlockOthers(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	broken := liveEvent("ev-broken", now, 95, "alice")
	broken.CapacityProfile = nil
	healthy := liveEvent("ev-healthy", now, 95, "bob")
	ps, repo, sender, _ := newPeakFixture(broken, healthy)

	summary := ps.Run(context.Background())

	if len(summary.Errors) != 1 {
		t.Fatalf("expected exactly one error for the broken event: %+v", summary)
	}
	if summary.Sent != 1 || sender.sentTo("bob@example.com") != 1 {
		t.Fatalf("healthy event should still dispatch: %+v", summary)
	}
	if repo.mustEvent(t, "ev-broken").PeakNotificationSent {
		t.Fatal("broken event must not be flagged")
	}
}

func TestPeakAllSendsFailedLeavesEventRetryable(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	ps, repo, sender, _ := newPeakFixture(liveEvent("ev-1", now, 95, "alice"))
	sender.failAll = true

	summary := ps.Run(context.Background())

	if summary.Sent != 0 || len(summary.Errors) == 0 {
		t.Fatalf("failed batch should report errors: %+v", summary)
	}
	if repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("flag must stay false when every send failed")
	}

	// Next run retries and succeeds.
	sender.failAll = false
	summary = ps.Run(context.Background())
	if summary.Sent != 1 || sender.sentTo("alice@example.com") != 1 {
		t.Fatalf("retry run should deliver: %+v", summary)
	}
	if !repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("flag should be set after the successful retry")
	}
}

func TestPeakNoInterestedUsersMarksWithoutSending(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	ps, repo, sender, _ := newPeakFixture(liveEvent("ev-1", now, 95))

	summary := ps.Run(context.Background())

	if summary.NoRecipients != 1 || summary.Sent != 0 {
		t.Fatalf("expected a no-recipients outcome: %+v", summary)
	}
	if sender.total() != 0 {
		t.Fatalf("no sends expected, got %d", sender.total())
	}
	if !repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("event should be flagged so it stops being polled")
	}
}

func TestPeakHealsFlagAfterFailedWrite(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	ps, repo, sender, _ := newPeakFixture(liveEvent("ev-1", now, 95, "alice"))
	repo.failSetPeakOnce = true

	// First run delivers and commits, but the flag write fails.
	summary := ps.Run(context.Background())
	if len(summary.Errors) != 1 || sender.total() != 1 {
		t.Fatalf("first run should deliver once and report the flag failure: %+v", summary)
	}
	if repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("flag write was supposed to fail")
	}

	// Second run: claim already delivered, so it heals the flag without
	// re-sending.
	summary = ps.Run(context.Background())
	if summary.Skipped != 1 || sender.total() != 1 {
		t.Fatalf("healing run must not re-send: %+v, sends=%d", summary, sender.total())
	}
	if !repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("flag should be healed on the skip path")
	}

	// Third run: the event no longer matches the candidate query.
	summary = ps.Run(context.Background())
	if summary.Checked != 0 {
		t.Fatalf("healed event was re-polled: %+v", summary)
	}
}

func TestPeakPartialFailureStillCommits(t *testing.T) {
	now := time.Date(2026, 6, 12, 22, 0, 0, 0, time.UTC)
	ps, repo, sender, _ := newPeakFixture(liveEvent("ev-1", now, 95, "alice", "bob"))
	sender.failFor = map[string]bool{"bob@example.com": true}

	summary := ps.Run(context.Background())

	if summary.Sent != 1 || len(summary.Errors) != 1 {
		t.Fatalf("partial failure should commit and report the failure: %+v", summary)
	}
	if sender.sentTo("alice@example.com") != 1 {
		t.Fatal("successful recipient should have received the alert")
	}
	if !repo.mustEvent(t, "ev-1").PeakNotificationSent {
		t.Fatal("flag should be set once at least one recipient got the alert")
	}
}
