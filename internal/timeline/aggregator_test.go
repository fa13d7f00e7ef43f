package timeline

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kay-darko/vybe/internal/models"
)

var testProfile = models.CapacityProfile{DeadMax: 20, ChillMax: 50, PackedMax: 80, PeakMax: 100}

func at(base time.Time, offset time.Duration) time.Time {
	return base.Add(offset)
}

func TestAggregateIsPure(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	samples := []Sample{
		{At: at(base, 0), Vibe: 40},
		{At: at(base, 5 * time.Minute), Vibe: 70, Crowd: models.CrowdPacked},
		{At: at(base, 12 * time.Minute), Crowd: models.CrowdTooPacked},
	}
	end := at(base, 3*time.Hour)
	now := at(base, 20*time.Minute)

	first, err := Aggregate(samples, testProfile, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Aggregate(samples, testProfile, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical input produced different timelines: %+v vs %+v", first, second)
	}
}

func TestAggregatePeakStage(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	samples := []Sample{{At: base, Vibe: 85}}
	end := at(base, 2*time.Hour)

	tl, err := Aggregate(samples, testProfile, end, at(base, time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Stage != StagePeak {
		t.Errorf("composite 85 against packedMax 80: expected PEAK, got %s", tl.Stage)
	}
	if tl.CompositeNow != 85 {
		t.Errorf("expected composite 85, got %v", tl.CompositeNow)
	}
}

func TestAggregateEndedOverride(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	samples := []Sample{{At: base, Vibe: 10}}
	end := at(base, time.Hour)

	tl, err := Aggregate(samples, testProfile, end, at(base, 2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Stage != StageEnded {
		t.Errorf("past end time: expected ENDED regardless of composite, got %s", tl.Stage)
	}

	// End boundary itself is ended too.
	tl, err = Aggregate(samples, testProfile, end, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Stage != StageEnded {
		t.Errorf("at end instant: expected ENDED, got %s", tl.Stage)
	}
}

func TestAggregateNoSamples(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	end := at(base, time.Hour)

	_, err := Aggregate(nil, testProfile, end, base)
	if !errors.Is(err, ErrNoFeedback) {
		t.Errorf("expected ErrNoFeedback for empty input before end, got %v", err)
	}

	tl, err := Aggregate(nil, testProfile, end, at(base, 2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Stage != StageEnded {
		t.Errorf("empty input after end: expected ENDED, got %s", tl.Stage)
	}
}

func TestAggregateCommentOnlySamples(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	samples := []Sample{{At: base}, {At: at(base, time.Minute)}}
	end := at(base, time.Hour)

	_, err := Aggregate(samples, testProfile, end, at(base, 2*time.Minute))
	if !errors.Is(err, ErrNoFeedback) {
		t.Errorf("scoreless samples: expected ErrNoFeedback, got %v", err)
	}
}

func TestAggregateBadProfileFailsLoudly(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	bad := models.CapacityProfile{DeadMax: 50, ChillMax: 20, PackedMax: 80, PeakMax: 100}

	_, err := Aggregate([]Sample{{At: base, Vibe: 50}}, bad, at(base, time.Hour), base)
	if err == nil {
		t.Error("expected error for non-ascending capacity profile")
	}
}

func TestAggregateRecencyBias(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	end := at(base, 3*time.Hour)
	now := at(base, time.Hour)

	// One old low score, one fresh high score well past the half-life.
	samples := []Sample{
		{At: base, Vibe: 10},
		{At: at(base, 40 * time.Minute), Vibe: 90},
	}

	tl, err := Aggregate(samples, testProfile, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.CompositeNow <= 50 {
		t.Errorf("recent sample should dominate: composite %v", tl.CompositeNow)
	}
}

func TestAggregateDyingAfterPeak(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	end := at(base, 5*time.Hour)

	// Crowd peaks, then an hour of low scores drags the composite back down.
	samples := []Sample{
		{At: base, Vibe: 95},
		{At: at(base, 5 * time.Minute), Vibe: 90},
		{At: at(base, time.Hour), Vibe: 30},
		{At: at(base, 70 * time.Minute), Vibe: 25},
	}

	tl, err := Aggregate(samples, testProfile, end, at(base, 80*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Stage != StageDying {
		t.Errorf("peaked then declined: expected DYING, got %s (composite %v)", tl.Stage, tl.CompositeNow)
	}
}

func TestAggregateNeverPeakedStaysWarm(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	samples := []Sample{
		{At: base, Vibe: 40},
		{At: at(base, 10 * time.Minute), Vibe: 45},
	}

	tl, err := Aggregate(samples, testProfile, at(base, time.Hour), at(base, 15*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Stage != StageWarm {
		t.Errorf("expected WARM, got %s", tl.Stage)
	}
}

func TestAggregateDeadStage(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	samples := []Sample{{At: base, Vibe: 10}}

	tl, err := Aggregate(samples, testProfile, at(base, time.Hour), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Stage != StageDead {
		t.Errorf("expected DEAD, got %s", tl.Stage)
	}
}

func TestPositionMonotonicWithinBucket(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	end := at(base, time.Hour)

	var prev float64 = -1
	for _, vibe := range []int{25, 35, 45, 55, 65, 75} {
		tl, err := Aggregate([]Sample{{At: base, Vibe: vibe}}, testProfile, end, base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tl.Stage != StageWarm {
			t.Fatalf("vibe %d: expected WARM bucket, got %s", vibe, tl.Stage)
		}
		if tl.Position <= prev {
			t.Errorf("position not monotonic: vibe %d gave %v after %v", vibe, tl.Position, prev)
		}
		prev = tl.Position
	}
}

func TestAggregateFeedbackCountIncludesScoreless(t *testing.T) {
	base := time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC)
	samples := []Sample{
		{At: base, Vibe: 60},
		{At: at(base, time.Minute)}, // comment only
	}

	tl, err := Aggregate(samples, testProfile, at(base, time.Hour), at(base, 2*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.FeedbackCount != 2 {
		t.Errorf("expected feedback count 2, got %d", tl.FeedbackCount)
	}
}
