// Package timeline derives an event's crowd-activity timeline from raw
// feedback samples. Everything here is pure: no I/O, no clocks beyond the
// now argument, identical inputs always produce identical output.
package timeline

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/kay-darko/vybe/internal/models"
)

type Stage string

const (
	StageDead  Stage = "DEAD"
	StageWarm  Stage = "WARM"
	StagePeak  Stage = "PEAK"
	StageDying Stage = "DYING"
	StageEnded Stage = "ENDED"
)

// ErrNoFeedback means the stage cannot be determined: there are no scorable
// samples and the event has not ended. Callers must special-case this rather
// than report a default stage.
var ErrNoFeedback = errors.New("no feedback to aggregate")

// halfLife controls recency weighting: a sample this much older than the
// newest one counts half as much.
const halfLife = 10 * time.Minute

// vibeWeight is the share of a sample's blended score taken from the vibe
// score when both vibe and crowd level are present.
const vibeWeight = 0.6

// Sample is one crowd-feedback data point. Vibe of zero means "not given",
// same for an empty Crowd.
type Sample struct {
	At    time.Time
	Vibe  int
	Crowd models.CrowdLevel
}

// Timeline is the derived view of an event's current activity. It is
// recomputed on every query and never persisted.
type Timeline struct {
	Stage         Stage   `json:"stage"`
	CompositeNow  float64 `json:"composite_now"`
	Position      float64 `json:"position"`
	FeedbackCount int     `json:"feedback_count"`
}

// crowdScore maps a reported crowd level onto the midpoint of its capacity
// bucket so it is comparable with vibe scores on the same scale.
func crowdScore(c models.CrowdLevel, p models.CapacityProfile) (float64, bool) {
	switch c {
	case models.CrowdDead:
		return p.DeadMax / 2, true
	case models.CrowdChill:
		return (p.DeadMax + p.ChillMax) / 2, true
	case models.CrowdPacked:
		return (p.ChillMax + p.PackedMax) / 2, true
	case models.CrowdTooPacked:
		return (p.PackedMax + p.PeakMax) / 2, true
	}
	return 0, false
}

// sampleScore blends vibe and crowd level into one number. Samples carrying
// neither (comment-only) are not scorable.
func sampleScore(s Sample, p models.CapacityProfile) (float64, bool) {
	crowd, hasCrowd := crowdScore(s.Crowd, p)
	hasVibe := s.Vibe > 0

	switch {
	case hasVibe && hasCrowd:
		return vibeWeight*float64(s.Vibe) + (1-vibeWeight)*crowd, true
	case hasVibe:
		return float64(s.Vibe), true
	case hasCrowd:
		return crowd, true
	}
	return 0, false
}

// Aggregate turns the event's feedback samples into a Timeline.
//
// The composite is an exponentially recency-weighted mean of the blended
// sample scores, anchored at the newest sample so the result does not drift
// between queries when no new feedback arrives. The stage follows the
// capacity profile boundaries, with two overrides: ENDED once now reaches
// endTime, and DYING when the running composite had crossed the peak boundary
// earlier in the sequence but has since fallen back below it.
func Aggregate(samples []Sample, profile models.CapacityProfile, endTime, now time.Time) (Timeline, error) {
	if err := profile.Validate(); err != nil {
		return Timeline{}, err
	}

	ended := !now.Before(endTime)

	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At.Before(ordered[j].At)
	})

	// Running exponentially-decayed aggregates. Walking in time order lets
	// us know at each point what the composite looked like back then, which
	// is what peak-then-decline detection needs.
	var weightedSum, totalWeight, peakComposite float64
	var scorable int
	var lastAt time.Time

	for _, s := range ordered {
		score, ok := sampleScore(s, profile)
		if !ok {
			continue
		}
		if scorable > 0 {
			decay := math.Pow(0.5, s.At.Sub(lastAt).Minutes()/halfLife.Minutes())
			weightedSum *= decay
			totalWeight *= decay
		}
		weightedSum += score
		totalWeight++
		scorable++
		lastAt = s.At

		if running := weightedSum / totalWeight; running > peakComposite {
			peakComposite = running
		}
	}

	if scorable == 0 {
		if ended {
			return Timeline{Stage: StageEnded, FeedbackCount: len(samples)}, nil
		}
		return Timeline{}, ErrNoFeedback
	}

	composite := weightedSum / totalWeight
	if composite > profile.PeakMax {
		composite = profile.PeakMax
	}

	tl := Timeline{
		CompositeNow:  composite,
		Position:      bucketPosition(composite, profile),
		FeedbackCount: len(samples),
	}

	switch {
	case ended:
		tl.Stage = StageEnded
	case composite > profile.PackedMax:
		tl.Stage = StagePeak
	case peakComposite > profile.PackedMax:
		tl.Stage = StageDying
	case composite > profile.DeadMax:
		tl.Stage = StageWarm
	default:
		tl.Stage = StageDead
	}

	return tl, nil
}

// bucketPosition maps the composite onto 0-100 within its capacity bucket.
// Monotonic in the composite for a fixed bucket; display only.
func bucketPosition(composite float64, p models.CapacityProfile) float64 {
	var low, high float64
	switch {
	case composite > p.PackedMax:
		low, high = p.PackedMax, p.PeakMax
	case composite > p.DeadMax:
		low, high = p.DeadMax, p.PackedMax
	default:
		low, high = 0, p.DeadMax
	}
	if high == low {
		return 0
	}
	pos := (composite - low) / (high - low) * 100
	if pos < 0 {
		pos = 0
	}
	if pos > 100 {
		pos = 100
	}
	return pos
}
