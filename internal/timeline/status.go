package timeline

import (
	"time"

	"github.com/kay-darko/vybe/internal/models"
)

// ClassifyStatus derives the coarse lifecycle status of an event from its
// temporal fields. Both boundaries are inclusive for live: an event is live
// from the exact start instant through the exact end instant.
//
// The stored status field is only a cached projection of this function;
// callers that read a stale value must persist the corrected one before
// acting on it.
func ClassifyStatus(start, end, now time.Time) models.EventStatus {
	if now.Before(start) {
		return models.StatusFuture
	}
	if now.After(end) {
		return models.StatusPast
	}
	return models.StatusLive
}

// SamplesFromEvent flattens an event's identified and anonymous feedback into
// aggregator input. Order does not matter; Aggregate sorts by time.
func SamplesFromEvent(e *models.Event) []Sample {
	samples := make([]Sample, 0, len(e.LiveRatings)+len(e.AnonymousLiveRatings))
	for _, r := range e.LiveRatings {
		samples = append(samples, Sample{At: r.SubmittedAt, Vibe: r.Vibe, Crowd: r.Crowd})
	}
	for _, r := range e.AnonymousLiveRatings {
		samples = append(samples, Sample{At: r.SubmittedAt, Vibe: r.Vibe, Crowd: r.Crowd})
	}
	return samples
}
