package models

import (
	"fmt"
	"time"

	"github.com/kay-darko/vybe/internal/helpers"
)

type EventStatus string

const (
	StatusFuture EventStatus = "future"
	StatusLive   EventStatus = "live"
	StatusPast   EventStatus = "past"
)

type PublicEventType string

const (
	PublicNone PublicEventType = "none"
	PublicPub  PublicEventType = "pub"
	PublicOpen PublicEventType = "public"
)

type CrowdLevel string

const (
	CrowdDead      CrowdLevel = "DEAD"
	CrowdChill     CrowdLevel = "CHILL"
	CrowdPacked    CrowdLevel = "PACKED"
	CrowdTooPacked CrowdLevel = "TOO_PACKED"
)

// MoveNowWindow is how long after an event ends the post-event discussion stays open.
const MoveNowWindow = 5 * time.Hour

// CapacityProfile partitions the composite crowd score into stage buckets.
// Thresholds must be strictly ascending.
type CapacityProfile struct {
	DeadMax   float64 `bson:"dead_max" json:"dead_max" validate:"gt=0"`
	ChillMax  float64 `bson:"chill_max" json:"chill_max" validate:"gt=0"`
	PackedMax float64 `bson:"packed_max" json:"packed_max" validate:"gt=0"`
	PeakMax   float64 `bson:"peak_max" json:"peak_max" validate:"gt=0"`
}

func (p CapacityProfile) Validate() error {
	if err := Validate.Struct(p); err != nil {
		return fmt.Errorf("invalid capacity profile: %v", err)
	}
	if !(p.ChillMax > p.DeadMax && p.PackedMax > p.ChillMax && p.PeakMax > p.PackedMax) {
		return fmt.Errorf("capacity profile thresholds must be ascending: got %v %v %v %v",
			p.DeadMax, p.ChillMax, p.PackedMax, p.PeakMax)
	}
	return nil
}

// LiveRating is one identified crowd-feedback sample. An event keeps at most
// one per user; resubmission replaces the previous one.
type LiveRating struct {
	UserID          string     `bson:"user_id" json:"user_id" validate:"required"`
	Vibe            int        `bson:"vibe,omitempty" json:"vibe,omitempty" validate:"omitempty,min=1,max=100"`
	Crowd           CrowdLevel `bson:"crowd,omitempty" json:"crowd,omitempty"`
	LineWaitMinutes int        `bson:"line_wait_minutes,omitempty" json:"line_wait_minutes,omitempty" validate:"omitempty,min=0"`
	Comment         string     `bson:"comment,omitempty" json:"comment,omitempty"`
	SubmittedAt     time.Time  `bson:"submitted_at" json:"submitted_at"`
}

type AnonymousLiveRating struct {
	Vibe            int        `bson:"vibe,omitempty" json:"vibe,omitempty" validate:"omitempty,min=1,max=100"`
	Crowd           CrowdLevel `bson:"crowd,omitempty" json:"crowd,omitempty"`
	LineWaitMinutes int        `bson:"line_wait_minutes,omitempty" json:"line_wait_minutes,omitempty" validate:"omitempty,min=0"`
	Comment         string     `bson:"comment,omitempty" json:"comment,omitempty"`
	SubmittedAt     time.Time  `bson:"submitted_at" json:"submitted_at"`
}

// MoveNowComment is a post-event discussion comment, accepted only while the
// event's move-now window is open.
type MoveNowComment struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	Comment   string    `bson:"comment" json:"comment" validate:"required"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// UpdateNotification is a host-authored change announcement. NotifiedUsers
// tracks which recipients already received it so dispatch never re-delivers.
type UpdateNotification struct {
	ID            string    `bson:"id" json:"id"`
	Message       string    `bson:"message" json:"message" validate:"required"`
	NotifiedUsers []string  `bson:"notified_users" json:"notified_users"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

type Event struct {
	ID     string `bson:"_id" json:"id"`
	HostID string `bson:"host_id" json:"host_id" validate:"required"`

	Title       string `bson:"title" json:"title" validate:"required"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	Location    string `bson:"location,omitempty" json:"location,omitempty"`

	StartDateTime time.Time   `bson:"start_date_time" json:"start_date_time" validate:"required"`
	EndDateTime   time.Time   `bson:"end_date_time" json:"end_date_time" validate:"required"`
	Status        EventStatus `bson:"status" json:"status"`

	PublicEventType    PublicEventType  `bson:"public_event_type" json:"public_event_type"`
	CapacityProfile    *CapacityProfile `bson:"capacity_profile,omitempty" json:"capacity_profile,omitempty"`
	RequireReservation bool             `bson:"require_reservation" json:"require_reservation"`

	// Running rating state, maintained atomically on every rating write.
	RatingCount   int64   `bson:"rating_count" json:"rating_count"`
	RatingSum     float64 `bson:"rating_sum" json:"-"`
	RatingAverage float64 `bson:"rating_average" json:"rating_average"`

	PeakNotificationSent bool       `bson:"peak_notification_sent" json:"peak_notification_sent"`
	PeakNotifiedAt       *time.Time `bson:"peak_notified_at,omitempty" json:"peak_notified_at,omitempty"`
	EndNotificationSent  bool       `bson:"end_notification_sent" json:"end_notification_sent"`
	EndNotifiedAt        *time.Time `bson:"end_notified_at,omitempty" json:"end_notified_at,omitempty"`
	EndNotifyOutcome     string     `bson:"end_notify_outcome,omitempty" json:"end_notify_outcome,omitempty"`

	MoveNowExpiresAt *time.Time `bson:"move_now_expires_at,omitempty" json:"move_now_expires_at,omitempty"`

	InterestedUsers []string `bson:"interested_users" json:"interested_users"`
	ReservedUsers   []string `bson:"reserved_users" json:"reserved_users"`

	LiveRatings          map[string]LiveRating `bson:"live_ratings,omitempty" json:"live_ratings,omitempty"`
	AnonymousLiveRatings []AnonymousLiveRating `bson:"anonymous_live_ratings,omitempty" json:"anonymous_live_ratings,omitempty"`
	MoveNowComments      []MoveNowComment      `bson:"move_now_comments,omitempty" json:"move_now_comments,omitempty"`
	UpdateNotifications  []UpdateNotification  `bson:"update_notifications,omitempty" json:"update_notifications,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsPublic reports whether the event qualifies for peak, wrap-up and
// discussion features.
func (e *Event) IsPublic() bool {
	return e.PublicEventType == PublicPub || e.PublicEventType == PublicOpen
}

// DigestRecipients is the deduplicated union of interested users and users
// who submitted an identified live rating.
func (e *Event) DigestRecipients() []string {
	combined := make([]string, 0, len(e.InterestedUsers)+len(e.LiveRatings))
	combined = append(combined, e.InterestedUsers...)
	for userID := range e.LiveRatings {
		combined = append(combined, userID)
	}
	return helpers.RemoveDuplicates(combined)
}

func ValidCrowdLevel(c CrowdLevel) bool {
	switch c {
	case CrowdDead, CrowdChill, CrowdPacked, CrowdTooPacked:
		return true
	}
	return false
}

// ValidateRating runs the struct tags through the shared validator, then the
// cross-field rules the tags cannot express.
func (r LiveRating) ValidateRating() error {
	if err := Validate.Struct(r); err != nil {
		return fmt.Errorf("validation failed: %v", err)
	}
	if r.Vibe == 0 && r.Crowd == "" && r.Comment == "" {
		return fmt.Errorf("rating must carry a vibe score, crowd level or comment")
	}
	if r.Crowd != "" && !ValidCrowdLevel(r.Crowd) {
		return fmt.Errorf("unknown crowd level: %s", r.Crowd)
	}
	return nil
}

func (r *LiveRating) Sanitize() {
	r.Comment = helpers.StringTrim(r.Comment)
	r.Comment = helpers.RemoveProfanity(r.Comment)
}

func (r AnonymousLiveRating) ValidateRating() error {
	identified := LiveRating{
		UserID:          "anonymous",
		Vibe:            r.Vibe,
		Crowd:           r.Crowd,
		LineWaitMinutes: r.LineWaitMinutes,
		Comment:         r.Comment,
	}
	return identified.ValidateRating()
}
