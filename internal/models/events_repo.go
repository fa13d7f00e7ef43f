package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	EventDbName  = "vybe"
	EventColName = "events"
)

var ErrEventNotFound = errors.New("event not found")

type EventsRepo interface {
	GetEventByID(ctx context.Context, id string) (*Event, error)
	FindPeakCandidates(ctx context.Context, now time.Time) ([]*Event, error)
	FindWrapupCandidates(ctx context.Context, now time.Time) ([]*Event, error)
	FindReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]*Event, error)
	FindEventsWithPendingUpdates(ctx context.Context) ([]*Event, error)

	SyncStatus(ctx context.Context, id string, status EventStatus) error
	SetPeakNotified(ctx context.Context, id string, at time.Time) (bool, error)
	SetEndNotified(ctx context.Context, id string, at time.Time, outcome string) (bool, error)
	InitMoveNowExpiry(ctx context.Context, id string, expiresAt time.Time) (time.Time, error)

	UpsertLiveRating(ctx context.Context, eventID string, rating LiveRating) (*Event, error)
	AppendAnonymousRating(ctx context.Context, eventID string, rating AnonymousLiveRating) error
	AppendMoveNowComment(ctx context.Context, eventID string, comment MoveNowComment) error
	AddInterestedUser(ctx context.Context, eventID, userID string) error
	AddReservedUser(ctx context.Context, eventID, userID string) error

	AppendUpdateNotification(ctx context.Context, eventID string, update UpdateNotification) error
	ClaimUpdateRecipient(ctx context.Context, eventID, updateID, userID string) (bool, error)
	ReleaseUpdateRecipient(ctx context.Context, eventID, updateID, userID string) error
}

func publicTypes() bson.A {
	return bson.A{PublicPub, PublicOpen}
}

func (mdb *MongodbRepo) eventsCol(ctx context.Context) (*mongo.Collection, error) {
	return mdb.GetCollection(ctx, EventDbName, EventColName)
}

func (mdb *MongodbRepo) GetEventByID(ctx context.Context, id string) (*Event, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	var event Event
	err = col.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error finding event: %v", err)
	}
	return &event, nil
}

func (mdb *MongodbRepo) findEvents(ctx context.Context, filter bson.M) ([]*Event, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	cursor, err := col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error finding events: %v", err)
	}
	defer cursor.Close(ctx)

	var events []*Event
	for cursor.Next(ctx) {
		var event Event
		if err := cursor.Decode(&event); err != nil {
			return nil, fmt.Errorf("error decoding event: %v", err)
		}
		events = append(events, &event)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %v", err)
	}

	return events, nil
}

// FindPeakCandidates returns publicly tagged events whose time window contains
// now and that have not been peak-notified. The query works off the temporal
// fields directly since the stored status is only a cached projection.
func (mdb *MongodbRepo) FindPeakCandidates(ctx context.Context, now time.Time) ([]*Event, error) {
	return mdb.findEvents(ctx, bson.M{
		"start_date_time":        bson.M{"$lte": now},
		"end_date_time":          bson.M{"$gte": now},
		"public_event_type":      bson.M{"$in": publicTypes()},
		"peak_notification_sent": false,
	})
}

// FindWrapupCandidates returns publicly tagged events that have ended and have
// not yet had their end-of-event digest dispatched.
func (mdb *MongodbRepo) FindWrapupCandidates(ctx context.Context, now time.Time) ([]*Event, error) {
	return mdb.findEvents(ctx, bson.M{
		"end_date_time":         bson.M{"$lte": now},
		"public_event_type":     bson.M{"$in": publicTypes()},
		"end_notification_sent": false,
	})
}

// FindReminderCandidates returns reservation-required events with at least one
// reserved user starting inside [windowStart, windowEnd].
func (mdb *MongodbRepo) FindReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]*Event, error) {
	return mdb.findEvents(ctx, bson.M{
		"start_date_time":     bson.M{"$gte": windowStart, "$lte": windowEnd},
		"require_reservation": true,
		"reserved_users.0":    bson.M{"$exists": true},
	})
}

func (mdb *MongodbRepo) FindEventsWithPendingUpdates(ctx context.Context) ([]*Event, error) {
	return mdb.findEvents(ctx, bson.M{
		"update_notifications.0": bson.M{"$exists": true},
	})
}

// SyncStatus persists a freshly computed lifecycle status. Conditional on the
// stored value differing so concurrent runs don't thrash updated_at.
func (mdb *MongodbRepo) SyncStatus(ctx context.Context, id string, status EventStatus) error {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{"_id": id, "status": bson.M{"$ne": status}}
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}}

	_, err = col.UpdateOne(ctx, filter, update)
	return err
}

// SetPeakNotified flips the peak flag, conditional on it still being false.
// Returns whether this call performed the transition.
func (mdb *MongodbRepo) SetPeakNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return false, fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{"_id": id, "peak_notification_sent": false}
	update := bson.M{"$set": bson.M{
		"peak_notification_sent": true,
		"peak_notified_at":       at,
		"updated_at":             at,
	}}

	res, err := col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("error setting peak flag: %v", err)
	}
	return res.ModifiedCount == 1, nil
}

func (mdb *MongodbRepo) SetEndNotified(ctx context.Context, id string, at time.Time, outcome string) (bool, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return false, fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{"_id": id, "end_notification_sent": false}
	update := bson.M{"$set": bson.M{
		"end_notification_sent": true,
		"end_notified_at":       at,
		"end_notify_outcome":    outcome,
		"updated_at":            at,
	}}

	res, err := col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("error setting end flag: %v", err)
	}
	return res.ModifiedCount == 1, nil
}

// InitMoveNowExpiry sets the discussion-window expiry if it has never been
// set. First write wins; the effective stored value is returned either way.
func (mdb *MongodbRepo) InitMoveNowExpiry(ctx context.Context, id string, expiresAt time.Time) (time.Time, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("error getting collection: %v", err)
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"move_now_expires_at": bson.M{"$ifNull": bson.A{"$move_now_expires_at", expiresAt}},
		}}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var event Event
	err = col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, ErrEventNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("error initializing discussion window: %v", err)
	}
	if event.MoveNowExpiresAt == nil {
		return time.Time{}, fmt.Errorf("discussion window not set after update")
	}
	return *event.MoveNowExpiresAt, nil
}

// UpsertLiveRating stores the user's rating (replacing any previous one) and
// maintains the running vibe sum, count and average in the same atomic update.
// Uses a pipeline update so the arithmetic happens server side against the
// document's current values.
func (mdb *MongodbRepo) UpsertLiveRating(ctx context.Context, eventID string, rating LiveRating) (*Event, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	field := "live_ratings." + rating.UserID
	prev := "$" + field
	prevVibe := bson.M{"$ifNull": bson.A{prev + ".vibe", 0}}
	prevCounted := bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{prevVibe, 0}}, 1, 0}}

	newCounted := 0
	if rating.Vibe > 0 {
		newCounted = 1
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			field: bson.M{"$literal": rating},
			"rating_sum": bson.M{"$add": bson.A{
				bson.M{"$subtract": bson.A{bson.M{"$ifNull": bson.A{"$rating_sum", 0}}, prevVibe}},
				rating.Vibe,
			}},
			"rating_count": bson.M{"$add": bson.A{
				bson.M{"$subtract": bson.A{bson.M{"$ifNull": bson.A{"$rating_count", 0}}, prevCounted}},
				newCounted,
			}},
			"updated_at": rating.SubmittedAt,
		}}},
		{{Key: "$set", Value: bson.M{
			"rating_average": bson.M{"$cond": bson.A{
				bson.M{"$gt": bson.A{"$rating_count", 0}},
				bson.M{"$divide": bson.A{"$rating_sum", "$rating_count"}},
				0,
			}},
		}}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var event Event
	err = col.FindOneAndUpdate(ctx, bson.M{"_id": eventID}, update, opts).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error upserting live rating: %v", err)
	}
	return &event, nil
}

func (mdb *MongodbRepo) AppendAnonymousRating(ctx context.Context, eventID string, rating AnonymousLiveRating) error {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	update := bson.M{
		"$push": bson.M{"anonymous_live_ratings": rating},
		"$set":  bson.M{"updated_at": rating.SubmittedAt},
	}

	res, err := col.UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return fmt.Errorf("error appending anonymous rating: %v", err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (mdb *MongodbRepo) AppendMoveNowComment(ctx context.Context, eventID string, comment MoveNowComment) error {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	update := bson.M{
		"$push": bson.M{"move_now_comments": comment},
		"$set":  bson.M{"updated_at": comment.CreatedAt},
	}

	res, err := col.UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return fmt.Errorf("error appending discussion comment: %v", err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (mdb *MongodbRepo) addUserToSet(ctx context.Context, eventID, userID, field string) error {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	update := bson.M{
		"$addToSet": bson.M{field: userID},
		"$set":      bson.M{"updated_at": time.Now()},
	}

	res, err := col.UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return fmt.Errorf("error updating %s: %v", field, err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (mdb *MongodbRepo) AddInterestedUser(ctx context.Context, eventID, userID string) error {
	return mdb.addUserToSet(ctx, eventID, userID, "interested_users")
}

func (mdb *MongodbRepo) AddReservedUser(ctx context.Context, eventID, userID string) error {
	return mdb.addUserToSet(ctx, eventID, userID, "reserved_users")
}

func (mdb *MongodbRepo) AppendUpdateNotification(ctx context.Context, eventID string, update UpdateNotification) error {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	doc := bson.M{
		"$push": bson.M{"update_notifications": update},
		"$set":  bson.M{"updated_at": update.CreatedAt},
	}

	res, err := col.UpdateOne(ctx, bson.M{"_id": eventID}, doc)
	if err != nil {
		return fmt.Errorf("error appending update notification: %v", err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

// ClaimUpdateRecipient atomically adds userID to the announcement's
// notified set. Returns false when the user was already in it, which is the
// per-recipient at-most-once guarantee for update announcements.
func (mdb *MongodbRepo) ClaimUpdateRecipient(ctx context.Context, eventID, updateID, userID string) (bool, error) {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return false, fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{
		"_id": eventID,
		"update_notifications": bson.M{"$elemMatch": bson.M{
			"id":             updateID,
			"notified_users": bson.M{"$ne": userID},
		}},
	}
	update := bson.M{
		"$addToSet": bson.M{"update_notifications.$.notified_users": userID},
	}

	res, err := col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("error claiming update recipient: %v", err)
	}
	return res.ModifiedCount == 1, nil
}

// ReleaseUpdateRecipient undoes a claim after a failed send so the recipient
// is retried on the next dispatch run.
func (mdb *MongodbRepo) ReleaseUpdateRecipient(ctx context.Context, eventID, updateID, userID string) error {
	col, err := mdb.eventsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	filter := bson.M{
		"_id":                     eventID,
		"update_notifications.id": updateID,
	}
	update := bson.M{
		"$pull": bson.M{"update_notifications.$.notified_users": userID},
	}

	_, err = col.UpdateOne(ctx, filter, update)
	return err
}
