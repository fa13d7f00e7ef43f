package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ClaimDbName  = "vybe"
	ClaimColName = "notification_claims"
)

type NotificationKind string

const (
	KindPeakAlert   NotificationKind = "peak_alert"
	KindEndDigest   NotificationKind = "end_digest"
	KindReminder24h NotificationKind = "reminder_24h"
	KindReminder1h  NotificationKind = "reminder_1h"
	KindEventUpdate NotificationKind = "event_update"
)

const (
	ClaimStatePending   = "pending"
	ClaimStateDelivered = "delivered"
)

var (
	// ErrAlreadyDelivered means the notification was committed by an earlier run.
	ErrAlreadyDelivered = errors.New("notification already delivered")
	// ErrClaimHeld means another run holds an unexpired pending claim.
	ErrClaimHeld = errors.New("notification claim held by another run")
)

// NotificationClaim is one row in the idempotency ledger. The unique key is
// (event_id, kind, recipient); recipient is empty for event-level
// notifications. A pending claim carries a lease so a crashed run's claim can
// be taken over once the lease expires.
type NotificationClaim struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID     string             `bson:"event_id" json:"event_id"`
	Kind        NotificationKind   `bson:"kind" json:"kind"`
	Recipient   string             `bson:"recipient" json:"recipient,omitempty"`
	State       string             `bson:"state" json:"state"`
	ClaimedAt   time.Time          `bson:"claimed_at" json:"claimed_at"`
	LeaseUntil  time.Time          `bson:"lease_until" json:"lease_until"`
	DeliveredAt *time.Time         `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	DeliveredTo int                `bson:"delivered_to" json:"delivered_to"`
}

type ClaimsRepo interface {
	TryClaim(ctx context.Context, eventID string, kind NotificationKind, recipient string, lease time.Duration) (*NotificationClaim, error)
	Commit(ctx context.Context, claimID primitive.ObjectID, deliveredTo int) error
	Release(ctx context.Context, claimID primitive.ObjectID) error
	EnsureClaimIndexes(ctx context.Context) error
}

func (mdb *MongodbRepo) claimsCol(ctx context.Context) (*mongo.Collection, error) {
	return mdb.GetCollection(ctx, ClaimDbName, ClaimColName)
}

// EnsureClaimIndexes creates the unique index the ledger's atomicity depends
// on. Called once at process start.
func (mdb *MongodbRepo) EnsureClaimIndexes(ctx context.Context) error {
	col, err := mdb.claimsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	_, err = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "event_id", Value: 1},
			{Key: "kind", Value: 1},
			{Key: "recipient", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("error creating claim index: %v", err)
	}
	return nil
}

// TryClaim acquires the (event, kind, recipient) claim. Exactly one caller
// wins under concurrency: the upsert either inserts a fresh pending claim,
// takes over an expired one, or trips the unique index and loses. A lost
// claim resolves to ErrAlreadyDelivered or ErrClaimHeld depending on the
// existing row's state.
func (mdb *MongodbRepo) TryClaim(ctx context.Context, eventID string, kind NotificationKind, recipient string, lease time.Duration) (*NotificationClaim, error) {
	col, err := mdb.claimsCol(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %v", err)
	}

	now := time.Now()
	filter := bson.M{
		"event_id":    eventID,
		"kind":        kind,
		"recipient":   recipient,
		"state":       ClaimStatePending,
		"lease_until": bson.M{"$lt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"claimed_at":  now,
			"lease_until": now.Add(lease),
		},
		"$setOnInsert": bson.M{
			"event_id":  eventID,
			"kind":      kind,
			"recipient": recipient,
			"state":     ClaimStatePending,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var claim NotificationClaim
	err = col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&claim)
	if err == nil {
		return &claim, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("error claiming notification: %v", err)
	}

	// Someone else holds or already delivered this one.
	var existing NotificationClaim
	lookErr := col.FindOne(ctx, bson.M{
		"event_id":  eventID,
		"kind":      kind,
		"recipient": recipient,
	}).Decode(&existing)
	if lookErr != nil {
		return nil, fmt.Errorf("error inspecting existing claim: %v", lookErr)
	}
	if existing.State == ClaimStateDelivered {
		return nil, ErrAlreadyDelivered
	}
	return nil, ErrClaimHeld
}

func (mdb *MongodbRepo) Commit(ctx context.Context, claimID primitive.ObjectID, deliveredTo int) error {
	col, err := mdb.claimsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	now := time.Now()
	filter := bson.M{"_id": claimID, "state": ClaimStatePending}
	update := bson.M{"$set": bson.M{
		"state":        ClaimStateDelivered,
		"delivered_at": now,
		"delivered_to": deliveredTo,
	}}

	res, err := col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("error committing claim: %v", err)
	}
	if res.ModifiedCount == 0 {
		return fmt.Errorf("claim %s no longer pending", claimID.Hex())
	}
	return nil
}

// Release drops a pending claim after a failed send so the next scheduled run
// retries. Delivered claims are never touched.
func (mdb *MongodbRepo) Release(ctx context.Context, claimID primitive.ObjectID) error {
	col, err := mdb.claimsCol(ctx)
	if err != nil {
		return fmt.Errorf("error getting collection: %v", err)
	}

	_, err = col.DeleteOne(ctx, bson.M{"_id": claimID, "state": ClaimStatePending})
	if err != nil {
		return fmt.Errorf("error releasing claim: %v", err)
	}
	return nil
}
