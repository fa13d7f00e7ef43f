// Package notify holds the at-most-once delivery machinery: the notification
// gate over the persisted claim ledger, and the outbound send capability.
package notify

import (
	"context"
	"time"

	"github.com/kay-darko/vybe/internal/models"
)

// DefaultLease is how long a pending claim is honored before another run may
// take it over. Long enough to cover a slow send batch, short enough that a
// crashed run does not block delivery for an entire event.
const DefaultLease = 10 * time.Minute

// Gate enforces at-most-once delivery per (event, kind) or
// (event, kind, recipient). The guarantee comes from the claim ledger's
// unique index, not from in-process state, so overlapping scheduler runs in
// separate processes are safe.
type Gate struct {
	claims models.ClaimsRepo
	lease  time.Duration
}

func NewGate(claims models.ClaimsRepo) *Gate {
	return &Gate{claims: claims, lease: DefaultLease}
}

// TryClaim acquires the event-level claim for kind. Returns
// models.ErrAlreadyDelivered when a previous run committed it and
// models.ErrClaimHeld when another run is mid-flight.
func (g *Gate) TryClaim(ctx context.Context, eventID string, kind models.NotificationKind) (*models.NotificationClaim, error) {
	return g.claims.TryClaim(ctx, eventID, kind, "", g.lease)
}

// TryClaimRecipient is the per-recipient variant.
func (g *Gate) TryClaimRecipient(ctx context.Context, eventID string, kind models.NotificationKind, recipient string) (*models.NotificationClaim, error) {
	return g.claims.TryClaim(ctx, eventID, kind, recipient, g.lease)
}

// Commit marks the claim delivered. After this the notification can never be
// claimed again for the same key.
func (g *Gate) Commit(ctx context.Context, claim *models.NotificationClaim, deliveredTo int) error {
	return g.claims.Commit(ctx, claim.ID, deliveredTo)
}

// Release abandons a pending claim after a failed send. The sent state is
// untouched, so the next scheduled run retries.
func (g *Gate) Release(ctx context.Context, claim *models.NotificationClaim) error {
	return g.claims.Release(ctx, claim.ID)
}
