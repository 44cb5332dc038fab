// Package storage defines the repository contracts the governance core
// persists through. The core only assumes per-clan single-writer semantics;
// any KV or SQL engine can implement these interfaces. The in-memory
// implementation in this package backs tests and embedded use.
package storage

import (
	"context"
	"time"

	"github.com/gofrs/uuid"

	"github.com/clanwyse/halo/internal/models"
)

// Repository aggregates the per-entity stores.
type Repository interface {
	Clans() ClanStore
	Assignments() AssignmentStore
	RoleRequests() RoleRequestStore
	Overrides() OverrideStore
	Proposals() ProposalStore
	Votes() VoteStore
	Delegations() DelegationStore
	Receipts() ReceiptStore
	Audit() AuditStore
	RateEvents() RateEventStore
	Idempotency() IdempotencyStore

	// SnapshotClan captures the clan's full state; RestoreClan puts it
	// back. The governance layer brackets every command with the pair so a
	// failure partway through a multi-write command leaves no partial
	// state. A transactional backend may implement these as savepoints.
	SnapshotClan(ctx context.Context, clan uuid.UUID) ([]byte, error)
	RestoreClan(ctx context.Context, clan uuid.UUID, data []byte) error
}

type ClanStore interface {
	Create(ctx context.Context, clan *models.Clan) error
	Find(ctx context.Context, id uuid.UUID) (*models.Clan, error)
	Update(ctx context.Context, clan *models.Clan) error
}

// AssignmentStore keeps the current role per (clan, user) plus the full
// history of superseded assignments.
type AssignmentStore interface {
	// Upsert installs the assignment as current, retiring any previous one
	// for the same (clan, user) to history.
	Upsert(ctx context.Context, a *models.RoleAssignment) error
	FindCurrent(ctx context.Context, clan, user uuid.UUID) (*models.RoleAssignment, error)
	ListCurrent(ctx context.Context, clan uuid.UUID) ([]*models.RoleAssignment, error)
	// Remove retires the user's current assignment without a replacement.
	Remove(ctx context.Context, clan, user uuid.UUID) error
	// History returns superseded and current assignments, oldest first. A nil
	// user returns the whole clan's history.
	History(ctx context.Context, clan uuid.UUID, user *uuid.UUID) ([]*models.RoleAssignment, error)
}

type RoleRequestStore interface {
	Create(ctx context.Context, r *models.RoleChangeRequest) error
	Find(ctx context.Context, id string) (*models.RoleChangeRequest, error)
	Update(ctx context.Context, r *models.RoleChangeRequest) error
	ListPending(ctx context.Context, clan uuid.UUID) ([]*models.RoleChangeRequest, error)
}

type OverrideStore interface {
	Set(ctx context.Context, o *models.PermissionOverride) error
	Find(ctx context.Context, clan uuid.UUID, role models.Role, permission string) (*models.PermissionOverride, error)
	List(ctx context.Context, clan uuid.UUID) ([]*models.PermissionOverride, error)
}

type ProposalStore interface {
	Create(ctx context.Context, p *models.Proposal) error
	Find(ctx context.Context, id string) (*models.Proposal, error)
	Update(ctx context.Context, p *models.Proposal) error
	// List returns the clan's proposals filtered by status and pool; nil
	// filters match everything. Results are ordered by creation time.
	List(ctx context.Context, clan uuid.UUID, status *models.ProposalStatus, pool *models.PoolType) ([]*models.Proposal, error)
}

type VoteStore interface {
	Create(ctx context.Context, v *models.Vote) error
	// Update rewrites a recorded vote; used when a delegator's later
	// self-vote retracts the power previously credited to their delegate.
	Update(ctx context.Context, v *models.Vote) error
	Find(ctx context.Context, proposalID string, voter uuid.UUID) (*models.Vote, error)
	ListByProposal(ctx context.Context, proposalID string) ([]*models.Vote, error)
	ListByClan(ctx context.Context, clan uuid.UUID) ([]*models.Vote, error)
}

type DelegationStore interface {
	Create(ctx context.Context, d *models.Delegation) error
	Find(ctx context.Context, id uuid.UUID) (*models.Delegation, error)
	Update(ctx context.Context, d *models.Delegation) error
	ListByClan(ctx context.Context, clan uuid.UUID) ([]*models.Delegation, error)
	// ListInbound returns every edge pointing at the delegate, regardless of
	// status; callers filter by CountsAt.
	ListInbound(ctx context.Context, clan, delegate uuid.UUID) ([]*models.Delegation, error)
	ListOutbound(ctx context.Context, clan, delegator uuid.UUID) ([]*models.Delegation, error)
}

// ReceiptStore records consumed burn receipts for single-use enforcement.
type ReceiptStore interface {
	// Consume marks the receipt as spent on the given proposal. Returns
	// ErrReceiptConsumed if it was already spent.
	Consume(ctx context.Context, receiptID, proposalID string) error
	IsConsumed(ctx context.Context, receiptID string) (bool, error)
}

type AuditStore interface {
	// Append assigns the next clan-scoped sequence number and stores the
	// entry.
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	// List returns entries with sequence > sinceSeq, in sequence order, up to
	// limit (0 means no limit).
	List(ctx context.Context, clan uuid.UUID, sinceSeq uint64, limit int) ([]*models.AuditLogEntry, error)
	// LastSequence returns the highest sequence assigned for the clan.
	LastSequence(ctx context.Context, clan uuid.UUID) (uint64, error)
}

// RateEventStore backs the sliding-window rate limits. Events are stored
// alongside the clan and read within its serialised section.
type RateEventStore interface {
	Record(ctx context.Context, clan, actor uuid.UUID, opClass string, at time.Time) error
	// ListSince returns event timestamps after the cutoff, oldest first.
	ListSince(ctx context.Context, clan, actor uuid.UUID, opClass string, cutoff time.Time) ([]time.Time, error)
}

// IdempotencyRecord remembers the outcome of a mutation so replays with the
// same key return the original result without re-applying.
type IdempotencyRecord struct {
	ClanID    uuid.UUID `json:"clan_id"`
	Key       string    `json:"key"`
	Command   string    `json:"command"`
	ResultID  string    `json:"result_id"`
	CreatedAt time.Time `json:"created_at"`
}

type IdempotencyStore interface {
	Get(ctx context.Context, clan uuid.UUID, key string) (*IdempotencyRecord, error)
	Put(ctx context.Context, rec *IdempotencyRecord) error
}
