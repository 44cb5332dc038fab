// Package permissions maps (clan, user, permission, operation) to an allow
// or deny decision with a reason. Resolution is deterministic and free of
// side effects.
package permissions

import (
	"context"
	"sync"

	"github.com/gobwas/glob"
	"github.com/gofrs/uuid"

	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

// Decision is the outcome of a permission resolution.
type Decision struct {
	Allowed bool
	Reason  string
	Role    models.Role
}

type cacheKey struct {
	clan       uuid.UUID
	user       uuid.UUID
	permission string
}

type cacheEntry struct {
	decision Decision
	gen      uint64
}

// Resolver resolves permission tags against role defaults and per-clan
// overrides. Decisions are cached per (clan, user, tag); any role or
// override write for a clan must call Invalidate to drop its entries.
type Resolver struct {
	repo storage.Repository

	mu    sync.Mutex
	globs map[string]glob.Glob
	cache map[cacheKey]cacheEntry
	gen   map[uuid.UUID]uint64
}

func NewResolver(repo storage.Repository) *Resolver {
	return &Resolver{
		repo:  repo,
		globs: make(map[string]glob.Glob),
		cache: make(map[cacheKey]cacheEntry),
		gen:   make(map[uuid.UUID]uint64),
	}
}

// Invalidate drops cached decisions for the clan. Called on any
// RoleAssignment or PermissionOverride write.
func (r *Resolver) Invalidate(clan uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen[clan]++
}

func (r *Resolver) generation(clan uuid.UUID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen[clan]
}

func (r *Resolver) matches(pattern, permission string) bool {
	if pattern == permission {
		return true
	}
	r.mu.Lock()
	g, ok := r.globs[pattern]
	if !ok {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			r.mu.Unlock()
			return false
		}
		r.globs[pattern] = compiled
		g = compiled
	}
	r.mu.Unlock()
	return g.Match(permission)
}

// Resolve determines whether the user holds the permission tag in the clan.
func (r *Resolver) Resolve(ctx context.Context, clan, user uuid.UUID, permission string) (Decision, error) {
	gen := r.generation(clan)
	key := cacheKey{clan, user, permission}

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && entry.gen == gen {
		r.mu.Unlock()
		return entry.decision, nil
	}
	r.mu.Unlock()

	decision, err := r.resolve(ctx, clan, user, permission)
	if err != nil {
		return Decision{}, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{decision: decision, gen: gen}
	r.mu.Unlock()
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, clan, user uuid.UUID, permission string) (Decision, error) {
	assignment, err := r.repo.Assignments().FindCurrent(ctx, clan, user)
	if err != nil {
		if models.IsNotFoundError(err) {
			return Decision{Allowed: false, Reason: "not a member"}, nil
		}
		return Decision{}, err
	}

	role := assignment.Role

	// Owner holds every permission; overrides cannot revoke it.
	for _, p := range role.DefaultPermissions() {
		if p == "*" {
			return Decision{Allowed: true, Reason: "role holds all permissions", Role: role}, nil
		}
	}

	allowed := false
	reason := "permission not granted to role"
	for _, p := range role.DefaultPermissions() {
		if r.matches(p, permission) {
			allowed = true
			reason = "granted by role default"
			break
		}
	}

	override, err := r.repo.Overrides().Find(ctx, clan, role, permission)
	if err != nil && !models.IsNotFoundError(err) {
		return Decision{}, err
	}
	if err == nil {
		allowed = override.Allow
		reason = override.Reason
		if reason == "" {
			reason = "clan override"
		}
	}

	return Decision{Allowed: allowed, Reason: reason, Role: role}, nil
}

// Require resolves the permission and converts a deny into a
// PermissionDenied error.
func (r *Resolver) Require(ctx context.Context, clan, user uuid.UUID, permission string) (models.Role, error) {
	decision, err := r.Resolve(ctx, clan, user, permission)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		return "", goverrors.NewPermissionDeniedError("%s: %s", permission, decision.Reason)
	}
	return decision.Role, nil
}

// OperationKind identifies an operation with target-sensitive rules.
type OperationKind string

const (
	OpAssignRole OperationKind = "assign_role"
	OpDemote     OperationKind = "demote_member"
	OpKick       OperationKind = "kick_member"
	OpBan        OperationKind = "ban_member"
)

// Operation describes an operation-specific check beyond a permission tag.
type Operation struct {
	Kind       OperationKind
	TargetUser uuid.UUID
	TargetRole models.Role
}

// CheckOperation enforces the target-sensitive rules: the actor's priority
// must be strictly greater than the target's unless the actor is Owner, and
// bans may never hit Owner or Admin.
func (r *Resolver) CheckOperation(ctx context.Context, clan, actor uuid.UUID, op Operation) error {
	actorAssignment, err := r.repo.Assignments().FindCurrent(ctx, clan, actor)
	if err != nil {
		if models.IsNotFoundError(err) {
			return goverrors.NewPermissionDeniedError("not a member")
		}
		return err
	}
	actorRole := actorAssignment.Role

	var targetRole models.Role
	if op.TargetUser != uuid.Nil {
		targetAssignment, err := r.repo.Assignments().FindCurrent(ctx, clan, op.TargetUser)
		if err != nil {
			if models.IsNotFoundError(err) {
				return goverrors.NewNotFoundError("target is not a member")
			}
			return err
		}
		targetRole = targetAssignment.Role
	}

	switch op.Kind {
	case OpAssignRole:
		if !actorRole.CanAssign(op.TargetRole) {
			return goverrors.NewPermissionDeniedError("cannot assign equal or higher role")
		}
		if targetRole != "" && actorRole != models.RoleOwner && !actorRole.Outranks(targetRole) {
			return goverrors.NewPermissionDeniedError("cannot act on peer or higher role")
		}
	case OpDemote, OpKick:
		if targetRole == models.RoleOwner {
			return goverrors.NewPermissionDeniedError("cannot act on the clan owner")
		}
		if actorRole != models.RoleOwner && !actorRole.Outranks(targetRole) {
			return goverrors.NewPermissionDeniedError("cannot act on peer or higher role")
		}
	case OpBan:
		if targetRole == models.RoleOwner || targetRole == models.RoleAdmin {
			return goverrors.NewPermissionDeniedError("cannot ban owner or admin")
		}
		if actorRole != models.RoleOwner && !actorRole.Outranks(targetRole) {
			return goverrors.NewPermissionDeniedError("cannot act on peer or higher role")
		}
	}
	return nil
}
