// Package governance is the library surface of the clan governance core:
// typed commands and queries over the role registry, proposal engine,
// delegation graph and analytics, with per-clan serialisation and
// idempotency on every mutation.
package governance

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clanwyse/halo/internal/analytics"
	"github.com/clanwyse/halo/internal/audit"
	"github.com/clanwyse/halo/internal/clock"
	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/delegation"
	"github.com/clanwyse/halo/internal/events"
	"github.com/clanwyse/halo/internal/governance/goverrors"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/permissions"
	"github.com/clanwyse/halo/internal/proposals"
	"github.com/clanwyse/halo/internal/ratelimit"
	"github.com/clanwyse/halo/internal/receipts"
	"github.com/clanwyse/halo/internal/roles"
	"github.com/clanwyse/halo/internal/storage"
)

// Service wires the governance components together. All mutations on one
// clan are serialised through its lock; distinct clans proceed in parallel.
type Service struct {
	config    *conf.GovernanceConfiguration
	repo      storage.Repository
	clock     clock.Clock
	resolver  *permissions.Resolver
	recorder  *audit.Recorder
	registry  *roles.Registry
	graph     *delegation.Graph
	engine    *proposals.Engine
	analytics *analytics.Engine
	logger    *logrus.Entry

	// analyticsLimiter throttles report derivation, which scans clan
	// history.
	analyticsLimiter ratelimit.Limiter

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewService builds a Service on the given repository and event sink. A nil
// sink discards events.
func NewService(config *conf.GovernanceConfiguration, repo storage.Repository, sink events.Sink, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.New()
	}
	// Without a configured authority key, burn receipts are rejected as
	// externally unavailable rather than failing construction.
	var authority ed25519.PublicKey
	if config.Authority.PublicKey != "" {
		key, err := config.Authority.Key()
		if err != nil {
			return nil, err
		}
		authority = key
	}

	resolver := permissions.NewResolver(repo)
	recorder := audit.NewRecorder(repo, sink)
	validator := receipts.NewValidator(authority, &config.Burn, repo)
	graph := delegation.NewGraph(repo, &config.Delegation, clk)
	registry := roles.NewRegistry(repo, resolver, recorder, &config.Role, clk)
	engine := proposals.NewEngine(repo, &config.Pools, &config.Proposal, resolver, graph, validator, recorder, clk)

	return &Service{
		config:           config,
		repo:             repo,
		clock:            clk,
		resolver:         resolver,
		recorder:         recorder,
		registry:         registry,
		graph:            graph,
		engine:           engine,
		analytics:        analytics.NewEngine(repo, &config.Pools, &config.Burn, clk),
		logger:           logrus.WithField("component", "governance"),
		analyticsLimiter: ratelimit.New(config.Analytics.QueryRate),
		locks:            make(map[uuid.UUID]*sync.Mutex),
	}, nil
}

func (s *Service) clanLock(clan uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[clan]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[clan] = lock
	}
	return lock
}

// withClan runs fn inside the clan's serialised section with idempotency.
// fn returns the id to remember for the key; a replayed key skips fn and
// returns the original id.
func (s *Service) withClan(ctx context.Context, clan uuid.UUID, key, command string, fn func(context.Context) (string, error)) (resultID string, replayed bool, err error) {
	if key == "" {
		return "", false, goverrors.NewValidationError("idempotency_key", "idempotency key is required")
	}
	lock := s.clanLock(clan)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return "", false, mapContextErr(err)
	}

	record, err := s.repo.Idempotency().Get(ctx, clan, key)
	if err != nil {
		return "", false, mapErr(err)
	}
	if record != nil {
		if record.Command != command {
			return "", false, goverrors.NewConflictError("idempotency key was used by a different command")
		}
		return record.ResultID, true, nil
	}

	// Commands either apply fully or not at all: the clan's state is
	// captured before fn and put back when any write in fn fails.
	snapshot, err := s.repo.SnapshotClan(ctx, clan)
	if err != nil {
		return "", false, mapErr(err)
	}

	resultID, err = fn(ctx)
	if err != nil {
		s.rollback(clan, snapshot)
		return "", false, mapErr(err)
	}

	if err := s.repo.Idempotency().Put(ctx, &storage.IdempotencyRecord{
		ClanID:    clan,
		Key:       key,
		Command:   command,
		ResultID:  resultID,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		s.rollback(clan, snapshot)
		return "", false, mapErr(err)
	}
	return resultID, false, nil
}

// rollback restores the clan to its pre-command snapshot. It runs on a fresh
// context: the command's context may already be dead, and the restore must
// still land.
func (s *Service) rollback(clan uuid.UUID, snapshot []byte) {
	if err := s.repo.RestoreClan(context.Background(), clan, snapshot); err != nil {
		s.logger.WithError(err).WithField("clan_id", clan).Error("failed to restore clan state after command failure")
	}
	// cached role lookups may reflect the rolled-back writes
	s.resolver.Invalidate(clan)
}

// mapErr normalises errors crossing the service boundary to carry a stable
// code.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := mapContextErr(err); ctxErr != err {
		return ctxErr
	}
	if _, ok := err.(*goverrors.Error); ok {
		return err
	}
	if models.IsNotFoundError(err) {
		return goverrors.NewNotFoundError("%s", err).WithInternalError(err)
	}
	return goverrors.NewInternalError("governance: %s", err).WithInternalError(err)
}

func mapContextErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return goverrors.NewDeadlineExceededError()
	case errors.Is(err, context.Canceled):
		return goverrors.NewDeadlineExceededError().WithInternalMessage("operation canceled")
	}
	return err
}

// InitializeClan registers a clan and seeds its Owner assignment.
func (s *Service) InitializeClan(ctx context.Context, cmd InitializeClan) (*models.Clan, error) {
	id, replayed, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdInitializeClan, func(ctx context.Context) (string, error) {
		clan, err := s.registry.InitializeClan(ctx, cmd.ClanID, cmd.Owner)
		if err != nil {
			return "", err
		}
		return clan.ID.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger.WithField("clan_id", id).Debug("replayed initialize_clan")
	}
	clan, err := s.repo.Clans().Find(ctx, cmd.ClanID)
	return clan, mapErr(err)
}

// RequestRoleAssignment opens a role change request or materialises it
// immediately when the requester satisfies the approval requirement.
func (s *Service) RequestRoleAssignment(ctx context.Context, cmd RequestRoleAssignment) (*roles.AssignmentResult, error) {
	var result *roles.AssignmentResult
	id, replayed, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdRequestRoleAssignment, func(ctx context.Context) (string, error) {
		var err error
		result, err = s.registry.RequestAssignment(ctx, cmd.ClanID, cmd.Actor, cmd.Target, cmd.Role, cmd.Reason)
		if err != nil {
			return "", err
		}
		return result.Request.ID, nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		request, err := s.repo.RoleRequests().Find(ctx, id)
		if err != nil {
			return nil, mapErr(err)
		}
		result = &roles.AssignmentResult{Request: request}
	}
	return result, nil
}

// DecideRoleRequest records an approval or rejection.
func (s *Service) DecideRoleRequest(ctx context.Context, cmd DecideRoleRequest) (*roles.AssignmentResult, error) {
	var result *roles.AssignmentResult
	id, replayed, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdDecideRoleRequest, func(ctx context.Context) (string, error) {
		var err error
		result, err = s.registry.Decide(ctx, cmd.RequestID, cmd.Approver, cmd.Decision, cmd.Reason)
		if err != nil {
			return "", err
		}
		return result.Request.ID, nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		request, err := s.repo.RoleRequests().Find(ctx, id)
		if err != nil {
			return nil, mapErr(err)
		}
		result = &roles.AssignmentResult{Request: request}
	}
	return result, nil
}

// TransferOwnership swaps the Owner role atomically.
func (s *Service) TransferOwnership(ctx context.Context, cmd TransferOwnership) error {
	_, _, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdTransferOwnership, func(ctx context.Context) (string, error) {
		if err := s.registry.TransferOwnership(ctx, cmd.ClanID, cmd.CurrentOwner, cmd.NewOwner); err != nil {
			return "", err
		}
		return cmd.NewOwner.String(), nil
	})
	return err
}

// Demote lowers the target's role tier.
func (s *Service) Demote(ctx context.Context, cmd Demote) (*models.RoleAssignment, error) {
	var assignment *models.RoleAssignment
	_, replayed, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdDemote, func(ctx context.Context) (string, error) {
		var err error
		assignment, err = s.registry.Demote(ctx, cmd.ClanID, cmd.Actor, cmd.Target, cmd.NewRole)
		if err != nil {
			return "", err
		}
		return assignment.ID.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		assignment, err = s.repo.Assignments().FindCurrent(ctx, cmd.ClanID, cmd.Target)
		if err != nil {
			return nil, mapErr(err)
		}
	}
	return assignment, nil
}

// RemoveMember retires the target's membership.
func (s *Service) RemoveMember(ctx context.Context, cmd RemoveMember) error {
	_, _, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdRemoveMember, func(ctx context.Context) (string, error) {
		if err := s.registry.Remove(ctx, cmd.ClanID, cmd.Actor, cmd.Target); err != nil {
			return "", err
		}
		return cmd.Target.String(), nil
	})
	return err
}

// SetPermissionOverride layers a per-clan permission override.
func (s *Service) SetPermissionOverride(ctx context.Context, cmd SetPermissionOverride) error {
	_, _, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdSetPermissionOverride, func(ctx context.Context) (string, error) {
		override := &models.PermissionOverride{
			ID:         uuid.Must(uuid.NewV4()),
			ClanID:     cmd.ClanID,
			Role:       cmd.Role,
			Permission: cmd.Permission,
			Allow:      cmd.Allow,
			Reason:     cmd.Reason,
			CreatedBy:  cmd.Actor,
		}
		if err := s.registry.SetOverride(ctx, cmd.ClanID, cmd.Actor, override); err != nil {
			return "", err
		}
		return override.ID.String(), nil
	})
	return err
}

// EmergencyOverride performs an Owner-only role assignment that bypasses
// the approval workflow, cooldown and rate limit.
func (s *Service) EmergencyOverride(ctx context.Context, cmd EmergencyOverride) (*models.RoleAssignment, error) {
	var assignment *models.RoleAssignment
	_, replayed, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdEmergencyOverride, func(ctx context.Context) (string, error) {
		var err error
		assignment, err = s.registry.EmergencyAssign(ctx, cmd.ClanID, cmd.Owner, cmd.Target, cmd.Role, cmd.Justification)
		if err != nil {
			return "", err
		}
		return assignment.ID.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		assignment, err = s.repo.Assignments().FindCurrent(ctx, cmd.ClanID, cmd.Target)
		if err != nil {
			return nil, mapErr(err)
		}
	}
	return assignment, nil
}

// CreateProposal opens a proposal in one of the clan's pools.
func (s *Service) CreateProposal(ctx context.Context, cmd CreateProposal) (*models.Proposal, error) {
	id, _, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdCreateProposal, func(ctx context.Context) (string, error) {
		proposal, err := s.engine.Create(ctx, cmd.Actor, cmd.ClanID, cmd.Pool, cmd.Title, cmd.Description, cmd.Options, cmd.Metadata)
		if err != nil {
			return "", err
		}
		return proposal.ID, nil
	})
	if err != nil {
		return nil, err
	}
	proposal, err := s.repo.Proposals().Find(ctx, id)
	return proposal, mapErr(err)
}

// CastVote records the actor's weighted vote.
func (s *Service) CastVote(ctx context.Context, cmd CastVote) (*models.Vote, error) {
	clanID, err := s.proposalClan(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	var vote *models.Vote
	_, replayed, err := s.withClan(ctx, clanID, cmd.IdempotencyKey, CmdCastVote, func(ctx context.Context) (string, error) {
		var err error
		vote, err = s.engine.CastVote(ctx, cmd.Actor, cmd.ProposalID, cmd.Option, cmd.BurnReceipt)
		if err != nil {
			return "", err
		}
		return vote.ID.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		vote, err = s.repo.Votes().Find(ctx, cmd.ProposalID, cmd.Actor)
		if err != nil {
			return nil, mapErr(err)
		}
	}
	return vote, nil
}

// FinalizeProposal evaluates a proposal whose voting period has ended.
// Finalization is idempotent by proposal id even without a key replay.
func (s *Service) FinalizeProposal(ctx context.Context, cmd FinalizeProposal) (*models.Proposal, error) {
	clanID, err := s.proposalClan(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	id, _, err := s.withClan(ctx, clanID, cmd.IdempotencyKey, CmdFinalizeProposal, func(ctx context.Context) (string, error) {
		proposal, err := s.engine.Finalize(ctx, cmd.ProposalID)
		if err != nil {
			return "", err
		}
		return proposal.ID, nil
	})
	if err != nil {
		return nil, err
	}
	proposal, err := s.repo.Proposals().Find(ctx, id)
	return proposal, mapErr(err)
}

// CancelProposal withdraws an active proposal.
func (s *Service) CancelProposal(ctx context.Context, cmd CancelProposal) (*models.Proposal, error) {
	clanID, err := s.proposalClan(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	id, _, err := s.withClan(ctx, clanID, cmd.IdempotencyKey, CmdCancelProposal, func(ctx context.Context) (string, error) {
		proposal, err := s.engine.Cancel(ctx, cmd.ProposalID, cmd.Owner, cmd.Reason)
		if err != nil {
			return "", err
		}
		return proposal.ID, nil
	})
	if err != nil {
		return nil, err
	}
	proposal, err := s.repo.Proposals().Find(ctx, id)
	return proposal, mapErr(err)
}

// CreateDelegation grants the delegator's base weight to the delegate.
func (s *Service) CreateDelegation(ctx context.Context, cmd CreateDelegation) (*models.Delegation, error) {
	var edge *models.Delegation
	id, replayed, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdCreateDelegation, func(ctx context.Context) (string, error) {
		var err error
		edge, err = s.graph.Delegate(ctx, cmd.ClanID, cmd.Delegator, cmd.Delegate, cmd.Scope, cmd.Period)
		if err != nil {
			return "", err
		}
		if err := s.recordDelegationAudit(ctx, edge, models.DelegationCreatedAction, cmd.Delegator); err != nil {
			return "", err
		}
		return edge.ID.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		edgeID, err := uuid.FromString(id)
		if err != nil {
			return nil, mapErr(err)
		}
		edge, err = s.repo.Delegations().Find(ctx, edgeID)
		if err != nil {
			return nil, mapErr(err)
		}
	}
	return edge, nil
}

// RevokeDelegation starts or completes revocation of a delegation edge.
func (s *Service) RevokeDelegation(ctx context.Context, cmd RevokeDelegation) (*models.Delegation, error) {
	var edge *models.Delegation
	id, replayed, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdRevokeDelegation, func(ctx context.Context) (string, error) {
		var err error
		edge, err = s.graph.Revoke(ctx, cmd.EdgeID, cmd.Actor)
		if err != nil {
			return "", err
		}
		action := models.DelegationRevokedAction
		if edge.Status == models.DelegationNoticeGiven {
			action = models.DelegationNoticeAction
		}
		if err := s.recordDelegationAudit(ctx, edge, action, cmd.Actor); err != nil {
			return "", err
		}
		return edge.ID.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		edgeID, err := uuid.FromString(id)
		if err != nil {
			return nil, mapErr(err)
		}
		edge, err = s.repo.Delegations().Find(ctx, edgeID)
		if err != nil {
			return nil, mapErr(err)
		}
	}
	return edge, nil
}

// SweepExpiredProposals expires active proposals past their grace window.
func (s *Service) SweepExpiredProposals(ctx context.Context, cmd SweepExpired) (int, error) {
	swept := 0
	_, _, err := s.withClan(ctx, cmd.ClanID, cmd.IdempotencyKey, CmdSweepExpired, func(ctx context.Context) (string, error) {
		var err error
		swept, err = s.engine.SweepExpired(ctx, cmd.ClanID)
		if err != nil {
			return "", err
		}
		return cmd.ClanID.String(), nil
	})
	return swept, err
}

func (s *Service) recordDelegationAudit(ctx context.Context, edge *models.Delegation, action models.AuditAction, actor uuid.UUID) error {
	payload := models.JSONMap{
		"delegator": edge.Delegator.String(),
		"delegate":  edge.Delegate.String(),
		"status":    string(edge.Status),
	}
	entry := models.NewAuditLogEntry(edge.ClanID, actor, action, edge.ID.String(), payload, s.clock.Now())
	return s.recorder.Record(ctx, entry)
}

// proposalClan resolves which clan's lock a proposal-scoped command needs.
func (s *Service) proposalClan(ctx context.Context, proposalID string) (uuid.UUID, error) {
	proposal, err := s.repo.Proposals().Find(ctx, proposalID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return uuid.Nil, goverrors.NewNotFoundError("proposal not found")
		}
		return uuid.Nil, mapErr(err)
	}
	return proposal.ClanID, nil
}
