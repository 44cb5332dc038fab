package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/clanwyse/halo/internal/models"
)

// ErrReceiptConsumed is returned by ReceiptStore.Consume when the receipt id
// was already spent.
var ErrReceiptConsumed = errors.New("storage: burn receipt already consumed")

type rateKey struct {
	clan    uuid.UUID
	actor   uuid.UUID
	opClass string
}

type voteKey struct {
	proposal string
	voter    uuid.UUID
}

type overrideKey struct {
	clan       uuid.UUID
	role       models.Role
	permission string
}

type idemKey struct {
	clan uuid.UUID
	key  string
}

// Memory is an in-process Repository. All methods are safe for concurrent
// use; the governance layer additionally serialises mutations per clan.
type Memory struct {
	mu sync.RWMutex

	clans       map[uuid.UUID]*models.Clan
	current     map[uuid.UUID]map[uuid.UUID]*models.RoleAssignment
	history     map[uuid.UUID][]*models.RoleAssignment
	requests    map[string]*models.RoleChangeRequest
	overrides   map[overrideKey]*models.PermissionOverride
	proposals   map[string]*models.Proposal
	votes       map[voteKey]*models.Vote
	delegations map[uuid.UUID]*models.Delegation
	receipts    map[string]string
	audit       map[uuid.UUID][]*models.AuditLogEntry
	rates       map[rateKey][]time.Time
	idempotency map[idemKey]*IdempotencyRecord
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		clans:       make(map[uuid.UUID]*models.Clan),
		current:     make(map[uuid.UUID]map[uuid.UUID]*models.RoleAssignment),
		history:     make(map[uuid.UUID][]*models.RoleAssignment),
		requests:    make(map[string]*models.RoleChangeRequest),
		overrides:   make(map[overrideKey]*models.PermissionOverride),
		proposals:   make(map[string]*models.Proposal),
		votes:       make(map[voteKey]*models.Vote),
		delegations: make(map[uuid.UUID]*models.Delegation),
		receipts:    make(map[string]string),
		audit:       make(map[uuid.UUID][]*models.AuditLogEntry),
		rates:       make(map[rateKey][]time.Time),
		idempotency: make(map[idemKey]*IdempotencyRecord),
	}
}

func (m *Memory) Clans() ClanStore               { return (*memClans)(m) }
func (m *Memory) Assignments() AssignmentStore   { return (*memAssignments)(m) }
func (m *Memory) RoleRequests() RoleRequestStore { return (*memRequests)(m) }
func (m *Memory) Overrides() OverrideStore       { return (*memOverrides)(m) }
func (m *Memory) Proposals() ProposalStore       { return (*memProposals)(m) }
func (m *Memory) Votes() VoteStore               { return (*memVotes)(m) }
func (m *Memory) Delegations() DelegationStore   { return (*memDelegations)(m) }
func (m *Memory) Receipts() ReceiptStore         { return (*memReceipts)(m) }
func (m *Memory) Audit() AuditStore              { return (*memAudit)(m) }
func (m *Memory) RateEvents() RateEventStore     { return (*memRates)(m) }
func (m *Memory) Idempotency() IdempotencyStore  { return (*memIdempotency)(m) }

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

type memClans Memory

func (s *memClans) Create(ctx context.Context, clan *models.Clan) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clans[clan.ID]; exists {
		return errors.New("storage: clan already exists")
	}
	s.clans[clan.ID] = cloneClan(clan)
	return nil
}

func (s *memClans) Find(ctx context.Context, id uuid.UUID) (*models.Clan, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	clan, ok := s.clans[id]
	if !ok {
		return nil, models.ClanNotFoundError{}
	}
	return cloneClan(clan), nil
}

func (s *memClans) Update(ctx context.Context, clan *models.Clan) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clans[clan.ID]; !ok {
		return models.ClanNotFoundError{}
	}
	s.clans[clan.ID] = cloneClan(clan)
	return nil
}

type memAssignments Memory

func (s *memAssignments) Upsert(ctx context.Context, a *models.RoleAssignment) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.current[a.ClanID]
	if !ok {
		byUser = make(map[uuid.UUID]*models.RoleAssignment)
		s.current[a.ClanID] = byUser
	}
	if prev, exists := byUser[a.UserID]; exists {
		s.history[a.ClanID] = append(s.history[a.ClanID], prev)
	}
	byUser[a.UserID] = cloneAssignment(a)
	return nil
}

func (s *memAssignments) FindCurrent(ctx context.Context, clan, user uuid.UUID) (*models.RoleAssignment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.current[clan][user]
	if !ok {
		return nil, models.MemberNotFoundError{}
	}
	return cloneAssignment(a), nil
}

func (s *memAssignments) ListCurrent(ctx context.Context, clan uuid.UUID) ([]*models.RoleAssignment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RoleAssignment, 0, len(s.current[clan]))
	for _, a := range s.current[clan] {
		out = append(out, cloneAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})
	return out, nil
}

func (s *memAssignments) Remove(ctx context.Context, clan, user uuid.UUID) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.current[clan][user]
	if !ok {
		return models.MemberNotFoundError{}
	}
	s.history[clan] = append(s.history[clan], a)
	delete(s.current[clan], user)
	return nil
}

func (s *memAssignments) History(ctx context.Context, clan uuid.UUID, user *uuid.UUID) ([]*models.RoleAssignment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RoleAssignment
	for _, a := range s.history[clan] {
		if user == nil || a.UserID == *user {
			out = append(out, cloneAssignment(a))
		}
	}
	for _, a := range s.current[clan] {
		if user == nil || a.UserID == *user {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})
	return out, nil
}

type memRequests Memory

func (s *memRequests) Create(ctx context.Context, r *models.RoleChangeRequest) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.ID]; exists {
		return errors.New("storage: role change request already exists")
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *memRequests) Find(ctx context.Context, id string) (*models.RoleChangeRequest, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, models.RoleRequestNotFoundError{}
	}
	return cloneRequest(r), nil
}

func (s *memRequests) Update(ctx context.Context, r *models.RoleChangeRequest) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; !ok {
		return models.RoleRequestNotFoundError{}
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *memRequests) ListPending(ctx context.Context, clan uuid.UUID) ([]*models.RoleChangeRequest, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RoleChangeRequest
	for _, r := range s.requests {
		if r.ClanID == clan && r.Status == models.RequestPending {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memOverrides Memory

func (s *memOverrides) Set(ctx context.Context, o *models.PermissionOverride) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[overrideKey{o.ClanID, o.Role, o.Permission}] = cloneOverride(o)
	return nil
}

func (s *memOverrides) Find(ctx context.Context, clan uuid.UUID, role models.Role, permission string) (*models.PermissionOverride, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[overrideKey{clan, role, permission}]
	if !ok {
		return nil, models.OverrideNotFoundError{}
	}
	return cloneOverride(o), nil
}

func (s *memOverrides) List(ctx context.Context, clan uuid.UUID) ([]*models.PermissionOverride, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PermissionOverride
	for k, o := range s.overrides {
		if k.clan == clan {
			out = append(out, cloneOverride(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Permission < out[j].Permission
	})
	return out, nil
}

type memProposals Memory

func (s *memProposals) Create(ctx context.Context, p *models.Proposal) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ID]; exists {
		return errors.New("storage: proposal already exists")
	}
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

func (s *memProposals) Find(ctx context.Context, id string) (*models.Proposal, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, models.ProposalNotFoundError{}
	}
	return cloneProposal(p), nil
}

func (s *memProposals) Update(ctx context.Context, p *models.Proposal) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return models.ProposalNotFoundError{}
	}
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

func (s *memProposals) List(ctx context.Context, clan uuid.UUID, status *models.ProposalStatus, pool *models.PoolType) ([]*models.Proposal, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Proposal
	for _, p := range s.proposals {
		if p.ClanID != clan {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		if pool != nil && p.Pool != *pool {
			continue
		}
		out = append(out, cloneProposal(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memVotes Memory

func (s *memVotes) Create(ctx context.Context, v *models.Vote) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := voteKey{v.ProposalID, v.Voter}
	if _, exists := s.votes[k]; exists {
		return errors.New("storage: vote already recorded")
	}
	s.votes[k] = cloneVote(v)
	return nil
}

func (s *memVotes) Update(ctx context.Context, v *models.Vote) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := voteKey{v.ProposalID, v.Voter}
	if _, exists := s.votes[k]; !exists {
		return models.VoteNotFoundError{}
	}
	s.votes[k] = cloneVote(v)
	return nil
}

func (s *memVotes) Find(ctx context.Context, proposalID string, voter uuid.UUID) (*models.Vote, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteKey{proposalID, voter}]
	if !ok {
		return nil, models.VoteNotFoundError{}
	}
	return cloneVote(v), nil
}

func (s *memVotes) ListByProposal(ctx context.Context, proposalID string) ([]*models.Vote, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Vote
	for k, v := range s.votes {
		if k.proposal == proposalID {
			out = append(out, cloneVote(v))
		}
	}
	sortVotes(out)
	return out, nil
}

func (s *memVotes) ListByClan(ctx context.Context, clan uuid.UUID) ([]*models.Vote, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Vote
	for _, v := range s.votes {
		if v.ClanID == clan {
			out = append(out, cloneVote(v))
		}
	}
	sortVotes(out)
	return out, nil
}

func sortVotes(votes []*models.Vote) {
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].CastAt.Equal(votes[j].CastAt) {
			return votes[i].Voter.String() < votes[j].Voter.String()
		}
		return votes[i].CastAt.Before(votes[j].CastAt)
	})
}

type memDelegations Memory

func (s *memDelegations) Create(ctx context.Context, d *models.Delegation) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.delegations[d.ID]; exists {
		return errors.New("storage: delegation already exists")
	}
	s.delegations[d.ID] = cloneDelegation(d)
	return nil
}

func (s *memDelegations) Find(ctx context.Context, id uuid.UUID) (*models.Delegation, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[id]
	if !ok {
		return nil, models.DelegationNotFoundError{}
	}
	return cloneDelegation(d), nil
}

func (s *memDelegations) Update(ctx context.Context, d *models.Delegation) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delegations[d.ID]; !ok {
		return models.DelegationNotFoundError{}
	}
	s.delegations[d.ID] = cloneDelegation(d)
	return nil
}

func (s *memDelegations) ListByClan(ctx context.Context, clan uuid.UUID) ([]*models.Delegation, error) {
	return s.list(ctx, func(d *models.Delegation) bool { return d.ClanID == clan })
}

func (s *memDelegations) ListInbound(ctx context.Context, clan, delegate uuid.UUID) ([]*models.Delegation, error) {
	return s.list(ctx, func(d *models.Delegation) bool { return d.ClanID == clan && d.Delegate == delegate })
}

func (s *memDelegations) ListOutbound(ctx context.Context, clan, delegator uuid.UUID) ([]*models.Delegation, error) {
	return s.list(ctx, func(d *models.Delegation) bool { return d.ClanID == clan && d.Delegator == delegator })
}

func (s *memDelegations) list(ctx context.Context, match func(*models.Delegation) bool) ([]*models.Delegation, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Delegation
	for _, d := range s.delegations {
		if match(d) {
			out = append(out, cloneDelegation(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memReceipts Memory

func (s *memReceipts) Consume(ctx context.Context, receiptID, proposalID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, spent := s.receipts[receiptID]; spent {
		return ErrReceiptConsumed
	}
	s.receipts[receiptID] = proposalID
	return nil
}

func (s *memReceipts) IsConsumed(ctx context.Context, receiptID string) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, spent := s.receipts[receiptID]
	return spent, nil
}

type memAudit Memory

func (s *memAudit) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Sequence = uint64(len(s.audit[entry.ClanID])) + 1
	s.audit[entry.ClanID] = append(s.audit[entry.ClanID], cloneAuditEntry(entry))
	return nil
}

func (s *memAudit) List(ctx context.Context, clan uuid.UUID, sinceSeq uint64, limit int) ([]*models.AuditLogEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AuditLogEntry
	for _, e := range s.audit[clan] {
		if e.Sequence <= sinceSeq {
			continue
		}
		out = append(out, cloneAuditEntry(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memAudit) LastSequence(ctx context.Context, clan uuid.UUID) (uint64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.audit[clan])), nil
}

type memRates Memory

func (s *memRates) Record(ctx context.Context, clan, actor uuid.UUID, opClass string, at time.Time) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rateKey{clan, actor, opClass}
	s.rates[k] = append(s.rates[k], at)
	return nil
}

func (s *memRates) ListSince(ctx context.Context, clan, actor uuid.UUID, opClass string, cutoff time.Time) ([]time.Time, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []time.Time
	for _, at := range s.rates[rateKey{clan, actor, opClass}] {
		if at.After(cutoff) {
			out = append(out, at)
		}
	}
	return out, nil
}

type memIdempotency Memory

func (s *memIdempotency) Get(ctx context.Context, clan uuid.UUID, key string) (*IdempotencyRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[idemKey{clan, key}]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (s *memIdempotency) Put(ctx context.Context, rec *IdempotencyRecord) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.idempotency[idemKey{rec.ClanID, rec.Key}] = &cp
	return nil
}
