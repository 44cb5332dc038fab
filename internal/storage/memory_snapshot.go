package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/clanwyse/halo/internal/models"
)

// memorySnapshot is the serialised form of a Memory repository. Map keys are
// flattened into records so the snapshot survives JSON round trips.
type memorySnapshot struct {
	Clans       []*models.Clan              `json:"clans"`
	Current     []*models.RoleAssignment    `json:"current_assignments"`
	History     []historyRecord             `json:"assignment_history"`
	Requests    []*models.RoleChangeRequest `json:"role_requests"`
	Overrides   []*models.PermissionOverride `json:"overrides"`
	Proposals   []*models.Proposal          `json:"proposals"`
	Votes       []*models.Vote              `json:"votes"`
	Delegations []*models.Delegation        `json:"delegations"`
	Receipts    map[string]string           `json:"consumed_receipts"`
	Audit       []*models.AuditLogEntry     `json:"audit"`
	Rates       []rateRecord                `json:"rate_events"`
	Idempotency []*IdempotencyRecord        `json:"idempotency"`
}

type historyRecord struct {
	ClanID     uuid.UUID              `json:"clan_id"`
	Assignment *models.RoleAssignment `json:"assignment"`
}

type rateRecord struct {
	ClanID  uuid.UUID   `json:"clan_id"`
	ActorID uuid.UUID   `json:"actor_id"`
	OpClass string      `json:"op_class"`
	Events  []time.Time `json:"events"`
}

// Snapshot serialises the full repository state. Together with Restore it
// lets callers verify that reloading a clan preserves proposal outcomes and
// analytics exactly.
func (m *Memory) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := memorySnapshot{Receipts: make(map[string]string, len(m.receipts))}
	for _, c := range m.clans {
		snap.Clans = append(snap.Clans, cloneClan(c))
	}
	for _, byUser := range m.current {
		for _, a := range byUser {
			snap.Current = append(snap.Current, cloneAssignment(a))
		}
	}
	for clan, list := range m.history {
		for _, a := range list {
			snap.History = append(snap.History, historyRecord{ClanID: clan, Assignment: cloneAssignment(a)})
		}
	}
	for _, r := range m.requests {
		snap.Requests = append(snap.Requests, cloneRequest(r))
	}
	for _, o := range m.overrides {
		snap.Overrides = append(snap.Overrides, cloneOverride(o))
	}
	for _, p := range m.proposals {
		snap.Proposals = append(snap.Proposals, cloneProposal(p))
	}
	for _, v := range m.votes {
		snap.Votes = append(snap.Votes, cloneVote(v))
	}
	for _, d := range m.delegations {
		snap.Delegations = append(snap.Delegations, cloneDelegation(d))
	}
	for id, proposal := range m.receipts {
		snap.Receipts[id] = proposal
	}
	for _, entries := range m.audit {
		for _, e := range entries {
			snap.Audit = append(snap.Audit, cloneAuditEntry(e))
		}
	}
	for k, events := range m.rates {
		snap.Rates = append(snap.Rates, rateRecord{ClanID: k.clan, ActorID: k.actor, OpClass: k.opClass, Events: append([]time.Time(nil), events...)})
	}
	for _, rec := range m.idempotency {
		cp := *rec
		snap.Idempotency = append(snap.Idempotency, &cp)
	}
	return json.Marshal(snap)
}

// SnapshotClan serialises one clan's slice of the repository. Consumed
// receipts belong to the clan of the proposal they were spent on.
func (m *Memory) SnapshotClan(ctx context.Context, clan uuid.UUID) ([]byte, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := memorySnapshot{Receipts: make(map[string]string)}
	if c, ok := m.clans[clan]; ok {
		snap.Clans = append(snap.Clans, cloneClan(c))
	}
	for _, a := range m.current[clan] {
		snap.Current = append(snap.Current, cloneAssignment(a))
	}
	for _, a := range m.history[clan] {
		snap.History = append(snap.History, historyRecord{ClanID: clan, Assignment: cloneAssignment(a)})
	}
	for _, r := range m.requests {
		if r.ClanID == clan {
			snap.Requests = append(snap.Requests, cloneRequest(r))
		}
	}
	for k, o := range m.overrides {
		if k.clan == clan {
			snap.Overrides = append(snap.Overrides, cloneOverride(o))
		}
	}
	for _, p := range m.proposals {
		if p.ClanID == clan {
			snap.Proposals = append(snap.Proposals, cloneProposal(p))
		}
	}
	for _, v := range m.votes {
		if v.ClanID == clan {
			snap.Votes = append(snap.Votes, cloneVote(v))
		}
	}
	for _, d := range m.delegations {
		if d.ClanID == clan {
			snap.Delegations = append(snap.Delegations, cloneDelegation(d))
		}
	}
	for id, proposalID := range m.receipts {
		if p, ok := m.proposals[proposalID]; ok && p.ClanID == clan {
			snap.Receipts[id] = proposalID
		}
	}
	for _, e := range m.audit[clan] {
		snap.Audit = append(snap.Audit, cloneAuditEntry(e))
	}
	for k, events := range m.rates {
		if k.clan == clan {
			snap.Rates = append(snap.Rates, rateRecord{ClanID: k.clan, ActorID: k.actor, OpClass: k.opClass, Events: append([]time.Time(nil), events...)})
		}
	}
	for k, rec := range m.idempotency {
		if k.clan == clan {
			cp := *rec
			snap.Idempotency = append(snap.Idempotency, &cp)
		}
	}
	return json.Marshal(snap)
}

// RestoreClan replaces one clan's slice of the repository with the given
// snapshot, leaving every other clan untouched.
func (m *Memory) RestoreClan(ctx context.Context, clan uuid.UUID, data []byte) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "storage: decoding clan snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// receipts first: their clan is found through proposals still present
	for id, proposalID := range m.receipts {
		if p, ok := m.proposals[proposalID]; ok && p.ClanID == clan {
			delete(m.receipts, id)
		}
	}
	delete(m.clans, clan)
	delete(m.current, clan)
	delete(m.history, clan)
	delete(m.audit, clan)
	for id, r := range m.requests {
		if r.ClanID == clan {
			delete(m.requests, id)
		}
	}
	for k := range m.overrides {
		if k.clan == clan {
			delete(m.overrides, k)
		}
	}
	for id, p := range m.proposals {
		if p.ClanID == clan {
			delete(m.proposals, id)
		}
	}
	for k, v := range m.votes {
		if v.ClanID == clan {
			delete(m.votes, k)
		}
	}
	for id, d := range m.delegations {
		if d.ClanID == clan {
			delete(m.delegations, id)
		}
	}
	for k := range m.rates {
		if k.clan == clan {
			delete(m.rates, k)
		}
	}
	for k := range m.idempotency {
		if k.clan == clan {
			delete(m.idempotency, k)
		}
	}

	for _, c := range snap.Clans {
		m.clans[c.ID] = c
	}
	for _, a := range snap.Current {
		byUser, ok := m.current[a.ClanID]
		if !ok {
			byUser = make(map[uuid.UUID]*models.RoleAssignment)
			m.current[a.ClanID] = byUser
		}
		byUser[a.UserID] = a
	}
	for _, h := range snap.History {
		m.history[h.ClanID] = append(m.history[h.ClanID], h.Assignment)
	}
	for _, r := range snap.Requests {
		m.requests[r.ID] = r
	}
	for _, o := range snap.Overrides {
		m.overrides[overrideKey{o.ClanID, o.Role, o.Permission}] = o
	}
	for _, p := range snap.Proposals {
		m.proposals[p.ID] = p
	}
	for _, v := range snap.Votes {
		m.votes[voteKey{v.ProposalID, v.Voter}] = v
	}
	for _, d := range snap.Delegations {
		m.delegations[d.ID] = d
	}
	for id, proposalID := range snap.Receipts {
		m.receipts[id] = proposalID
	}
	for _, e := range snap.Audit {
		m.audit[e.ClanID] = append(m.audit[e.ClanID], e)
	}
	for _, r := range snap.Rates {
		m.rates[rateKey{r.ClanID, r.ActorID, r.OpClass}] = r.Events
	}
	for _, rec := range snap.Idempotency {
		m.idempotency[idemKey{rec.ClanID, rec.Key}] = rec
	}
	return nil
}

// Restore replaces the repository contents with the given snapshot.
func (m *Memory) Restore(data []byte) error {
	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "storage: decoding snapshot")
	}

	fresh := NewMemory()
	for _, c := range snap.Clans {
		fresh.clans[c.ID] = c
	}
	for _, a := range snap.Current {
		byUser, ok := fresh.current[a.ClanID]
		if !ok {
			byUser = make(map[uuid.UUID]*models.RoleAssignment)
			fresh.current[a.ClanID] = byUser
		}
		byUser[a.UserID] = a
	}
	for _, h := range snap.History {
		fresh.history[h.ClanID] = append(fresh.history[h.ClanID], h.Assignment)
	}
	for _, r := range snap.Requests {
		fresh.requests[r.ID] = r
	}
	for _, o := range snap.Overrides {
		fresh.overrides[overrideKey{o.ClanID, o.Role, o.Permission}] = o
	}
	for _, p := range snap.Proposals {
		fresh.proposals[p.ID] = p
	}
	for _, v := range snap.Votes {
		fresh.votes[voteKey{v.ProposalID, v.Voter}] = v
	}
	for _, d := range snap.Delegations {
		fresh.delegations[d.ID] = d
	}
	for id, proposal := range snap.Receipts {
		fresh.receipts[id] = proposal
	}
	for _, e := range snap.Audit {
		fresh.audit[e.ClanID] = append(fresh.audit[e.ClanID], e)
	}
	for _, r := range snap.Rates {
		fresh.rates[rateKey{r.ClanID, r.ActorID, r.OpClass}] = r.Events
	}
	for _, rec := range snap.Idempotency {
		fresh.idempotency[idemKey{rec.ClanID, rec.Key}] = rec
	}

	// audit entries must stay in sequence order after the map round trip
	for clan := range fresh.audit {
		entries := fresh.audit[clan]
		for i := 1; i < len(entries); i++ {
			for j := i; j > 0 && entries[j].Sequence < entries[j-1].Sequence; j-- {
				entries[j], entries[j-1] = entries[j-1], entries[j]
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clans = fresh.clans
	m.current = fresh.current
	m.history = fresh.history
	m.requests = fresh.requests
	m.overrides = fresh.overrides
	m.proposals = fresh.proposals
	m.votes = fresh.votes
	m.delegations = fresh.delegations
	m.receipts = fresh.receipts
	m.audit = fresh.audit
	m.rates = fresh.rates
	m.idempotency = fresh.idempotency
	return nil
}
