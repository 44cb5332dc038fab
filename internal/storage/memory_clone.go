package storage

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/clanwyse/halo/internal/models"
)

// Entities are cloned on the way in and out of the store so callers never
// share mutable state with it.

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneJSONMap(m models.JSONMap) models.JSONMap {
	if m == nil {
		return nil
	}
	out := make(models.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUUIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return nil
	}
	return append([]uuid.UUID(nil), ids...)
}

func cloneClan(c *models.Clan) *models.Clan {
	cp := *c
	cp.InsertedAt = cloneTime(c.InsertedAt)
	cp.UpdatedAt = cloneTime(c.UpdatedAt)
	return &cp
}

func cloneAssignment(a *models.RoleAssignment) *models.RoleAssignment {
	cp := *a
	if a.PreviousRole != nil {
		prev := *a.PreviousRole
		cp.PreviousRole = &prev
	}
	cp.Metadata = cloneJSONMap(a.Metadata)
	cp.InsertedAt = cloneTime(a.InsertedAt)
	cp.UpdatedAt = cloneTime(a.UpdatedAt)
	return &cp
}

func cloneRequest(r *models.RoleChangeRequest) *models.RoleChangeRequest {
	cp := *r
	cp.Approvals = append([]models.RoleApproval(nil), r.Approvals...)
	cp.InsertedAt = cloneTime(r.InsertedAt)
	cp.UpdatedAt = cloneTime(r.UpdatedAt)
	return &cp
}

func cloneOverride(o *models.PermissionOverride) *models.PermissionOverride {
	cp := *o
	cp.InsertedAt = cloneTime(o.InsertedAt)
	cp.UpdatedAt = cloneTime(o.UpdatedAt)
	return &cp
}

func cloneProposal(p *models.Proposal) *models.Proposal {
	cp := *p
	cp.Options = append([]string(nil), p.Options...)
	cp.Voters = cloneUUIDs(p.Voters)
	if p.Totals != nil {
		cp.Totals = make(models.ProposalTotals, len(p.Totals))
		for k, v := range p.Totals {
			cp.Totals[k] = v
		}
	}
	cp.FinalizedAt = cloneTime(p.FinalizedAt)
	cp.Result = cloneJSONMap(p.Result)
	cp.Metadata = cloneJSONMap(p.Metadata)
	cp.InsertedAt = cloneTime(p.InsertedAt)
	cp.UpdatedAt = cloneTime(p.UpdatedAt)
	return &cp
}

func cloneVote(v *models.Vote) *models.Vote {
	cp := *v
	if v.BurnReceiptID != nil {
		id := *v.BurnReceiptID
		cp.BurnReceiptID = &id
	}
	cp.Delegators = cloneUUIDs(v.Delegators)
	if v.DelegatorPowers != nil {
		cp.DelegatorPowers = make(map[string]decimal.Decimal, len(v.DelegatorPowers))
		for k, p := range v.DelegatorPowers {
			cp.DelegatorPowers[k] = p
		}
	}
	cp.InsertedAt = cloneTime(v.InsertedAt)
	return &cp
}

func cloneDelegation(d *models.Delegation) *models.Delegation {
	cp := *d
	cp.Scope.Pools = append([]models.PoolType(nil), d.Scope.Pools...)
	cp.NoticeGivenAt = cloneTime(d.NoticeGivenAt)
	cp.EffectiveAt = cloneTime(d.EffectiveAt)
	cp.InsertedAt = cloneTime(d.InsertedAt)
	cp.UpdatedAt = cloneTime(d.UpdatedAt)
	return &cp
}

func cloneAuditEntry(e *models.AuditLogEntry) *models.AuditLogEntry {
	cp := *e
	cp.Payload = cloneJSONMap(e.Payload)
	return &cp
}
