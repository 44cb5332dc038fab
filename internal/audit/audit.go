// Package audit appends accepted mutations to the clan's append-only log
// and mirrors each entry to the event sink. Rejected commands never reach
// this package.
package audit

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/clanwyse/halo/internal/events"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

var actionEventMap = map[models.AuditAction]events.Type{
	models.ClanInitializedAction:      events.TypeClanInitialized,
	models.RoleAssignedAction:         events.TypeRoleAssigned,
	models.RoleRequestCreatedAction:   events.TypeRoleRequestCreated,
	models.RoleRequestDecidedAction:   events.TypeRoleRequestDecided,
	models.OwnershipTransferredAction: events.TypeOwnershipTransferred,
	models.MemberDemotedAction:        events.TypeRoleAssigned,
	models.MemberRemovedAction:        events.TypeMemberRemoved,
	models.OverrideSetAction:          events.TypePermissionOverrideSet,
	models.EmergencyOverrideAction:    events.TypeEmergencyOverride,
	models.ProposalCreatedAction:      events.TypeProposalCreated,
	models.VoteCastAction:             events.TypeVoteCast,
	models.ProposalFinalizedAction:    events.TypeProposalFinalized,
	models.ProposalCancelledAction:    events.TypeProposalCancelled,
	// expiry is distinguished in audit but surfaces as the proposal's one
	// terminal finalization event
	models.ProposalExpiredAction:   events.TypeProposalFinalized,
	models.DelegationCreatedAction: events.TypeDelegationCreated,
	models.DelegationNoticeAction:  events.TypeDelegationNoticeGiven,
	models.DelegationRevokedAction: events.TypeDelegationRevoked,
}

// Recorder appends audit entries and publishes the matching events.
type Recorder struct {
	repo   storage.Repository
	sink   events.Sink
	logger *logrus.Entry
}

func NewRecorder(repo storage.Repository, sink events.Sink) *Recorder {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Recorder{
		repo:   repo,
		sink:   sink,
		logger: logrus.WithField("component", "audit"),
	}
}

// Record appends the entry, assigning its clan-scoped sequence, then
// publishes the mirrored event. The append is the commit point of the
// mutation; a sink failure is logged but does not unwind it.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := r.repo.Audit().Append(ctx, entry); err != nil {
		return errors.Wrap(err, "audit: appending entry")
	}

	eventType, ok := actionEventMap[entry.Action]
	if !ok {
		r.logger.WithField("action", entry.Action).Warn("no event mapping for audit action")
		return nil
	}

	event := events.Event{
		Type:       eventType,
		ClanID:     entry.ClanID,
		Sequence:   entry.Sequence,
		ActorID:    entry.ActorID,
		TargetID:   entry.TargetID,
		OccurredAt: entry.CreatedAt,
		Payload:    entry.Payload,
	}
	if err := r.sink.Publish(ctx, event); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"clan_id":  entry.ClanID,
			"sequence": entry.Sequence,
		}).Error("publishing event")
	}
	return nil
}
