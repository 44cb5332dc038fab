package audit

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwyse/halo/internal/events"
	"github.com/clanwyse/halo/internal/models"
	"github.com/clanwyse/halo/internal/storage"
)

func entry(clan, actor uuid.UUID, action models.AuditAction) *models.AuditLogEntry {
	return models.NewAuditLogEntry(clan, actor, action, "target-1", models.JSONMap{"k": "v"},
		time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
}

func TestRecordAssignsSequenceAndPublishes(t *testing.T) {
	repo := storage.NewMemory()
	bus := events.NewBus()
	id, ch := bus.Subscribe(4)
	defer bus.Unsubscribe(id)

	recorder := NewRecorder(repo, bus)
	clan := uuid.Must(uuid.NewV4())
	actor := uuid.Must(uuid.NewV4())

	require.NoError(t, recorder.Record(context.Background(), entry(clan, actor, models.VoteCastAction)))
	require.NoError(t, recorder.Record(context.Background(), entry(clan, actor, models.ProposalFinalizedAction)))

	first := <-ch
	assert.Equal(t, events.TypeVoteCast, first.Type)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, clan, first.ClanID)
	assert.Equal(t, actor, first.ActorID)
	assert.Equal(t, "target-1", first.TargetID)
	assert.Equal(t, "v", first.Payload["k"])

	second := <-ch
	assert.Equal(t, events.TypeProposalFinalized, second.Type)
	assert.Equal(t, uint64(2), second.Sequence)
}

func TestRecordMapsExpiryToFinalizedEvent(t *testing.T) {
	repo := storage.NewMemory()
	bus := events.NewBus()
	id, ch := bus.Subscribe(4)
	defer bus.Unsubscribe(id)

	recorder := NewRecorder(repo, bus)
	clan := uuid.Must(uuid.NewV4())
	actor := uuid.Must(uuid.NewV4())

	require.NoError(t, recorder.Record(context.Background(), entry(clan, actor, models.ProposalExpiredAction)))
	assert.Equal(t, events.TypeProposalFinalized, (<-ch).Type)
}

func TestRecordWithNilSink(t *testing.T) {
	repo := storage.NewMemory()
	recorder := NewRecorder(repo, nil)
	clan := uuid.Must(uuid.NewV4())

	require.NoError(t, recorder.Record(context.Background(), entry(clan, uuid.Must(uuid.NewV4()), models.VoteCastAction)))

	entries, err := repo.Audit().List(context.Background(), clan, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, events.Event) error {
	return errors.New("sink down")
}

func TestSinkFailureDoesNotUnwindAppend(t *testing.T) {
	repo := storage.NewMemory()
	recorder := NewRecorder(repo, failingSink{})
	clan := uuid.Must(uuid.NewV4())

	require.NoError(t, recorder.Record(context.Background(), entry(clan, uuid.Must(uuid.NewV4()), models.VoteCastAction)))

	seq, err := repo.Audit().LastSequence(context.Background(), clan)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestRecordFailsWhenContextCancelled(t *testing.T) {
	repo := storage.NewMemory()
	recorder := NewRecorder(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := recorder.Record(ctx, entry(uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), models.VoteCastAction))
	assert.Error(t, err)
}
