package memory

import (
	"context"
	"testing"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRingingCall(t *testing.T, repo ports.CallRepository) *domain.Call {
	t.Helper()
	call := &domain.Call{
		ID:          "c1",
		CallerID:    "alice",
		ReceiverID:  "bob",
		RoomName:    "call-c1",
		Status:      domain.CallStatusRinging,
		Media:       domain.MediaAudio,
		InitiatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), call))
	return call
}

func TestCreate_AssignsIDAndRoomName(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	call := &domain.Call{
		CallerID:    "alice",
		ReceiverID:  "bob",
		Status:      domain.CallStatusRinging,
		Media:       domain.MediaAudio,
		InitiatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), call))

	assert.NotEmpty(t, call.ID, "id is assigned on insert")
	assert.NotEmpty(t, call.RoomName)

	stored, err := repo.GetByID(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, call.RoomName, stored.RoomName)
}

func TestCreate_KeepsExplicitID(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	call := newRingingCall(t, repo)
	assert.Equal(t, domain.CallID("c1"), call.ID)

	// A second insert under the same id must not clobber the row.
	dup := &domain.Call{ID: "c1", CallerID: "carol", ReceiverID: "dave"}
	assert.ErrorIs(t, repo.Create(context.Background(), dup), domain.ErrPersistenceFailed)
}

func TestUpdateStatus_LegalTransition(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	call := newRingingCall(t, repo)

	now := time.Now()
	updated, err := repo.UpdateStatus(context.Background(), call.ID, domain.CallStatusActive, ports.StatusUpdate{StartedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, updated.Status)
	require.NotNil(t, updated.StartedAt)
}

func TestUpdateStatus_TerminalRowRejectsWrites(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	call := newRingingCall(t, repo)

	_, err := repo.UpdateStatus(context.Background(), call.ID, domain.CallStatusCancelled, ports.StatusUpdate{})
	require.NoError(t, err)

	_, err = repo.UpdateStatus(context.Background(), call.ID, domain.CallStatusActive, ports.StatusUpdate{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := repo.GetByID(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCancelled, stored.Status)
}

func TestUpdateStatus_SkippingRingingIsIllegal(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	call := newRingingCall(t, repo)

	_, err := repo.UpdateStatus(context.Background(), call.ID, domain.CallStatusEnded, ports.StatusUpdate{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSetAnswer_RequiresStoredOffer(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	call := newRingingCall(t, repo)

	_, err := repo.SetAnswer(context.Background(), call.ID, domain.SessionDescription{Type: "answer", SDP: "a"})
	assert.ErrorIs(t, err, domain.ErrMissingOffer)

	_, err = repo.SetOffer(context.Background(), call.ID, domain.SessionDescription{Type: "offer", SDP: "o"})
	require.NoError(t, err)

	updated, err := repo.SetAnswer(context.Background(), call.ID, domain.SessionDescription{Type: "answer", SDP: "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", updated.SDPAnswer)
	assert.Equal(t, "o", updated.SDPOffer)
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	call := newRingingCall(t, repo)

	got, err := repo.GetByID(context.Background(), call.ID)
	require.NoError(t, err)
	got.Status = domain.CallStatusEnded

	again, err := repo.GetByID(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, again.Status)
}

func TestListRecent_FiltersAndOrders(t *testing.T) {
	repo := NewMemoryCallRepository(nil)
	base := time.Now()

	for i, c := range []*domain.Call{
		{ID: "c1", CallerID: "alice", ReceiverID: "bob", Status: domain.CallStatusEnded},
		{ID: "c2", CallerID: "bob", ReceiverID: "alice", Status: domain.CallStatusMissed},
		{ID: "c3", CallerID: "carol", ReceiverID: "dave", Status: domain.CallStatusEnded},
	} {
		c.InitiatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(context.Background(), c))
	}

	recent, err := repo.ListRecent(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, domain.CallID("c2"), recent[0].ID)
	assert.Equal(t, domain.CallID("c1"), recent[1].ID)
}

type capturingPublisher struct {
	kinds []string
}

func (p *capturingPublisher) PublishRow(_ context.Context, kind string, _ *domain.Call) {
	p.kinds = append(p.kinds, kind)
}

func TestMutations_AnnounceRowEvents(t *testing.T) {
	pub := &capturingPublisher{}
	repo := NewMemoryCallRepository(pub)
	call := newRingingCall(t, repo)

	_, err := repo.SetOffer(context.Background(), call.ID, domain.SessionDescription{Type: "offer", SDP: "o"})
	require.NoError(t, err)

	assert.Equal(t, []string{"insert", "update"}, pub.kinds)
}
