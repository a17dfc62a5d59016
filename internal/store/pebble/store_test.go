package pebblestore

import (
	"context"
	"testing"
	"time"

	"qme/internal/models"
	"qme/internal/queue"
	"qme/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestQueuesAndTickets(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	a := models.Queue{QueueID: "q-a", BranchID: "b-1", Name: "A", ServiceDuration: time.Minute, CreatedAt: now}
	b := models.Queue{QueueID: "q-b", BranchID: "b-2", Name: "B", ServiceDuration: 2 * time.Minute, CreatedAt: now.Add(time.Second)}
	require.NoError(t, st.CreateQueue(ctx, a))
	require.NoError(t, st.CreateQueue(ctx, b))

	got, err := st.GetQueue(ctx, "q-b")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, got.ServiceDuration)

	_, err = st.GetQueue(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrQueueNotFound)

	all, err := st.ListQueues(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "q-a", all[0].QueueID)
	branch, err := st.ListQueues(ctx, "b-2")
	require.NoError(t, err)
	require.Len(t, branch, 1)

	tickets := []models.Ticket{
		{TicketID: "t-2", QueueID: "q-a", GuestID: "g-2", Status: models.StatusWaiting, CreatedAt: now},
		{TicketID: "t-1", QueueID: "q-a", GuestID: "g-1", Status: models.StatusWaiting, CreatedAt: now},
		{TicketID: "t-0", QueueID: "q-a", GuestID: "g-0", Status: models.StatusDone, CreatedAt: now.Add(-time.Hour)},
		{TicketID: "t-9", QueueID: "q-b", GuestID: "g-9", Status: models.StatusWaiting, CreatedAt: now},
	}
	for _, ticket := range tickets {
		require.NoError(t, st.SaveTicket(ctx, ticket))
	}
	active, err := st.ActiveTickets(ctx, "q-a")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "t-1", active[0].TicketID)
	assert.Equal(t, "t-2", active[1].TicketID)

	closedAt := now.Add(time.Hour)
	a.Closed = true
	a.ClosedAt = &closedAt
	for i := range active {
		active[i].Status = models.StatusDone
		active[i].DoneAt = &closedAt
	}
	require.NoError(t, st.CloseQueue(ctx, a, active))

	active, err = st.ActiveTickets(ctx, "q-a")
	require.NoError(t, err)
	assert.Empty(t, active)
	got, err = st.GetQueue(ctx, "q-a")
	require.NoError(t, err)
	assert.True(t, got.Closed)

	other, err := st.ActiveTickets(ctx, "q-b")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	assert.ErrorIs(t, st.CloseQueue(ctx, models.Queue{QueueID: "missing"}, nil), store.ErrQueueNotFound)
}

func TestGuestsChallengesSessions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	guest := models.Guest{GuestID: "g-1", Name: "Rana", Phone: "+96170123456", CreatedAt: now}
	require.NoError(t, st.CreateGuest(ctx, guest))
	assert.ErrorIs(t, st.CreateGuest(ctx, models.Guest{GuestID: "g-2", Phone: guest.Phone}), ErrPhoneTaken)

	byPhone, err := st.GetGuestByPhone(ctx, guest.Phone)
	require.NoError(t, err)
	assert.Equal(t, "g-1", byPhone.GuestID)
	_, err = st.GetGuestByPhone(ctx, "+1000000000")
	assert.ErrorIs(t, err, store.ErrGuestNotFound)

	challenge := models.Challenge{GuestID: "g-1", CodeHash: "h", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, st.SaveChallenge(ctx, challenge))
	got, err := st.GetChallenge(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, "h", got.CodeHash)
	require.NoError(t, st.DeleteChallenge(ctx, "g-1"))
	assert.ErrorIs(t, st.DeleteChallenge(ctx, "g-1"), store.ErrChallengeNotFound)

	session, err := st.CreateSession(ctx, "g-1", now.Add(time.Hour))
	require.NoError(t, err)
	loaded, err := st.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "g-1", loaded.GuestID)

	expired, err := st.CreateSession(ctx, "g-1", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = st.GetSession(ctx, expired.SessionID)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestEngineRecoversFromPebble(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	registry := queue.NewRegistry(st, st, queue.NewEngine(queue.Options{Store: st}))
	q, err := registry.Create(ctx, queue.CreateQueueInput{BranchID: "b-1", Name: "Tables", ServiceDuration: time.Minute})
	require.NoError(t, err)
	for _, guest := range []string{"a", "b", "c"} {
		_, err := registry.Engine().Enqueue(ctx, q.QueueID, guest)
		require.NoError(t, err)
	}
	_, err = registry.Engine().Serve(ctx, q.QueueID)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	reopened, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer reopened.Close()
	engine := queue.NewEngine(queue.Options{Store: reopened})
	_, err = queue.NewRegistry(reopened, reopened, engine).Restore(ctx)
	require.NoError(t, err)

	position, err := engine.PositionOf(q.QueueID, "a")
	require.NoError(t, err)
	assert.Equal(t, queue.PositionServing, position)
	position, err = engine.PositionOf(q.QueueID, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, position)
}
