package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"salepoint/terminal/internal/domain"
	"salepoint/terminal/internal/events"
	"salepoint/terminal/internal/localstore"
	"salepoint/terminal/internal/localstore/memory"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	store := memory.New(localstore.DefaultSchema())
	require.NoError(t, store.Initialize(context.Background()))
	return New(store, events.NewBus(), 2)
}

func TestEnqueueAndListPendingOrdering(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	low, err := q.Enqueue(ctx, "shift", "shift-1", domain.QueueOpUpdate, map[string]string{"id": "shift-1"}, PriorityShift)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	high, err := q.Enqueue(ctx, "transaction", "tx-1", domain.QueueOpCreate, map[string]string{"id": "tx-1"}, PriorityTransaction)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	high2, err := q.Enqueue(ctx, "transaction", "tx-2", domain.QueueOpCreate, map[string]string{"id": "tx-2"}, PriorityTransaction)
	require.NoError(t, err)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// Priority wins; within a band, enqueue order holds.
	require.Equal(t, high.ID, pending[0].ID)
	require.Equal(t, high2.ID, pending[1].ID)
	require.Equal(t, low.ID, pending[2].ID)
}

func TestMarkCompletedRemovesFromPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "transaction", "tx-1", domain.QueueOpCreate, map[string]string{}, PriorityTransaction)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(ctx, item.ID))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestMarkFailedRetriesThenTerminal(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "transaction", "tx-1", domain.QueueOpCreate, map[string]string{}, PriorityTransaction)
	require.NoError(t, err)

	// Two failures are within the cap; the item stays pending.
	for i := 1; i <= 2; i++ {
		updated, err := q.MarkFailed(ctx, item.ID)
		require.NoError(t, err)
		require.Equal(t, i, updated.RetryCount)
		require.Equal(t, domain.QueueStatusPending, updated.Status)
	}

	updated, err := q.MarkFailed(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusFailed, updated.Status)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	failed, err := q.ListTerminallyFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, item.ID, failed[0].ID)
}

func TestMarkFailedUnknownItem(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.MarkFailed(context.Background(), "no-such-item")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestPurgeCompleted(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	done, err := q.Enqueue(ctx, "transaction", "tx-1", domain.QueueOpCreate, map[string]string{}, PriorityTransaction)
	require.NoError(t, err)
	kept, err := q.Enqueue(ctx, "transaction", "tx-2", domain.QueueOpCreate, map[string]string{}, PriorityTransaction)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(ctx, done.ID))

	purged, err := q.PurgeCompleted(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, kept.ID, pending[0].ID)
}

func TestQueuePublishesEvents(t *testing.T) {
	store := memory.New(localstore.DefaultSchema())
	require.NoError(t, store.Initialize(context.Background()))
	bus := events.NewBus()

	var seen []events.Type
	bus.Subscribe(func(ev events.Event) { seen = append(seen, ev.Type) })

	q := New(store, bus, 0)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "transaction", "tx-1", domain.QueueOpCreate, map[string]string{}, PriorityTransaction)
	require.NoError(t, err)
	_, err = q.MarkFailed(ctx, item.ID)
	require.NoError(t, err)

	require.Equal(t, []events.Type{events.SyncItemQueued, events.SyncItemFailed}, seen)
}
