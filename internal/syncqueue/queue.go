// Package syncqueue is the durable backlog of outbound mutations awaiting
// delivery to the backend. The terminal only produces and orders items; an
// external synchronizer consumes them and reports the outcome back through
// MarkCompleted / MarkFailed.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"salepoint/terminal/internal/domain"
	"salepoint/terminal/internal/events"
	"salepoint/terminal/internal/localstore"
)

// Priority bands; lower is delivered first.
const (
	PriorityTransaction = 1
	PriorityShift       = 2
	PriorityDrawer      = 2
	PriorityDefault     = 5
)

const DefaultMaxRetries = 5

type Queue struct {
	store      localstore.Store
	bus        *events.Bus
	maxRetries int
}

func New(store localstore.Store, bus *events.Bus, maxRetries int) *Queue {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{store: store, bus: bus, maxRetries: maxRetries}
}

// Enqueue appends a pending item carrying a full entity snapshot. It fails
// only if the payload cannot be marshalled or the store write fails.
func (q *Queue) Enqueue(ctx context.Context, entityType, entityID, operation string, payload any, priority int) (*domain.SyncQueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sync payload for %s/%s: %w", entityType, entityID, err)
	}
	item := domain.SyncQueueItem{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		Payload:    raw,
		Priority:   priority,
		CreatedAt:  time.Now().UTC(),
		Status:     domain.QueueStatusPending,
		RetryCount: 0,
		MaxRetries: q.maxRetries,
	}
	if _, err := q.store.Add(ctx, localstore.CollSyncQueue, item); err != nil {
		return nil, err
	}
	q.bus.Publish(events.SyncItemQueued, item.ID)
	return &item, nil
}

// ListPending returns pending items ordered by priority ascending, then
// enqueue time ascending. This ordering is the contract the external
// synchronizer relies on.
func (q *Queue) ListPending(ctx context.Context) ([]domain.SyncQueueItem, error) {
	items, err := localstore.GetAllByIndex[domain.SyncQueueItem](
		ctx, q.store, localstore.CollSyncQueue, "status", domain.QueueStatusPending)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (q *Queue) MarkCompleted(ctx context.Context, itemID string) error {
	item, err := q.get(ctx, itemID)
	if err != nil {
		return err
	}
	item.Status = domain.QueueStatusCompleted
	if err := q.store.Update(ctx, localstore.CollSyncQueue, item); err != nil {
		return err
	}
	q.bus.Publish(events.SyncItemCompleted, item.ID)
	return nil
}

// MarkFailed increments the retry count. The item stays pending until the
// count exceeds its cap, at which point it becomes terminally failed and is
// only visible through ListTerminallyFailed — never retried silently.
func (q *Queue) MarkFailed(ctx context.Context, itemID string) (*domain.SyncQueueItem, error) {
	item, err := q.get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item.RetryCount++
	if item.RetryCount > item.MaxRetries {
		item.Status = domain.QueueStatusFailed
	}
	if err := q.store.Update(ctx, localstore.CollSyncQueue, item); err != nil {
		return nil, err
	}
	if item.Status == domain.QueueStatusFailed {
		q.bus.Publish(events.SyncItemFailed, item.ID)
	}
	return item, nil
}

// ListTerminallyFailed surfaces items that ran out of retries.
func (q *Queue) ListTerminallyFailed(ctx context.Context) ([]domain.SyncQueueItem, error) {
	return localstore.GetAllByIndex[domain.SyncQueueItem](
		ctx, q.store, localstore.CollSyncQueue, "status", domain.QueueStatusFailed)
}

// PurgeCompleted deletes delivered items and reports how many were removed.
// Pending and failed items are untouched.
func (q *Queue) PurgeCompleted(ctx context.Context) (int, error) {
	items, err := localstore.GetAllByIndex[domain.SyncQueueItem](
		ctx, q.store, localstore.CollSyncQueue, "status", domain.QueueStatusCompleted)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, item := range items {
		if err := q.store.Delete(ctx, localstore.CollSyncQueue, item.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (q *Queue) get(ctx context.Context, itemID string) (*domain.SyncQueueItem, error) {
	return localstore.Get[domain.SyncQueueItem](ctx, q.store, localstore.CollSyncQueue, itemID)
}
