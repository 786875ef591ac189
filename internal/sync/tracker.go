package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pmahlen/vitalsync/internal/record"
)

// Tracker is the caller-facing mutation surface for one entity. Every
// operation completes against the local store alone — connectivity never
// blocks a mutation — and leaves the record in the state the reconciler
// needs to finish the job: Unsynced after Add, NeedsUpdate after Edit,
// NeedsDelete (or gone) after Remove.
type Tracker[P any] struct {
	entity string
	store  RecordStore[P]
	log    *slog.Logger
}

// NewTracker creates a Tracker over the entity's local store.
func NewTracker[P any](entity string, store RecordStore[P], logger *slog.Logger) *Tracker[P] {
	return &Tracker[P]{entity: entity, store: store, log: logger}
}

// Add creates a new local record in Unsynced. For entities with a
// one-per-period rule the store rejects the insert with
// [record.ErrDuplicatePeriod] when a non-superseded record already occupies
// the (owner, period) — checked locally, before any network activity, so
// duplicates created entirely offline are caught too.
func (t *Tracker[P]) Add(ctx context.Context, ownerID int64, payload P) (*record.Record[P], error) {
	rec := record.New(ownerID, payload, time.Now().UTC())
	if err := t.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("adding %s record: %w", t.entity, err)
	}
	t.log.Debug("record added", "entity", t.entity, "owner", ownerID, "local_id", rec.LocalID)
	return rec, nil
}

// Edit replaces the record's payload. A record the server has never seen
// stays Unsynced; everything else becomes NeedsUpdate.
func (t *Tracker[P]) Edit(ctx context.Context, localID int64, payload P) (*record.Record[P], error) {
	rec, err := t.store.GetByID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("loading %s record %d: %w", t.entity, localID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%s record %d: %w", t.entity, localID, record.ErrNotFound)
	}

	rec.MarkEdited(payload, time.Now().UTC())
	if err := t.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("editing %s record %d: %w", t.entity, localID, err)
	}
	return rec, nil
}

// Remove deletes the record. A record with a remote ID becomes a NeedsDelete
// tombstone for the reconciler to acknowledge against the server; a record
// that never left this device is removed immediately with zero network
// calls.
func (t *Tracker[P]) Remove(ctx context.Context, localID int64) error {
	rec, err := t.store.GetByID(ctx, localID)
	if err != nil {
		return fmt.Errorf("loading %s record %d: %w", t.entity, localID, err)
	}
	if rec == nil {
		return fmt.Errorf("%s record %d: %w", t.entity, localID, record.ErrNotFound)
	}

	if !rec.MarkDeleted(time.Now().UTC()) {
		if err := t.store.Delete(ctx, rec); err != nil {
			return fmt.Errorf("removing %s record %d: %w", t.entity, localID, err)
		}
		t.log.Debug("local-only record removed", "entity", t.entity, "local_id", localID)
		return nil
	}

	if err := t.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("marking %s record %d for deletion: %w", t.entity, localID, err)
	}
	return nil
}

// Get returns one record from the local store, or (nil, nil) when absent.
// Never touches the network.
func (t *Tracker[P]) Get(ctx context.Context, localID int64) (*record.Record[P], error) {
	return t.store.GetByID(ctx, localID)
}

// List returns the owner's current local record set, tombstones excluded.
// Never touches the network — callers wanting fresher data trigger a
// reconciliation through the [Engine] and subscribe to its notifications.
func (t *Tracker[P]) List(ctx context.Context, ownerID int64) ([]*record.Record[P], error) {
	all, err := t.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", t.entity, err)
	}
	visible := all[:0]
	for _, rec := range all {
		if rec.Status != record.StatusNeedsDelete {
			visible = append(visible, rec)
		}
	}
	return visible, nil
}
