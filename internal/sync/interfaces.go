// Package sync implements the offline-first reconciliation engine for
// vitalsync. Local mutations always succeed against the store and are pushed
// to the record service asynchronously; pulls refresh local state without
// ever overwriting a pending local change; entities with a one-per-period
// rule are deduplicated after every pull.
//
// The package contains three main components:
//
//   - [Tracker] is the caller-facing mutation surface, applying the
//     per-record state machine on every local create, edit, and delete.
//   - [Reconciler] runs one push–pull–dedup pass for one owner.
//   - [Engine] schedules reconciliations on a bounded worker pool with
//     per-(entity, owner) single-flight, and publishes change notifications.
package sync

import (
	"context"

	"github.com/pmahlen/vitalsync/internal/record"
	"github.com/pmahlen/vitalsync/internal/remote"
)

// RecordStore provides access to the local record table for one entity.
// Implemented by [store.Store].
type RecordStore[P any] interface {
	Insert(ctx context.Context, rec *record.Record[P]) error
	InsertFromRemote(ctx context.Context, rec *record.Record[P]) error
	Update(ctx context.Context, rec *record.Record[P]) error
	Delete(ctx context.Context, rec *record.Record[P]) error
	DeleteByID(ctx context.Context, localID int64) error
	GetByID(ctx context.Context, localID int64) (*record.Record[P], error)
	GetByRemoteID(ctx context.Context, remoteID int64) (*record.Record[P], error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*record.Record[P], error)
	ListByStatus(ctx context.Context, ownerID int64, status record.SyncStatus) ([]*record.Record[P], error)
	ListByOwnerAndPeriod(ctx context.Context, ownerID int64, periodKey string) ([]*record.Record[P], error)
}

// RemoteService provides access to the server-side record set for one
// entity. Implemented by [remote.Client]. The service carries its own
// credential; callers never see it.
type RemoteService[P any] interface {
	Create(ctx context.Context, ownerID int64, payload P) (*remote.Record[P], error)
	Update(ctx context.Context, remoteID int64, payload P) (*remote.Record[P], error)
	Delete(ctx context.Context, remoteID int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]remote.Record[P], error)
}

// Syncer is the entity-erased view of a [Reconciler], letting the [Engine]
// schedule reconciliations across payload types.
type Syncer interface {
	Name() string
	Reconcile(ctx context.Context, ownerID int64) (Stats, error)
}
