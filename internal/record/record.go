// Package record defines the generic health record model shared by the store,
// the remote client, and the sync engine, together with the per-record sync
// state machine. The payload type is opaque to everything in this package —
// domains (weight, diet, exercise, sleep, steps) plug in via the type
// parameter and, where a one-record-per-period rule applies, a period-key
// function.
package record

import (
	"errors"
	"reflect"
	"time"
)

// ErrDuplicatePeriod is returned by a local insert when a non-superseded
// record already exists for the same (owner, period). It is a synchronous
// validation error and is never retried automatically.
var ErrDuplicatePeriod = errors.New("a record already exists for this period")

// ErrNotFound is returned by operations addressing a record that does not
// exist in the local store.
var ErrNotFound = errors.New("record not found")

// SyncStatus is the per-record position in the sync lifecycle. It is mutated
// only by the state machine transitions below and by the reconciler's push
// and pull steps.
type SyncStatus int

const (
	// StatusUnsynced marks a record created locally and never yet accepted
	// by the server. It has no remote ID.
	StatusUnsynced SyncStatus = 0

	// StatusSynced marks a record whose local payload matches the last
	// acknowledged server state.
	StatusSynced SyncStatus = 1

	// StatusNeedsUpdate marks a record edited locally after it was synced.
	// The local payload is authoritative until pushed.
	StatusNeedsUpdate SyncStatus = 2

	// StatusNeedsDelete marks a record deleted locally that still exists on
	// the server. Records without a remote ID are removed immediately
	// instead.
	StatusNeedsDelete SyncStatus = 3

	// StatusSyncFailed marks a record whose last push attempt failed. It is
	// retried on the next reconciliation pass.
	StatusSyncFailed SyncStatus = 4
)

// String returns the human-readable label for the status.
func (s SyncStatus) String() string {
	switch s {
	case StatusUnsynced:
		return "unsynced"
	case StatusSynced:
		return "synced"
	case StatusNeedsUpdate:
		return "needs-update"
	case StatusNeedsDelete:
		return "needs-delete"
	case StatusSyncFailed:
		return "sync-failed"
	default:
		return "unknown"
	}
}

// Pending reports whether the record still has a local change the server has
// not acknowledged. SyncFailed counts as pending: the failed mutation is
// still owed to the server.
func (s SyncStatus) Pending() bool {
	return s != StatusSynced
}

// Record is one locally stored health record. LocalID is assigned by the
// store on insert and never reused; RemoteID is nil until the server accepts
// the record.
type Record[P any] struct {
	LocalID  int64
	RemoteID *int64
	OwnerID  int64

	// Payload carries the domain fields. The sync engine never inspects it
	// beyond deriving a period key and serialising it for the wire.
	Payload P

	Status SyncStatus

	// SyncError holds the message of the last failed push, empty otherwise.
	// Only meaningful while Status is StatusSyncFailed.
	SyncError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRemote reports whether the server has ever accepted this record.
func (r *Record[P]) HasRemote() bool {
	return r.RemoteID != nil
}

// --- state machine transitions ----------------------------------------------

// New returns a freshly created local record in StatusUnsynced.
func New[P any](ownerID int64, payload P, now time.Time) *Record[P] {
	return &Record[P]{
		OwnerID:   ownerID,
		Payload:   payload,
		Status:    StatusUnsynced,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkEdited applies a local edit. A record that has never reached the server
// stays Unsynced (there is nothing remote to update, only to create);
// everything else becomes NeedsUpdate, including records previously marked
// for deletion — the edit resurrects them.
func (r *Record[P]) MarkEdited(payload P, now time.Time) {
	r.Payload = payload
	r.UpdatedAt = now
	r.SyncError = ""
	if r.Status == StatusUnsynced {
		return
	}
	r.Status = StatusNeedsUpdate
}

// MarkDeleted applies a local delete and reports whether the record must be
// kept as a tombstone. True means the server still knows the record and a
// remote delete is owed; false means the record never left this device and
// the caller should remove it from the store immediately.
func (r *Record[P]) MarkDeleted(now time.Time) bool {
	if !r.HasRemote() {
		return false
	}
	r.Status = StatusNeedsDelete
	r.UpdatedAt = now
	r.SyncError = ""
	return true
}

// MarkSynced records a successful push (create or update). remoteID confirms
// or assigns the server identity.
func (r *Record[P]) MarkSynced(remoteID int64, now time.Time) {
	r.RemoteID = &remoteID
	r.Status = StatusSynced
	r.SyncError = ""
	r.UpdatedAt = now
}

// MarkFailed records a failed push. The record keeps its payload and remote
// ID and is retried on the next reconciliation pass.
func (r *Record[P]) MarkFailed(err error, now time.Time) {
	r.Status = StatusSyncFailed
	if err != nil {
		r.SyncError = err.Error()
	}
	r.UpdatedAt = now
}

// ApplyRemote overwrites the local payload with freshly pulled server state
// and reports whether local state changed. Records with a pending local
// change (NeedsUpdate, NeedsDelete, or a failed push still owed to the
// server) are left untouched — the local change is authoritative until it
// has been pushed. A Synced record whose payload already matches the server
// is also left untouched, so repeated pulls of an unchanged record set are
// no-ops.
func (r *Record[P]) ApplyRemote(payload P, now time.Time) bool {
	switch r.Status {
	case StatusNeedsUpdate, StatusNeedsDelete, StatusSyncFailed:
		return false
	}
	if r.Status == StatusSynced && reflect.DeepEqual(r.Payload, payload) {
		return false
	}
	r.Payload = payload
	r.Status = StatusSynced
	r.SyncError = ""
	r.UpdatedAt = now
	return true
}

// FromRemote builds the local counterpart of a record first seen on the
// server. It starts out Synced.
func FromRemote[P any](ownerID, remoteID int64, payload P, now time.Time) *Record[P] {
	return &Record[P]{
		RemoteID:  &remoteID,
		OwnerID:   ownerID,
		Payload:   payload,
		Status:    StatusSynced,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PeriodFunc derives the uniqueness period key (e.g. a calendar day) from a
// payload. Entities without a one-per-period rule use a nil PeriodFunc.
type PeriodFunc[P any] func(P) string
