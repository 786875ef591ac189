package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pmahlen/vitalsync/internal/record"
)

// Stats tracks the mutations performed in a single reconcile pass.
type Stats struct {
	Created  int // local records pushed as remote creates
	Updated  int // local records pushed as remote updates
	Deleted  int // remote deletes acknowledged and local tombstones removed
	Pulled   int // remote records inserted or refreshed locally
	Deduped  int // losing duplicates removed locally
	Failures int // records whose push failed this pass
}

// add accumulates other into s.
func (s *Stats) add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Deleted += other.Deleted
	s.Pulled += other.Pulled
	s.Deduped += other.Deduped
	s.Failures += other.Failures
}

// Changed reports whether the pass mutated the local record set.
func (s Stats) Changed() bool {
	return s.Created+s.Updated+s.Deleted+s.Pulled+s.Deduped > 0
}

// WinnerFunc picks the surviving record from a group of period duplicates.
// The default prefers a record the server knows (non-nil remote ID), then
// the larger remote ID, then the larger local ID. The source systems this
// engine replaces disagreed among themselves on the tie-break, so it is a
// policy parameter rather than hard-wired logic.
type WinnerFunc[P any] func(group []*record.Record[P]) *record.Record[P]

// DefaultWinner implements the standard tie-break.
func DefaultWinner[P any](group []*record.Record[P]) *record.Record[P] {
	var winner *record.Record[P]
	for _, rec := range group {
		if winner == nil || beats(rec, winner) {
			winner = rec
		}
	}
	return winner
}

// beats reports whether a should survive over b.
func beats[P any](a, b *record.Record[P]) bool {
	switch {
	case a.HasRemote() && !b.HasRemote():
		return true
	case !a.HasRemote() && b.HasRemote():
		return false
	case a.HasRemote() && b.HasRemote():
		// Larger remote ID: created more recently on the server.
		return *a.RemoteID > *b.RemoteID
	default:
		return a.LocalID > b.LocalID
	}
}

// Reconciler runs one complete push–pull–dedup pass for one entity and one
// owner. It is stateless between calls — every record's position in the sync
// lifecycle persists in the store's sync_status column, so failed work is
// picked up again on the next pass even across process restarts.
type Reconciler[P any] struct {
	entity string
	store  RecordStore[P]
	remote RemoteService[P]
	period record.PeriodFunc[P]
	winner WinnerFunc[P]
	log    *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption[P any] func(*Reconciler[P])

// WithWinner overrides the duplicate tie-break policy.
func WithWinner[P any](w WinnerFunc[P]) ReconcilerOption[P] {
	return func(r *Reconciler[P]) { r.winner = w }
}

// NewReconciler creates a Reconciler wired to the given store and remote
// service. period may be nil for entities without a one-per-period rule; the
// dedup step is skipped for those.
func NewReconciler[P any](entity string, store RecordStore[P], remote RemoteService[P], period record.PeriodFunc[P], logger *slog.Logger, opts ...ReconcilerOption[P]) *Reconciler[P] {
	r := &Reconciler[P]{
		entity: entity,
		store:  store,
		remote: remote,
		period: period,
		winner: DefaultWinner[P],
		log:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the entity this reconciler serves.
func (r *Reconciler[P]) Name() string { return r.entity }

// Reconcile performs one full pass for the owner: push pending creates,
// updates, and deletes, then pull the server's record set, then deduplicate.
// Pushes run before the pull so a record just created locally is not
// clobbered by a stale listing, and dedup runs last so it sees the fully
// merged set.
//
// It returns aggregate statistics and the first error encountered. A single
// record's failure never aborts the pass — it is absorbed into that record's
// sync_status and retried next time.
func (r *Reconciler[P]) Reconcile(ctx context.Context, ownerID int64) (Stats, error) {
	var stats Stats
	var firstErr error

	collect := func(s Stats, err error) {
		stats.add(s)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	collect(r.pushCreates(ctx, ownerID))
	collect(r.pushUpdates(ctx, ownerID))
	collect(r.pushDeletes(ctx, ownerID))
	collect(r.pull(ctx, ownerID))
	collect(r.dedup(ctx, ownerID))

	r.log.Info("reconcile complete",
		"entity", r.entity,
		"owner", ownerID,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"pulled", stats.Pulled,
		"deduped", stats.Deduped,
		"failures", stats.Failures,
	)

	return stats, firstErr
}

// pushCreates sends every record the server has never seen: Unsynced
// records, plus SyncFailed records without a remote ID (a failed create from
// an earlier pass).
func (r *Reconciler[P]) pushCreates(ctx context.Context, ownerID int64) (Stats, error) {
	var stats Stats
	var firstErr error

	pending, err := r.listPushable(ctx, ownerID, record.StatusUnsynced)
	if err != nil {
		return stats, err
	}

	for _, rec := range pending {
		if rec.HasRemote() {
			// A SyncFailed record with a remote ID is a failed update, not
			// a failed create. pushUpdates owns it.
			continue
		}
		if err := r.pushCreate(ctx, rec); err != nil {
			stats.Failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stats.Created++
	}
	return stats, firstErr
}

// pushUpdates sends every locally edited record: NeedsUpdate records, plus
// SyncFailed records with a remote ID. An edited record that still lacks a
// remote ID (the edit raced ahead of the original create's confirmation)
// falls back to a remote create.
func (r *Reconciler[P]) pushUpdates(ctx context.Context, ownerID int64) (Stats, error) {
	var stats Stats
	var firstErr error

	pending, err := r.listPushable(ctx, ownerID, record.StatusNeedsUpdate)
	if err != nil {
		return stats, err
	}

	for _, rec := range pending {
		if rec.Status == record.StatusSyncFailed && !rec.HasRemote() {
			continue // handled by pushCreates
		}
		if !rec.HasRemote() {
			if err := r.pushCreate(ctx, rec); err != nil {
				stats.Failures++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			stats.Created++
			continue
		}

		remoteRec, err := r.remote.Update(ctx, *rec.RemoteID, rec.Payload)
		if err != nil {
			r.markFailed(ctx, rec, err)
			stats.Failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rec.MarkSynced(remoteRec.ID, time.Now().UTC())
		if err := r.store.Update(ctx, rec); err != nil {
			// Store failure: leave the record in its prior persisted status.
			r.log.Error("persisting pushed record failed", "entity", r.entity, "local_id", rec.LocalID, "error", err)
			stats.Failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stats.Updated++
	}
	return stats, firstErr
}

// pushDeletes acknowledges local tombstones against the server. A failed
// remote delete leaves the record in NeedsDelete for retry; a tombstone
// without a remote ID is removed locally with no network call.
func (r *Reconciler[P]) pushDeletes(ctx context.Context, ownerID int64) (Stats, error) {
	var stats Stats
	var firstErr error

	pending, err := r.store.ListByStatus(ctx, ownerID, record.StatusNeedsDelete)
	if err != nil {
		return stats, fmt.Errorf("listing pending deletes: %w", err)
	}

	for _, rec := range pending {
		if rec.HasRemote() {
			if err := r.remote.Delete(ctx, *rec.RemoteID); err != nil {
				r.log.Error("remote delete failed",
					"entity", r.entity,
					"local_id", rec.LocalID,
					"remote_id", *rec.RemoteID,
					"error", err,
				)
				rec.SyncError = err.Error()
				if updErr := r.store.Update(ctx, rec); updErr != nil {
					r.log.Error("persisting delete failure failed", "entity", r.entity, "local_id", rec.LocalID, "error", updErr)
				}
				stats.Failures++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		if err := r.store.Delete(ctx, rec); err != nil {
			r.log.Error("removing acknowledged tombstone failed", "entity", r.entity, "local_id", rec.LocalID, "error", err)
			stats.Failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stats.Deleted++
	}
	return stats, firstErr
}

// pull fetches the server's record set and merges it into the local store.
// Unknown remote records are inserted as Synced; known Synced records are
// refreshed; records with a pending local change keep their local payload
// (local-authoritative conflict policy).
func (r *Reconciler[P]) pull(ctx context.Context, ownerID int64) (Stats, error) {
	var stats Stats
	var firstErr error

	remoteRecs, err := r.remote.ListByOwner(ctx, ownerID)
	if err != nil {
		return stats, fmt.Errorf("pulling %s records: %w", r.entity, err)
	}

	now := time.Now().UTC()
	for i := range remoteRecs {
		rr := &remoteRecs[i]

		local, err := r.store.GetByRemoteID(ctx, rr.ID)
		if err != nil {
			stats.Failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if local == nil {
			rec := record.FromRemote(ownerID, rr.ID, rr.Payload, now)
			if err := r.store.InsertFromRemote(ctx, rec); err != nil {
				r.log.Error("inserting pulled record failed", "entity", r.entity, "remote_id", rr.ID, "error", err)
				stats.Failures++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			stats.Pulled++
			continue
		}

		if !local.ApplyRemote(rr.Payload, now) {
			// Pending local change wins; the remote payload is discarded
			// until the local change has been pushed.
			continue
		}
		if err := r.store.Update(ctx, local); err != nil {
			r.log.Error("refreshing pulled record failed", "entity", r.entity, "local_id", local.LocalID, "error", err)
			stats.Failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stats.Pulled++
	}
	return stats, firstErr
}

// dedup enforces the one-record-per-period invariant after the merged set is
// in place. Within each (owner, period) group the policy picks a winner and
// the losers are removed locally — never remotely, since the losing
// duplicates should not have existed as distinct server records.
func (r *Reconciler[P]) dedup(ctx context.Context, ownerID int64) (Stats, error) {
	var stats Stats
	if r.period == nil {
		return stats, nil
	}
	var firstErr error

	all, err := r.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return stats, fmt.Errorf("listing records for dedup: %w", err)
	}

	groups := make(map[string][]*record.Record[P])
	for _, rec := range all {
		if rec.Status == record.StatusNeedsDelete {
			continue // superseded: already on its way out
		}
		key := r.period(rec.Payload)
		groups[key] = append(groups[key], rec)
	}

	for key, group := range groups {
		if len(group) < 2 {
			continue
		}
		winner := r.winner(group)
		for _, rec := range group {
			if rec == winner {
				continue
			}
			r.log.Info("removing losing duplicate",
				"entity", r.entity,
				"owner", ownerID,
				"period", key,
				"local_id", rec.LocalID,
			)
			if err := r.store.Delete(ctx, rec); err != nil {
				stats.Failures++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			stats.Deduped++
		}
	}
	return stats, firstErr
}

// --- helpers -----------------------------------------------------------------

// listPushable returns the owner's records in the given status merged with
// its SyncFailed records, which retry on every pass.
func (r *Reconciler[P]) listPushable(ctx context.Context, ownerID int64, status record.SyncStatus) ([]*record.Record[P], error) {
	recs, err := r.store.ListByStatus(ctx, ownerID, status)
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", status, err)
	}
	failed, err := r.store.ListByStatus(ctx, ownerID, record.StatusSyncFailed)
	if err != nil {
		return nil, fmt.Errorf("listing failed records: %w", err)
	}
	return append(recs, failed...), nil
}

// pushCreate sends one record as a remote create and persists the result.
func (r *Reconciler[P]) pushCreate(ctx context.Context, rec *record.Record[P]) error {
	remoteRec, err := r.remote.Create(ctx, rec.OwnerID, rec.Payload)
	if err != nil {
		r.markFailed(ctx, rec, err)
		return err
	}
	rec.MarkSynced(remoteRec.ID, time.Now().UTC())
	if err := r.store.Update(ctx, rec); err != nil {
		r.log.Error("persisting created record failed", "entity", r.entity, "local_id", rec.LocalID, "error", err)
		return err
	}
	return nil
}

// markFailed moves the record into SyncFailed with the error message and
// persists it, so the failure survives a restart.
func (r *Reconciler[P]) markFailed(ctx context.Context, rec *record.Record[P], cause error) {
	r.log.Error("push failed",
		"entity", r.entity,
		"local_id", rec.LocalID,
		"status", rec.Status,
		"error", cause,
	)
	rec.MarkFailed(cause, time.Now().UTC())
	if err := r.store.Update(ctx, rec); err != nil {
		r.log.Error("persisting push failure failed", "entity", r.entity, "local_id", rec.LocalID, "error", err)
	}
}
