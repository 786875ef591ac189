package record

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Value int
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew_StartsUnsynced(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)

	assert.Equal(t, StatusUnsynced, rec.Status)
	assert.Nil(t, rec.RemoteID)
	assert.Equal(t, int64(7), rec.OwnerID)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestMarkEdited_UnsyncedStaysUnsynced(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkEdited(payload{Value: 2}, now.Add(time.Minute))

	assert.Equal(t, StatusUnsynced, rec.Status)
	assert.Equal(t, 2, rec.Payload.Value)
}

func TestMarkEdited_SyncedBecomesNeedsUpdate(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkSynced(10, now)

	rec.MarkEdited(payload{Value: 2}, now.Add(time.Minute))

	assert.Equal(t, StatusNeedsUpdate, rec.Status)
	require.NotNil(t, rec.RemoteID)
	assert.Equal(t, int64(10), *rec.RemoteID)
}

func TestMarkEdited_ResurrectsTombstone(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkSynced(10, now)
	require.True(t, rec.MarkDeleted(now))

	rec.MarkEdited(payload{Value: 3}, now.Add(time.Minute))

	assert.Equal(t, StatusNeedsUpdate, rec.Status)
}

func TestMarkEdited_ClearsSyncError(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkSynced(10, now)
	rec.MarkFailed(errors.New("boom"), now)
	require.Equal(t, "boom", rec.SyncError)

	rec.MarkEdited(payload{Value: 2}, now.Add(time.Minute))

	assert.Empty(t, rec.SyncError)
	assert.Equal(t, StatusNeedsUpdate, rec.Status)
}

func TestMarkDeleted_WithoutRemote(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)

	keep := rec.MarkDeleted(now)

	assert.False(t, keep, "local-only record should be removed, not tombstoned")
	assert.Equal(t, StatusUnsynced, rec.Status)
}

func TestMarkDeleted_WithRemote(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkSynced(10, now)

	keep := rec.MarkDeleted(now)

	assert.True(t, keep)
	assert.Equal(t, StatusNeedsDelete, rec.Status)
}

func TestMarkSynced_SetsRemoteAndClearsError(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkFailed(errors.New("network down"), now)

	rec.MarkSynced(33, now.Add(time.Minute))

	assert.Equal(t, StatusSynced, rec.Status)
	require.NotNil(t, rec.RemoteID)
	assert.Equal(t, int64(33), *rec.RemoteID)
	assert.Empty(t, rec.SyncError)
}

func TestMarkFailed_RecordsMessage(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)

	rec.MarkFailed(errors.New("connection refused"), now)

	assert.Equal(t, StatusSyncFailed, rec.Status)
	assert.Equal(t, "connection refused", rec.SyncError)
}

func TestApplyRemote_OverwritesSynced(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkSynced(10, now)

	applied := rec.ApplyRemote(payload{Value: 9}, now.Add(time.Minute))

	assert.True(t, applied)
	assert.Equal(t, 9, rec.Payload.Value)
	assert.Equal(t, StatusSynced, rec.Status)
}

func TestApplyRemote_UnchangedPayloadIsNoOp(t *testing.T) {
	rec := New(7, payload{Value: 1}, now)
	rec.MarkSynced(10, now)

	applied := rec.ApplyRemote(payload{Value: 1}, now.Add(time.Minute))

	assert.False(t, applied)
	assert.Equal(t, now, rec.UpdatedAt)
}

func TestApplyRemote_PendingLocalChangeWins(t *testing.T) {
	for _, status := range []SyncStatus{StatusNeedsUpdate, StatusNeedsDelete, StatusSyncFailed} {
		t.Run(status.String(), func(t *testing.T) {
			rec := New(7, payload{Value: 1}, now)
			rec.MarkSynced(10, now)
			rec.Status = status

			applied := rec.ApplyRemote(payload{Value: 9}, now.Add(time.Minute))

			assert.False(t, applied)
			assert.Equal(t, 1, rec.Payload.Value, "local payload must be retained")
			assert.Equal(t, status, rec.Status, "status must not flap")
		})
	}
}

func TestFromRemote_StartsSynced(t *testing.T) {
	rec := FromRemote(7, 55, payload{Value: 4}, now)

	assert.Equal(t, StatusSynced, rec.Status)
	require.NotNil(t, rec.RemoteID)
	assert.Equal(t, int64(55), *rec.RemoteID)
	assert.Equal(t, int64(7), rec.OwnerID)
}

func TestSyncStatus_Pending(t *testing.T) {
	assert.False(t, StatusSynced.Pending())
	for _, s := range []SyncStatus{StatusUnsynced, StatusNeedsUpdate, StatusNeedsDelete, StatusSyncFailed} {
		assert.True(t, s.Pending(), s.String())
	}
}
