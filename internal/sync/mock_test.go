package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pmahlen/vitalsync/internal/record"
	"github.com/pmahlen/vitalsync/internal/remote"
)

// --- Mock Record Store -------------------------------------------------------

type mockStore[P any] struct {
	mu     sync.Mutex
	recs   map[int64]*record.Record[P] // local_id → record
	nextID int64
	period record.PeriodFunc[P]

	insertErr error
	updateErr error
	deleteErr error
	listErr   error
}

func newMockStore[P any](period record.PeriodFunc[P]) *mockStore[P] {
	return &mockStore[P]{recs: make(map[int64]*record.Record[P]), period: period}
}

func (m *mockStore[P]) periodOf(payload P) string {
	if m.period == nil {
		return ""
	}
	return m.period(payload)
}

func (m *mockStore[P]) Insert(_ context.Context, rec *record.Record[P]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return m.insertErr
	}
	if key := m.periodOf(rec.Payload); key != "" {
		for _, existing := range m.recs {
			if existing.OwnerID == rec.OwnerID &&
				existing.Status != record.StatusNeedsDelete &&
				m.periodOf(existing.Payload) == key {
				return fmt.Errorf("owner %d period %s: %w", rec.OwnerID, key, record.ErrDuplicatePeriod)
			}
		}
	}
	m.store(rec)
	return nil
}

func (m *mockStore[P]) InsertFromRemote(_ context.Context, rec *record.Record[P]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return m.insertErr
	}
	m.store(rec)
	return nil
}

// store assigns a local ID and keeps a copy, mirroring how a database row is
// detached from the caller's struct. Callers must hold m.mu.
func (m *mockStore[P]) store(rec *record.Record[P]) {
	m.nextID++
	rec.LocalID = m.nextID
	cp := *rec
	m.recs[rec.LocalID] = &cp
}

func (m *mockStore[P]) Update(_ context.Context, rec *record.Record[P]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.recs[rec.LocalID]; !ok {
		return fmt.Errorf("record %d: %w", rec.LocalID, record.ErrNotFound)
	}
	if key := m.periodOf(rec.Payload); key != "" && rec.Status != record.StatusNeedsDelete {
		for _, existing := range m.recs {
			if existing.LocalID != rec.LocalID &&
				existing.OwnerID == rec.OwnerID &&
				existing.Status != record.StatusNeedsDelete &&
				m.periodOf(existing.Payload) == key {
				return fmt.Errorf("owner %d period %s: %w", rec.OwnerID, key, record.ErrDuplicatePeriod)
			}
		}
	}
	cp := *rec
	m.recs[rec.LocalID] = &cp
	return nil
}

func (m *mockStore[P]) Delete(ctx context.Context, rec *record.Record[P]) error {
	return m.DeleteByID(ctx, rec.LocalID)
}

func (m *mockStore[P]) DeleteByID(_ context.Context, localID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.recs, localID)
	return nil
}

func (m *mockStore[P]) GetByID(_ context.Context, localID int64) (*record.Record[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recs[localID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore[P]) GetByRemoteID(_ context.Context, remoteID int64) (*record.Record[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.recs {
		if rec.RemoteID != nil && *rec.RemoteID == remoteID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore[P]) ListByOwner(_ context.Context, ownerID int64) ([]*record.Record[P], error) {
	return m.listWhere(func(r *record.Record[P]) bool { return r.OwnerID == ownerID })
}

func (m *mockStore[P]) ListByStatus(_ context.Context, ownerID int64, status record.SyncStatus) ([]*record.Record[P], error) {
	return m.listWhere(func(r *record.Record[P]) bool {
		return r.OwnerID == ownerID && r.Status == status
	})
}

func (m *mockStore[P]) ListByOwnerAndPeriod(_ context.Context, ownerID int64, periodKey string) ([]*record.Record[P], error) {
	return m.listWhere(func(r *record.Record[P]) bool {
		return r.OwnerID == ownerID && m.periodOf(r.Payload) == periodKey
	})
}

func (m *mockStore[P]) listWhere(keep func(*record.Record[P]) bool) ([]*record.Record[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*record.Record[P]
	for _, rec := range m.recs {
		if keep(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out, nil
}

// count returns the number of stored records.
func (m *mockStore[P]) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// get returns a copy of the stored record, or nil.
func (m *mockStore[P]) get(localID int64) *record.Record[P] {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recs[localID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// seed inserts a record directly, bypassing the period check, and returns its
// local ID.
func (m *mockStore[P]) seed(rec *record.Record[P]) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(rec)
	return rec.LocalID
}

// --- Mock Remote Service -----------------------------------------------------

type mockRemote[P any] struct {
	mu     sync.Mutex
	items  map[int64]remote.Record[P] // remote_id → record
	nextID int64

	createCalls int
	updateCalls int
	deleteCalls int
	listCalls   int

	// Failure injection. createErr is consulted per payload so one record
	// can fail while its siblings succeed.
	createErr func(payload P) error
	updateErr error
	deleteErr error
	listErr   error
}

func newMockRemote[P any]() *mockRemote[P] {
	return &mockRemote[P]{items: make(map[int64]remote.Record[P])}
}

func (m *mockRemote[P]) Create(_ context.Context, ownerID int64, payload P) (*remote.Record[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if m.createErr != nil {
		if err := m.createErr(payload); err != nil {
			return nil, err
		}
	}
	m.nextID++
	rec := remote.Record[P]{ID: m.nextID, OwnerID: ownerID, Payload: payload, UpdatedAt: time.Now().UTC()}
	m.items[rec.ID] = rec
	return &rec, nil
}

func (m *mockRemote[P]) Update(_ context.Context, remoteID int64, payload P) (*remote.Record[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	rec, ok := m.items[remoteID]
	if !ok {
		return nil, fmt.Errorf("remote record %d not found", remoteID)
	}
	rec.Payload = payload
	rec.UpdatedAt = time.Now().UTC()
	m.items[remoteID] = rec
	return &rec, nil
}

func (m *mockRemote[P]) Delete(_ context.Context, remoteID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.items, remoteID)
	return nil
}

func (m *mockRemote[P]) ListByOwner(_ context.Context, ownerID int64) ([]remote.Record[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []remote.Record[P]
	for _, rec := range m.items {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// addItem seeds a server-side record and returns its remote ID.
func (m *mockRemote[P]) addItem(ownerID int64, payload P) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.items[m.nextID] = remote.Record[P]{ID: m.nextID, OwnerID: ownerID, Payload: payload, UpdatedAt: time.Now().UTC()}
	return m.nextID
}

// getItem returns a copy of the server-side record, or nil.
func (m *mockRemote[P]) getItem(remoteID int64) *remote.Record[P] {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.items[remoteID]
	if !ok {
		return nil
	}
	return &rec
}

// itemCount returns the number of server-side records.
func (m *mockRemote[P]) itemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// networkCalls returns the total number of remote operations performed.
func (m *mockRemote[P]) networkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls + m.updateCalls + m.deleteCalls + m.listCalls
}
