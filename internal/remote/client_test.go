package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type stepsPayload struct {
	Day   time.Time `json:"day"`
	Steps int       `json:"steps"`
}

var testLogger = slog.Default()

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client[stepsPayload] {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient[stepsPayload](srv.URL, "steps", "secret-token", testLogger,
		WithHTTPClient(srv.Client()), WithBackoff(fastBackoff(3)))
}

func TestCreate_SendsAuthAndDecodesResponse(t *testing.T) {
	var gotAuth, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var in Record[stepsPayload]
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		in.ID = 42
		_ = json.NewEncoder(w).Encode(in)
	})

	created, err := c.Create(context.Background(), 7, stepsPayload{Steps: 9000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != 42 {
		t.Errorf("ID = %d, want 42", created.ID)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotPath != "/api/records/steps" {
		t.Errorf("path = %q, want /api/records/steps", gotPath)
	}
}

func TestCreate_IdempotencyKeyStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		attempt := len(keys)
		mu.Unlock()

		if attempt == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(Record[stepsPayload]{ID: 5})
	})

	if _, err := c.Create(context.Background(), 7, stepsPayload{Steps: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 {
		t.Fatalf("attempts = %d, want 2", len(keys))
	}
	if keys[0] == "" {
		t.Error("first attempt missing Idempotency-Key header")
	}
	if keys[0] != keys[1] {
		t.Errorf("idempotency key changed across retries: %q vs %q", keys[0], keys[1])
	}
}

func TestUpdate_UsesRecordURL(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(Record[stepsPayload]{ID: 9})
	})

	updated, err := c.Update(context.Background(), 9, stepsPayload{Steps: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ID != 9 {
		t.Errorf("ID = %d, want 9", updated.ID)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotPath != "/api/records/steps/9" {
		t.Errorf("path = %q, want /api/records/steps/9", gotPath)
	}
}

func TestDelete_NotFoundIsSuccess(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	if err := c.Delete(context.Background(), 3); err != nil {
		t.Fatalf("expected 404 delete to succeed, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on 404)", calls)
	}
}

func TestListByOwner_FiltersByQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("owner_id"); got != "7" {
			t.Errorf("owner_id query = %q, want 7", got)
		}
		_ = json.NewEncoder(w).Encode([]Record[stepsPayload]{
			{ID: 1, OwnerID: 7, Payload: stepsPayload{Steps: 100}},
			{ID: 2, OwnerID: 7, Payload: stepsPayload{Steps: 200}},
		})
	})

	recs, err := c.ListByOwner(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[1].Payload.Steps != 200 {
		t.Errorf("second record steps = %d, want 200", recs[1].Payload.Steps)
	}
}

func TestStatusError_SurfacesCodeAndMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "steps must be positive"})
	})

	_, err := c.Create(context.Background(), 7, stepsPayload{Steps: -1})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError in chain, got: %v", err)
	}
	if se.Code != http.StatusUnprocessableEntity {
		t.Errorf("Code = %d, want 422", se.Code)
	}
	if se.Message != "steps must be positive" {
		t.Errorf("Message = %q, want server message", se.Message)
	}
}
