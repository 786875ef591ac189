// Package remote implements the HTTP client for the health record service.
// It exposes per-entity CRUD over JSON with bearer authentication, a bounded
// per-call timeout, and a jittered exponential [Backoff] around every
// request. The client holds the credential it is given; it does not manage
// sessions or refresh tokens.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// callTimeout bounds every individual HTTP call. A timed-out call is a
// failure, never a success.
const callTimeout = 30 * time.Second

// Record is the wire representation of a server-side record. The payload
// travels under "data" and is opaque to the client.
type Record[P any] struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Payload   P         `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusError reports a non-2xx response from the record service. The sync
// engine treats it the same as a transport error: the record is marked
// failed and retried on a later pass.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// Client talks to the record service for one entity. Create one per entity
// with [NewClient]; clients for different entities may share the same
// *http.Client via [WithHTTPClient].
type Client[P any] struct {
	baseURL string
	entity  string
	token   string
	hc      *http.Client
	backoff Backoff
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	hc      *http.Client
	backoff Backoff
}

// WithHTTPClient supplies a shared *http.Client. Used by the daemon so all
// five entity clients reuse one connection pool, and by tests to inject an
// httptest transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.hc = hc }
}

// WithBackoff overrides the retry schedule. Tests shrink the delays;
// everything else should live with [DefaultBackoff].
func WithBackoff(b Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// NewClient creates a Client for the given entity (e.g. "sleep") rooted at
// baseURL. token is sent as a bearer credential on every request.
func NewClient[P any](baseURL, entity, token string, logger *slog.Logger, opts ...Option) *Client[P] {
	o := options{hc: &http.Client{Timeout: callTimeout}, backoff: DefaultBackoff()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client[P]{
		baseURL: strings.TrimRight(baseURL, "/"),
		entity:  entity,
		token:   token,
		hc:      o.hc,
		backoff: o.backoff,
		log:     logger,
	}
}

// Create pushes a new record for the owner and returns the server's copy,
// including the assigned remote ID. A per-create idempotency key covers the
// retry attempts so a lost response cannot mint duplicate server records.
func (c *Client[P]) Create(ctx context.Context, ownerID int64, payload P) (*Record[P], error) {
	body, err := json.Marshal(Record[P]{OwnerID: ownerID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s record: %w", c.entity, err)
	}

	idemKey := uuid.NewString()
	var created Record[P]
	err = c.backoff.Retry(ctx, func() error {
		return c.do(ctx, http.MethodPost, c.collectionURL(), body, idemKey, &created)
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s record for owner %d: %w", c.entity, ownerID, err)
	}
	return &created, nil
}

// Update replaces the payload of an existing server record.
func (c *Client[P]) Update(ctx context.Context, remoteID int64, payload P) (*Record[P], error) {
	body, err := json.Marshal(Record[P]{ID: remoteID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s record: %w", c.entity, err)
	}

	var updated Record[P]
	err = c.backoff.Retry(ctx, func() error {
		return c.do(ctx, http.MethodPut, c.recordURL(remoteID), body, "", &updated)
	})
	if err != nil {
		return nil, fmt.Errorf("updating %s record %d: %w", c.entity, remoteID, err)
	}
	return &updated, nil
}

// Delete removes the server record. Deleting a record the server no longer
// has (404) counts as success — the desired end state already holds.
func (c *Client[P]) Delete(ctx context.Context, remoteID int64) error {
	err := c.backoff.Retry(ctx, func() error {
		err := c.do(ctx, http.MethodDelete, c.recordURL(remoteID), nil, "", nil)
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting %s record %d: %w", c.entity, remoteID, err)
	}
	return nil
}

// ListByOwner fetches the server's current record set for the owner.
func (c *Client[P]) ListByOwner(ctx context.Context, ownerID int64) ([]Record[P], error) {
	u := c.collectionURL() + "?owner_id=" + strconv.FormatInt(ownerID, 10)

	var recs []Record[P]
	err := c.backoff.Retry(ctx, func() error {
		return c.do(ctx, http.MethodGet, u, nil, "", &recs)
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s records for owner %d: %w", c.entity, ownerID, err)
	}
	return recs, nil
}

func (c *Client[P]) collectionURL() string {
	return c.baseURL + "/api/records/" + url.PathEscape(c.entity)
}

func (c *Client[P]) recordURL(remoteID int64) string {
	return c.collectionURL() + "/" + strconv.FormatInt(remoteID, 10)
}

// do performs one HTTP round trip, decoding a JSON response into out when
// out is non-nil. Non-2xx statuses become a [*StatusError].
func (c *Client[P]) do(ctx context.Context, method, endpoint string, body []byte, idemKey string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s %s: %w", method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return &StatusError{Code: resp.StatusCode, Message: "check api_token"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return &StatusError{Code: resp.StatusCode, Message: er.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.entity, err)
	}
	return nil
}
