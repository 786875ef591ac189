package setup

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// PingServer verifies connectivity and credentials against the record service
// by listing the owner's weight records. Returns nil on success.
func PingServer(ctx context.Context, serverURL, token string, userID int64) error {
	endpoint := strings.TrimRight(serverURL, "/") + "/api/records/weight?owner_id=" + strconv.FormatInt(userID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API token (HTTP 401)")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, serverURL)
	}
	return nil
}
