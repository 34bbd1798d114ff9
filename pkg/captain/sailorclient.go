package captain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/captain/pkg/types"
)

// SailorClient is how the Captain talks to a sailor's inbound endpoints
// (§6, "Sailor endpoints"). Implemented over plain JSON/HTTP; kept as an
// interface so the scheduler and reconciler tests can substitute a fake.
type SailorClient interface {
	Launch(ctx context.Context, sailor types.Sailor, req types.LaunchRequest) error
	Cancel(ctx context.Context, sailor types.Sailor, req types.CancelRequest) error
}

// HTTPSailorClient is the production SailorClient.
type HTTPSailorClient struct {
	Client *http.Client
}

// NewHTTPSailorClient builds a client with the short outbound timeout
// §5 calls for (~3-5s); callers should still wrap calls with ctx timeouts
// derived from Config.DispatchTimeout.
func NewHTTPSailorClient(timeout time.Duration) *HTTPSailorClient {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &HTTPSailorClient{Client: &http.Client{Timeout: timeout}}
}

func (c *HTTPSailorClient) Launch(ctx context.Context, sailor types.Sailor, req types.LaunchRequest) error {
	return c.post(ctx, sailor, "/captain_request", req)
}

func (c *HTTPSailorClient) Cancel(ctx context.Context, sailor types.Sailor, req types.CancelRequest) error {
	return c.post(ctx, sailor, "/captain_cancel", req)
}

func (c *HTTPSailorClient) post(ctx context.Context, sailor types.Sailor, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sailorclient: marshal: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d%s", sailor.IP, sailor.Port, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("sailorclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sailorclient: %s %s: %w", path, sailor.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sailorclient: %s %s: status %d", path, sailor.Name, resp.StatusCode)
	}
	return nil
}
