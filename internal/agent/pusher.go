package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/utils"
	"github.com/cyb3rgh05t/komandorr/internal/version"
)

const (
	TrafficPath = "/metrics/traffic"
	StoragePath = "/metrics/storage"

	pushTimeout = 10 * time.Second
)

// ErrUnauthorized means the server rejected the agent token.
var ErrUnauthorized = errors.New("server rejected agent token")

// Pusher posts collected updates to the monitoring server.
type Pusher struct {
	serverURL string
	token     string
	client    *http.Client
}

func NewPusher(serverURL, token string) *Pusher {
	return &Pusher{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		client:    &http.Client{Timeout: pushTimeout},
	}
}

// Push sends v as JSON to path. Any non-2xx answer is an error.
func (p *Pusher) Push(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("agent"))
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to %s: %w", path, err)
	}
	defer utils.DrainClose(resp.Body, 64<<10)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (%d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("push to %s: server returned %d", path, resp.StatusCode)
	}
	return nil
}
