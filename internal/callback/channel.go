// internal/callback/channel.go
//
// Outbound link from the server to one connected client.
// The server keeps one Channel per greeted player and pushes start and sync
// notifications through it. Every call is bounded by the caller's context.

package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/robalobadob/connect4/internal/game"
)

// Paths served by Handler and called by HTTPChannel.
const (
	PathPing  = "/callback/ping"
	PathStart = "/callback/start"
	PathSync  = "/callback/sync"
)

// StartRequest is the body of PathStart.
type StartRequest struct {
	SessionID string `json:"sessionId"`
	First     string `json:"first"`
}

// SyncRequest is the body of PathSync. The snapshot is authoritative; the
// receiver keeps it only if its version is newer than the local mirror.
type SyncRequest struct {
	Snapshot game.Snapshot `json:"snapshot"`
}

// Channel is the server's view of a client callback endpoint.
type Channel interface {
	Ping(ctx context.Context) error
	OnStart(ctx context.Context, sessionID, first string) error
	OnSync(ctx context.Context, snap game.Snapshot) error
	Addr() string
}

// HTTPChannel pushes notifications as JSON POSTs.
type HTTPChannel struct {
	base   string
	client *http.Client
}

// NewHTTPChannel targets http://host:port. A nil client gets one bounded by timeout.
func NewHTTPChannel(host string, port int, timeout time.Duration, client *http.Client) *HTTPChannel {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPChannel{
		base:   "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		client: client,
	}
}

// Dial opens a channel and checks it answers a ping within timeout.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (*HTTPChannel, error) {
	if host == "" || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid callback address %q:%d", host, port)
	}
	ch := NewHTTPChannel(host, port, timeout, nil)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ch.Ping(ctx); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *HTTPChannel) Addr() string { return c.base }

func (c *HTTPChannel) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathPing, nil)
}

func (c *HTTPChannel) OnStart(ctx context.Context, sessionID, first string) error {
	return c.do(ctx, http.MethodPost, PathStart, StartRequest{SessionID: sessionID, First: first})
}

func (c *HTTPChannel) OnSync(ctx context.Context, snap game.Snapshot) error {
	return c.do(ctx, http.MethodPost, PathSync, SyncRequest{Snapshot: snap})
}

func (c *HTTPChannel) do(ctx context.Context, method, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback %s returned %s", path, resp.Status)
	}
	return nil
}
