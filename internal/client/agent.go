// internal/client/agent.go
//
// Client-side agent of a remote player.
// Responsibilities:
//   - RPC calls to the server (greet, create, join, place, reset, discard).
//   - A local mirror of one session, replaced only by newer server snapshots.
//   - The callback.Receiver the server pushes onStart/onSync into.
//
// Moves are forwarded and never applied locally; the mirror changes only
// when a snapshot with a higher version arrives. Mirror updates are
// re-published on the agent's bus, so UI listeners see the same events a
// local session would produce. Listeners run under the agent lock and must
// not call back into the Agent.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/connect4/internal/callback"
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/httpserver"
)

// ErrNoSession is returned by session operations before Create or Join.
var ErrNoSession = fmt.Errorf("%w: no session joined", game.ErrPrecondition)

// ErrNotGreeted is returned by authenticated calls before a successful Greet.
var ErrNotGreeted = fmt.Errorf("%w: greet first", game.ErrPrecondition)

// APIError is a non-2xx server reply.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Code)
}

// Unwrap exposes the sentinel behind Code so errors.Is works across the wire.
func (e *APIError) Unwrap() error { return httpserver.ErrorForCode(e.Code) }

// Option customises an Agent.
type Option func(*Agent)

// WithHTTPClient replaces the default client bounded by DefaultTimeout.
func WithHTTPClient(c *http.Client) Option { return func(a *Agent) { a.http = c } }

// WithBus publishes mirror events on b.
func WithBus(b *game.Bus) Option { return func(a *Agent) { a.bus = b } }

// WithSecret sends secret on greet.
func WithSecret(secret string) Option { return func(a *Agent) { a.secret = secret } }

// WithOnStart registers a hook for the server's start notification.
func WithOnStart(fn func(sessionID, first string)) Option {
	return func(a *Agent) { a.onStart = fn }
}

// DefaultTimeout bounds every RPC when no client is supplied.
const DefaultTimeout = 3 * time.Second

// Agent is one remote player.
type Agent struct {
	base    string
	name    string
	secret  string
	http    *http.Client
	bus     *game.Bus
	onStart func(sessionID, first string)

	mu      sync.Mutex
	token   string
	mirror  *game.Session
	started bool
}

// New creates an agent for player name talking to serverURL.
func New(serverURL, name string, opts ...Option) *Agent {
	a := &Agent{
		base: strings.TrimRight(serverURL, "/"),
		name: name,
		bus:  game.NewBus(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.http == nil {
		a.http = &http.Client{Timeout: DefaultTimeout}
	}
	return a
}

// Name returns the player name.
func (a *Agent) Name() string { return a.name }

// Bus returns the bus mirror events are published on.
func (a *Agent) Bus() *game.Bus { return a.bus }

// Handler serves the callback routes for this agent.
func (a *Agent) Handler() http.Handler { return callback.Handler(a) }

// ------------------------------- RPC ---------------------------------------

// Greet registers the callback endpoint at host:port. An empty host lets
// the server use the caller's address. It reports false when the server
// could not reach the endpoint.
func (a *Agent) Greet(ctx context.Context, host string, port int) (bool, error) {
	var res httpserver.GreetResponse
	req := httpserver.GreetRequest{Player: a.name, Host: host, Port: port, Secret: a.secret}
	if err := a.call(ctx, http.MethodPost, "/rpc/greet", "", req, &res); err != nil {
		return false, err
	}
	if res.OK {
		a.mu.Lock()
		a.token = res.Token
		a.mu.Unlock()
	}
	return res.OK, nil
}

// Create opens a session and mirrors it.
func (a *Agent) Create(ctx context.Context, v game.Variant, d game.Difficulty, opponent string) (string, error) {
	var res httpserver.SessionResponse
	req := httpserver.CreateRequest{Variant: v.String(), Difficulty: d.String(), Opponent: opponent}
	if err := a.authCall(ctx, http.MethodPost, "/rpc/create", req, &res); err != nil {
		return "", err
	}
	a.switchTo(res.SessionID)
	if err := a.refresh(ctx, res.SessionID); err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// Join takes a seat in sessionID and mirrors it.
func (a *Agent) Join(ctx context.Context, sessionID string) error {
	var res httpserver.SessionResponse
	if err := a.authCall(ctx, http.MethodPost, "/rpc/join", httpserver.SessionRequest{SessionID: sessionID}, &res); err != nil {
		return err
	}
	a.switchTo(sessionID)
	if res.Snapshot != nil {
		return a.apply(*res.Snapshot)
	}
	return a.refresh(ctx, sessionID)
}

// PlaceTile forwards a move. The mirror is updated from the server's reply,
// never from the move itself.
func (a *Agent) PlaceTile(ctx context.Context, col int) (bool, error) {
	id, err := a.sessionID()
	if err != nil {
		return false, err
	}
	var res httpserver.PlaceResponse
	if err := a.authCall(ctx, http.MethodPost, "/rpc/place", httpserver.PlaceRequest{SessionID: id, Column: col}, &res); err != nil {
		return false, err
	}
	if err := a.apply(res.Snapshot); err != nil {
		return res.OK, err
	}
	return res.OK, nil
}

// Reset asks the server to restart the session.
func (a *Agent) Reset(ctx context.Context) error {
	id, err := a.sessionID()
	if err != nil {
		return err
	}
	var res httpserver.OKResponse
	if err := a.authCall(ctx, http.MethodPost, "/rpc/reset", httpserver.SessionRequest{SessionID: id}, &res); err != nil {
		return err
	}
	return a.refresh(ctx, id)
}

// Discard removes the session on the server and drops the mirror.
func (a *Agent) Discard(ctx context.Context) error {
	id, err := a.sessionID()
	if err != nil {
		return err
	}
	var res httpserver.OKResponse
	if err := a.authCall(ctx, http.MethodPost, "/rpc/discard", httpserver.SessionRequest{SessionID: id}, &res); err != nil {
		return err
	}
	a.resetMirror()
	return nil
}

// Refresh pulls the current snapshot of the mirrored session.
func (a *Agent) Refresh(ctx context.Context) error {
	id, err := a.sessionID()
	if err != nil {
		return err
	}
	return a.refresh(ctx, id)
}

// OpenSessions lists joinable sessions.
func (a *Agent) OpenSessions(ctx context.Context) ([]game.Snapshot, error) {
	var res httpserver.SessionsResponse
	if err := a.call(ctx, http.MethodGet, "/sessions?open=true", "", nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (a *Agent) refresh(ctx context.Context, id string) error {
	var snap game.Snapshot
	if err := a.call(ctx, http.MethodGet, "/sessions/"+id, "", nil, &snap); err != nil {
		return err
	}
	return a.apply(snap)
}

func (a *Agent) authCall(ctx context.Context, method, path string, body, out any) error {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token == "" {
		return ErrNotGreeted
	}
	return a.call(ctx, method, path, token, body, out)
}

// call sends one JSON request and decodes a 200 reply into out.
func (a *Agent) call(ctx context.Context, method, path, token string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	rdr := bytes.NewReader(raw)
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Code: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ------------------------------ mirror -------------------------------------

// Snapshot returns the mirrored state, if any.
func (a *Agent) Snapshot() (game.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mirror == nil {
		return game.Snapshot{}, false
	}
	return a.mirror.Snapshot(), true
}

// Started reports whether the server announced the start of the session.
func (a *Agent) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// MyTurn reports whether the mirrored session waits for this player.
func (a *Agent) MyTurn() bool {
	snap, ok := a.Snapshot()
	if !ok || snap.State != game.Ongoing {
		return false
	}
	p, ok := snap.CurrentPlayer()
	return ok && p.Name == a.name
}

func (a *Agent) sessionID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mirror == nil {
		return "", ErrNoSession
	}
	return a.mirror.ID(), nil
}

// switchTo drops a mirror of any session other than id. A start notice
// that raced ahead of the join reply is kept.
func (a *Agent) switchTo(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mirror != nil && a.mirror.ID() != id {
		a.mirror = nil
		a.started = false
	}
}

func (a *Agent) resetMirror() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mirror = nil
	a.started = false
}

// apply replaces the mirror with snap when snap is newer. Snapshots of
// other sessions are ignored once a session is mirrored.
func (a *Agent) apply(snap game.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mirror == nil {
		m, err := game.FromSnapshot(snap, game.WithBus(a.bus))
		if err != nil {
			return err
		}
		a.mirror = m
		return nil
	}
	if snap.ID != a.mirror.ID() {
		log.Debug().Str("session", snap.ID).Str("mirror", a.mirror.ID()).Msg("sync for another session ignored")
		return nil
	}
	if snap.Version <= a.mirror.Version() {
		return nil
	}
	return a.mirror.Restore(snap)
}

// OnStart implements callback.Receiver.
func (a *Agent) OnStart(_ context.Context, sessionID, first string) error {
	a.mu.Lock()
	if a.mirror != nil && a.mirror.ID() != sessionID {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	fn := a.onStart
	a.mu.Unlock()
	log.Info().Str("session", sessionID).Str("first", first).Msg("session started")
	if fn != nil {
		fn(sessionID, first)
	}
	return nil
}

// OnSync implements callback.Receiver.
func (a *Agent) OnSync(_ context.Context, snap game.Snapshot) error {
	if err := a.apply(snap); err != nil {
		log.Warn().Err(err).Str("session", snap.ID).Msg("sync rejected")
		return err
	}
	return nil
}

var _ callback.Receiver = (*Agent)(nil)
