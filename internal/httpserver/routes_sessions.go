// internal/httpserver/routes_sessions.go
//
// HTTP routes for sessions.
//   - POST /rpc/create   → open a session (opponent "human" or "ai")
//   - POST /rpc/join     → take a seat; starts the game when both seats are ready
//   - POST /rpc/place    → drop a piece; full column is {"ok":false}
//   - POST /rpc/reset    → restart a session
//   - POST /rpc/discard  → owner removes a finished or unstarted session
//   - GET  /sessions?open=true, /sessions/{id}, /leaderboard
//   - GET  /sessions/{id}/events → websocket stream of session events
//
// The rpc routes require auth; the acting player is the token subject.

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/server"
)

// EventSnapshot is the first message on an events stream; its payload is
// the full session snapshot.
const EventSnapshot game.EventKind = "snapshot"

const (
	eventBuffer  = 64
	pingInterval = 15 * time.Second
)

// mountSessionRoutes registers the session routes on r.
func (s *Server) mountSessionRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth())
		r.Post("/rpc/create", s.handleCreate)
		r.Post("/rpc/join", s.handleJoin)
		r.Post("/rpc/place", s.handlePlace)
		r.Post("/rpc/reset", s.handleReset)
		r.Post("/rpc/discard", s.handleDiscard)
	})
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Get("/leaderboard", s.handleLeaderboard)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := game.ParseVariant(req.Variant)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := game.ParseDifficulty(req.Difficulty)
	if err != nil {
		writeError(w, err)
		return
	}
	opp := server.Opponent(req.Opponent)
	if opp == "" {
		opp = server.OpponentHuman
	}
	id, err := s.game.Create(r.Context(), playerFrom(r), v, d, opp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, SessionResponse{SessionID: id})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.game.Join(r.Context(), playerFrom(r), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.game.Session(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, SessionResponse{SessionID: id, Snapshot: &snap})
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.game.PlaceTile(r.Context(), playerFrom(r), req.SessionID, req.Column)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.game.Session(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, PlaceResponse{OK: ok, Snapshot: snap})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.game.Reset(r.Context(), playerFrom(r), req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, OKResponse{OK: true})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.game.Discard(r.Context(), playerFrom(r), req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, OKResponse{OK: true})
}

// handleListSessions lists joinable sessions. Only the open filter exists.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("open"); v != "" && v != "true" {
		http.Error(w, `{"error":"unsupported_filter"}`, http.StatusBadRequest)
		return
	}
	list, err := s.game.OpenSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []game.Snapshot{}
	}
	writeJSON(w, SessionsResponse{Sessions: list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.game.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	players, err := s.game.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, LeaderboardResponse{Players: players})
}

// handleEvents streams session events over a websocket, starting with a
// snapshot. A reader that falls behind loses events and should refetch
// GET /sessions/{id}.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.game.Session(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(s.cfg.ClientOrigin)})
	if err != nil {
		log.Warn().Err(err).Str("session", id).Msg("websocket accept")
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")

	events := make(chan game.Event, eventBuffer)
	unsubscribe, err := s.game.Subscribe(r.Context(), id, func(ev game.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		c.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}
	defer unsubscribe()

	// CloseRead drains control frames and cancels ctx when the peer goes away.
	ctx := c.CloseRead(r.Context())
	if err := write(ctx, c, game.Event{Kind: EventSnapshot, SessionID: id, Payload: snap}); err != nil {
		return
	}
	log.Debug().Str("session", id).Msg("event stream opened")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "bye")
			return
		case ev := <-events:
			if err := write(ctx, c, ev); err != nil {
				log.Debug().Err(err).Str("session", id).Msg("event stream closed")
				return
			}
		case <-ping.C:
			if err := c.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, c *websocket.Conn, ev game.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}

// originPatterns turns the configured client origin into a host pattern.
func originPatterns(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
