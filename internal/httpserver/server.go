// internal/httpserver/server.go
//
// HTTP server wiring for the connect4 backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", "POST /rpc/greet", session and
//     leaderboard reads.
//   - Player operations (require auth): POST /rpc/{create,join,place,reset,discard}.
//   - Websocket event stream: GET /sessions/{id}/events.
//   - Mapping of game/server errors onto HTTP status codes.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - The websocket route sits outside the request timeout group.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/connect4/internal/config"
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/server"
	"github.com/robalobadob/connect4/internal/store"
)

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server bundles router, game server and player store.
type Server struct {
	r     *chi.Mux
	game  *server.Server
	store store.Store
	cfg   config.Server
}

// New constructs a Server, installs middleware, and registers routes.
func New(gs *server.Server, st store.Store, cfg config.Server) *Server {
	s := &Server{r: chi.NewRouter(), game: gs, store: st, cfg: cfg}

	// --- middleware ---
	s.r.Use(chimw.RequestID)           // add X-Request-ID
	s.r.Use(chimw.RealIP)              // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)           // recover from panics
	s.r.Use(jsonContentType)           // default JSON responses
	s.r.Use(corsFor(cfg.ClientOrigin)) // credentials-friendly CORS

	s.r.Get("/sessions/{id}/events", s.handleEvents)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout(cfg)))

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"service":"connect4","endpoints":["/health","POST /rpc/*","/sessions","/leaderboard"]}`))
		})
		r.Get("/health", s.handleHealth)

		r.Post("/rpc/greet", s.handleGreet)
		s.mountSessionRoutes(r)
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
	})

	return s
}

// Handler exposes the router (useful for tests and http.Server).
func (s *Server) Handler() http.Handler { return s.r }

// Router exposes the internal router.
func (s *Server) Router() chi.Router { return s.r }

func requestTimeout(cfg config.Server) time.Duration {
	if cfg.RequestTimeout > 0 {
		return cfg.RequestTimeout
	}
	return 10 * time.Second
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("health")
			http.Error(w, `{"ok":false,"error":"store_unavailable"}`, http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFor enables credentialed CORS for a single origin.
func corsFor(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ------------------------------- errors ------------------------------------

// errorCodes maps known errors to a status and a stable code. Order matters:
// the first match wins, so specific errors precede their roots.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{server.ErrUnknownSession, http.StatusNotFound, "unknown_session"},
	{server.ErrUnknownPlayer, http.StatusConflict, "not_greeted"},
	{server.ErrNotMember, http.StatusForbidden, "not_member"},
	{server.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{game.ErrSessionFull, http.StatusConflict, "session_full"},
	{game.ErrNotYourTurn, http.StatusConflict, "not_your_turn"},
	{game.ErrSessionFinished, http.StatusConflict, "session_finished"},
	{game.ErrWrongPhase, http.StatusConflict, "wrong_phase"},
	{game.ErrNotEnoughPlayers, http.StatusConflict, "not_enough_players"},
	{game.ErrDuplicatePlayer, http.StatusConflict, "duplicate_player"},
	{game.ErrColumnOutOfRange, http.StatusBadRequest, "column_out_of_range"},
	{game.ErrInvalidVariant, http.StatusBadRequest, "invalid_variant"},
	{game.ErrInvalidDifficulty, http.StatusBadRequest, "invalid_difficulty"},
	{game.ErrPrecondition, http.StatusBadRequest, "precondition_failed"},
}

// writeError renders err as {"error":code} with the mapped status.
func writeError(w http.ResponseWriter, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			http.Error(w, `{"error":"`+e.code+`"}`, e.status)
			return
		}
	}
	log.Error().Err(err).Msg("request failed")
	http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
}

// writeJSON encodes v with a 200 status.
func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

// ErrorForCode returns the error behind an error code, or nil for codes
// that have no sentinel.
func ErrorForCode(code string) error {
	for _, e := range errorCodes {
		if e.code == code {
			return e.err
		}
	}
	return nil
}
