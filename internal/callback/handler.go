// internal/callback/handler.go
//
// Inbound callback surface mounted by every client process.
// Routes:
//   - GET  /callback/ping  → liveness probe used when the server opens a channel.
//   - POST /callback/start → session started; body StartRequest.
//   - POST /callback/sync  → authoritative snapshot; body SyncRequest.

package callback

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/connect4/internal/game"
)

// Receiver handles pushed notifications. client.Agent implements it.
type Receiver interface {
	OnStart(ctx context.Context, sessionID, first string) error
	OnSync(ctx context.Context, snap game.Snapshot) error
}

// Handler returns the router for the callback routes.
func Handler(rcv Receiver) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(jsonContentType)

	r.Get(PathPing, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	r.Post(PathStart, func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.First == "" {
			http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
			return
		}
		if err := rcv.OnStart(r.Context(), req.SessionID, req.First); err != nil {
			log.Warn().Err(err).Str("session", req.SessionID).Msg("onStart")
			http.Error(w, `{"error":"start_failed"}`, http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	r.Post(PathSync, func(w http.ResponseWriter, r *http.Request) {
		var req SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
			return
		}
		if err := rcv.OnSync(r.Context(), req.Snapshot); err != nil {
			log.Warn().Err(err).Str("session", req.Snapshot.ID).Msg("onSync")
			http.Error(w, `{"error":"sync_failed"}`, http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
	})
	return r
}

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}
