package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/robalobadob/connect4/internal/callback"
	"github.com/robalobadob/connect4/internal/config"
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/server"
	"github.com/robalobadob/connect4/internal/store"
)

type nopChannel struct{}

func (nopChannel) Ping(context.Context) error                    { return nil }
func (nopChannel) OnStart(context.Context, string, string) error { return nil }
func (nopChannel) OnSync(context.Context, game.Snapshot) error   { return nil }
func (nopChannel) Addr() string                                  { return "nop" }

func dialer(_ context.Context, host string, _ int) (callback.Channel, error) {
	if host == "down" {
		return nil, errors.New("refused")
	}
	return nopChannel{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemoryStore()
	gs := server.New(st, server.WithDialer(dialer), server.WithAIDelay(10*time.Millisecond))
	t.Cleanup(gs.Close)
	cfg := config.Server{
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		RequestTimeout: 5 * time.Second,
		ClientOrigin:   "http://localhost:5173",
	}
	return New(gs, st, cfg)
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func greet(t *testing.T, s *Server, player string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/rpc/greet", "", GreetRequest{Player: player, Host: "127.0.0.1", Port: 9000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[GreetResponse](t, rec)
	require.True(t, res.OK)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(rec.Body.Bytes()), &body), rec.Body.String())
	return body.Error
}

func TestHealthAndIndex(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "connect4")

	rec = do(t, s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodOptions, "/rpc/greet", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGreet(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/rpc/greet", "", GreetRequest{Player: "ann", Host: "down", Port: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[GreetResponse](t, rec).OK)

	rec = do(t, s, http.MethodPost, "/rpc/greet", "", GreetRequest{Player: "bad name!", Port: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/rpc/greet", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGreetSecretIsEnrolledThenEnforced(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/rpc/greet", "", GreetRequest{Player: "ann", Port: 9000, Secret: "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[GreetResponse](t, rec).OK)

	rec = do(t, s, http.MethodPost, "/rpc/greet", "", GreetRequest{Player: "ann", Port: 9000, Secret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_secret", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/rpc/greet", "", GreetRequest{Player: "ann", Port: 9000, Secret: "hunter22"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRPCRequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/rpc/create", "", CreateRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/rpc/create", "garbage", CreateRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", errorCode(t, rec))
}

func TestHumanMatchOverHTTP(t *testing.T) {
	s := newTestServer(t)
	ann, ben, carol := greet(t, s, "ann"), greet(t, s, "ben"), greet(t, s, "carol")

	rec := do(t, s, http.MethodPost, "/rpc/create", ann, CreateRequest{Variant: "otto", Difficulty: "hard", Opponent: "human"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decodeBody[SessionResponse](t, rec).SessionID
	require.NotEmpty(t, id)

	rec = do(t, s, http.MethodGet, "/sessions?open=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decodeBody[SessionsResponse](t, rec)
	require.Len(t, open.Sessions, 1)
	assert.Equal(t, id, open.Sessions[0].ID)

	rec = do(t, s, http.MethodPost, "/rpc/join", ben, SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	joined := decodeBody[SessionResponse](t, rec)
	require.NotNil(t, joined.Snapshot)
	assert.Equal(t, game.Ongoing, joined.Snapshot.State)
	assert.Equal(t, game.Otto, joined.Snapshot.Variant)

	rec = do(t, s, http.MethodPost, "/rpc/join", carol, SessionRequest{SessionID: id})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session_full", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/rpc/place", ben, PlaceRequest{SessionID: id, Column: 0})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_your_turn", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/rpc/place", carol, PlaceRequest{SessionID: id, Column: 0})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, "/rpc/place", ann, PlaceRequest{SessionID: id, Column: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "column_out_of_range", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/rpc/place", ann, PlaceRequest{SessionID: id, Column: 0})
	require.Equal(t, http.StatusOK, rec.Code)
	placed := decodeBody[PlaceResponse](t, rec)
	assert.True(t, placed.OK)
	assert.Equal(t, game.PieceOne, placed.Snapshot.Board[5][0])
	assert.Equal(t, 2, placed.Snapshot.Turn)

	rec = do(t, s, http.MethodGet, "/sessions/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, placed.Snapshot.Version, decodeBody[game.Snapshot](t, rec).Version)

	rec = do(t, s, http.MethodPost, "/rpc/discard", ben, SessionRequest{SessionID: id})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_owner", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/rpc/discard", ann, SessionRequest{SessionID: id})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/rpc/reset", ben, SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t)
	ann := greet(t, s, "ann")

	rec := do(t, s, http.MethodGet, "/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_session", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/rpc/join", ann, SessionRequest{SessionID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/sessions?open=false", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateValidation(t *testing.T) {
	s := newTestServer(t)
	ann := greet(t, s, "ann")

	rec := do(t, s, http.MethodPost, "/rpc/create", ann, CreateRequest{Variant: "chess"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_variant", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/rpc/create", ann, CreateRequest{Difficulty: "impossible"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_difficulty", errorCode(t, rec))
}

func TestComputerOpponentAndLeaderboard(t *testing.T) {
	s := newTestServer(t)
	ann := greet(t, s, "ann")

	rec := do(t, s, http.MethodPost, "/rpc/create", ann, CreateRequest{Opponent: "ai"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decodeBody[SessionResponse](t, rec).SessionID

	rec = do(t, s, http.MethodPost, "/rpc/place", ann, PlaceRequest{SessionID: id, Column: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[PlaceResponse](t, rec).OK)

	s.game.Drain()
	rec = do(t, s, http.MethodGet, "/sessions/"+id, "", nil)
	snap := decodeBody[game.Snapshot](t, rec)
	assert.Equal(t, 3, snap.Turn)

	rec = do(t, s, http.MethodGet, "/leaderboard?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decodeBody[LeaderboardResponse](t, rec).Players)
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	ann, ben := greet(t, s, "ann"), greet(t, s, "ben")

	rec := do(t, s, http.MethodPost, "/rpc/create", ann, CreateRequest{})
	id := decodeBody[SessionResponse](t, rec).SessionID
	do(t, s, http.MethodPost, "/rpc/join", ben, SessionRequest{SessionID: id})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var first struct {
		Kind    game.EventKind `json:"kind"`
		Payload game.Snapshot  `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, c, &first))
	assert.Equal(t, EventSnapshot, first.Kind)
	assert.Equal(t, id, first.Payload.ID)

	rec = do(t, s, http.MethodPost, "/rpc/place", ann, PlaceRequest{SessionID: id, Column: 4})
	require.Equal(t, http.StatusOK, rec.Code)

	var ev struct {
		Kind    game.EventKind    `json:"kind"`
		Payload game.BoardChanged `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, game.EventBoardChanged, ev.Kind)
	assert.Equal(t, game.BoardChanged{Row: 5, Col: 4, Piece: game.PieceOne}, ev.Payload)
}
