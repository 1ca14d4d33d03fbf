package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/connect4/internal/callback"
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/rating"
	"github.com/robalobadob/connect4/internal/store"
)

// fakeChannel records every notification it receives.
type fakeChannel struct {
	addr  string
	stall bool

	mu     sync.Mutex
	starts []callback.StartRequest
	syncs  []game.Snapshot
}

func (f *fakeChannel) Ping(context.Context) error { return nil }
func (f *fakeChannel) Addr() string               { return f.addr }

func (f *fakeChannel) OnStart(ctx context.Context, sessionID, first string) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, callback.StartRequest{SessionID: sessionID, First: first})
	return nil
}

func (f *fakeChannel) OnSync(ctx context.Context, snap game.Snapshot) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, snap)
	return nil
}

func (f *fakeChannel) block(ctx context.Context) error {
	if f.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeChannel) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

// newestSync returns the highest-version snapshot received. Pushes run in
// parallel, so arrival order says nothing about recency.
func (f *fakeChannel) newestSync() (game.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.syncs) == 0 {
		return game.Snapshot{}, false
	}
	newest := f.syncs[0]
	for _, snap := range f.syncs[1:] {
		if snap.Version > newest.Version {
			newest = snap
		}
	}
	return newest, true
}

// fakeNet hands out one fakeChannel per host and refuses host "down".
type fakeNet struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	stalled  map[string]bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{channels: make(map[string]*fakeChannel), stalled: make(map[string]bool)}
}

func (n *fakeNet) dial(_ context.Context, host string, port int) (callback.Channel, error) {
	if host == "down" {
		return nil, errors.New("connection refused")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := &fakeChannel{addr: fmt.Sprintf("%s:%d", host, port), stall: n.stalled[host]}
	n.channels[host] = ch
	return ch, nil
}

func (n *fakeNet) get(host string) *fakeChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.channels[host]
}

func newServer(t *testing.T, st store.Store, net *fakeNet, opts ...Option) *Server {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	opts = append([]Option{WithDialer(net.dial), WithAIDelay(20 * time.Millisecond)}, opts...)
	srv := New(st, opts...)
	t.Cleanup(srv.Close)
	return srv
}

// greet registers each name with a channel at host == name.
func greet(t *testing.T, srv *Server, names ...string) {
	t.Helper()
	for _, name := range names {
		require.True(t, srv.Greet(context.Background(), name, name, 9000))
	}
}

// lobby creates a human-vs-human session owned by ann and seats ben.
func lobby(t *testing.T, srv *Server) string {
	t.Helper()
	ctx := context.Background()
	id, err := srv.Create(ctx, "ann", game.ConnectFour, game.Easy, OpponentHuman)
	require.NoError(t, err)
	_, err = srv.Join(ctx, "ben", id)
	require.NoError(t, err)
	return id
}

func TestTwoPlayersJoinAndStart(t *testing.T) {
	net := newFakeNet()
	srv := newServer(t, nil, net)
	greet(t, srv, "ann", "ben")

	ctx := context.Background()
	id, err := srv.Create(ctx, "ann", game.ConnectFour, game.Medium, OpponentHuman)
	require.NoError(t, err)

	snap, err := srv.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.Waiting, snap.State)

	got, err := srv.Join(ctx, "ben", id)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	srv.Drain()

	snap, err = srv.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.Ongoing, snap.State)
	assert.Equal(t, 1, snap.Turn)
	assert.Equal(t, 0, snap.Current)

	for _, name := range []string{"ann", "ben"} {
		ch := net.get(name)
		require.Equal(t, 1, ch.startCount(), name)
		assert.Equal(t, callback.StartRequest{SessionID: id, First: "ann"}, ch.starts[0])
	}
}

func TestHumanAgainstComputer(t *testing.T) {
	net := newFakeNet()
	srv := newServer(t, nil, net, WithAIDelay(200*time.Millisecond))
	greet(t, srv, "ann")

	ctx := context.Background()
	id, err := srv.Create(ctx, "ann", game.ConnectFour, game.Easy, OpponentAI)
	require.NoError(t, err)

	snap, err := srv.Session(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Players, 2)
	assert.Equal(t, ComputerName, snap.Players[1].Name)
	assert.True(t, snap.Players[1].IsAI())
	assert.Equal(t, game.Ongoing, snap.State)

	ok, err := srv.PlaceTile(ctx, "ann", id, 0)
	require.NoError(t, err)
	require.True(t, ok)

	snap, err = srv.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.PieceOne, snap.Board[5][0])
	assert.Equal(t, 2, snap.Turn)
	assert.Equal(t, 1, snap.Current)

	srv.Drain()
	snap, err = srv.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Turn)
	assert.Equal(t, 0, snap.Current)
	assert.Equal(t, 2, snap.Board.Count())

	last, ok := net.get("ann").newestSync()
	require.True(t, ok)
	assert.Equal(t, snap.Version, last.Version)
}

func TestComputerNameAvoidsClash(t *testing.T) {
	srv := newServer(t, nil, newFakeNet())
	greet(t, srv, ComputerName)

	ctx := context.Background()
	id, err := srv.Create(ctx, ComputerName, game.Otto, game.Hard, OpponentAI)
	require.NoError(t, err)
	snap, err := srv.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ComputerName+"-2", snap.Players[1].Name)
}

func TestGreetFailure(t *testing.T) {
	srv := newServer(t, nil, newFakeNet())
	ctx := context.Background()

	assert.False(t, srv.Greet(ctx, "ann", "down", 9000))
	assert.False(t, srv.Greet(ctx, "", "ann", 9000))
	assert.False(t, srv.Greeted("ann"))

	_, err := srv.Create(ctx, "ann", game.ConnectFour, game.Easy, OpponentHuman)
	assert.ErrorIs(t, err, ErrUnknownPlayer)
	assert.ErrorIs(t, err, game.ErrPrecondition)
}

func TestRegreetReplacesChannel(t *testing.T) {
	net := newFakeNet()
	srv := newServer(t, nil, net)
	ctx := context.Background()
	require.True(t, srv.Greet(ctx, "ann", "first", 9000))
	require.True(t, srv.Greet(ctx, "ann", "second", 9001))

	ch, ok := srv.channel("ann")
	require.True(t, ok)
	assert.Equal(t, "second:9001", ch.Addr())
}

func TestRejections(t *testing.T) {
	srv := newServer(t, nil, newFakeNet())
	greet(t, srv, "ann", "ben", "carol")
	ctx := context.Background()

	_, err := srv.Join(ctx, "ann", "missing")
	assert.ErrorIs(t, err, ErrUnknownSession)

	_, err = srv.Create(ctx, "ann", game.ConnectFour, game.Easy, Opponent("robot"))
	assert.ErrorIs(t, err, game.ErrPrecondition)

	id := lobby(t, srv)

	_, err = srv.Join(ctx, "carol", id)
	assert.ErrorIs(t, err, game.ErrSessionFull)

	_, err = srv.PlaceTile(ctx, "carol", id, 0)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = srv.PlaceTile(ctx, "ben", id, 0)
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	_, err = srv.PlaceTile(ctx, "ann", id, game.Width)
	assert.ErrorIs(t, err, game.ErrColumnOutOfRange)

	// rejoining is idempotent
	_, err = srv.Join(ctx, "ben", id)
	assert.NoError(t, err)
}

func TestFullColumnIsNotAnError(t *testing.T) {
	srv := newServer(t, nil, newFakeNet())
	greet(t, srv, "ann", "ben")
	ctx := context.Background()
	id := lobby(t, srv)

	players := []string{"ann", "ben"}
	for i := 0; i < game.Height; i++ {
		ok, err := srv.PlaceTile(ctx, players[i%2], id, 2)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := srv.PlaceTile(ctx, "ann", id, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentJoinSeatsOnePlayer(t *testing.T) {
	net := newFakeNet()
	srv := newServer(t, nil, net)
	names := make([]string, 16)
	for i := range names {
		names[i] = fmt.Sprintf("p%02d", i)
	}
	greet(t, srv, "ann")
	greet(t, srv, names...)

	ctx := context.Background()
	id, err := srv.Create(ctx, "ann", game.ConnectFour, game.Easy, OpponentHuman)
	require.NoError(t, err)

	var joined atomic.Int32
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := srv.Join(ctx, name, id); err == nil {
				joined.Add(1)
			} else {
				assert.ErrorIs(t, err, game.ErrSessionFull)
			}
		}(name)
	}
	wg.Wait()
	srv.Drain()

	assert.Equal(t, int32(1), joined.Load())
	assert.Equal(t, 1, net.get("ann").startCount())
}

func TestConcurrentGreets(t *testing.T) {
	srv := newServer(t, nil, newFakeNet())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("p%02d", i)
			assert.True(t, srv.Greet(context.Background(), name, name, 9000))
		}(i)
	}
	wg.Wait()
	for i := 0; i < 32; i++ {
		assert.True(t, srv.Greeted(fmt.Sprintf("p%02d", i)))
	}
}

func TestStalledChannelDoesNotBlockOthers(t *testing.T) {
	net := newFakeNet()
	net.stalled["ben"] = true
	srv := newServer(t, nil, net, WithCallbackTimeout(500*time.Millisecond))
	greet(t, srv, "ann", "ben")
	ctx := context.Background()
	id := lobby(t, srv)

	start := time.Now()
	ok, err := srv.PlaceTile(ctx, "ann", id, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	srv.Drain()
	last, ok := net.get("ann").newestSync()
	require.True(t, ok)
	assert.Equal(t, game.PieceOne, last.Board[5][3])
	_, ok = net.get("ben").newestSync()
	assert.False(t, ok)
}

func TestLookupFallsBackToStore(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	first := newServer(t, st, newFakeNet())
	greet(t, first, "ann", "ben")
	id := lobby(t, first)
	ok, err := first.PlaceTile(ctx, "ann", id, 3)
	require.NoError(t, err)
	require.True(t, ok)
	first.Drain()
	before, err := first.Session(ctx, id)
	require.NoError(t, err)

	second := newServer(t, st, newFakeNet())
	greet(t, second, "ann", "ben")
	snap, err := second.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, snap)

	ok, err = second.PlaceTile(ctx, "ben", id, 3)
	require.NoError(t, err)
	require.True(t, ok)
	snap, err = second.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.PieceTwo, snap.Board[4][3])
	assert.Equal(t, before.Version+1, snap.Version)
}

func TestDiscard(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newServer(t, st, newFakeNet())
	greet(t, srv, "ann", "ben")
	ctx := context.Background()

	id := lobby(t, srv)
	assert.ErrorIs(t, srv.Discard(ctx, "ben", id), ErrNotOwner)
	assert.ErrorIs(t, srv.Discard(ctx, "ann", id), game.ErrWrongPhase)

	open, err := srv.Create(ctx, "ann", game.ConnectFour, game.Easy, OpponentHuman)
	require.NoError(t, err)
	require.NoError(t, srv.Discard(ctx, "ann", open))

	_, err = srv.Session(ctx, open)
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = st.LoadSession(ctx, open)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWinUpdatesLeaderboard(t *testing.T) {
	net := newFakeNet()
	srv := newServer(t, nil, net)
	greet(t, srv, "ann", "ben")
	ctx := context.Background()
	id := lobby(t, srv)

	moves := []struct {
		player string
		col    int
	}{{"ann", 0}, {"ben", 1}, {"ann", 0}, {"ben", 1}, {"ann", 0}, {"ben", 1}, {"ann", 0}}
	for _, m := range moves {
		ok, err := srv.PlaceTile(ctx, m.player, id, m.col)
		require.NoError(t, err)
		require.True(t, ok)
	}
	srv.Drain()

	snap, err := srv.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.Win, snap.State)
	winner, ok := snap.WinnerPlayer()
	require.True(t, ok)
	assert.Equal(t, "ann", winner.Name)

	_, err = srv.PlaceTile(ctx, "ben", id, 1)
	assert.ErrorIs(t, err, game.ErrSessionFinished)

	last, ok := net.get("ben").newestSync()
	require.True(t, ok)
	assert.Equal(t, game.Win, last.State)
	assert.Equal(t, snap.Version, last.Version)

	wantW, wantL := rating.Adjust(rating.Initial, rating.Initial)
	board, err := srv.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "ann", board[0].Name)
	assert.Equal(t, wantW, board[0].Rating)
	assert.Equal(t, 1, board[0].Wins)
	assert.Equal(t, "ben", board[1].Name)
	assert.Equal(t, wantL, board[1].Rating)

	require.NoError(t, srv.Reset(ctx, "ben", id))
	snap, err = srv.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.Ongoing, snap.State)
	assert.Equal(t, 0, snap.Board.Count())
}

func TestOpenSessions(t *testing.T) {
	srv := newServer(t, nil, newFakeNet())
	greet(t, srv, "ann", "ben", "carol")
	ctx := context.Background()

	_ = lobby(t, srv)
	_, err := srv.Create(ctx, "carol", game.ConnectFour, game.Easy, OpponentAI)
	require.NoError(t, err)
	open, err := srv.Create(ctx, "ann", game.Otto, game.Medium, OpponentHuman)
	require.NoError(t, err)

	list, err := srv.OpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open, list[0].ID)
	assert.Equal(t, game.Otto, list[0].Variant)
}

func TestSubscribe(t *testing.T) {
	srv := newServer(t, nil, newFakeNet())
	greet(t, srv, "ann", "ben")
	ctx := context.Background()
	id := lobby(t, srv)

	_, err := srv.Subscribe(ctx, "missing", func(game.Event) {})
	assert.ErrorIs(t, err, ErrUnknownSession)

	var mu sync.Mutex
	var kinds []game.EventKind
	cancel, err := srv.Subscribe(ctx, id, func(ev game.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})
	require.NoError(t, err)

	_, err = srv.PlaceTile(ctx, "ann", id, 0)
	require.NoError(t, err)
	cancel()
	_, err = srv.PlaceTile(ctx, "ben", id, 0)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []game.EventKind{game.EventBoardChanged, game.EventTurnChanged, game.EventPlayerChanged}, kinds)
}
