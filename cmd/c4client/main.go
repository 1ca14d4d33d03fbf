// cmd/c4client/main.go
//
// Terminal player for the connect4 server.
//
// Usage:
//
//	c4client -local [-variant otto] [-difficulty hard]   play the computer offline
//	c4client [-opponent ai|human] [-variant ...]          create a session
//	c4client -join <session-id>                           join a session
//	c4client -list                                        list open sessions
//
// Moves are column numbers typed on stdin. Server address, player name and
// callback endpoint come from the environment (see internal/config).

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/connect4/internal/client"
	"github.com/robalobadob/connect4/internal/config"
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/table"
)

type options struct {
	local      bool
	list       bool
	join       string
	opponent   string
	variant    game.Variant
	difficulty game.Difficulty
}

func main() {
	var opts options
	var variant, difficulty string
	flag.BoolVar(&opts.local, "local", false, "play against the computer without a server")
	flag.BoolVar(&opts.list, "list", false, "list open sessions and exit")
	flag.StringVar(&opts.join, "join", "", "join the session with this id")
	flag.StringVar(&opts.opponent, "opponent", "ai", "opponent of a new session: ai or human")
	flag.StringVar(&variant, "variant", "connect4", "connect4 or otto")
	flag.StringVar(&difficulty, "difficulty", "medium", "easy, medium or hard")
	flag.Parse()

	var err error
	if opts.variant, err = game.ParseVariant(variant); err != nil {
		fatal(err)
	}
	if opts.difficulty, err = game.ParseDifficulty(difficulty); err != nil {
		fatal(err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fatal(err)
	}
	config.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.local {
		err = playLocal(ctx, opts)
	} else {
		err = playRemote(ctx, cfg, opts)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "c4client:", err)
	os.Exit(1)
}

// columns reads column numbers from stdin until EOF or ctx ends.
func columns(ctx context.Context) <-chan int {
	out := make(chan int)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			col, err := strconv.Atoi(text)
			if err != nil {
				fmt.Printf("not a column: %q\n", text)
				continue
			}
			select {
			case out <- col:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// notifier turns bus events into a coalesced redraw signal.
func notifier(bus *game.Bus) (<-chan struct{}, func()) {
	redraw := make(chan struct{}, 1)
	h := bus.Subscribe(func(ev game.Event) {
		switch ev.Kind {
		case game.EventPlayerChanged, game.EventCompleted, game.EventReset:
			select {
			case redraw <- struct{}{}:
			default:
			}
		}
	})
	return redraw, func() { bus.Unsubscribe(h) }
}

func render(snap game.Snapshot, me string) {
	fmt.Print("\n", snap.Board.Render(snap.Variant))
	switch snap.State {
	case game.Win:
		if w, ok := snap.WinnerPlayer(); ok {
			fmt.Printf("%s wins.\n", w.Name)
		}
	case game.Draw:
		fmt.Println("Draw.")
	case game.Waiting:
		fmt.Println("Waiting for an opponent...")
	default:
		if p, ok := snap.CurrentPlayer(); ok {
			if p.Name == me {
				fmt.Printf("Your move (0-%d): ", game.Width-1)
			} else {
				fmt.Printf("%s is thinking...\n", p.Name)
			}
		}
	}
}

// ------------------------------- local -------------------------------------

const localName = "you"

func playLocal(ctx context.Context, opts options) error {
	s, err := game.New("", opts.variant, opts.difficulty)
	if err != nil {
		return err
	}
	tbl := table.New(s)
	defer tbl.Close()

	redraw, unsubscribe := notifier(s.Bus())
	defer unsubscribe()

	if err := tbl.Join(game.Player{Name: localName, Kind: game.Human}); err != nil {
		return err
	}
	if err := tbl.Join(game.Player{Name: "computer", Kind: game.AI}); err != nil {
		return err
	}
	if err := tbl.Start(localName); err != nil {
		return err
	}

	moves := columns(ctx)
	for {
		snap := tbl.Snapshot()
		render(snap, localName)
		if snap.State.Finished() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-redraw:
		case col, ok := <-moves:
			if !ok {
				return nil
			}
			placed, err := tbl.PlaceTile(localName, col)
			switch {
			case err != nil:
				fmt.Println(err)
			case !placed:
				fmt.Println("column is full")
			}
		}
	}
}

// ------------------------------- remote ------------------------------------

func playRemote(ctx context.Context, cfg config.Client, opts options) error {
	if cfg.PlayerName == "" {
		return errors.New("PLAYER_NAME is required")
	}
	agent := client.New(cfg.ServerURL, cfg.PlayerName,
		client.WithSecret(cfg.PlayerSecret),
		client.WithHTTPClient(&http.Client{Timeout: cfg.RPCTimeout}),
		client.WithOnStart(func(_, first string) {
			log.Info().Str("first", first).Msg("game started")
		}),
	)

	if opts.list {
		open, err := agent.OpenSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range open {
			fmt.Printf("%s  %s/%s  %d/%d players\n", s.ID, s.Variant, s.Difficulty, len(s.Players), game.RequiredPlayers)
		}
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.CallbackHost, strconv.Itoa(cfg.CallbackPort)))
	if err != nil {
		return fmt.Errorf("callback listener: %w", err)
	}
	cb := &http.Server{Handler: agent.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := cb.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cb.Close()
		return session(ctx, agent, ln.Addr().(*net.TCPAddr), cfg.CallbackHost, opts)
	})
	return g.Wait()
}

func session(ctx context.Context, agent *client.Agent, addr *net.TCPAddr, host string, opts options) error {
	ok, err := agent.Greet(ctx, host, addr.Port)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("server could not reach %s:%d", host, addr.Port)
	}

	redraw, unsubscribe := notifier(agent.Bus())
	defer unsubscribe()

	if opts.join != "" {
		if err := agent.Join(ctx, opts.join); err != nil {
			return err
		}
	} else {
		id, err := agent.Create(ctx, opts.variant, opts.difficulty, opts.opponent)
		if err != nil {
			return err
		}
		fmt.Println("session:", id)
	}

	moves := columns(ctx)
	for {
		snap, _ := agent.Snapshot()
		render(snap, agent.Name())
		if snap.State.Finished() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-redraw:
		case col, ok := <-moves:
			if !ok {
				return nil
			}
			placed, err := agent.PlaceTile(ctx, col)
			switch {
			case err != nil:
				fmt.Println(err)
			case !placed:
				fmt.Println("column is full")
			}
		}
	}
}
