// main.go
//
// Entry point of the connect4 game server.
// Loads configuration, opens the store, and serves HTTP until SIGINT/SIGTERM,
// then shuts down gracefully: stop accepting requests, cancel pending AI
// moves, wait for in-flight notifications, close the store.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/connect4/internal/config"
	"github.com/robalobadob/connect4/internal/httpserver"
	"github.com/robalobadob/connect4/internal/server"
	"github.com/robalobadob/connect4/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	config.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Server) error {
	st, err := store.Open(cfg.Storage, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	gs := server.New(st,
		server.WithAIDelay(cfg.AIDelay),
		server.WithCallbackTimeout(cfg.CallbackTimeout),
	)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpserver.New(gs, st, cfg).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage).Msg("starting connect4 server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		gs.Close()
		return err
	})
	return g.Wait()
}
