package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/simulator"
)

func main() {
	app := &cli.App{
		Name:  "parley-sim",
		Usage: "in-memory chat service simulator for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a parley.toml"},
			&cli.StringFlag{Name: "listen", Usage: "override the listen address"},
			&cli.StringFlag{Name: "api-key", Usage: "override the expected credential"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("listen"); v != "" {
		cfg.Sim.ListenAddr = v
	}
	if v := c.String("api-key"); v != "" {
		cfg.Sim.APIKey = v
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	sim := simulator.New(simulator.Config{APIKey: cfg.Sim.APIKey}, log)
	defer sim.Stop()

	for _, id := range sim.RoomIDs() {
		log.Info().Str("room", id).Msg("room available")
	}

	srv := &http.Server{
		Addr:    cfg.Sim.ListenAddr,
		Handler: sim.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Sim.ListenAddr).Msg("simulator listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Announce shutdown on open streams before tearing the listener down
	// so clients close cleanly instead of entering their reconnect loops.
	sim.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
