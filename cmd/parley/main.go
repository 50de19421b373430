package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/roomsync"
	"github.com/parley-chat/parley/internal/tui"
)

func main() {
	app := &cli.App{
		Name:  "parley",
		Usage: "terminal client for multi-agent chat rooms",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a parley.toml"},
			&cli.StringFlag{Name: "server", Usage: "override the server base URL"},
			&cli.StringFlag{Name: "api-key", Usage: "override the session credential"},
			&cli.StringFlag{Name: "log-level", Usage: "override the log level"},
		},
		Commands: []*cli.Command{
			{
				Name:  "rooms",
				Usage: "list the rooms visible to this credential",
				Action: func(c *cli.Context) error {
					_, _, client, err := setup(c)
					if err != nil {
						return err
					}
					rooms, err := client.ListRooms(c.Context)
					if err != nil {
						return err
					}
					for _, r := range rooms {
						fmt.Printf("%s  %s\n", r.ID, r.Name)
					}
					return nil
				},
			},
			{
				Name:  "send",
				Usage: "send one message to a room and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "room", Required: true},
					&cli.StringFlag{Name: "message", Required: true, Aliases: []string{"m"}},
				},
				Action: func(c *cli.Context) error {
					_, _, client, err := setup(c)
					if err != nil {
						return err
					}
					msg, err := client.SendMessage(c.Context, c.String("room"), models.SendMessageRequest{
						Content: c.String("message"),
						Role:    models.RoleUser,
					})
					if err != nil {
						return err
					}
					fmt.Printf("sent message %d\n", msg.ID)
					return nil
				},
			},
			{
				Name:  "tail",
				Usage: "follow a room headlessly, printing messages as they commit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "room", Required: true},
				},
				Action: func(c *cli.Context) error {
					cfg, log, client, err := setup(c)
					if err != nil {
						return err
					}
					return runTail(cfg, log, client, c.String("room"))
				},
			},
			{
				Name:  "chat",
				Usage: "open the interactive chat view for a room",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "room", Required: true},
				},
				Action: func(c *cli.Context) error {
					cfg, log, client, err := setup(c)
					if err != nil {
						return err
					}

					engine := roomsync.New(client, roomsync.Options{
						PollInterval:         cfg.Sync.PollInterval,
						SettleDelay:          cfg.Sync.SettleDelay,
						MaxReconnectAttempts: cfg.Sync.MaxReconnectAttempts,
						Logger:               &log,
					})
					engine.EnterRoom(c.String("room"))
					defer engine.Close()

					_, err = tea.NewProgram(tui.NewModel(engine), tea.WithAltScreen()).Run()
					return err
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration, applies flag overrides and builds the shared
// logger and API client.
func setup(c *cli.Context) (*config.Config, zerolog.Logger, *api.Client, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if v := c.String("server"); v != "" {
		cfg.Server.URL = v
	}
	if v := c.String("api-key"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := config.Validate(cfg); err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	client := api.NewClient(cfg.Server.URL, api.Credentials{APIKey: cfg.Server.APIKey},
		api.WithLogger(log))
	return cfg, log, client, nil
}

// runTail drives an engine session without a UI, emitting each committed
// message once, in id order, until interrupted.
func runTail(cfg *config.Config, log zerolog.Logger, client *api.Client, roomID string) error {
	engine := roomsync.New(client, roomsync.Options{
		PollInterval:         cfg.Sync.PollInterval,
		SettleDelay:          cfg.Sync.SettleDelay,
		MaxReconnectAttempts: cfg.Sync.MaxReconnectAttempts,
		Logger:               &log,
	})
	engine.EnterRoom(roomID)
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var printed int64
	warned := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-engine.Changes():
		}

		snap := engine.Snapshot()
		for _, msg := range snap.Messages {
			if msg.ID <= printed {
				continue
			}
			printed = msg.ID
			name := msg.ParticipantName
			if name == "" {
				name = string(msg.Role)
			}
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format(time.TimeOnly), name, msg.Content)
		}
		if snap.Push.State == roomsync.PushTerminal && !warned {
			warned = true
			fmt.Fprintln(os.Stderr, "live updates lost; continuing on polling")
		}
	}
}
