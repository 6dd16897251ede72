// Command server runs the development backend: REST endpoints for
// auth, message history and voice presence, plus the realtime sockets the
// sync layer subscribes to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go-chatsync/internal/config"
	"go-chatsync/internal/logging"
	"go-chatsync/internal/server"
	"go-chatsync/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "chatsync-server",
		Usage: "Development backend for the chat sync client",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file", EnvVars: []string{"APP_CONFIG"}},
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides server.addr)"},
			&cli.StringSliceFlag{Name: "seed", Usage: "Create user:password on startup if missing"},
			&cli.BoolFlag{Name: "no-rate-limit", Usage: "Disable per-address rate limits"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Server.Secret == "" {
		return cli.Exit("server.secret (or APP_SECRET) must be set", 2)
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	var seeds []storage.Seed
	for _, s := range c.StringSlice("seed") {
		user, pass, ok := strings.Cut(s, ":")
		if !ok || user == "" || pass == "" {
			return cli.Exit(fmt.Sprintf("bad --seed %q, want user:password", s), 2)
		}
		seeds = append(seeds, server.SeedAccount(user, pass))
	}

	db, err := storage.Connect(storage.Options{
		Path:   cfg.Server.DBPath,
		Models: server.Models(),
		Seeds:  seeds,
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer storage.Close(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.New(server.Options{
		DB:              db,
		Secret:          []byte(cfg.Server.Secret),
		AccessTokenTTL:  cfg.Server.AccessTokenTTL,
		RefreshTokenTTL: cfg.Server.RefreshTokenTTL,
		Logger:          log,
		Gatherer:        reg,
		RateLimit:       !c.Bool("no-rate-limit"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, cfg.Server.Addr)
}
