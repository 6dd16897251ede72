// Command client is a terminal client for the sync layer: it logs in,
// stores the token pair and follows channels, servers and the personal
// feed, printing every change.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/config"
	"go-chatsync/internal/logging"
	"go-chatsync/internal/rest"
	"go-chatsync/internal/storage"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

type contextKey int

const contextKeyEnv contextKey = iota

// env is what every command needs once the app is prepared.
type env struct {
	cfg   *config.Config
	log   zerolog.Logger
	db    *gorm.DB
	store *auth.SQLiteStore
	api   *rest.Client
}

func getEnv(c *cli.Context) *env {
	return c.Context.Value(contextKeyEnv).(*env)
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatsync-credentials.db"
	}
	return filepath.Join(dir, "chatsync", "credentials.db")
}

func prepareApp(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if cfg.Credentials.Path == "" {
		cfg.Credentials.Path = defaultCredentialsPath()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Credentials.Path), 0o700); err != nil {
		return errors.Wrap(err, "create credentials directory")
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	db, err := storage.Connect(storage.Options{
		Path:   cfg.Credentials.Path,
		Models: []any{&auth.StoredCredential{}},
		Logger: log,
	})
	if err != nil {
		return err
	}
	store, err := auth.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	api, err := rest.New(rest.Options{BaseURL: cfg.API.BaseURL, Tokens: store, Logger: log})
	if err != nil {
		return err
	}

	c.Context = context.WithValue(c.Context, contextKeyEnv, &env{cfg: cfg, log: log, db: db, store: store, api: api})
	return nil
}

func requiresAuth(c *cli.Context) error {
	if err := prepareApp(c); err != nil {
		return err
	}
	if getEnv(c).store.AccessToken() == "" {
		return errors.New("not logged in, run 'chatsync login' first")
	}
	return nil
}

func closeApp(c *cli.Context) error {
	if e, ok := c.Context.Value(contextKeyEnv).(*env); ok {
		return storage.Close(e.db)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "chatsync",
		Usage: "Follow chat channels, servers and voice presence from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file", EnvVars: []string{"APP_CONFIG"}},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Debug logging"},
		},
		Commands: []*cli.Command{
			loginCommand,
			logoutCommand,
			whoamiCommand,
			tailCommand,
			watchCommand,
			feedCommand,
		},
	}
	for _, cmd := range app.Commands {
		cmd.After = closeApp
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
