package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qsweep/internal/api"
	"github.com/samcharles93/qsweep/internal/journal"
	"github.com/samcharles93/qsweep/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		journalDir  string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sweep dashboard and REST API from saved journals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "journal-dir",
				Aliases:     []string{"j"},
				Usage:       "directory of sweep journals (*.jsonl)",
				Value:       ".",
				Destination: &journalDir,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyServeConfig(cmd, cfg, &addr)

			store := api.NewStore()
			paths, err := filepath.Glob(filepath.Join(journalDir, "*.jsonl"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			for _, path := range paths {
				header, trials, err := journal.Replay(path, log)
				if err != nil {
					log.Warn("skipping journal", "path", path, "error", err)
					continue
				}
				if err := store.LoadJournal(header, trials); err != nil {
					log.Warn("skipping journal", "path", path, "error", err)
					continue
				}
				log.Info("loaded journal", "path", path, "study", header.Name, "trials", len(trials))
			}
			if len(paths) == 0 {
				log.Warn("no journals found", "dir", journalDir)
			}

			server := api.NewServer(store, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "studies", len(store.List()))
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
