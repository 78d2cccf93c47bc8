package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qsweep/internal/hub"
	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/model"
)

func listCmd() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List cached checkpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory containing cached checkpoints",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()

			dir, err := resolveModelsDir(modelsPath, cfg.ModelsDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			client, err := hub.New(hub.Config{ModelsDir: dir, Logger: log})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			checkpoints, err := client.List()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(checkpoints) == 0 {
				log.Info("no checkpoints found", "path", dir)
				return nil
			}

			fmt.Printf("Checkpoints in %s:\n\n", dir)
			for _, cp := range checkpoints {
				size := ""
				if info, err := os.Stat(cp.Model); err == nil {
					size = formatBytes(uint64(info.Size()))
				}

				arch := ""
				if raw, err := os.ReadFile(cp.Config); err == nil {
					if mc, err := model.ParseConfig(raw); err == nil {
						arch = fmt.Sprintf("%s, %dL x %dh, %d labels",
							mc.ModelType, mc.NumLayers, mc.HiddenSize, mc.NumLabels)
					}
				}

				if arch != "" {
					fmt.Printf("  %-32s %10s  (%s)\n", cp.Name, size, arch)
				} else {
					fmt.Printf("  %-32s %10s\n", cp.Name, size)
				}
			}
			fmt.Printf("\n%d checkpoint(s) found\n", len(checkpoints))
			return nil
		},
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
