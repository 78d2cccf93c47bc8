package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qsweep/internal/dataset"
	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/pkg/qblock"
)

func benchCmd() *cli.Command {
	var (
		dataRef    string
		warmupRuns int64
		benchRuns  int64
		examples   int64
		maxLen     int64
		bits       int64
		planPath   string
		seed       int64
	)

	flags := append(commonModelFlags(), commonDataFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "dataset",
			Aliases:     []string{"d"},
			Usage:       "dataset name, data file, or \"synthetic\"",
			Value:       "synthetic",
			Destination: &dataRef,
		},
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.Int64Flag{
			Name:        "examples",
			Aliases:     []string{"n"},
			Usage:       "examples per run",
			Value:       256,
			Destination: &examples,
		},
		&cli.Int64Flag{
			Name:        "max-len",
			Usage:       "sequence length cap",
			Value:       128,
			Destination: &maxLen,
		},
		&cli.Int64Flag{
			Name:        "bits",
			Aliases:     []string{"b"},
			Usage:       "also benchmark a uniform quantized copy at this width",
			Destination: &bits,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "also benchmark the plan written by tune --out",
			Destination: &planPath,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "synthetic data RNG seed",
			Value:       42,
			Destination: &seed,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure forward-pass throughput, optionally against quantized variants",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()

			if bits > 0 {
				if _, err := qblock.DTypeForBits(int(bits)); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			var plan *bestPlan
			if planPath != "" {
				p, err := loadPlan(planPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				plan = p
			}

			client, err := newHubClient(cfg, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			loadStart := time.Now()
			m, tok, cp, err := client.Load(ctx, modelRef)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			loadDuration := time.Since(loadStart)

			var data dataset.Dataset
			if dataRef == "synthetic" {
				data = dataset.Synthetic(int(examples), seed)
			} else {
				trainPath, _, err := resolveDatasetPaths(dataRef, resolveDataDir(dataDir, cfg.DataDir))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				data, err = dataset.Load(trainPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			data.Truncate(int(examples))
			encoded, err := data.Encode(tok, int(maxLen))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(encoded) == 0 {
				return cli.Exit("error: dataset is empty", 1)
			}
			totalTokens := 0
			for _, ex := range encoded {
				totalTokens += len(ex.IDs)
			}

			type variant struct {
				name string
				m    *model.Classifier
			}
			variants := []variant{{"dense", m}}
			if plan != nil {
				vm := m.Clone()
				if _, err := model.Mutate(vm, planChooser(plan)); err != nil {
					return cli.Exit(fmt.Sprintf("error: apply plan: %v", err), 1)
				}
				variants = append(variants, variant{"tuned", vm})
			}
			if bits > 0 {
				vm := m.Clone()
				if _, err := model.Mutate(vm, uniformChooser(int(bits), 0)); err != nil {
					return cli.Exit(fmt.Sprintf("error: quantize: %v", err), 1)
				}
				variants = append(variants, variant{fmt.Sprintf("q%d", bits), vm})
			}

			fmt.Println("=== qsweep benchmark ===")
			fmt.Printf("Model:    %s (%s)\n", cp.Name, formatBytes(uint64(m.Bytes())))
			fmt.Printf("Dataset:  %s (%d examples, %d tokens)\n", dataRef, len(encoded), totalTokens)
			fmt.Printf("CPUs:     %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:     %s\n", loadDuration.Round(time.Millisecond))
			fmt.Printf("Warmup:   %d runs\n", warmupRuns)
			fmt.Printf("Runs:     %d\n", benchRuns)
			fmt.Println()

			avgExS := make(map[string]float64, len(variants))
			for _, v := range variants {
				for i := range int(warmupRuns) {
					log.Info("warmup run", "variant", v.name, "run", i+1)
					if _, err := benchPass(ctx, v.m, encoded); err != nil {
						return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
					}
				}

				durations := make([]time.Duration, 0, benchRuns)
				for i := range int(benchRuns) {
					log.Info("benchmark run", "variant", v.name, "run", i+1)
					d, err := benchPass(ctx, v.m, encoded)
					if err != nil {
						return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
					}
					durations = append(durations, d)
				}

				fmt.Printf("=== Results: %s (%s) ===\n", v.name, formatBytes(uint64(v.m.Bytes())))
				fmt.Printf("%-6s %12s %12s %10s\n", "Run", "Examples/s", "Tokens/s", "Duration")
				var sumEx, sumTok float64
				for i, d := range durations {
					exs := float64(len(encoded)) / d.Seconds()
					toks := float64(totalTokens) / d.Seconds()
					fmt.Printf("%-6d %12.1f %12.1f %10s\n", i+1, exs, toks, d.Round(time.Millisecond))
					sumEx += exs
					sumTok += toks
				}
				n := float64(len(durations))
				fmt.Printf("\n%-6s %12.1f %12.1f\n\n", "Avg", sumEx/n, sumTok/n)
				avgExS[v.name] = sumEx / n
			}

			if len(variants) > 1 {
				base := variants[0]
				for _, v := range variants[1:] {
					fmt.Printf("%s vs %s: %.2fx examples/s, %.2fx smaller\n",
						v.name, base.name,
						avgExS[v.name]/avgExS[base.name],
						float64(base.m.Bytes())/float64(v.m.Bytes()))
				}
				fmt.Println()
			}

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("Memory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))

			return nil
		},
	}
}

// benchPass runs one forward pass over every encoded example and
// returns the wall time spent.
func benchPass(ctx context.Context, m *model.Classifier, encoded []dataset.Encoded) (time.Duration, error) {
	start := time.Now()
	for _, ex := range encoded {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := m.Forward(ex.IDs); err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}
