package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qsweep/internal/api"
	"github.com/samcharles93/qsweep/internal/dataset"
	"github.com/samcharles93/qsweep/internal/journal"
	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/internal/search"
	"github.com/samcharles93/qsweep/internal/train"
	"github.com/samcharles93/qsweep/pkg/qblock"
)

func tuneCmd() *cli.Command {
	var (
		s             tuneSettings
		direction     string
		journalPath   string
		resume        bool
		dashboardAddr string
		outPath       string
		sweepPath     string
	)

	flags := append(commonModelFlags(), commonDataFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "dataset",
			Aliases:     []string{"d"},
			Usage:       "dataset name, data file, or \"synthetic\"",
			Value:       "synthetic",
			Destination: &s.dataset,
		},
		&cli.StringFlag{
			Name:        "name",
			Usage:       "study name (defaults to <model>-<dataset>)",
			Destination: &s.studyName,
		},
		&cli.StringFlag{
			Name:        "sampler",
			Usage:       "search strategy: grid, random, or tpe",
			Value:       "tpe",
			Destination: &s.sampler,
		},
		&cli.Int64Flag{
			Name:        "trials",
			Aliases:     []string{"t"},
			Usage:       "maximum number of trials",
			Value:       20,
			Destination: &s.trials,
		},
		&cli.Int64Flag{
			Name:        "timeout",
			Usage:       "overall sweep timeout in seconds (0 = none)",
			Destination: &s.timeoutSecs,
		},
		&cli.StringFlag{
			Name:        "direction",
			Usage:       "maximize or minimize the objective",
			Value:       "maximize",
			Destination: &direction,
		},
		&cli.StringFlag{
			Name:        "bits",
			Usage:       "comma-separated weight widths to search",
			Value:       "4,8",
			Destination: &s.bits,
		},
		&cli.BoolFlag{
			Name:        "search-act-bits",
			Usage:       "also search int8 vs f32 activations per layer",
			Destination: &s.searchActBits,
		},
		&cli.StringFlag{
			Name:        "journal",
			Aliases:     []string{"j"},
			Usage:       "journal path (defaults to <study>.jsonl)",
			Destination: &journalPath,
		},
		&cli.BoolFlag{
			Name:        "resume",
			Usage:       "resume from the journal if it exists",
			Destination: &resume,
		},
		&cli.StringFlag{
			Name:        "dashboard",
			Usage:       "serve the live dashboard on this address while tuning",
			Destination: &dashboardAddr,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "write the winning plan to this JSON file",
			Destination: &outPath,
		},
		&cli.StringFlag{
			Name:        "sweep",
			Usage:       "YAML sweep definition",
			Destination: &sweepPath,
		},
		&cli.Int64Flag{
			Name:        "epochs",
			Usage:       "training epochs per trial",
			Value:       1,
			Destination: &s.epochs,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Usage:       "training batch size",
			Value:       16,
			Destination: &s.batchSize,
		},
		&cli.Float64Flag{
			Name:        "lr",
			Usage:       "SGD learning rate",
			Value:       0.05,
			Destination: &s.learningRate,
		},
		&cli.Float64Flag{
			Name:        "momentum",
			Usage:       "SGD momentum",
			Value:       0.9,
			Destination: &s.momentum,
		},
		&cli.Int64Flag{
			Name:        "max-examples",
			Usage:       "cap training examples per trial (0 = all)",
			Destination: &s.maxExamples,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "parallel feature extraction workers",
			Value:       1,
			Destination: &s.workers,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "RNG seed for sampling, shuffling and synthetic data",
			Value:       42,
			Destination: &s.seed,
		},
		&cli.Int64Flag{
			Name:        "max-len",
			Usage:       "sequence length cap",
			Value:       128,
			Destination: &s.maxLen,
		},
		&cli.Int64Flag{
			Name:        "limit",
			Usage:       "cap dataset size before splitting (0 = all)",
			Destination: &s.limit,
		},
		&cli.Float64Flag{
			Name:        "split",
			Usage:       "train fraction when the dataset has no test file",
			Value:       0.8,
			Destination: &s.splitFrac,
		},
	)

	return &cli.Command{
		Name:      "tune",
		Usage:     "Search per-layer quantization choices against fine-tune accuracy",
		UsageText: "qsweep tune --model <ref> --dataset <ref> [flags]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyTuneConfig(cmd, cfg, &s)
			if sweepPath != "" {
				sw, err := loadSweepFile(sweepPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				applySweepFile(cmd, sw, &s)
			}

			bitsLo, bitsHi, bitsStep, err := parseBits(s.bits)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dir, err := search.ParseDirection(direction)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			sampler, err := search.ByName(s.sampler, s.seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			client, err := newHubClient(cfg, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			m, tok, cp, err := client.Load(ctx, modelRef)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}

			trainEnc, evalEnc, err := loadTuneData(&s, cfg, m, tok)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var slotNames []string
			for _, slot := range m.NamedLinears() {
				if model.Swappable(slot.Name, slot.Get()) {
					slotNames = append(slotNames, slot.Name)
				}
			}
			if len(slotNames) == 0 {
				return cli.Exit("error: model has no swappable layers", 1)
			}

			space := search.NewSpace()
			for _, name := range slotNames {
				space.Categorical(name+".kind", model.KindDense, model.KindQuant)
				space.Int(name+".bits", bitsLo, bitsHi, bitsStep)
				if s.searchActBits {
					space.Categorical(name+".act", "int8", "f32")
				}
			}
			fingerprint := space.Fingerprint()

			studyName := s.studyName
			if studyName == "" {
				studyName = cp.Name + "-" + datasetLabel(s.dataset)
			}
			if journalPath == "" {
				journalPath = studyName + ".jsonl"
			}

			// A resumed sweep keeps its UUID and trial history so the
			// sampler sees past results and new IDs continue the
			// sequence. The space fingerprint guards against feeding a
			// sampler history from an incompatible space.
			var (
				studyUUID  string
				seedTrials []*search.Trial
			)
			if resume {
				if _, statErr := os.Stat(journalPath); statErr == nil {
					header, trials, err := journal.Replay(journalPath, log)
					if err != nil {
						return cli.Exit(fmt.Sprintf("error: %v", err), 1)
					}
					if header.Space != fingerprint {
						return cli.Exit(fmt.Sprintf("error: journal %s was recorded for a different search space", journalPath), 1)
					}
					if header.Sampler != sampler.Name() {
						log.Warn("sampler changed since journal was written",
							"journal", header.Sampler, "current", sampler.Name())
					}
					studyUUID = header.UUID
					seedTrials = trials
					log.Info("resuming sweep", "journal", journalPath, "trials", len(trials))
				}
			}

			st, err := search.NewStudy(search.StudyConfig{
				Name:      studyName,
				Space:     space,
				Sampler:   sampler,
				Direction: dir,
				UUID:      studyUUID,
				Logger:    log,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			st.Seed(seedTrials)

			var jw *journal.Writer
			if seedTrials != nil {
				jw, err = journal.Open(journalPath)
			} else {
				jw, err = journal.Create(journalPath, journal.Header{
					Name:       studyName,
					UUID:       st.UUID(),
					Direction:  dir.String(),
					Sampler:    sampler.Name(),
					Space:      fingerprint,
					Checkpoint: cp.Name,
				})
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer jw.Close()
			st.AddCallback(func(_ *search.Study, t *search.Trial) {
				if err := jw.WriteTrial(t); err != nil {
					log.Warn("journal write failed", "trial", t.ID, "err", err)
				}
			})

			if dashboardAddr != "" {
				store := api.NewStore()
				store.Track(st)
				server := api.NewServer(store, log)
				e := echo.New()
				e.Use(middleware.Recover())
				server.Register(e)
				go func() {
					sc := echo.StartConfig{Address: dashboardAddr}
					err := sc.Start(ctx, e)
					if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
						log.Warn("dashboard stopped", "err", err)
					}
				}()
				log.Info("dashboard listening", "address", dashboardAddr)
			}

			trainer := train.New(train.Config{
				Epochs:       int(s.epochs),
				BatchSize:    int(s.batchSize),
				LearningRate: s.learningRate,
				Momentum:     s.momentum,
				Seed:         s.seed,
				MaxExamples:  int(s.maxExamples),
				Workers:      int(s.workers),
			}, log)

			objective := func(ctx context.Context, t *search.Trial) (float64, error) {
				choices := make(map[string]model.Choice, len(slotNames))
				for _, name := range slotNames {
					kind, err := t.SuggestCategorical(name+".kind", model.KindDense, model.KindQuant)
					if err != nil {
						return 0, err
					}
					c := model.Choice{Kind: kind}
					if kind == model.KindQuant {
						b, err := t.SuggestInt(name+".bits", bitsLo, bitsHi, bitsStep)
						if err != nil {
							return 0, err
						}
						c.Bits = int(b)
						if s.searchActBits {
							act, err := t.SuggestCategorical(name+".act", "int8", "f32")
							if err != nil {
								return 0, err
							}
							if act == "f32" {
								c.ActBits = 32
							}
						}
					}
					choices[name] = c
				}

				tm := m.Clone()
				report, err := model.Mutate(tm, func(name string, _ model.Linear) (model.Choice, error) {
					if c, ok := choices[name]; ok {
						return c, nil
					}
					return model.Choice{Kind: model.KindDense}, nil
				})
				if err != nil {
					return 0, err
				}

				res, err := trainer.Run(ctx, tm, trainEnc)
				if err != nil {
					return 0, err
				}
				acc, err := train.Evaluate(ctx, tm, evalEnc)
				if err != nil {
					return 0, err
				}
				log.Info("trial evaluated",
					"trial", t.ID,
					"accuracy", fmt.Sprintf("%.4f", acc),
					"train_acc", fmt.Sprintf("%.4f", res.Accuracy),
					"loss", fmt.Sprintf("%.4f", res.Loss),
					"quant_layers", report.QuantLayers(),
					"compression", fmt.Sprintf("%.2fx", report.Compression()),
				)
				return acc, nil
			}

			log.Info("starting sweep",
				"study", studyName,
				"sampler", sampler.Name(),
				"trials", s.trials,
				"timeout_secs", s.timeoutSecs,
				"layers", len(slotNames),
				"params", space.Len(),
			)
			err = st.Optimize(ctx, objective, int(s.trials), time.Duration(s.timeoutSecs)*time.Second)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				log.Warn("sweep interrupted, reporting completed trials")
			}

			printLeaderboard(st)

			best, ok := st.BestTrial()
			if !ok {
				return cli.Exit("error: no completed trials", 1)
			}
			if outPath != "" {
				plan := planFromTrial(st, best, cp.Name, datasetLabel(s.dataset), slotNames)
				if err := savePlan(outPath, plan); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				log.Info("wrote best plan", "path", outPath, "trial", best.ID)
			}
			return nil
		},
	}
}

// loadTuneData resolves the dataset reference, splits off an eval set
// when the dataset has no test file, and tokenizes both splits.
func loadTuneData(s *tuneSettings, cfg Config, m *model.Classifier, tok dataset.Encoder) (trainEnc, evalEnc []dataset.Encoded, err error) {
	var trainDS, evalDS dataset.Dataset
	haveEval := false

	if s.dataset == "" || s.dataset == "synthetic" {
		n := int(s.limit)
		if n <= 0 {
			n = 256
		}
		trainDS = dataset.Synthetic(n, s.seed)
	} else {
		trainPath, testPath, err := resolveDatasetPaths(s.dataset, resolveDataDir(dataDir, cfg.DataDir))
		if err != nil {
			return nil, nil, err
		}
		trainDS, err = dataset.Load(trainPath)
		if err != nil {
			return nil, nil, err
		}
		if s.limit > 0 {
			trainDS.Truncate(int(s.limit))
		}
		if testPath != "" {
			evalDS, err = dataset.Load(testPath)
			if err != nil {
				return nil, nil, err
			}
			haveEval = true
		}
	}
	if !haveEval {
		trainDS, evalDS = trainDS.Split(s.splitFrac, s.seed)
	}
	if trainDS.Len() == 0 || evalDS.Len() == 0 {
		return nil, nil, fmt.Errorf("dataset %q is too small to split into train and eval", s.dataset)
	}
	if nc := trainDS.NumClasses(); nc > m.Config.NumLabels {
		return nil, nil, fmt.Errorf("dataset has %d classes but the model outputs %d labels", nc, m.Config.NumLabels)
	}

	trainEnc, err = trainDS.Encode(tok, int(s.maxLen))
	if err != nil {
		return nil, nil, err
	}
	evalEnc, err = evalDS.Encode(tok, int(s.maxLen))
	if err != nil {
		return nil, nil, err
	}
	return trainEnc, evalEnc, nil
}

// parseBits turns a comma list like "2,4,6,8" into the inclusive range
// an integer parameter needs. The list must be evenly spaced because
// samplers draw from a uniform step grid.
func parseBits(spec string) (lo, hi, step int64, err error) {
	seen := make(map[int64]bool)
	var vals []int64
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("bits %q: %w", part, err)
		}
		if _, err := qblock.DTypeForBits(int(v)); err != nil {
			return 0, 0, 0, err
		}
		if !seen[v] {
			seen[v] = true
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0, 0, fmt.Errorf("empty bits list %q", spec)
	}
	slices.Sort(vals)
	if len(vals) == 1 {
		return vals[0], vals[0], 1, nil
	}
	step = vals[1] - vals[0]
	for i := 2; i < len(vals); i++ {
		if vals[i]-vals[i-1] != step {
			return 0, 0, 0, fmt.Errorf("bits list %q must be evenly spaced", spec)
		}
	}
	return vals[0], vals[len(vals)-1], step, nil
}

// datasetLabel shortens a dataset reference for study and plan names.
func datasetLabel(ref string) string {
	if ref == "" {
		return "synthetic"
	}
	base := filepath.Base(ref)
	base = strings.TrimSuffix(base, ".jsonl")
	base = strings.TrimSuffix(base, ".csv")
	base = strings.TrimSuffix(base, ".train")
	return base
}

func planFromTrial(st *search.Study, t *search.Trial, checkpoint, datasetName string, slots []string) *bestPlan {
	layers := make(map[string]layerPlan, len(slots))
	for _, name := range slots {
		kind := t.Params[name+".kind"].Str
		if kind == "" {
			continue
		}
		lp := layerPlan{Kind: kind}
		if kind == model.KindQuant {
			lp.Bits = int(t.Params[name+".bits"].Int)
			if t.Params[name+".act"].Str == "f32" {
				lp.ActBits = 32
			}
		}
		layers[name] = lp
	}
	return &bestPlan{
		Study:      st.Name(),
		Trial:      t.ID,
		Value:      t.Value,
		Direction:  st.Direction().String(),
		Checkpoint: checkpoint,
		Dataset:    datasetName,
		Layers:     layers,
	}
}

// printLeaderboard renders the top completed trials and the winner.
func printLeaderboard(st *search.Study) {
	all := st.Trials()
	completed := make([]*search.Trial, 0, len(all))
	failed := 0
	for _, t := range all {
		switch t.State {
		case search.StateComplete:
			completed = append(completed, t)
		case search.StateFailed:
			failed++
		}
	}

	fmt.Println()
	fmt.Println(headerStyle.Render(fmt.Sprintf("=== %s: %d trials, %d failed ===", st.Name(), len(all), failed)))
	if len(completed) == 0 {
		fmt.Println(dimStyle.Render("no completed trials"))
		return
	}

	dir := st.Direction()
	sort.SliceStable(completed, func(i, j int) bool {
		if dir == search.Minimize {
			return completed[i].Value < completed[j].Value
		}
		return completed[i].Value > completed[j].Value
	})
	show := completed
	if len(show) > 10 {
		show = show[:10]
	}
	fmt.Printf("%-5s %-6s %10s %10s  %s\n", "rank", "trial", "value", "duration", "layers")
	for i, t := range show {
		line := fmt.Sprintf("%-5d %-6d %10.4f %10s  %s",
			i+1, t.ID, t.Value, t.Duration().Round(time.Second), summarizeParams(t))
		if i == 0 {
			line = bestStyle.Render(line)
		}
		fmt.Println(line)
	}

	best := show[0]
	fmt.Println()
	fmt.Println(summaryStyle.Render(fmt.Sprintf("best: trial %d  value %.4f  %s",
		best.ID, best.Value, summarizeParams(best))))
}

// summarizeParams collapses per-layer choices into counts, for example
// "4x q4, 2x q8/f32, 2x dense".
func summarizeParams(t *search.Trial) string {
	counts := make(map[string]int)
	for name, v := range t.Params {
		if !strings.HasSuffix(name, ".kind") {
			continue
		}
		slot := strings.TrimSuffix(name, ".kind")
		key := v.Str
		if v.Str == model.KindQuant {
			key = fmt.Sprintf("q%d", t.Params[slot+".bits"].Int)
			if t.Params[slot+".act"].Str == "f32" {
				key += "/f32"
			}
		}
		counts[key]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%dx %s", counts[k], k))
	}
	return strings.Join(parts, ", ")
}
