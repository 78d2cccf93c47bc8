package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qsweep/internal/hub"
	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/internal/safetensors"
	"github.com/samcharles93/qsweep/pkg/qblock"
)

func quantizeCmd() *cli.Command {
	var (
		bits     int64
		act      string
		planPath string
		outPath  string
	)

	flags := append(commonModelFlags(),
		&cli.Int64Flag{
			Name:        "bits",
			Aliases:     []string{"b"},
			Usage:       "weight bits for every swappable layer",
			Value:       8,
			Destination: &bits,
		},
		&cli.StringFlag{
			Name:        "act",
			Usage:       "activation precision for quantized layers (int8 or f32)",
			Value:       "int8",
			Destination: &act,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "per-layer plan written by tune --out",
			Destination: &planPath,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "output checkpoint directory or .safetensors path",
			Destination: &outPath,
		},
	)

	return &cli.Command{
		Name:      "quantize",
		Usage:     "Write a quantized copy of a checkpoint",
		UsageText: "qsweep quantize --model <ref> [--bits N | --config plan.json] [--out path]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()

			actBits := 0
			switch act {
			case "", "int8":
			case "f32", "fp32", "float32":
				actBits = 32
			default:
				return cli.Exit(fmt.Sprintf("error: unknown activation precision %q (want int8 or f32)", act), 1)
			}

			var plan *bestPlan
			if planPath != "" {
				p, err := loadPlan(planPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				plan = p
			} else if _, err := qblock.DTypeForBits(int(bits)); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			client, err := newHubClient(cfg, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cp, err := client.Ensure(ctx, modelRef)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			raw, err := os.ReadFile(cp.Config)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			mcfg, err := model.ParseConfig(raw)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			st, err := safetensors.Open(cp.Model)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			m, err := model.LoadClassifier(st, mcfg)
			st.Close()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			choose := uniformChooser(int(bits), actBits)
			if plan != nil {
				choose = planChooser(plan)
			}
			report, err := model.Mutate(m, choose)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			printMutationReport(report)

			if outPath == "" {
				if plan != nil {
					outPath = cp.Name + "-tuned"
				} else {
					outPath = fmt.Sprintf("%s-q%d", cp.Name, bits)
				}
			}
			if err := writeCheckpoint(m, cp, outPath); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("wrote quantized checkpoint",
				"path", outPath,
				"layers", report.QuantLayers(),
				"compression", fmt.Sprintf("%.2fx", report.Compression()))
			return nil
		},
	}
}

// uniformChooser quantizes every swappable layer to the same width.
func uniformChooser(bits, actBits int) func(string, model.Linear) (model.Choice, error) {
	return func(string, model.Linear) (model.Choice, error) {
		return model.Choice{Kind: model.KindQuant, Bits: bits, ActBits: actBits}, nil
	}
}

// planChooser pins each layer to the plan's entry. Layers the plan does
// not mention stay dense.
func planChooser(plan *bestPlan) func(string, model.Linear) (model.Choice, error) {
	return func(name string, _ model.Linear) (model.Choice, error) {
		lp, ok := plan.Layers[name]
		if !ok {
			return model.Choice{Kind: model.KindDense}, nil
		}
		return model.Choice{Kind: lp.Kind, Bits: lp.Bits, ActBits: lp.ActBits}, nil
	}
}

func printMutationReport(r *model.MutationReport) {
	section("Layers")
	fmt.Printf("%-44s %-7s %6s %6s %10s\n", "layer", "kind", "wbits", "abits", "bytes")
	for _, lc := range r.Layers {
		fmt.Printf("%-44s %-7s %6d %6d %10s\n",
			lc.Name, lc.Kind, lc.WeightBits, lc.ActBits, formatBytes(uint64(lc.Bytes)))
	}
	fmt.Printf("\n%d quantized layer(s), %s -> %s (%.2fx compression)\n",
		r.QuantLayers(), formatBytes(uint64(r.BytesBefore)), formatBytes(uint64(r.BytesAfter)), r.Compression())
}

// writeCheckpoint exports the model next to copies of the source
// checkpoint's config and tokenizer files. A .safetensors out path
// writes the bare model file instead.
func writeCheckpoint(m *model.Classifier, cp hub.Checkpoint, outPath string) error {
	w := safetensors.NewWriter()
	if err := m.Export(w); err != nil {
		return err
	}
	if strings.HasSuffix(outPath, ".safetensors") {
		return w.Save(outPath)
	}
	if err := os.MkdirAll(outPath, 0o755); err != nil {
		return err
	}
	if err := w.Save(filepath.Join(outPath, "model.safetensors")); err != nil {
		return err
	}
	for _, src := range []string{cp.Config, cp.Tokenizer, cp.TokConfig, cp.Vocab} {
		if src == "" {
			continue
		}
		if err := copyFile(src, filepath.Join(outPath, filepath.Base(src))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
