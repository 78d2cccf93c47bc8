package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qsweep/internal/hub"
	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/internal/safetensors"
)

func inspectCmd() *cli.Command {
	var (
		showTensors bool
		filter      string
		limit       int64
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "tensors",
			Usage:       "print the full tensor table",
			Destination: &showTensors,
		},
		&cli.StringFlag{
			Name:        "filter",
			Usage:       "substring filter for the tensor table",
			Destination: &filter,
		},
		&cli.Int64Flag{
			Name:        "limit",
			Usage:       "max tensor rows to print (0 = all)",
			Value:       50,
			Destination: &limit,
		},
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Summarize a checkpoint: config, tensors, swappable layers",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()

			client, err := newHubClient(cfg, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cp, err := client.Ensure(ctx, modelRef)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve checkpoint: %v", err), 1)
			}

			raw, err := os.ReadFile(cp.Config)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read config: %v", err), 1)
			}
			mc, err := model.ParseConfig(raw)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			section("Model")
			row("Checkpoint", cp.Name)
			row("Type", mc.ModelType)
			rowInt("Layers", mc.NumLayers)
			rowInt("Heads", mc.NumHeads)
			rowInt("Hidden size", mc.HiddenSize)
			rowInt("FFN size", mc.IntermediateSize)
			rowInt("Max position", mc.MaxPosition)
			rowInt("Vocab size", mc.VocabSize)
			row("Labels", strings.Join(mc.LabelNames(), ", "))

			st, err := safetensors.Open(cp.Model)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open checkpoint: %v", err), 1)
			}
			defer func() { _ = st.Close() }()

			printTensorSummary(st)
			if showTensors {
				printTensorTable(st, filter, int(limit))
			}

			c, err := model.LoadClassifier(st, mc)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			printSwappableReport(c)
			return nil
		},
	}
}

func printTensorSummary(st *safetensors.File) {
	var dataBytes int64
	dtypes := make(map[string]int)
	quantized := 0
	for _, name := range st.Names {
		info := st.Tensors[name]
		dataBytes += info.End - info.Start
		if dt, _, _, ok := st.QuantInfo(name); ok {
			quantized++
			dtypes[dt.String()]++
			continue
		}
		dtypes[info.DType]++
	}

	section("Tensors")
	rowInt("Count", len(st.Names))
	row("Data size", formatBytes(uint64(dataBytes)))
	keys := make([]string, 0, len(dtypes))
	for k := range dtypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s x%d", k, dtypes[k]))
	}
	row("Dtypes", strings.Join(parts, ", "))
	rowInt("Quantized payloads", quantized)
}

func printTensorTable(st *safetensors.File, filter string, limit int) {
	section("Tensor index")
	fmt.Printf("%-52s %-8s %-16s %10s\n", "name", "dtype", "shape", "bytes")
	printed := 0
	for _, name := range st.Names {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		if limit > 0 && printed >= limit {
			fmt.Printf("... (%d more, raise --limit)\n", len(st.Names)-printed)
			break
		}
		info := st.Tensors[name]
		dtype := info.DType
		if dt, rows, cols, ok := st.QuantInfo(name); ok {
			dtype = dt.String()
			fmt.Printf("%-52s %-8s %-16s %10s\n", name, dtype,
				fmt.Sprintf("[%d %d]", rows, cols), formatBytes(uint64(info.End-info.Start)))
			printed++
			continue
		}
		fmt.Printf("%-52s %-8s %-16s %10s\n", name, dtype,
			formatShape(info.Shape), formatBytes(uint64(info.End-info.Start)))
		printed++
	}
}

func printSwappableReport(c *model.Classifier) {
	section("Swappable layers")
	fmt.Printf("%-44s %-7s %5s %14s %10s\n", "layer", "kind", "bits", "shape", "bytes")

	var swapBytes int64
	swappable := 0
	for _, slot := range c.NamedLinears() {
		l := slot.Get()
		kind := model.KindDense
		if _, ok := l.(*model.Quant); ok {
			kind = model.KindQuant
		}
		mark := " "
		if model.Swappable(slot.Name, l) {
			mark = "*"
			swappable++
			swapBytes += l.Bytes()
		}
		fmt.Printf("%s %-42s %-7s %5d %14s %10s\n", mark, slot.Name, kind, l.Bits(),
			fmt.Sprintf("%dx%d", l.OutFeatures(), l.InFeatures()), formatBytes(uint64(l.Bytes())))
	}

	total := c.Bytes()
	fmt.Printf("\n%d swappable layer(s) (*), %s of %s weights (%.0f%%)\n",
		swappable, formatBytes(uint64(swapBytes)), formatBytes(uint64(total)),
		100*float64(swapBytes)/float64(total))
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-24s %s\n", label+":", value)
}

func rowInt(label string, v int) {
	if v == 0 {
		return
	}
	row(label, fmt.Sprintf("%d", v))
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "[]"
	}
	parts := make([]string, len(shape))
	for i, v := range shape {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// newHubClient wires the hub from flags and config.
func newHubClient(cfg Config, log logger.Logger) (*hub.Client, error) {
	dir, err := resolveModelsDir(modelsPath, cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	return hub.New(hub.Config{
		ModelsDir: dir,
		BaseURL:   resolveHubURL(hubURL, cfg.HubURL),
		Logger:    log,
	})
}
