// Package hub resolves checkpoint references to on-disk directories
// and fetches missing checkpoints from a remote hub over HTTP. A
// checkpoint is a directory holding model.safetensors, config.json and
// a tokenizer (tokenizer.json or vocab.txt).
package hub

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samcharles93/qsweep/internal/logger"
)

const (
	modelFile     = "model.safetensors"
	configFile    = "config.json"
	tokenizerFile = "tokenizer.json"
	tokConfigFile = "tokenizer_config.json"
	vocabFile     = "vocab.txt"
)

// Config assembles a hub client.
type Config struct {
	// ModelsDir is the local checkpoint cache.
	ModelsDir string
	// BaseURL enables fetching when non-empty; checkpoint files are
	// expected at BaseURL/<name>/<file>.
	BaseURL string
	// HTTP overrides the download client.
	HTTP   *http.Client
	Logger logger.Logger
}

// Client resolves, fetches and loads checkpoints.
type Client struct {
	modelsDir string
	baseURL   string
	http      *http.Client
	log       logger.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.ModelsDir == "" {
		return nil, fmt.Errorf("hub: models dir is required")
	}
	httpc := cfg.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Minute}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		modelsDir: cfg.ModelsDir,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      httpc,
		log:       log,
	}, nil
}

func (c *Client) ModelsDir() string { return c.modelsDir }

// Checkpoint is a resolved on-disk checkpoint.
type Checkpoint struct {
	Name string
	Dir  string

	Model     string
	Config    string
	Tokenizer string // tokenizer.json, empty if absent
	TokConfig string // tokenizer_config.json, empty if absent
	Vocab     string // vocab.txt, empty if absent
}

// Resolve maps a reference to a local checkpoint without touching the
// network. The reference may be a bare checkpoint name under the
// models dir, a checkpoint directory, or a direct path to a
// .safetensors file sitting next to its config.
func (c *Client) Resolve(ref string) (Checkpoint, error) {
	if ref == "" {
		return Checkpoint{}, fmt.Errorf("hub: empty checkpoint reference")
	}

	if strings.HasSuffix(ref, ".safetensors") {
		if _, err := os.Stat(ref); err != nil {
			return Checkpoint{}, fmt.Errorf("hub: %s: %w", ref, err)
		}
		cp, err := probeDir(filepath.Dir(ref))
		if err != nil {
			return Checkpoint{}, err
		}
		cp.Model = ref
		cp.Name = strings.TrimSuffix(filepath.Base(ref), ".safetensors")
		return cp, nil
	}

	dir := ref
	if !looksLikePath(ref) {
		dir = filepath.Join(c.modelsDir, ref)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("hub: checkpoint %q not found at %s: %w", ref, dir, err)
	}
	if !info.IsDir() {
		return Checkpoint{}, fmt.Errorf("hub: %s is not a directory", dir)
	}
	cp, err := probeDir(dir)
	if err != nil {
		return Checkpoint{}, err
	}
	cp.Name = filepath.Base(dir)
	return cp, nil
}

// looksLikePath reports whether ref names a filesystem location rather
// than a checkpoint under the models dir.
func looksLikePath(ref string) bool {
	return strings.ContainsRune(ref, os.PathSeparator) ||
		strings.HasPrefix(ref, ".") || filepath.IsAbs(ref)
}

// probeDir validates a checkpoint directory and records which optional
// files are present.
func probeDir(dir string) (Checkpoint, error) {
	cp := Checkpoint{Dir: dir}

	model := filepath.Join(dir, modelFile)
	if _, err := os.Stat(model); err != nil {
		// Accept a lone differently-named .safetensors file.
		matches, _ := filepath.Glob(filepath.Join(dir, "*.safetensors"))
		if len(matches) == 1 {
			model = matches[0]
		} else {
			return Checkpoint{}, fmt.Errorf("hub: %s has no %s", dir, modelFile)
		}
	}
	cp.Model = model

	config := filepath.Join(dir, configFile)
	if _, err := os.Stat(config); err != nil {
		return Checkpoint{}, fmt.Errorf("hub: %s has no %s", dir, configFile)
	}
	cp.Config = config

	if p := filepath.Join(dir, tokenizerFile); fileExists(p) {
		cp.Tokenizer = p
	}
	if p := filepath.Join(dir, tokConfigFile); fileExists(p) {
		cp.TokConfig = p
	}
	if p := filepath.Join(dir, vocabFile); fileExists(p) {
		cp.Vocab = p
	}
	return cp, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// List enumerates valid checkpoints under the models dir, sorted by
// name. Directories missing required files are skipped.
func (c *Client) List() ([]Checkpoint, error) {
	entries, err := os.ReadDir(c.modelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hub: read models dir: %w", err)
	}

	var out []Checkpoint
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cp, err := probeDir(filepath.Join(c.modelsDir, e.Name()))
		if err != nil {
			continue
		}
		cp.Name = e.Name()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
