package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the qsweep configuration file (~/.config/qsweep/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`
	HubURL    string `yaml:"hub_url"`
	DataDir   string `yaml:"data_dir"`

	// Sweep defaults
	Sampler      string   `yaml:"sampler"`
	Trials       *int64   `yaml:"trials"`
	Timeout      *int64   `yaml:"timeout"`
	Epochs       *int64   `yaml:"epochs"`
	BatchSize    *int64   `yaml:"batch_size"`
	LearningRate *float64 `yaml:"learning_rate"`
	Momentum     *float64 `yaml:"momentum"`
	Seed         *int64   `yaml:"seed"`
	MaxLen       *int64   `yaml:"max_len"`
	Workers      *int64   `yaml:"workers"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qsweep", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// tuneSettings collects everything the tune command resolves from flags,
// the config file and an optional sweep file, in that precedence order.
type tuneSettings struct {
	dataset       string
	sampler       string
	trials        int64
	timeoutSecs   int64
	bits          string
	searchActBits bool
	studyName     string

	epochs       int64
	batchSize    int64
	learningRate float64
	momentum     float64
	maxExamples  int64
	workers      int64
	seed         int64
	maxLen       int64
	limit        int64
	splitFrac    float64
}

// applyTuneConfig applies config file defaults to tune settings when the
// corresponding CLI flag was not explicitly set.
func applyTuneConfig(c *cli.Command, cfg Config, s *tuneSettings) {
	if cfg.Sampler != "" && !c.IsSet("sampler") {
		s.sampler = cfg.Sampler
	}
	if cfg.Trials != nil && !c.IsSet("trials") {
		s.trials = *cfg.Trials
	}
	if cfg.Timeout != nil && !c.IsSet("timeout") {
		s.timeoutSecs = *cfg.Timeout
	}
	if cfg.Epochs != nil && !c.IsSet("epochs") {
		s.epochs = *cfg.Epochs
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		s.batchSize = *cfg.BatchSize
	}
	if cfg.LearningRate != nil && !c.IsSet("lr") {
		s.learningRate = *cfg.LearningRate
	}
	if cfg.Momentum != nil && !c.IsSet("momentum") {
		s.momentum = *cfg.Momentum
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		s.seed = *cfg.Seed
	}
	if cfg.MaxLen != nil && !c.IsSet("max-len") {
		s.maxLen = *cfg.MaxLen
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		s.workers = *cfg.Workers
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// SweepFile is a YAML sweep definition (--sweep). It mirrors the tune
// flags so a run is reproducible from one committed file; explicit CLI
// flags still win.
type SweepFile struct {
	Name          string `yaml:"name"`
	Model         string `yaml:"model"`
	Dataset       string `yaml:"dataset"`
	Sampler       string `yaml:"sampler"`
	Trials        *int64 `yaml:"trials"`
	Timeout       *int64 `yaml:"timeout"`
	Bits          string `yaml:"bits"`
	SearchActBits *bool  `yaml:"search_act_bits"`

	Train struct {
		Epochs       *int64   `yaml:"epochs"`
		BatchSize    *int64   `yaml:"batch_size"`
		LearningRate *float64 `yaml:"learning_rate"`
		Momentum     *float64 `yaml:"momentum"`
		MaxExamples  *int64   `yaml:"max_examples"`
		Workers      *int64   `yaml:"workers"`
		Seed         *int64   `yaml:"seed"`
		MaxLen       *int64   `yaml:"max_len"`
	} `yaml:"train"`
}

func loadSweepFile(path string) (SweepFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SweepFile{}, fmt.Errorf("sweep file: %w", err)
	}
	var sw SweepFile
	if err := yaml.Unmarshal(data, &sw); err != nil {
		return SweepFile{}, fmt.Errorf("sweep file %s: %w", path, err)
	}
	return sw, nil
}

// applySweepFile overlays a sweep definition onto the tune settings.
// It runs after applyTuneConfig so the file beats the global config but
// never an explicit flag.
func applySweepFile(c *cli.Command, sw SweepFile, s *tuneSettings) {
	if sw.Name != "" && !c.IsSet("name") {
		s.studyName = sw.Name
	}
	if sw.Model != "" && !c.IsSet("model") {
		modelRef = sw.Model
	}
	if sw.Dataset != "" && !c.IsSet("dataset") {
		s.dataset = sw.Dataset
	}
	if sw.Sampler != "" && !c.IsSet("sampler") {
		s.sampler = sw.Sampler
	}
	if sw.Trials != nil && !c.IsSet("trials") {
		s.trials = *sw.Trials
	}
	if sw.Timeout != nil && !c.IsSet("timeout") {
		s.timeoutSecs = *sw.Timeout
	}
	if sw.Bits != "" && !c.IsSet("bits") {
		s.bits = sw.Bits
	}
	if sw.SearchActBits != nil && !c.IsSet("search-act-bits") {
		s.searchActBits = *sw.SearchActBits
	}
	if sw.Train.Epochs != nil && !c.IsSet("epochs") {
		s.epochs = *sw.Train.Epochs
	}
	if sw.Train.BatchSize != nil && !c.IsSet("batch-size") {
		s.batchSize = *sw.Train.BatchSize
	}
	if sw.Train.LearningRate != nil && !c.IsSet("lr") {
		s.learningRate = *sw.Train.LearningRate
	}
	if sw.Train.Momentum != nil && !c.IsSet("momentum") {
		s.momentum = *sw.Train.Momentum
	}
	if sw.Train.MaxExamples != nil && !c.IsSet("max-examples") {
		s.maxExamples = *sw.Train.MaxExamples
	}
	if sw.Train.Workers != nil && !c.IsSet("workers") {
		s.workers = *sw.Train.Workers
	}
	if sw.Train.Seed != nil && !c.IsSet("seed") {
		s.seed = *sw.Train.Seed
	}
	if sw.Train.MaxLen != nil && !c.IsSet("max-len") {
		s.maxLen = *sw.Train.MaxLen
	}
}
