package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envQsweepModelsDir = "QSWEEP_MODELS_DIR"
	envQsweepHubURL    = "QSWEEP_HUB_URL"
	envQsweepDataDir   = "QSWEEP_DATA_DIR"
)

// resolveModelsDir picks the checkpoint cache directory: flag, then
// environment, then config file, then the user cache dir.
func resolveModelsDir(flagVal, cfgVal string) (string, error) {
	if v := strings.TrimSpace(flagVal); v != "" {
		return filepath.Clean(v), nil
	}
	if v := strings.TrimSpace(os.Getenv(envQsweepModelsDir)); v != "" {
		return filepath.Clean(v), nil
	}
	if v := strings.TrimSpace(cfgVal); v != "" {
		return filepath.Clean(v), nil
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("no models dir: set --models-path or %s (%v)", envQsweepModelsDir, err)
	}
	return filepath.Join(cache, "qsweep", "models"), nil
}

func resolveHubURL(flagVal, cfgVal string) string {
	if v := strings.TrimSpace(flagVal); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(envQsweepHubURL)); v != "" {
		return v
	}
	return strings.TrimSpace(cfgVal)
}

func resolveDataDir(flagVal, cfgVal string) string {
	if v := strings.TrimSpace(flagVal); v != "" {
		return filepath.Clean(v)
	}
	if v := strings.TrimSpace(os.Getenv(envQsweepDataDir)); v != "" {
		return filepath.Clean(v)
	}
	if v := strings.TrimSpace(cfgVal); v != "" {
		return filepath.Clean(v)
	}
	return "data"
}

// resolveDatasetPaths maps a dataset reference to its train and eval
// files. A reference that names a file directly gets no eval file (the
// caller splits); a bare name resolves to <name>.train.<ext> and, when
// present, <name>.test.<ext> under the data dir.
func resolveDatasetPaths(ref, dir string) (trainPath, testPath string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("dataset reference is empty")
	}
	if looksLikeDataFile(ref) {
		if _, err := os.Stat(ref); err != nil {
			return "", "", fmt.Errorf("dataset file: %w", err)
		}
		return filepath.Clean(ref), "", nil
	}
	for _, ext := range []string{"jsonl", "csv"} {
		train := filepath.Join(dir, ref+".train."+ext)
		if _, err := os.Stat(train); err != nil {
			continue
		}
		test := filepath.Join(dir, ref+".test."+ext)
		if _, err := os.Stat(test); err != nil {
			test = ""
		}
		return train, test, nil
	}
	return "", "", fmt.Errorf("dataset %q not found under %s (want %s.train.jsonl or .csv)", ref, dir, ref)
}

func looksLikeDataFile(ref string) bool {
	if strings.ContainsRune(ref, os.PathSeparator) || strings.HasPrefix(ref, ".") || filepath.IsAbs(ref) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(ref))
	return ext == ".jsonl" || ext == ".csv"
}
