package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

var errNotOnHub = errors.New("file not on hub")

// Fetch downloads a checkpoint by name into the models dir and
// resolves it. Required files that the hub cannot serve fail the
// fetch; a missing tokenizer variant is fine as long as the other one
// exists. Downloads go through a temp file and rename, so an
// interrupted fetch never leaves a half-written checkpoint file.
// There are no retries: a flaky hub surfaces as an error.
func (c *Client) Fetch(ctx context.Context, name string) (Checkpoint, error) {
	if c.baseURL == "" {
		return Checkpoint{}, fmt.Errorf("hub: checkpoint %q not cached and no hub URL configured", name)
	}
	if looksLikePath(name) {
		return Checkpoint{}, fmt.Errorf("hub: refusing to fetch path-like reference %q", name)
	}

	dir := filepath.Join(c.modelsDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Checkpoint{}, fmt.Errorf("hub: create %s: %w", dir, err)
	}
	c.log.Info("fetching checkpoint", "name", name, "url", c.baseURL)

	required := []string{configFile, modelFile}
	for _, file := range required {
		if err := c.fetchFile(ctx, name, file, dir); err != nil {
			return Checkpoint{}, fmt.Errorf("hub: fetch %s/%s: %w", name, file, err)
		}
	}

	optional := []string{tokenizerFile, tokConfigFile, vocabFile}
	var tokenizers int
	for _, file := range optional {
		err := c.fetchFile(ctx, name, file, dir)
		switch {
		case err == nil:
			if file != tokConfigFile {
				tokenizers++
			}
		case errors.Is(err, errNotOnHub):
			c.log.Debug("hub does not serve file", "name", name, "file", file)
		default:
			return Checkpoint{}, fmt.Errorf("hub: fetch %s/%s: %w", name, file, err)
		}
	}
	if tokenizers == 0 {
		return Checkpoint{}, fmt.Errorf("hub: checkpoint %q has neither %s nor %s", name, tokenizerFile, vocabFile)
	}

	return c.Resolve(name)
}

// Ensure resolves a reference, fetching it from the hub when it is a
// bare name that is not cached yet.
func (c *Client) Ensure(ctx context.Context, ref string) (Checkpoint, error) {
	cp, err := c.Resolve(ref)
	if err == nil {
		return cp, nil
	}
	if looksLikePath(ref) || c.baseURL == "" {
		return Checkpoint{}, err
	}
	return c.Fetch(ctx, ref)
}

func (c *Client) fetchFile(ctx context.Context, name, file, dir string) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, name, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotOnHub
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	dst := filepath.Join(dir, file)
	tmp, err := os.CreateTemp(dir, file+".tmp*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	tmpPath = ""

	c.log.Info("downloaded", "file", file, "bytes", n)
	return nil
}
