// Package capture reads and writes dumped request bodies. Dumps are JSON
// files, optionally gzip or brotli compressed, named so the extension tells
// the codec: body.json, body.json.gz, body.json.br.
package capture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Capture is one request body loaded from disk.
type Capture struct {
	Path string
	Body []byte
}

// Load reads one dump, decompressing by extension, and verifies the result
// is JSON. Structural checks beyond validity are the pipeline's job.
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("capture: %s: gzip: %w", path, err)
		}
		defer gz.Close()
		reader = gz
	case strings.HasSuffix(path, ".br"):
		reader = brotli.NewReader(f)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("capture: read %s: %w", path, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("capture: %s: not valid JSON", path)
	}
	return body, nil
}

// LoadDir loads every dump in dir, in name order. Files that fail to load
// are skipped with a warning so one corrupt dump cannot block a batch.
func LoadDir(dir string) ([]Capture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	var captures []Capture
	for _, entry := range entries {
		if entry.IsDir() || !isCaptureName(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		body, err := Load(path)
		if err != nil {
			log.WithField("path", path).Warnf("capture: skipping: %v", err)
			continue
		}
		captures = append(captures, Capture{Path: path, Body: body})
	}
	return captures, nil
}

// Write stores body at path, compressing by the same extension rules Load
// decompresses with.
func Write(path string, body []byte) error {
	data := body
	switch {
	case strings.HasSuffix(path, ".gz"):
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return fmt.Errorf("capture: compress %s: %w", path, err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("capture: compress %s: %w", path, err)
		}
		data = buf.Bytes()
	case strings.HasSuffix(path, ".br"):
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		if _, err := bw.Write(body); err != nil {
			return fmt.Errorf("capture: compress %s: %w", path, err)
		}
		if err := bw.Close(); err != nil {
			return fmt.Errorf("capture: compress %s: %w", path, err)
		}
		data = buf.Bytes()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

func isCaptureName(name string) bool {
	return strings.HasSuffix(name, ".json") ||
		strings.HasSuffix(name, ".json.gz") ||
		strings.HasSuffix(name, ".json.br")
}
