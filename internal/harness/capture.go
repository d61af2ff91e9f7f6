package harness

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"time"
)

// writeArtifact stores data at path through a temporary sibling file so a
// failed write never leaves a partial image behind. An existing file at path
// is replaced.
func writeArtifact(path string, data []byte, now time.Time) (*Artifact, error) {
	if len(data) == 0 {
		return nil, errors.New("capture produced no image data")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".appshot-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return nil, fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("close image: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return nil, fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return nil, fmt.Errorf("replace %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	art := &Artifact{
		Path:       path,
		Bytes:      int64(len(data)),
		SHA256:     hex.EncodeToString(sum[:]),
		CapturedAt: now,
	}

	// Dimensions are informational; non-PNG backends simply leave them zero.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		art.Width = cfg.Width
		art.Height = cfg.Height
	}

	return art, nil
}
