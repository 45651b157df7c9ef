package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/canopywatch/alert-engine/internal/render"
)

// WriteArtifact renders an artifact to path atomically: the page is written
// to a temp file in the same directory and renamed into place, so readers
// never observe a half-written map. The initial render and every
// regeneration go through this one function.
func WriteArtifact(path string, r render.Renderer, in render.MapInputs) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := r.Render(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace artifact %s: %w", path, err)
	}
	return nil
}
