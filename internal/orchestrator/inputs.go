package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// InputSource opens uploaded genotype files by name for submission to a
// provider.
type InputSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirInputSource serves input files from a local staging directory.
type DirInputSource struct {
	Dir string
}

func (d DirInputSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	clean := filepath.Clean(name)
	if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid input file name %q", name)
	}
	f, err := os.Open(filepath.Join(d.Dir, clean))
	if err != nil {
		return nil, fmt.Errorf("opening input %q: %w", name, err)
	}
	return f, nil
}
