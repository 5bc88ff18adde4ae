package imaging

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"cxr/internal/logging"
)

// Load decodes the JPEG or PNG at path and resizes it to h × w.
func Load(fs afero.Fs, path string, h, w int) (*Tensor, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img, h, w), nil
}

// BatchOptions controls LoadBatch.
type BatchOptions struct {
	Root        string // joined with relative names not found as given
	Height      int
	Width       int
	Workers     int
	Standardize bool
}

// LoadBatch loads files concurrently, keeping their order. The first failure
// cancels the remaining loads.
func LoadBatch(ctx context.Context, fs afero.Fs, files []string, opts BatchOptions) ([]*Tensor, error) {
	logger := logging.New("imaging")
	out := make([]*Tensor, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for i, name := range files {
		path := resolve(fs, opts.Root, name)
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			t, err := Load(fs, path, opts.Height, opts.Width)
			if err != nil {
				return err
			}
			if opts.Standardize {
				if err := Standardize(t); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Debug("loaded batch", "images", len(out), "height", opts.Height, "width", opts.Width)
	return out, nil
}

// resolve returns name when it exists as given, else name under root. Split
// CSVs written by the SIIM step carry full paths while other sources are
// relative to RAW_DATA.
func resolve(fs afero.Fs, root, name string) string {
	if root == "" || filepath.IsAbs(name) {
		return name
	}
	if ok, _ := afero.Exists(fs, name); ok {
		return name
	}
	return filepath.Join(root, name)
}
