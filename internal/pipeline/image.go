package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
)

// maxImageWidth caps processed blueprint pages; wider uploads are scaled
// down preserving aspect ratio.
const maxImageWidth = 1600

// processImage normalizes one staged raster image (grayscale, bounded
// width, PNG) and writes it to the storage backend.
func (p *Pipeline) processImage(ctx context.Context, jobID string, f tempstore.StagedFile) ([]models.ProcessedImage, error) {
	src, err := os.Open(f.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open staged image: %w", err)
	}
	defer src.Close()

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	normalized := normalize(img)

	var buf bytes.Buffer
	if err := encodePNG(&buf, normalized); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(f.OriginalName), filepath.Ext(f.OriginalName))
	name := base + ".png"
	key := filepath.Join(jobID, name)

	path, err := p.store.Store(ctx, &buf, key)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	return []models.ProcessedImage{{
		ID:   uuid.NewString(),
		Name: name,
		Path: path,
	}}, nil
}

// normalize converts a blueprint scan to grayscale and bounds its width.
func normalize(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	if out.Bounds().Dx() > maxImageWidth {
		out = imaging.Resize(out, maxImageWidth, 0, imaging.Lanczos)
	}
	return out
}

func encodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}
