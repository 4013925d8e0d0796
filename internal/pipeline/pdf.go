package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

// maxPageWorkers bounds concurrent page extraction per document.
const maxPageWorkers = 4

// processPDF splits a staged PDF into one preview image per page. Page
// text is extracted concurrently and rendered onto a page canvas; the
// resulting PNGs are written to the storage backend under the job id.
func (p *Pipeline) processPDF(ctx context.Context, jobID string, f tempstore.StagedFile) ([]models.ProcessedImage, error) {
	content, err := os.ReadFile(f.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged pdf: %w", err)
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	base := strings.TrimSuffix(filepath.Base(f.OriginalName), filepath.Ext(f.OriginalName))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPageWorkers)

	results := make([]models.ProcessedImage, numPages)
	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}

			preview := renderPagePreview(text)

			var buf bytes.Buffer
			if err := encodePNG(&buf, preview); err != nil {
				return fmt.Errorf("failed to encode page %d: %w", pageNum, err)
			}

			name := fmt.Sprintf("%s_page_%d.png", base, pageNum)
			key := filepath.Join(jobID, name)
			path, err := p.store.Store(ctx, &buf, key)
			if err != nil {
				return fmt.Errorf("failed to store page %d: %w", pageNum, err)
			}

			results[pageNum-1] = models.ProcessedImage{
				ID:         uuid.NewString(),
				Name:       name,
				Path:       path,
				PageNumber: pageNum,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	images := make([]models.ProcessedImage, 0, numPages)
	for _, img := range results {
		if img.ID != "" {
			images = append(images, img)
		}
	}
	sort.Slice(images, func(i, j int) bool {
		return images[i].PageNumber < images[j].PageNumber
	})

	p.logger.Debug("pdf split into pages",
		logger.String("jobId", jobID),
		logger.String("file", f.OriginalName),
		logger.Int("pages", len(images)),
	)

	return images, nil
}
