package blueprint

import (
	"context"
	"errors"

	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
)

// ErrTokenNotFound marks a staging token that is unknown or already
// reclaimed. Handlers map it to 404.
var ErrTokenNotFound = errors.New("token not found")

// Service is the boundary the HTTP handlers talk to: staging uploads,
// kicking off processing, and reading job state.
type Service interface {
	StageUpload(ctx context.Context, files []tempstore.IncomingFile) (*tempstore.SavedBatch, error)
	StagedFiles(ctx context.Context, token string) ([]tempstore.StagedFile, bool)
	ReadStagedFile(ctx context.Context, token, filename string) ([]byte, string, bool)
	StartProcessing(ctx context.Context, token string) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	DeleteImage(ctx context.Context, jobID, imagePath string) bool
}
