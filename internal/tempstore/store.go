package tempstore

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

// DefaultTTL 暂存文件保留时长
const DefaultTTL = 5 * time.Minute

// IncomingFile is one file to stage, decoupled from multipart so the
// store can be driven from handlers and tests alike.
type IncomingFile struct {
	Name        string
	ContentType string
	Data        io.Reader
}

// StagedFile 已暂存文件描述
type StagedFile struct {
	OriginalName string `json:"filename"`
	StoredPath   string `json:"path"`
	MimeType     string `json:"mime"`
	Size         int64  `json:"size"`
}

// SavedBatch is the result of staging one upload batch.
type SavedBatch struct {
	Token string       `json:"token"`
	Files []StagedFile `json:"files"`
}

type entry struct {
	dir   string
	files []StagedFile
	timer *time.Timer
}

// Store holds uploaded file batches under unguessable tokens until the
// processing pipeline claims them or the TTL reclaims them. Reclamation
// deletes the batch directory and is idempotent; a read racing the final
// moments of the TTL simply reports not found.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	baseDir string
	ttl     time.Duration
	logger  logger.Logger
}

// NewStore creates a staging store rooted at baseDir. ttl <= 0 falls back
// to DefaultTTL.
func NewStore(baseDir string, ttl time.Duration, log logger.Logger) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging root: %w", err)
	}
	return &Store{
		entries: make(map[string]*entry),
		baseDir: baseDir,
		ttl:     ttl,
		logger:  log,
	}, nil
}

// SaveFiles stages a batch under a fresh token and arms the reclamation
// timer. Concurrent calls never share a token or directory. A write
// failure aborts the whole batch and removes the directory.
func (s *Store) SaveFiles(files []IncomingFile) (*SavedBatch, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to stage")
	}

	token := uuid.NewString()
	dir, err := os.MkdirTemp(s.baseDir, "upload-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	staged := make([]StagedFile, 0, len(files))
	for _, f := range files {
		// time prefix keeps same-named files in one batch from colliding
		name := fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(f.Name))
		path := filepath.Join(dir, name)

		size, err := writeFile(path, f.Data)
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to stage %s: %w", f.Name, err)
		}

		contentType := f.ContentType
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(f.Name))
		}

		staged = append(staged, StagedFile{
			OriginalName: f.Name,
			StoredPath:   path,
			MimeType:     contentType,
			Size:         size,
		})
	}

	// insert before arming the timer so an immediate fire still finds
	// the entry to reclaim
	e := &entry{dir: dir, files: staged}
	s.mu.Lock()
	s.entries[token] = e
	e.timer = time.AfterFunc(s.ttl, func() {
		s.Reclaim(token)
	})
	s.mu.Unlock()

	s.logger.Info("staged upload batch",
		logger.String("token", token),
		logger.Int("files", len(staged)),
		logger.Duration("ttl", s.ttl),
	)

	return &SavedBatch{Token: token, Files: staged}, nil
}

// GetFiles returns the staged descriptors for token, or false when the
// token is unknown or already reclaimed.
func (s *Store) GetFiles(token string) ([]StagedFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return nil, false
	}
	files := make([]StagedFile, len(e.files))
	copy(files, e.files)
	return files, true
}

// ReadFileBuffer returns the contents and mime type of one named file in
// the batch, matched by original name.
func (s *Store) ReadFileBuffer(token, filename string) ([]byte, string, bool) {
	s.mu.Lock()
	var match *StagedFile
	if e, ok := s.entries[token]; ok {
		for i := range e.files {
			if e.files[i].OriginalName == filename {
				match = &e.files[i]
				break
			}
		}
	}
	s.mu.Unlock()

	if match == nil {
		return nil, "", false
	}

	data, err := os.ReadFile(match.StoredPath)
	if err != nil {
		// reclaimed between lookup and read
		return nil, "", false
	}
	return data, match.MimeType, true
}

// Reclaim removes the entry and deletes the batch directory. Safe to call
// repeatedly or concurrently with the timer firing; filesystem errors are
// swallowed since reclamation is best effort.
func (s *Store) Reclaim(token string) {
	s.mu.Lock()
	e, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	e.timer.Stop()
	if err := os.RemoveAll(e.dir); err != nil {
		s.logger.Warn("failed to remove staging directory",
			logger.String("token", token),
			logger.String("dir", e.dir),
			logger.Error(err),
		)
	}

	s.logger.Debug("reclaimed upload batch", logger.String("token", token))
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Close reclaims every outstanding batch. Shutdown/test teardown hook.
func (s *Store) Close() {
	s.mu.Lock()
	tokens := make([]string, 0, len(s.entries))
	for token := range s.entries {
		tokens = append(tokens, token)
	}
	s.mu.Unlock()

	for _, token := range tokens {
		s.Reclaim(token)
	}
}

func writeFile(path string, data io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, data)
	if err != nil {
		return n, err
	}
	return n, dst.Close()
}
