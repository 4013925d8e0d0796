package tempstore

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()

	s, err := NewStore(t.TempDir(), ttl, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func pngUpload(name string) IncomingFile {
	return IncomingFile{
		Name:        name,
		ContentType: "image/png",
		Data:        strings.NewReader("not-really-png"),
	}
}

func TestSaveAndGetFiles(t *testing.T) {
	s := newTestStore(t, time.Minute)

	batch, err := s.SaveFiles([]IncomingFile{pngUpload("a.png"), pngUpload("b.png")})
	require.NoError(t, err)
	require.NotEmpty(t, batch.Token)
	require.Len(t, batch.Files, 2)

	files, ok := s.GetFiles(batch.Token)
	require.True(t, ok)
	require.Len(t, files, 2)
	assert.Equal(t, "a.png", files[0].OriginalName)
	assert.Equal(t, "image/png", files[0].MimeType)
	assert.FileExists(t, files[0].StoredPath)
}

func TestSaveFilesRejectsEmptyBatch(t *testing.T) {
	s := newTestStore(t, time.Minute)

	_, err := s.SaveFiles(nil)
	assert.Error(t, err)
}

func TestTokensAreUnique(t *testing.T) {
	s := newTestStore(t, time.Minute)

	a, err := s.SaveFiles([]IncomingFile{pngUpload("a.png")})
	require.NoError(t, err)
	b, err := s.SaveFiles([]IncomingFile{pngUpload("a.png")})
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.Files[0].StoredPath, b.Files[0].StoredPath)
}

func TestGetFilesUnknownToken(t *testing.T) {
	s := newTestStore(t, time.Minute)

	_, ok := s.GetFiles("nope")
	assert.False(t, ok)
}

func TestReadFileBuffer(t *testing.T) {
	s := newTestStore(t, time.Minute)

	batch, err := s.SaveFiles([]IncomingFile{pngUpload("a.png")})
	require.NoError(t, err)

	data, mimeType, ok := s.ReadFileBuffer(batch.Token, "a.png")
	require.True(t, ok)
	assert.Equal(t, "not-really-png", string(data))
	assert.Equal(t, "image/png", mimeType)

	_, _, ok = s.ReadFileBuffer(batch.Token, "missing.png")
	assert.False(t, ok)
}

func TestTTLReclaimsBatch(t *testing.T) {
	s := newTestStore(t, 30*time.Millisecond)

	batch, err := s.SaveFiles([]IncomingFile{pngUpload("a.png")})
	require.NoError(t, err)
	dir := batch.Files[0].StoredPath

	require.Eventually(t, func() bool {
		_, ok := s.GetFiles(batch.Token)
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "staged file should be removed after TTL")
}

// A timer firing the instant the batch is saved must still find the entry
// and remove the directory instead of leaking it.
func TestImmediateTTLStillReclaims(t *testing.T) {
	s := newTestStore(t, time.Nanosecond)

	for i := 0; i < 50; i++ {
		batch, err := s.SaveFiles([]IncomingFile{pngUpload("a.png")})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			_, err := os.Stat(batch.Files[0].StoredPath)
			return os.IsNotExist(err)
		}, time.Second, time.Millisecond, "batch %d leaked its staging directory", i)
	}
}

func TestReclaimIsIdempotent(t *testing.T) {
	s := newTestStore(t, time.Minute)

	batch, err := s.SaveFiles([]IncomingFile{pngUpload("a.png")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Reclaim(batch.Token)
		}()
	}
	wg.Wait()

	_, ok := s.GetFiles(batch.Token)
	assert.False(t, ok)

	// a second explicit call after the fact is still a no-op
	s.Reclaim(batch.Token)
}

func TestReadRacingReclaimReportsNotFound(t *testing.T) {
	s := newTestStore(t, time.Minute)

	batch, err := s.SaveFiles([]IncomingFile{pngUpload("a.png")})
	require.NoError(t, err)

	s.Reclaim(batch.Token)

	_, _, ok := s.ReadFileBuffer(batch.Token, "a.png")
	assert.False(t, ok)
}
