package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/blueprint-dashboard/internal/jobs"
	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
	"github.com/feichai0017/blueprint-dashboard/pkg/storage/local"
)

func newStreamFixture(t *testing.T, heartbeat time.Duration) (*jobs.Registry, *jobs.Broadcaster, *StreamHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewTestLogger()
	store, err := local.NewLocalStorage(t.TempDir(), log)
	require.NoError(t, err)

	b := jobs.NewBroadcaster(log)
	r := jobs.NewRegistry(b, store, 0, log)
	t.Cleanup(r.Reset)

	return r, b, NewStreamHandler(r, b, heartbeat, log)
}

// runStream drives the handler on its own goroutine and returns the body
// after cancel has been called and the handler returned.
func runStream(t *testing.T, h *StreamHandler, url string, during func(cancel context.CancelFunc)) string {
	t.Helper()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Request = httptest.NewRequest(http.MethodGet, url, nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.StreamJob(c)
	}()

	during(cancel)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not shut down")
	}
	return w.Body.String()
}

// dataFrames parses the event payloads out of an SSE body.
func dataFrames(t *testing.T, body string) []models.JobEvent {
	t.Helper()

	var events []models.JobEvent
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if !strings.HasPrefix(payload, "{") {
			continue // keepalive
		}
		var ev models.JobEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events
}

func TestStreamRequiresJobID(t *testing.T) {
	_, _, h := newStreamFixture(t, time.Minute)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/stream", nil)

	h.StreamJob(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Job ID required")
}

func TestStreamSnapshotThenLiveEvents(t *testing.T) {
	r, b, h := newStreamFixture(t, time.Minute)

	r.CreateOrReplace("job-1", models.Job{Status: models.StatusProcessing, Progress: 10})

	body := runStream(t, h, "/api/v1/jobs/stream?jobId=job-1", func(cancel context.CancelFunc) {
		// wait for the handler to subscribe before publishing
		require.Eventually(t, func() bool {
			return b.SubscriberCount("job-1") == 1
		}, time.Second, 5*time.Millisecond)

		progress := 42
		r.Update("job-1", jobs.UpdatePatch{Progress: &progress})

		time.Sleep(50 * time.Millisecond)
		cancel()
	})

	events := dataFrames(t, body)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, models.EventSnapshot, events[0].Type)
	assert.Equal(t, 10, *events[0].Progress)
	assert.Equal(t, models.EventProgress, events[1].Type)
	assert.Equal(t, 42, *events[1].Progress)
}

func TestStreamUnknownJobStaysOpen(t *testing.T) {
	r, b, h := newStreamFixture(t, time.Minute)

	body := runStream(t, h, "/api/v1/jobs/stream?jobId=later-job", func(cancel context.CancelFunc) {
		require.Eventually(t, func() bool {
			return b.SubscriberCount("later-job") == 1
		}, time.Second, 5*time.Millisecond)

		// the job shows up after the stream connected
		r.CreateOrReplace("later-job", models.Job{Status: models.StatusProcessing})
		progress := 5
		r.Update("later-job", jobs.UpdatePatch{Progress: &progress})

		time.Sleep(50 * time.Millisecond)
		cancel()
	})

	events := dataFrames(t, body)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, models.EventError, events[0].Type)
	assert.Equal(t, "Job not found", events[0].Error)
	assert.Equal(t, models.EventProgress, events[1].Type)
}

func TestStreamHeartbeat(t *testing.T) {
	r, _, h := newStreamFixture(t, 20*time.Millisecond)
	r.CreateOrReplace("job-1", models.Job{Status: models.StatusProcessing})

	body := runStream(t, h, "/api/v1/jobs/stream?jobId=job-1", func(cancel context.CancelFunc) {
		time.Sleep(80 * time.Millisecond)
		cancel()
	})

	assert.Contains(t, body, "event:keepalive")
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	r, b, h := newStreamFixture(t, time.Minute)
	r.CreateOrReplace("job-1", models.Job{Status: models.StatusProcessing})

	runStream(t, h, "/api/v1/jobs/stream?jobId=job-1", func(cancel context.CancelFunc) {
		require.Eventually(t, func() bool {
			return b.SubscriberCount("job-1") == 1
		}, time.Second, 5*time.Millisecond)
		cancel()
	})

	assert.Eventually(t, func() bool {
		return b.SubscriberCount("job-1") == 0
	}, time.Second, 5*time.Millisecond)
}
