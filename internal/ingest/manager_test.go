package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/registry"
	"github.com/Aman-CERP/amanrag/internal/ws"
)

// eventRecorder captures broadcast events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	msgType string
	data    any
}

func (r *eventRecorder) BroadcastEvent(msgType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{msgType: msgType, data: data})
}

func (r *eventRecorder) byType(msgType string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, ev := range r.events {
		if ev.msgType == msgType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestManager(t *testing.T, env *testEnv, cfg ManagerConfig) (*Manager, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	return NewManager(env.processor, env.reg, rec, cfg, nil), rec
}

func TestManager_EnqueueCollapsesDuplicateDocument(t *testing.T) {
	// Given a queued job holding the in-flight claim
	env := newTestEnv(t, visualDoc(t))
	mgr, _ := newTestManager(t, env, ManagerConfig{QueueCap: 4, MaxParallel: 1})

	ctx := context.Background()
	ok, err := mgr.Enqueue(ctx, localJob(t))
	require.NoError(t, err)
	require.True(t, ok)

	// When the same document arrives again
	ok, err = mgr.Enqueue(ctx, localJob(t))

	// Then the duplicate no-ops without error
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_EnqueueOverflowRollsBackClaim(t *testing.T) {
	// Given a full queue and no workers draining it
	env := newTestEnv(t, visualDoc(t))
	mgr, _ := newTestManager(t, env, ManagerConfig{QueueCap: 1, MaxParallel: 1})

	ctx := context.Background()
	ok, err := mgr.Enqueue(ctx, localJob(t))
	require.NoError(t, err)
	require.True(t, ok)

	overflow := NewJob("eeeeffff00001111", "annual.pdf", "", 99)
	overflow.LocalPath = writeRender(t, t.TempDir(), "staged.png")

	// When another document overflows the queue
	ok, err = mgr.Enqueue(ctx, overflow)

	// Then the caller sees a retryable queue-full error
	assert.False(t, ok)
	assert.Equal(t, amerrors.ErrCodeQueueFull, amerrors.GetCode(err))
	assert.True(t, amerrors.IsRetryable(err))
	assert.Nil(t, mgr.Status(overflow.ID))

	// And the in-flight claim was released for redelivery
	claimed, _, err := env.reg.ClaimInflight(ctx, overflow.DocID, "redelivery")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestManager_CancelQueuedJob(t *testing.T) {
	env := newTestEnv(t, visualDoc(t))
	mgr, _ := newTestManager(t, env, ManagerConfig{QueueCap: 4, MaxParallel: 1})

	job := localJob(t)
	ok, err := mgr.Enqueue(context.Background(), job)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mgr.Cancel(job.ID))
	assert.True(t, job.Canceled())

	err = mgr.Cancel("no-such-job")
	assert.Equal(t, amerrors.ErrCodeDocumentNotFound, amerrors.GetCode(err))
}

func TestManager_WorkerRunsJobToCompletion(t *testing.T) {
	// Given a running worker pool
	env := newTestEnv(t, visualDoc(t))
	mgr, rec := newTestManager(t, env, ManagerConfig{QueueCap: 4, MaxParallel: 1})
	mgr.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	}()

	// When a job is enqueued
	job := localJob(t)
	ok, err := mgr.Enqueue(context.Background(), job)
	require.NoError(t, err)
	require.True(t, ok)

	// Then the completion event eventually broadcasts
	require.Eventually(t, func() bool {
		return len(rec.byType(ws.TypeProcessingComplete)) == 1
	}, 10*time.Second, 20*time.Millisecond)

	done := rec.byType(ws.TypeProcessingComplete)[0]
	payload, isMap := done.data.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, testDocID, payload["doc_id"])
	assert.Equal(t, "q4.pdf", payload["filename"])
	assert.Equal(t, 2, payload["pages"])
	assert.Equal(t, 2, payload["chunks"])

	// And progress updates walked the stage machine
	var stages []string
	for _, ev := range rec.byType(ws.TypeProcessingUpdate) {
		if m, isUpdate := ev.data.(map[string]any); isUpdate {
			stages = append(stages, m["stage"].(string))
		}
	}
	assert.Contains(t, stages, string(StageQueued))
	assert.Contains(t, stages, string(StageParsing))
	assert.Contains(t, stages, string(StageStoring))

	// And the stats stream reflects the outcome
	require.NotEmpty(t, rec.byType(ws.TypeStats))
	assert.Equal(t, StageCompleted, mgr.Status(job.ID).Stage)
	require.Eventually(t, func() bool {
		return mgr.Stats().Completed == 1 && mgr.Stats().Active == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_FailedJobBroadcastsError(t *testing.T) {
	env := newTestEnv(t, visualDoc(t))
	env.processor.router = &fakeRouter{err: amerrors.New(amerrors.ErrCodeParseFailed, "broken pdf", nil)}
	mgr, rec := newTestManager(t, env, ManagerConfig{QueueCap: 4, MaxParallel: 1})
	mgr.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	}()

	job := localJob(t)
	ok, err := mgr.Enqueue(context.Background(), job)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return len(rec.byType(ws.TypeProcessingError)) == 1
	}, 10*time.Second, 20*time.Millisecond)

	payload := rec.byType(ws.TypeProcessingError)[0].data.(map[string]any)
	assert.Equal(t, testDocID, payload["doc_id"])
	assert.NotEmpty(t, payload["error"])
	assert.Equal(t, 1, mgr.Stats().Failed)
	assert.Equal(t, StageFailed, mgr.Status(job.ID).Stage)

	// The in-flight claim is released even on failure
	claimed, _, err := env.reg.ClaimInflight(context.Background(), testDocID, "redelivery")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestManager_ShutdownStopsAdmission(t *testing.T) {
	env := newTestEnv(t, visualDoc(t))
	mgr, _ := newTestManager(t, env, ManagerConfig{QueueCap: 4, MaxParallel: 1})
	mgr.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	_, err := mgr.Enqueue(context.Background(), localJob(t))
	assert.Equal(t, amerrors.ErrCodeQueueFull, amerrors.GetCode(err))

	// Idempotent
	require.NoError(t, mgr.Shutdown(ctx))
}

// pausedClaimRegistry parks ClaimInflight until released, exposing the
// window between Enqueue's admission and its queue send.
type pausedClaimRegistry struct {
	registry.Registry
	entered chan struct{}
	release chan struct{}
}

func (p *pausedClaimRegistry) ClaimInflight(ctx context.Context, docID, jobID string) (bool, string, error) {
	close(p.entered)
	<-p.release
	return p.Registry.ClaimInflight(ctx, docID, jobID)
}

func TestManager_ShutdownWaitsForPendingEnqueue(t *testing.T) {
	// Given an Enqueue paused inside its in-flight claim
	env := newTestEnv(t, visualDoc(t))
	reg := &pausedClaimRegistry{
		Registry: env.reg,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	mgr := NewManager(env.processor, reg, &eventRecorder{}, ManagerConfig{QueueCap: 4, MaxParallel: 1}, nil)

	job := localJob(t)
	enqueued := make(chan error, 1)
	go func() {
		_, err := mgr.Enqueue(context.Background(), job)
		enqueued <- err
	}()
	<-reg.entered

	// When shutdown races the stalled call
	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- mgr.Shutdown(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(reg.release)

	// Then both return cleanly: the queue send never hits a closed channel
	require.NoError(t, <-enqueued)
	require.NoError(t, <-stopped)

	// And a late arrival is refused outright
	_, err := mgr.Enqueue(context.Background(), localJob(t))
	assert.Equal(t, amerrors.ErrCodeQueueFull, amerrors.GetCode(err))
}
