package run

import (
	"context"
	stdErrors "errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/observability/metrics"
	"AgentCanvas/internal/reconcile"
)

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func newTestService(opts ...Option) (*Service, *MemoryArchive) {
	archive := NewMemoryArchive()
	clock := &tickClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	base := []Option{WithArchive(archive), WithClock(clock.Now)}
	return NewService(append(base, opts...)...), archive
}

func TestStartGeneratesID(t *testing.T) {
	svc, _ := newTestService()

	snap, err := svc.Start(context.Background(), StartRequest{WorkflowID: "wf", Items: []string{"A", "B"}})
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, reconcile.RunIdle, snap.Status)
	assert.Equal(t, []string{"A", "B"}, snap.Items)
	assert.Len(t, svc.List(), 1)
}

func TestApplyAndComplete(t *testing.T) {
	svc, archive := newTestService()
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{ID: "run-1"})
	require.NoError(t, err)

	rec, ok, err := svc.Apply(ctx, "run-1", []byte(`{"status":"processing","subnet":"Search","itemID":"A"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, reconcile.StatusProcessing, rec.Status)

	_, ok, err = svc.ApplyEvent(ctx, "run-1", reconcile.FromMap(map[string]any{
		"status": "completed", "subnet": "Search", "itemID": "A", "response": "found",
	}))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = svc.Apply(ctx, "run-1", []byte(`{"status":"processing"}`))
	require.NoError(t, err)
	assert.False(t, ok, "event without identity is dropped")

	snap, err := svc.Complete(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunCompleted, snap.Status)
	require.NotNil(t, snap.FinishedAt)
	require.Len(t, snap.Responses, 1)
	assert.Equal(t, "found", snap.Responses[0].Message)

	archived, err := archive.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunCompleted, archived.Status)
	assert.Len(t, archived.Snapshot.Responses, 1)
}

func TestFailRecordsReason(t *testing.T) {
	svc, archive := newTestService()
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{ID: "run-1"})
	require.NoError(t, err)

	snap, err := svc.Fail(ctx, "run-1", "executor crashed")
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunError, snap.Status)
	assert.Equal(t, "executor crashed", snap.Reason)

	archived, err := archive.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "executor crashed", archived.Reason)
}

func TestUnknownRun(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.Apply(ctx, "ghost", []byte(`{}`))
	assert.Equal(t, CodeRunNotFound, xerrors.CodeOf(err))

	_, err = svc.Complete(ctx, "ghost")
	assert.Equal(t, CodeRunNotFound, xerrors.CodeOf(err))

	_, err = svc.Get(ctx, "ghost")
	assert.Equal(t, CodeRunNotFound, xerrors.CodeOf(err))
}

func TestRestartResetsRun(t *testing.T) {
	m := metrics.New()
	svc, _ := newTestService(WithMetrics(m))
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{ID: "run-1"})
	require.NoError(t, err)
	_, _, err = svc.Apply(ctx, "run-1", []byte(`{"status":"completed","subnet":"LLM","itemID":"A","response":"hello"}`))
	require.NoError(t, err)

	out, ok, err := svc.ChainedOutput(ctx, "run-1", "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", out)

	_, err = svc.Complete(ctx, "run-1")
	require.NoError(t, err)
	assert.Contains(t, scrape(t, m), "canvas_runs_active 0")

	snap, err := svc.Start(ctx, StartRequest{ID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunIdle, snap.Status)
	assert.Empty(t, snap.Responses)
	assert.Nil(t, snap.FinishedAt)
	assert.Contains(t, scrape(t, m), "canvas_runs_active 1")

	_, ok, err = svc.ChainedOutput(ctx, "run-1", "A")
	require.NoError(t, err)
	assert.False(t, ok, "restart clears chained outputs")
	assert.Len(t, svc.List(), 1)
}

func TestRunsAreIsolated(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := svc.Start(ctx, StartRequest{ID: id})
		require.NoError(t, err)
	}
	_, _, err := svc.Apply(ctx, "a", []byte(`{"status":"completed","subnet":"LLM","itemID":"X","response":"only a"}`))
	require.NoError(t, err)

	a, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	b, err := svc.Get(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, a.Responses, 1)
	assert.Empty(t, b.Responses)

	_, ok, err := svc.ChainedOutput(ctx, "b", "X")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetFallsBackToArchive(t *testing.T) {
	archive := NewMemoryArchive()
	finished := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	require.NoError(t, archive.Save(context.Background(), Entry{
		RunID:      "old",
		Status:     reconcile.RunCompleted,
		Snapshot:   reconcile.Snapshot{Status: reconcile.RunCompleted},
		FinishedAt: finished,
	}))
	svc := NewService(WithArchive(archive))

	snap, err := svc.Get(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunCompleted, snap.Status)
	require.NotNil(t, snap.FinishedAt)
	assert.True(t, finished.Equal(*snap.FinishedAt))
}

type failingArchive struct {
	MemoryArchive
}

func (*failingArchive) Save(context.Context, Entry) error {
	return stdErrors.New("disk full")
}

func TestArchiveFailureIsNotFatal(t *testing.T) {
	svc := NewService(WithArchive(&failingArchive{}))
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{ID: "run-1"})
	require.NoError(t, err)
	snap, err := svc.Complete(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunCompleted, snap.Status)
}

func TestStoreFactoryFailure(t *testing.T) {
	svc := NewService(WithStoreFactory(func(string) (reconcile.OutputStore, error) {
		return nil, stdErrors.New("redis down")
	}))

	_, err := svc.Start(context.Background(), StartRequest{ID: "run-1"})
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	assert.Empty(t, svc.List())
}

func TestMemoryArchiveListOrder(t *testing.T) {
	archive := NewMemoryArchive()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, archive.Save(context.Background(), Entry{RunID: id, FinishedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	entries, err := archive.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].RunID)
	assert.Equal(t, "b", entries[1].RunID)

	assert.Error(t, archive.Save(context.Background(), Entry{}))
}
