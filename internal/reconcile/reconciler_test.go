package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestReconciler(opts ...Option) (*Reconciler, *MemoryOutputStore) {
	store := NewMemoryOutputStore()
	clock := &stepClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	base := []Option{WithOutputStore(store), WithClock(clock.Now)}
	return New(append(base, opts...)...), store
}

func apply(t *testing.T, r *Reconciler, raw string) *Record {
	t.Helper()
	rec, ok := r.UpdateRaw(context.Background(), []byte(raw))
	require.True(t, ok, raw)
	return rec
}

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ItemID)
	}
	return out
}

func TestLedgerKeepsFirstSeenOrder(t *testing.T) {
	r, _ := newTestReconciler()

	apply(t, r, `{"status":"processing","subnet":"Search","itemID":"A"}`)
	apply(t, r, `{"status":"processing","subnet":"LLM","itemID":"B"}`)
	apply(t, r, `{"status":"completed","subnet":"Search","itemID":"A","response":"found"}`)

	responses := r.Responses()
	assert.Equal(t, []string{"A", "B"}, ids(responses))

	a, b := responses[0], responses[1]
	require.NotNil(t, a.Timestamps.Start)
	require.NotNil(t, a.Timestamps.End)
	assert.True(t, a.Timestamps.End.After(*a.Timestamps.Start))
	assert.Equal(t, StatusSuccess, a.Status)
	assert.Equal(t, "found", a.Message)

	require.NotNil(t, b.Timestamps.Start)
	assert.Nil(t, b.Timestamps.End)
	assert.Equal(t, RunRunning, r.Status())
}

func TestDuplicateSuccessUpdatesInPlace(t *testing.T) {
	r, _ := newTestReconciler()

	apply(t, r, `{"status":"processing","subnet":"Search","itemID":"A"}`)
	apply(t, r, `{"status":"processing","subnet":"LLM","itemID":"B"}`)
	first := apply(t, r, `{"status":"done","subnet":"Search","itemID":"A","response":"v1"}`)
	second := apply(t, r, `{"status":"done","subnet":"Search","itemID":"A","response":"v2"}`)

	responses := r.Responses()
	assert.Equal(t, []string{"A", "B"}, ids(responses))
	assert.Equal(t, "v2", responses[0].Message)
	assert.Equal(t, *first.Timestamps.End, *second.Timestamps.End, "end time is set once")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestDroppedEventsLeaveStateUntouched(t *testing.T) {
	r, _ := newTestReconciler()
	apply(t, r, `{"status":"processing","subnet":"Search","itemID":"A"}`)
	before := r.Snapshot()

	_, ok := r.UpdateRaw(context.Background(), []byte(`{"status":"processing","subnet":"Unknown Subnet","itemID":"Z"}`))
	assert.False(t, ok)
	_, ok = r.UpdateRaw(context.Background(), []byte(`["error", "identity-less"]`))
	assert.False(t, ok)

	assert.Equal(t, before, r.Snapshot())
}

func TestCurrentPointerAndRunStatus(t *testing.T) {
	r, _ := newTestReconciler()
	assert.Equal(t, RunIdle, r.Status())

	apply(t, r, `{"status":"starting","subnet":"Search","itemID":"A"}`)
	current, ok := r.Current()
	assert.True(t, ok)
	assert.Equal(t, "A", current)
	assert.Equal(t, RunRunning, r.Status())

	apply(t, r, `["error", {"subnet":"Search","itemID":"A","error":"timeout"}]`)
	_, ok = r.Current()
	assert.False(t, ok)

	r.MarkError("runner disconnected")
	snap := r.Snapshot()
	assert.Equal(t, RunError, snap.Status)
	assert.Equal(t, "runner disconnected", snap.Reason)

	r.MarkCompleted()
	assert.Equal(t, RunCompleted, r.Status())
	assert.Empty(t, r.Snapshot().Reason)
}

func TestSyntheticStepsAreKeptAndDeduplicated(t *testing.T) {
	r, _ := newTestReconciler()
	apply(t, r, `runner says hi`)
	apply(t, r, `runner says hi`)

	responses := r.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, StatusPending, responses[0].Status)
	assert.Equal(t, "runner says hi", responses[0].Message)
	assert.Equal(t, RunIdle, r.Status())
}

func TestChainableOutputsAreStoredAndReset(t *testing.T) {
	r, store := newTestReconciler()

	apply(t, r, `{"status":"completed","subnet":"Text Generation","itemID":"g","response":"a poem"}`)
	apply(t, r, `{"status":"completed","subnet":"Image Generator","itemID":"i","response":"https://x.io/p.png"}`)
	apply(t, r, `{"status":"processing","subnet":"LLM","itemID":"p","response":"partial"}`)

	out, ok, err := r.ChainedOutput(context.Background(), "g")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a poem", out)

	_, ok, _ = store.Get(context.Background(), "i")
	assert.False(t, ok, "non-chainable producers are not stored")
	_, ok, _ = store.Get(context.Background(), "p")
	assert.False(t, ok, "only successes are stored")

	require.NoError(t, r.Reset(context.Background()))
	assert.Empty(t, r.Responses())
	assert.Equal(t, RunIdle, r.Status())
	_, ok = r.Current()
	assert.False(t, ok)
	_, ok, _ = store.Get(context.Background(), "g")
	assert.False(t, ok)
}

// gatedStore 让第一次 Set 停在 entered 与 release 之间。
type gatedStore struct {
	*MemoryOutputStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Set(ctx context.Context, key, value string) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MemoryOutputStore.Set(ctx, key, value)
}

func TestResetDiscardsOutputsOfPreviousRun(t *testing.T) {
	store := &gatedStore{MemoryOutputStore: NewMemoryOutputStore(), entered: make(chan struct{}), release: make(chan struct{})}
	r := New(WithOutputStore(store))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		r.UpdateRaw(ctx, []byte(`{"status":"completed","subnet":"LLM","itemID":"a","response":"old a"}`))
	}()
	<-store.entered

	go func() {
		defer wg.Done()
		r.UpdateRaw(ctx, []byte(`{"status":"completed","subnet":"LLM","itemID":"b","response":"old b"}`))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Reset(ctx))
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	for _, key := range []string{"a", "b"} {
		_, ok, err := r.ChainedOutput(ctx, key)
		require.NoError(t, err)
		if ok {
			// b 可能在 Reset 之后才被折叠，此时它属于新一轮。
			assert.Equal(t, "b", key)
			assert.Equal(t, []string{"b"}, ids(r.Responses()))
		}
	}

	apply(t, r, `{"status":"completed","subnet":"LLM","itemID":"c","response":"new c"}`)
	out, ok, err := r.ChainedOutput(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new c", out)
}

func TestResponsesAreCopies(t *testing.T) {
	r, _ := newTestReconciler()
	apply(t, r, `{"status":"completed","subnet":"LLM","itemID":"A","response":{"message":"m","k":"v"}}`)

	responses := r.Responses()
	responses[0].ResponseData["k"] = "changed"
	responses[0].Message = "changed"

	again := r.Responses()
	assert.Equal(t, "v", again[0].ResponseData["k"])
	assert.Equal(t, "m", again[0].Message)
}

func TestConcurrentUpdatesKeepOneRecordPerIdentity(t *testing.T) {
	r, _ := newTestReconciler()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := "processing"
			if i%2 == 0 {
				status = "completed"
			}
			r.UpdateRaw(context.Background(), []byte(`{"status":"`+status+`","subnet":"LLM","itemID":"same"}`))
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Responses(), 1)
}
