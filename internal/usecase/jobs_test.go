package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	pkgcache "github.com/victorescoto/fiap-ml-finance/pkg/cache"
)

func newRunner(t *testing.T, lock pkgcache.Locker) (*JobRunner, env, *fakeMarket) {
	t.Helper()
	e := newEnv(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	md := &fakeMarket{rows: map[string][]models.Candle{"TEST": series("TEST", models.Interval1d, start, day, ascending(25, 100)...)}}
	in := newIngestor(e, md, nil, "TEST")
	tr := newTrainer(e, nil, smallTrainConfig("TEST"))
	return NewJobRunner(in, tr, lock, time.Minute, nil), e, md
}

func TestDispatchUnknownJobIsNoop(t *testing.T) {
	r, _, md := newRunner(t, nil)
	res, err := r.Dispatch(context.Background(), "reindex_everything")
	require.NoError(t, err)
	assert.Equal(t, JobResult{Status: StatusNoop, Job: "reindex_everything"}, res)
	assert.Zero(t, md.Calls())
}

func TestDispatchBackfillThenTrain(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newRunner(t, nil)

	res, err := r.Dispatch(ctx, JobBackfill1d)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, JobBackfill1d, res.Job)

	res, err = r.Dispatch(ctx, JobTrainDaily)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"ok"`)
	assert.Contains(t, string(b), `"TEST"`)

	_, err = e.models.LoadModel(ctx, "TEST")
	require.NoError(t, err)
}

func TestDispatchRefusesOverlappingRuns(t *testing.T) {
	ctx := context.Background()
	mem := pkgcache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	r, _, md := newRunner(t, mem)

	unlock, err := mem.TryLock(ctx, "lock:job:"+JobIngest1d, time.Minute)
	require.NoError(t, err)

	_, err = r.Dispatch(ctx, JobIngest1d)
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.Zero(t, md.Calls())

	// the queue adapter treats a busy lock as done
	require.NoError(t, r.QueueJobs()[0].Handle(ctx, nil))

	require.NoError(t, unlock(ctx))
	res, err := r.Dispatch(ctx, JobIngest1d)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)

	_, err = mem.TryLock(ctx, "lock:job:"+JobIngest1d, time.Minute)
	assert.NoError(t, err, "lock released after the run")
}

func TestQueueJobsCoverEveryName(t *testing.T) {
	r, _, _ := newRunner(t, nil)
	jobs := r.QueueJobs()
	require.Len(t, jobs, len(JobNames))
	for i, j := range jobs {
		assert.Equal(t, JobNames[i], j.Name())
	}
}

func TestStoreEventsHandlerInvalidates(t *testing.T) {
	f := newServing(t, nil)
	f.models.SetBytes("model:AAPL", []byte("x"), time.Minute)
	h := NewStoreEventsHandler("candles.events", f.svc, nopMetrics{})
	assert.Equal(t, "candles.events", h.Topic())

	b, err := json.Marshal(models.Event{Type: models.EventModelTrained, Symbol: "AAPL"})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), b))
	_, ok := f.models.GetBytes("model:AAPL")
	assert.False(t, ok)

	assert.Error(t, h.Handle(context.Background(), []byte("{")))
}

func TestPipelineJobChecksPayload(t *testing.T) {
	ctx := context.Background()
	r, _, md := newRunner(t, nil)
	job := r.QueueJobs()[0]

	err := job.Handle(ctx, json.RawMessage(`{"job":"`+JobTrainDaily+`"}`))
	assert.ErrorContains(t, err, "delivered to")
	assert.Zero(t, md.Calls())

	assert.Error(t, job.Handle(ctx, json.RawMessage(`{`)))
	assert.Zero(t, md.Calls())

	require.NoError(t, job.Handle(ctx, json.RawMessage(`{"job":"`+job.Name()+`"}`)))
	assert.NotZero(t, md.Calls())
}
