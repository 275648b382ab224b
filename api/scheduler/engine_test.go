package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/clock"
	"mediaPipeline/api/models"
	"mediaPipeline/api/progress"
	"mediaPipeline/api/repository"
	"mediaPipeline/api/validation"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	mp4480   = models.Variant{Container: models.ContainerMP4, Profile: models.Profile480p}
	mp4720   = models.Variant{Container: models.ContainerMP4, Profile: models.Profile720p}
	webm1080 = models.Variant{Container: models.ContainerWebM, Profile: models.Profile1080p}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TaskEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, events []models.TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) recorded() []models.TaskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.TaskEvent(nil), p.events...)
}

type fixture struct {
	engine    *Engine
	repo      *repository.MemoryRepo
	publisher *recordingPublisher
	assetID   string
}

func newFixture(t *testing.T, draw progress.Rand) *fixture {
	t.Helper()

	repo := repository.NewMemoryRepo()
	asset := &models.VideoAsset{ID: "asset-1", Filename: "clip.mp4", SizeBytes: 1 << 20, UploadedAt: t0}
	require.NoError(t, repo.CreateAsset(context.Background(), asset))

	pub := &recordingPublisher{}
	model := progress.NewModel(progress.DefaultConfig(), draw)
	engine := NewEngine(repo, model, clock.NewManual(t0), DefaultQueueDelay, pub, zaptest.NewLogger(t))
	t.Cleanup(engine.Close)

	return &fixture{engine: engine, repo: repo, publisher: pub, assetID: asset.ID}
}

func (f *fixture) task(t *testing.T, id string) models.ProcessingTask {
	t.Helper()
	got, err := f.repo.GetTask(context.Background(), id)
	require.NoError(t, err)
	return *got
}

func (f *fixture) tick(t *testing.T, at time.Time) TickResult {
	t.Helper()
	result, err := f.engine.Tick(context.Background(), at)
	require.NoError(t, err)
	return result
}

func TestEngine_TwoVariantScenario(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	ctx := context.Background()

	tasks, err := f.engine.Submit(ctx, f.assetID, []models.Variant{mp4480, webm1080}, t0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	result := f.tick(t, t0.Add(2001*time.Millisecond))
	assert.Equal(t, 2, result.Started)
	for _, task := range tasks {
		got := f.task(t, task.ID)
		assert.Equal(t, models.StatusProcessing, got.Status)
		assert.Equal(t, 0, got.Progress)
		require.NotNil(t, got.StartedAt)
		assert.True(t, got.StartedAt.Equal(t0.Add(2001*time.Millisecond)))
	}

	result = f.tick(t, t0.Add(7001*time.Millisecond))
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Progressed)

	sd := f.task(t, tasks[0].ID)
	assert.Equal(t, models.StatusCompleted, sd.Status)
	assert.Equal(t, 100, sd.Progress)
	assert.NotEmpty(t, sd.OutputURL)
	require.NotNil(t, sd.CompletedAt)

	hd := f.task(t, tasks[1].ID)
	assert.Equal(t, models.StatusProcessing, hd.Status)
	assert.Equal(t, 41, hd.Progress)
}

func TestEngine_ForcedFailureKeepsPriorProgress(t *testing.T) {
	f := newFixture(t, progress.Fixed(0))
	ctx := context.Background()

	tasks, err := f.engine.Submit(ctx, f.assetID, []models.Variant{webm1080}, t0)
	require.NoError(t, err)
	id := tasks[0].ID

	started := t0.Add(2001 * time.Millisecond)
	f.tick(t, started)
	f.tick(t, started.Add(6*time.Second)) // 50%, outside the window
	require.Equal(t, 50, f.task(t, id).Progress)

	failAt := started.Add(6600 * time.Millisecond) // 55%
	result := f.tick(t, failAt)
	assert.Equal(t, 1, result.Failed)

	got := f.task(t, id)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.Equal(t, 50, got.Progress)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(failAt))
}

func TestEngine_QueueDelayIsStrict(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	tasks, err := f.engine.Submit(context.Background(), f.assetID, []models.Variant{mp4720}, t0)
	require.NoError(t, err)

	f.tick(t, t0.Add(DefaultQueueDelay))
	assert.Equal(t, models.StatusQueued, f.task(t, tasks[0].ID).Status)

	f.tick(t, t0.Add(DefaultQueueDelay+time.Millisecond))
	assert.Equal(t, models.StatusProcessing, f.task(t, tasks[0].ID).Status)

	for i := 2; i < 30; i++ {
		f.tick(t, t0.Add(DefaultQueueDelay+time.Duration(i)*time.Second))
		assert.NotEqual(t, models.StatusQueued, f.task(t, tasks[0].ID).Status)
	}
}

func TestEngine_ProgressMonotonic(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	tasks, err := f.engine.Submit(context.Background(), f.assetID, []models.Variant{webm1080}, t0)
	require.NoError(t, err)

	last := -1
	for ms := 2001; ms <= 16000; ms += 337 {
		f.tick(t, t0.Add(time.Duration(ms)*time.Millisecond))
		got := f.task(t, tasks[0].ID)
		assert.GreaterOrEqual(t, got.Progress, last)
		last = got.Progress
	}
	assert.Equal(t, models.StatusCompleted, f.task(t, tasks[0].ID).Status)
}

func TestEngine_TerminalStatesAreStable(t *testing.T) {
	f := newFixture(t, progress.Fixed(0))
	tasks, err := f.engine.Submit(context.Background(), f.assetID, []models.Variant{mp4480, webm1080}, t0)
	require.NoError(t, err)

	started := t0.Add(2001 * time.Millisecond)
	f.tick(t, started)
	f.tick(t, started.Add(5*time.Second))         // 480p completes, 1080p at 41
	f.tick(t, started.Add(6600*time.Millisecond)) // 1080p fails at 55

	done := f.task(t, tasks[0].ID)
	failed := f.task(t, tasks[1].ID)
	require.Equal(t, models.StatusCompleted, done.Status)
	require.Equal(t, models.StatusFailed, failed.Status)

	for i := 1; i <= 5; i++ {
		result := f.tick(t, started.Add(time.Duration(i)*time.Minute))
		assert.Zero(t, result.Changed())
	}
	assert.Equal(t, done, f.task(t, tasks[0].ID))
	assert.Equal(t, failed, f.task(t, tasks[1].ID))
}

func TestEngine_RetryResetsFailedTask(t *testing.T) {
	f := newFixture(t, progress.Fixed(0))
	ctx := context.Background()
	tasks, err := f.engine.Submit(ctx, f.assetID, []models.Variant{webm1080}, t0)
	require.NoError(t, err)
	id := tasks[0].ID

	started := t0.Add(2001 * time.Millisecond)
	f.tick(t, started)
	f.tick(t, started.Add(6600*time.Millisecond))
	require.Equal(t, models.StatusFailed, f.task(t, id).Status)

	retryAt := started.Add(time.Minute)
	retried, err := f.engine.Retry(ctx, id, retryAt)
	require.NoError(t, err)

	got := f.task(t, id)
	assert.Equal(t, retried, got)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.OutputURL)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.CreatedAt.Before(retryAt))
	assert.Equal(t, models.Profile1080p, got.Profile)

	f.tick(t, retryAt.Add(DefaultQueueDelay+time.Millisecond))
	assert.Equal(t, models.StatusProcessing, f.task(t, id).Status)
}

func TestEngine_RetryErrors(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	ctx := context.Background()

	_, err := f.engine.Retry(ctx, "missing", t0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)

	tasks, err := f.engine.Submit(ctx, f.assetID, []models.Variant{mp4480}, t0)
	require.NoError(t, err)

	_, err = f.engine.Retry(ctx, tasks[0].ID, t0.Add(time.Second))
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.ErrorIs(t, err, ErrTaskNotFailed)

	f.tick(t, t0.Add(3*time.Second))
	f.tick(t, t0.Add(9*time.Second))
	require.Equal(t, models.StatusCompleted, f.task(t, tasks[0].ID).Status)

	_, err = f.engine.Retry(ctx, tasks[0].ID, t0.Add(10*time.Second))
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Equal(t, models.StatusCompleted, f.task(t, tasks[0].ID).Status)
}

func TestEngine_SubmitIsAllOrNothing(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, "unknown-asset", []models.Variant{mp4480, mp4720, webm1080}, t0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	listed, err := f.repo.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)
	f.engine.Close()
	assert.Empty(t, f.publisher.recorded())
}

func TestEngine_SubmitValidatesAndCollapsesVariants(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, f.assetID, nil, t0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.ErrorIs(t, err, validation.ErrNoVariants)

	tasks, err := f.engine.Submit(ctx, f.assetID, []models.Variant{mp4480, mp4480, webm1080, mp4480}, t0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, mp4480, tasks[0].Variant())
	assert.Equal(t, webm1080, tasks[1].Variant())
	for _, task := range tasks {
		assert.Equal(t, models.StatusQueued, task.Status)
		assert.Equal(t, 0, task.Progress)
		assert.True(t, task.CreatedAt.Equal(t0))
	}
}

func TestEngine_PublishesStatusChangesOnly(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	tasks, err := f.engine.Submit(context.Background(), f.assetID, []models.Variant{mp4480}, t0)
	require.NoError(t, err)

	f.tick(t, t0.Add(2001*time.Millisecond))
	f.tick(t, t0.Add(3*time.Second))
	f.tick(t, t0.Add(4*time.Second))
	f.tick(t, t0.Add(8*time.Second))
	f.engine.Close()

	events := f.publisher.recorded()
	require.Len(t, events, 3)
	assert.Equal(t, models.StatusQueued, events[0].To)
	assert.Equal(t, models.TaskStatus(""), events[0].From)
	assert.Equal(t, models.StatusProcessing, events[1].To)
	assert.Equal(t, models.StatusCompleted, events[2].To)
	assert.Equal(t, models.StatusProcessing, events[2].From)
	assert.Equal(t, tasks[0].ID, events[2].TaskID)
	assert.NotEmpty(t, events[2].OutputURL)
}

func TestEngine_PublishFailureDoesNotFailTick(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	f.publisher.err = errors.New("broker down")

	tasks, err := f.engine.Submit(context.Background(), f.assetID, []models.Variant{mp4480}, t0)
	require.NoError(t, err)

	f.tick(t, t0.Add(3*time.Second))
	assert.Equal(t, models.StatusProcessing, f.task(t, tasks[0].ID).Status)
}

func TestEngine_ConcurrentTicksDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		tasks, err := f.engine.Submit(ctx, f.assetID, []models.Variant{mp4480, mp4720, webm1080}, t0)
		require.NoError(t, err)
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Tick(ctx, t0.Add(2001*time.Millisecond+time.Duration(i)*time.Millisecond))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, models.StatusProcessing, f.task(t, id).Status)
	}

	f.tick(t, t0.Add(time.Minute))
	for _, id := range ids {
		assert.Equal(t, models.StatusCompleted, f.task(t, id).Status)
	}
}

func TestEngine_ObserveReturnsSettledState(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	_, err := f.engine.Submit(context.Background(), f.assetID, []models.Variant{mp4480, webm1080}, t0)
	require.NoError(t, err)

	snap, err := f.engine.Observe(context.Background(), t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Result.Started)
	require.Len(t, snap.Assets, 1)
	assert.Equal(t, f.assetID, snap.Assets[0].ID)
	require.Len(t, snap.Tasks, 2)
	for _, task := range snap.Tasks {
		assert.Equal(t, models.StatusProcessing, task.Status)
	}
}

func TestEngine_TryTickSkipsWhenBusy(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))

	require.True(t, f.engine.mu.tryLock())
	_, ran, err := f.engine.TryTick(context.Background(), t0)
	f.engine.mu.unlock()

	assert.NoError(t, err)
	assert.False(t, ran)

	_, ran, err = f.engine.TryTick(context.Background(), t0)
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestEngine_RunTicksUntilCancelled(t *testing.T) {
	repo := repository.NewMemoryRepo()
	asset := &models.VideoAsset{ID: "asset-1", Filename: "clip.mp4", SizeBytes: 1, UploadedAt: t0}
	require.NoError(t, repo.CreateAsset(context.Background(), asset))

	clk := clock.NewManual(t0)
	engine := NewEngine(repo, progress.NewModel(progress.DefaultConfig(), progress.Fixed(0.99)),
		clk, DefaultQueueDelay, nil, zaptest.NewLogger(t))
	t.Cleanup(engine.Close)

	tasks, err := engine.Submit(context.Background(), asset.ID, []models.Variant{mp4480}, t0)
	require.NoError(t, err)
	clk.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := repo.GetTask(context.Background(), tasks[0].ID)
		return err == nil && got.Status == models.StatusProcessing
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestEngine_Reset(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	ctx := context.Background()
	_, err := f.engine.Submit(ctx, f.assetID, []models.Variant{mp4480}, t0)
	require.NoError(t, err)

	require.NoError(t, f.engine.Reset(ctx))

	tasks, err := f.repo.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assets, err := f.repo.ListAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	events  []models.TaskEvent
}

func (p *blockingPublisher) Publish(ctx context.Context, events []models.TaskEvent) error {
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func TestEngine_SlowPublisherDoesNotHoldLock(t *testing.T) {
	repo := repository.NewMemoryRepo()
	asset := &models.VideoAsset{ID: "asset-1", Filename: "clip.mp4", SizeBytes: 1, UploadedAt: t0}
	require.NoError(t, repo.CreateAsset(context.Background(), asset))

	pub := &blockingPublisher{release: make(chan struct{})}
	engine := NewEngine(repo, progress.NewModel(progress.DefaultConfig(), progress.Fixed(0.99)),
		clock.NewManual(t0), DefaultQueueDelay, pub, zaptest.NewLogger(t))

	_, err := engine.Submit(context.Background(), asset.ID, []models.Variant{mp4480, webm1080}, t0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	snap, err := engine.Observe(ctx, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Len(t, snap.Tasks, 2)

	close(pub.release)
	engine.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 4)
	assert.Equal(t, models.StatusQueued, pub.events[0].To)
	assert.Equal(t, models.StatusQueued, pub.events[1].To)
	assert.Equal(t, models.StatusProcessing, pub.events[2].To)
	assert.Equal(t, models.StatusProcessing, pub.events[3].To)
}

func TestEngine_LockWaitHonoursContext(t *testing.T) {
	f := newFixture(t, progress.Fixed(0.99))
	require.True(t, f.engine.mu.tryLock())
	defer f.engine.mu.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.engine.Observe(ctx, t0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = f.engine.Submit(ctx, f.assetID, []models.Variant{mp4480}, t0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	o := newOutbox(pub, 1, time.Second, zaptest.NewLogger(t))

	batch := func(id string) []models.TaskEvent {
		return []models.TaskEvent{{TaskID: id, To: models.StatusQueued}}
	}
	// first batch is taken by the publishing goroutine, the second fills the buffer
	o.enqueue(batch("a"))
	require.Eventually(t, func() bool { return len(o.batches) == 0 }, time.Second, time.Millisecond)
	o.enqueue(batch("b"))
	o.enqueue(batch("c"))

	close(pub.release)
	o.close()

	o.enqueue(batch("d"))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 2)
	assert.Equal(t, "a", pub.events[0].TaskID)
	assert.Equal(t, "b", pub.events[1].TaskID)
}

func TestEngine_Counters(t *testing.T) {
	f := newFixture(t, progress.Fixed(0))
	_, err := f.engine.Submit(context.Background(), f.assetID, []models.Variant{mp4480}, t0)
	require.NoError(t, err)

	f.tick(t, t0.Add(2001*time.Millisecond))
	f.tick(t, t0.Add(2001*time.Millisecond+2750*time.Millisecond))

	require.True(t, f.engine.mu.tryLock())
	_, ran, err := f.engine.TryTick(context.Background(), t0)
	f.engine.mu.unlock()
	require.NoError(t, err)
	require.False(t, ran)

	assert.Equal(t, Counters{Ticks: 2, Skipped: 1, Started: 1, Failed: 1}, f.engine.Counters())
}
