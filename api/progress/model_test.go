package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaPipeline/api/models"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func processing(profile models.Profile, progress int) models.ProcessingTask {
	started := start
	return models.ProcessingTask{
		ID:        "task-1",
		AssetID:   "asset-1",
		Container: models.ContainerMP4,
		Profile:   profile,
		Status:    models.StatusProcessing,
		Progress:  progress,
		CreatedAt: start.Add(-2 * time.Second),
		StartedAt: &started,
	}
}

// countingRand records how many draws were taken.
type countingRand struct {
	value float64
	calls int
}

func (r *countingRand) Float64() float64 {
	r.calls++
	return r.value
}

func TestRawProgress(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(0.99))

	tests := []struct {
		profile models.Profile
		elapsed time.Duration
		want    int
	}{
		{models.Profile480p, -time.Second, 0},
		{models.Profile480p, 0, 0},
		{models.Profile480p, 2500 * time.Millisecond, 50},
		{models.Profile480p, 4999 * time.Millisecond, 99},
		{models.Profile480p, 5 * time.Second, 100},
		{models.Profile480p, time.Minute, 100},
		{models.Profile720p, 4 * time.Second, 50},
		{models.Profile1080p, 5001 * time.Millisecond, 41},
		{models.Profile1080p, 5000 * time.Millisecond, 41},
		{"4k", 2500 * time.Millisecond, 50},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, m.RawProgress(tt.profile, tt.elapsed), "%s after %s", tt.profile, tt.elapsed)
	}
}

func TestAdvance_UpdatesProgress(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(0.99))
	task := processing(models.Profile1080p, 10)

	next, changed := m.Advance(task, start.Add(3*time.Second))

	require.True(t, changed)
	assert.Equal(t, models.StatusProcessing, next.Status)
	assert.Equal(t, 25, next.Progress)
	assert.Nil(t, next.CompletedAt)
	assert.Equal(t, 10, task.Progress, "input must not be mutated")
}

func TestAdvance_NoOpWhenProgressUnchanged(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(0.99))
	task := processing(models.Profile1080p, 25)

	_, changed := m.Advance(task, start.Add(3*time.Second))
	assert.False(t, changed)
}

func TestAdvance_NeverDecreases(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(0.99))
	task := processing(models.Profile1080p, 40)

	next, changed := m.Advance(task, start.Add(time.Second))
	assert.False(t, changed)
	assert.Equal(t, 40, next.Progress)
}

func TestAdvance_Completes(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(0.99))
	task := processing(models.Profile480p, 80)
	now := start.Add(5 * time.Second)

	next, changed := m.Advance(task, now)

	require.True(t, changed)
	assert.Equal(t, models.StatusCompleted, next.Status)
	assert.Equal(t, 100, next.Progress)
	require.NotNil(t, next.CompletedAt)
	assert.True(t, next.CompletedAt.Equal(now))
	assert.Equal(t, "https://picsum.photos/seed/task-1/800/600", next.OutputURL)
	assert.Empty(t, next.Error)
}

func TestAdvance_FailureInsideWindow(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(0))
	task := processing(models.Profile1080p, 41)
	now := start.Add(6600 * time.Millisecond) // raw progress 55

	next, changed := m.Advance(task, now)

	require.True(t, changed)
	assert.Equal(t, models.StatusFailed, next.Status)
	assert.Equal(t, DefaultFailureMessage, next.Error)
	assert.Equal(t, 41, next.Progress, "progress must not advance on failure")
	require.NotNil(t, next.CompletedAt)
	assert.True(t, next.CompletedAt.Equal(now))
	assert.Empty(t, next.OutputURL)
}

func TestAdvance_DrawsOnlyInsideWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Durations[models.Profile1080p] = 100 * time.Second

	tests := []struct {
		name    string
		elapsed time.Duration
		draws   int
	}{
		{"below window", 50 * time.Second, 0},
		{"lower edge", 51 * time.Second, 1},
		{"upper edge", 59 * time.Second, 1},
		{"at sixty", 60 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRand{value: 0.99}
			m := NewModel(cfg, r)
			m.Advance(processing(models.Profile1080p, 0), start.Add(tt.elapsed))
			assert.Equal(t, tt.draws, r.calls)
		})
	}
}

func TestAdvance_DrawAboveProbabilityKeepsRunning(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(DefaultFailureProbability))
	task := processing(models.Profile1080p, 41)

	next, changed := m.Advance(task, start.Add(6600*time.Millisecond))

	require.True(t, changed)
	assert.Equal(t, models.StatusProcessing, next.Status)
	assert.Equal(t, 55, next.Progress)
}

func TestAdvance_IgnoresOtherStatuses(t *testing.T) {
	m := NewModel(DefaultConfig(), Fixed(0))
	for _, status := range []models.TaskStatus{models.StatusQueued, models.StatusCompleted, models.StatusFailed} {
		task := processing(models.Profile480p, 30)
		task.Status = status

		next, changed := m.Advance(task, start.Add(time.Hour))
		assert.False(t, changed, status)
		assert.Equal(t, task, next)
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Durations[models.Profile1080p] = time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	delete(cfg.Durations, models.Profile720p)
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.FailureProbability = 1.5
	assert.Error(t, cfg.Validate())
}
