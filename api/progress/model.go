// Package progress computes how a PROCESSING task advances at a given
// instant. Apart from the failure draw, Advance is a pure function of the
// task and the timestamp.
package progress

import (
	"fmt"
	"strings"
	"time"

	"mediaPipeline/api/models"
)

const (
	DefaultFailureProbability = 0.005
	DefaultFailureMessage     = "Transcoding engine crashed: Out of memory"
	DefaultOutputURLTemplate  = "https://picsum.photos/seed/{id}/800/600"

	// Failure draws happen only strictly inside (failureWindowLow, failureWindowHigh).
	failureWindowLow  = 50
	failureWindowHigh = 60
)

// DefaultDurations is the processing time per profile. Higher resolutions
// always take longer.
func DefaultDurations() map[models.Profile]time.Duration {
	return map[models.Profile]time.Duration{
		models.Profile480p:  5 * time.Second,
		models.Profile720p:  8 * time.Second,
		models.Profile1080p: 12 * time.Second,
	}
}

// Rand is the failure draw source, uniform in [0, 1).
type Rand interface {
	Float64() float64
}

// Fixed always returns the same draw.
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }

type Config struct {
	Durations          map[models.Profile]time.Duration
	FailureProbability float64
	FailureMessage     string
	// OutputURLTemplate has "{id}" replaced by the task id.
	OutputURLTemplate string
}

func DefaultConfig() Config {
	return Config{
		Durations:          DefaultDurations(),
		FailureProbability: DefaultFailureProbability,
		FailureMessage:     DefaultFailureMessage,
		OutputURLTemplate:  DefaultOutputURLTemplate,
	}
}

// Validate checks that every profile has a positive duration and that the
// table keeps higher resolutions slower.
func (c Config) Validate() error {
	var prev time.Duration
	for _, p := range models.Profiles {
		d, ok := c.Durations[p]
		if !ok || d <= 0 {
			return fmt.Errorf("duration for profile %s must be positive", p)
		}
		if d < prev {
			return fmt.Errorf("duration for profile %s (%s) is shorter than a lower resolution (%s)", p, d, prev)
		}
		prev = d
	}
	if c.FailureProbability < 0 || c.FailureProbability > 1 {
		return fmt.Errorf("failure probability %v outside [0,1]", c.FailureProbability)
	}
	return nil
}

type Model struct {
	durations          map[models.Profile]time.Duration
	fallback           time.Duration
	failureProbability float64
	failureMessage     string
	outputURLTemplate  string
	rand               Rand
}

func NewModel(cfg Config, rand Rand) *Model {
	durations := make(map[models.Profile]time.Duration, len(cfg.Durations))
	for p, d := range cfg.Durations {
		durations[p] = d
	}
	fallback := durations[models.Profile480p]
	if fallback <= 0 {
		fallback = DefaultDurations()[models.Profile480p]
	}
	msg := cfg.FailureMessage
	if msg == "" {
		msg = DefaultFailureMessage
	}
	tmpl := cfg.OutputURLTemplate
	if tmpl == "" {
		tmpl = DefaultOutputURLTemplate
	}
	return &Model{
		durations:          durations,
		fallback:           fallback,
		failureProbability: cfg.FailureProbability,
		failureMessage:     msg,
		outputURLTemplate:  tmpl,
		rand:               rand,
	}
}

func (m *Model) TargetDuration(p models.Profile) time.Duration {
	if d, ok := m.durations[p]; ok && d > 0 {
		return d
	}
	return m.fallback
}

// RawProgress is floor(min(1, elapsed/target) * 100), clamped to [0, 100].
func (m *Model) RawProgress(p models.Profile, elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	target := m.TargetDuration(p)
	if elapsed >= target {
		return 100
	}
	return int(int64(elapsed) * 100 / int64(target))
}

func (m *Model) OutputURL(taskID string) string {
	return strings.ReplaceAll(m.outputURLTemplate, "{id}", taskID)
}

// Advance returns the task as it should be at now and whether anything
// changed. Tasks that are not PROCESSING are returned untouched.
func (m *Model) Advance(t models.ProcessingTask, now time.Time) (models.ProcessingTask, bool) {
	if t.Status != models.StatusProcessing || t.StartedAt == nil {
		return t, false
	}

	raw := m.RawProgress(t.Profile, now.Sub(*t.StartedAt))

	// A crash discards the progress accrued since the last tick.
	if raw > failureWindowLow && raw < failureWindowHigh && m.rand.Float64() < m.failureProbability {
		next := t.Clone()
		completedAt := now
		next.Status = models.StatusFailed
		next.Error = m.failureMessage
		next.CompletedAt = &completedAt
		return next, true
	}

	if raw >= 100 {
		next := t.Clone()
		completedAt := now
		next.Status = models.StatusCompleted
		next.Progress = 100
		next.CompletedAt = &completedAt
		next.OutputURL = m.OutputURL(t.ID)
		return next, true
	}

	if raw > t.Progress {
		next := t.Clone()
		next.Progress = raw
		return next, true
	}

	return t, false
}
