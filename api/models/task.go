package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusQueued     TaskStatus = "QUEUED"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// Terminal reports whether the status only changes through an explicit retry.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Container string

const (
	ContainerMP4  Container = "MP4"
	ContainerWebM Container = "WebM"
)

type Profile string

const (
	Profile480p  Profile = "480p"
	Profile720p  Profile = "720p"
	Profile1080p Profile = "1080p"
)

var (
	Containers = []Container{ContainerMP4, ContainerWebM}
	Profiles   = []Profile{Profile480p, Profile720p, Profile1080p}
)

var ProfileDetails = map[Profile]string{
	Profile480p:  "480p (~1 Mbps)",
	Profile720p:  "720p (~2.5 Mbps)",
	Profile1080p: "1080p (~5 Mbps)",
}

var ContainerDetails = map[Container]string{
	ContainerMP4:  "H.264 / AAC",
	ContainerWebM: "VP9 / Opus",
}

// ProfileDimensions is the frame size of each resolution profile.
var ProfileDimensions = map[Profile][2]int{
	Profile480p:  {854, 480},
	Profile720p:  {1280, 720},
	Profile1080p: {1920, 1080},
}

func ParseContainer(s string) (Container, bool) {
	for _, c := range Containers {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

func ParseProfile(s string) (Profile, bool) {
	for _, p := range Profiles {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, true
		}
	}
	return "", false
}

// Variant is one requested output of a job.
type Variant struct {
	Container Container `json:"container"`
	Profile   Profile   `json:"profile"`
}

type VideoAsset struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
	Seq        int64     `json:"seq"`
}

type ProcessingTask struct {
	ID          string     `json:"id"`
	AssetID     string     `json:"asset_id"`
	Container   Container  `json:"container"`
	Profile     Profile    `json:"profile"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	OutputURL   string     `json:"output_url,omitempty"`
	Seq         int64      `json:"seq"`
}

// NewTask builds a fresh QUEUED task for one variant of an asset.
func NewTask(assetID string, v Variant, now time.Time) ProcessingTask {
	return ProcessingTask{
		ID:        uuid.New().String(),
		AssetID:   assetID,
		Container: v.Container,
		Profile:   v.Profile,
		Status:    StatusQueued,
		CreatedAt: now,
	}
}

func (t ProcessingTask) Variant() Variant {
	return Variant{Container: t.Container, Profile: t.Profile}
}

// Requeue returns the task reset to a fresh QUEUED record. Identity and
// variant are kept; every lifecycle field is cleared.
func (t ProcessingTask) Requeue(now time.Time) ProcessingTask {
	return ProcessingTask{
		ID:        t.ID,
		AssetID:   t.AssetID,
		Container: t.Container,
		Profile:   t.Profile,
		Status:    StatusQueued,
		CreatedAt: now,
		Seq:       t.Seq,
	}
}

// Clone returns a copy that shares no pointers with t.
func (t ProcessingTask) Clone() ProcessingTask {
	c := t
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := *t.CompletedAt
		c.CompletedAt = &s
	}
	return c
}

type TaskEvent struct {
	TaskID    string     `json:"task_id"`
	AssetID   string     `json:"asset_id"`
	Container Container  `json:"container"`
	Profile   Profile    `json:"profile"`
	From      TaskStatus `json:"from,omitempty"`
	To        TaskStatus `json:"to"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
	OutputURL string     `json:"output_url,omitempty"`
	At        time.Time  `json:"at"`
}

func NewTaskEvent(from TaskStatus, t ProcessingTask, at time.Time) TaskEvent {
	return TaskEvent{
		TaskID:    t.ID,
		AssetID:   t.AssetID,
		Container: t.Container,
		Profile:   t.Profile,
		From:      from,
		To:        t.Status,
		Progress:  t.Progress,
		Error:     t.Error,
		OutputURL: t.OutputURL,
		At:        at,
	}
}

type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func CountByStatus(tasks []ProcessingTask) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusQueued:
			s.Queued++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
