package dto

import "mediaPipeline/api/models"

type VariantRequest struct {
	Container string `json:"container"`
	Profile   string `json:"profile"`
}

type SubmitJobRequest struct {
	AssetID  string           `json:"asset_id"`
	Variants []VariantRequest `json:"variants"`
}

type AssetResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	UploadedAt string `json:"uploaded_at"`
}

type TaskResponse struct {
	ID             string  `json:"id"`
	AssetID        string  `json:"asset_id"`
	Container      string  `json:"container"`
	ContainerLabel string  `json:"container_label"`
	Profile        string  `json:"profile"`
	ProfileLabel   string  `json:"profile_label"`
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	CreatedAt      string  `json:"created_at"`
	StartedAt      *string `json:"started_at,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty"`
	Error          string  `json:"error,omitempty"`
	OutputURL      string  `json:"output_url,omitempty"`
}

type SubmitJobResponse struct {
	AssetID string         `json:"asset_id"`
	TaskIDs []string       `json:"task_ids"`
	Tasks   []TaskResponse `json:"tasks"`
}

type SnapshotResponse struct {
	Assets []AssetResponse `json:"assets"`
	Tasks  []TaskResponse  `json:"tasks"`
	Stats  models.Stats    `json:"stats"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type MetricsResponse struct {
	Tasks      models.Stats `json:"tasks"`
	Ticks      int64        `json:"ticks"`
	Skipped    int64        `json:"skipped_ticks"`
	Started    int64        `json:"started"`
	Progressed int64        `json:"progressed"`
	Completed  int64        `json:"completed"`
	Failed     int64        `json:"failed"`
}
