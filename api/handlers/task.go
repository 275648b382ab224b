package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/dto"
	"mediaPipeline/api/middleware"
	"mediaPipeline/api/validation"
)

const multipartOverhead = 1 << 20

type TaskService interface {
	RegisterAsset(ctx context.Context, filename string, sizeBytes int64) (*dto.AssetResponse, error)
	ListAssets(ctx context.Context) ([]dto.AssetResponse, error)
	SubmitJob(ctx context.Context, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error)
	RetryTask(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	GetSnapshot(ctx context.Context) (*dto.SnapshotResponse, error)
	Reset(ctx context.Context) error
	Metrics(ctx context.Context) (*dto.MetricsResponse, error)
}

type TaskHandler struct {
	service     TaskService
	maxFileSize int64
	uploadDir   string
	logger      *zap.Logger
}

// NewTaskHandler builds the HTTP adapter. An empty uploadDir skips
// persisting uploaded bytes; only the asset metadata is registered.
func NewTaskHandler(service TaskService, maxFileSize int64, uploadDir string, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service:     service,
		maxFileSize: maxFileSize,
		uploadDir:   uploadDir,
		logger:      logger,
	}
}

func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /assets", h.Upload)
	mux.HandleFunc("GET /assets", h.ListAssets)
	mux.HandleFunc("POST /jobs", h.SubmitJob)
	mux.HandleFunc("GET /snapshot", h.Snapshot)
	mux.HandleFunc("GET /tasks/{id}", h.Task)
	mux.HandleFunc("POST /tasks/{id}/retry", h.Retry)
	mux.HandleFunc("DELETE /data", h.Reset)
	mux.HandleFunc("GET /metrics", h.Metrics)
}

func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperrors.Validation("upload", validation.ErrFileTooLarge)
		} else {
			err = apperrors.Validation("upload", err)
		}
		h.handleError(w, "Failed to parse form", err, traceID)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", apperrors.Validation("upload", err), traceID)
		return
	}
	defer file.Close()

	if err := h.validateFile(header, file); err != nil {
		h.handleError(w, "Invalid file", err, traceID)
		return
	}

	storedPath, err := h.store(file, header.Filename)
	if err != nil {
		h.handleError(w, "Failed to save file", err, traceID)
		return
	}

	resp, err := h.service.RegisterAsset(r.Context(), header.Filename, header.Size)
	if err != nil {
		if storedPath != "" {
			os.Remove(storedPath)
		}
		h.handleError(w, "Failed to register asset", err, traceID)
		return
	}

	h.logger.Info("Asset uploaded",
		zap.String("trace_id", traceID),
		zap.String("asset_id", resp.ID),
		zap.String("filename", header.Filename),
		zap.Int64("size_bytes", header.Size),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *TaskHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	resp, err := h.service.ListAssets(r.Context())
	if err != nil {
		h.handleError(w, "Failed to list assets", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", apperrors.Validation("submit_job", err), traceID)
		return
	}

	resp, err := h.service.SubmitJob(r.Context(), &req)
	if err != nil {
		h.handleError(w, "Failed to submit job", err, traceID)
		return
	}

	h.logger.Info("Job submitted",
		zap.String("trace_id", traceID),
		zap.String("asset_id", req.AssetID),
		zap.Int("tasks", len(resp.TaskIDs)),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *TaskHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	resp, err := h.service.GetSnapshot(r.Context())
	if err != nil {
		h.handleError(w, "Failed to get snapshot", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) Task(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := strings.TrimSpace(r.PathValue("id"))
	if taskID == "" {
		h.handleError(w, "Task ID is required", apperrors.Validation("get_task", errors.New("empty id")), traceID)
		return
	}

	resp, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		h.handleError(w, "Failed to get task", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := strings.TrimSpace(r.PathValue("id"))
	if taskID == "" {
		h.handleError(w, "Task ID is required", apperrors.Validation("retry_task", errors.New("empty id")), traceID)
		return
	}

	resp, err := h.service.RetryTask(r.Context(), taskID)
	if err != nil {
		h.handleError(w, "Failed to retry task", err, traceID)
		return
	}

	h.logger.Info("Task requeued",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
	)

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if err := h.service.Reset(r.Context()); err != nil {
		h.handleError(w, "Failed to reset data", err, traceID)
		return
	}

	h.logger.Warn("All data cleared", zap.String("trace_id", traceID))
	w.WriteHeader(http.StatusNoContent)
}

// Metrics writes the counters in the Prometheus text format.
func (h *TaskHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	m, err := h.service.Metrics(r.Context())
	if err != nil {
		h.handleError(w, "Failed to collect metrics", err, traceID)
		return
	}

	var b strings.Builder
	b.WriteString("# TYPE media_tasks gauge\n")
	for _, s := range []struct {
		status string
		count  int
	}{
		{"queued", m.Tasks.Queued},
		{"processing", m.Tasks.Processing},
		{"completed", m.Tasks.Completed},
		{"failed", m.Tasks.Failed},
	} {
		fmt.Fprintf(&b, "media_tasks{status=%q} %d\n", s.status, s.count)
	}
	b.WriteString("# TYPE media_scheduler_ticks_total counter\n")
	fmt.Fprintf(&b, "media_scheduler_ticks_total %d\n", m.Ticks)
	b.WriteString("# TYPE media_scheduler_ticks_skipped_total counter\n")
	fmt.Fprintf(&b, "media_scheduler_ticks_skipped_total %d\n", m.Skipped)
	b.WriteString("# TYPE media_task_transitions_total counter\n")
	fmt.Fprintf(&b, "media_task_transitions_total{to=\"processing\"} %d\n", m.Started)
	fmt.Fprintf(&b, "media_task_transitions_total{to=\"completed\"} %d\n", m.Completed)
	fmt.Fprintf(&b, "media_task_transitions_total{to=\"failed\"} %d\n", m.Failed)
	b.WriteString("# TYPE media_task_progress_updates_total counter\n")
	fmt.Fprintf(&b, "media_task_progress_updates_total %d\n", m.Progressed)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

func (h *TaskHandler) validateFile(header *multipart.FileHeader, file multipart.File) error {
	if err := validation.CheckSize(header.Size, h.maxFileSize); err != nil {
		return err
	}

	if strings.TrimSpace(header.Filename) == "" {
		return apperrors.Validation("upload", validation.ErrMissingFilename)
	}

	if !validation.IsAllowedExtension(header.Filename) {
		return apperrors.Validation("upload",
			fmt.Errorf("%w: %s", validation.ErrInvalidFileType, filepath.Ext(header.Filename)))
	}

	detected, err := validation.DetectFileType(file)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidFileType) {
			return apperrors.Validation("upload", err)
		}
		return err
	}
	if !validation.MatchesExtension(header.Filename, detected) {
		return apperrors.Validation("upload",
			fmt.Errorf("%w: content is %s", validation.ErrExtensionMismatch, detected))
	}

	return nil
}

func (h *TaskHandler) store(file multipart.File, filename string) (string, error) {
	if h.uploadDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(h.uploadDir, uuid.New().String()+"-"+sanitizeFilename(filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func sanitizeFilename(filename string) string {
	return filepath.Base(filepath.Clean("/" + filename))
}

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidState:
		return http.StatusConflict
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string) {
	status := statusFor(err)
	kind := apperrors.KindOf(err)

	resp := dto.ErrorResponse{
		Error:   message,
		Code:    string(kind),
		TraceID: traceID,
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("trace_id", traceID), zap.Error(err))
	} else {
		h.logger.Info(message, zap.String("trace_id", traceID), zap.Error(err))
		resp.Detail = err.Error()
	}

	h.respondJSON(w, status, resp)
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
