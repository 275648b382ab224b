package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/models"
	"mediaPipeline/api/repository"
	"mediaPipeline/api/validation"
)

const DefaultMaxFileSize int64 = 200 << 20

var ErrNegativeSize = errors.New("size must not be negative")

// Registry records uploaded source videos. Assets are immutable once registered.
type Registry struct {
	repo        repository.Repository
	maxFileSize int64
	logger      *zap.Logger
}

func New(repo repository.Repository, maxFileSize int64, logger *zap.Logger) *Registry {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Registry{repo: repo, maxFileSize: maxFileSize, logger: logger}
}

func (r *Registry) MaxFileSize() int64 {
	return r.maxFileSize
}

// Register persists a new asset. The upload layer checks size first; the
// check is repeated here so oversized records never reach the store.
func (r *Registry) Register(ctx context.Context, filename string, sizeBytes int64, now time.Time) (*models.VideoAsset, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, apperrors.Validation("register_asset", validation.ErrMissingFilename)
	}
	if sizeBytes < 0 {
		return nil, apperrors.Validation("register_asset", ErrNegativeSize)
	}
	if sizeBytes > r.maxFileSize {
		return nil, apperrors.Validation("register_asset",
			fmt.Errorf("%w: %d bytes > %d bytes", validation.ErrFileTooLarge, sizeBytes, r.maxFileSize))
	}

	asset := &models.VideoAsset{
		ID:         uuid.New().String(),
		Filename:   filename,
		SizeBytes:  sizeBytes,
		UploadedAt: now,
	}
	if err := r.repo.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	r.logger.Info("Asset registered",
		zap.String("asset_id", asset.ID),
		zap.String("filename", asset.Filename),
		zap.Int64("size_bytes", asset.SizeBytes),
	)
	return asset, nil
}

// ListAll returns assets newest first; equal timestamps put the later
// registration first.
func (r *Registry) ListAll(ctx context.Context) ([]models.VideoAsset, error) {
	assets, err := r.repo.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	SortNewestFirst(assets)
	return assets, nil
}

// SortNewestFirst orders assets by upload time descending, later
// registrations first on ties.
func SortNewestFirst(assets []models.VideoAsset) {
	sort.SliceStable(assets, func(i, j int) bool {
		if !assets[i].UploadedAt.Equal(assets[j].UploadedAt) {
			return assets[i].UploadedAt.After(assets[j].UploadedAt)
		}
		return assets[i].Seq > assets[j].Seq
	})
}

func (r *Registry) Get(ctx context.Context, id string) (*models.VideoAsset, error) {
	return r.repo.GetAsset(ctx, id)
}
