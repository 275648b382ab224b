package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/models"
)

type assetRow struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"uniqueIndex;not null"`
	Filename   string `gorm:"not null"`
	SizeBytes  int64  `gorm:"not null"`
	UploadedAt time.Time
}

func (assetRow) TableName() string { return "assets" }

type taskRow struct {
	Seq          int64  `gorm:"primaryKey;autoIncrement"`
	ID           string `gorm:"uniqueIndex;not null"`
	AssetID      string `gorm:"index;not null"`
	Container    string `gorm:"not null"`
	Profile      string `gorm:"not null"`
	Status       string `gorm:"not null"`
	Progress     int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	OutputURL    string
}

func (taskRow) TableName() string { return "tasks" }

// SQLiteRepo is the file-backed store, suitable for single-node deployments.
type SQLiteRepo struct {
	db *gorm.DB
}

func NewSQLiteRepo(db *gorm.DB) (*SQLiteRepo, error) {
	if err := db.AutoMigrate(&assetRow{}, &taskRow{}); err != nil {
		return nil, err
	}
	return &SQLiteRepo{db: db}, nil
}

func (r *SQLiteRepo) CreateAsset(ctx context.Context, asset *models.VideoAsset) error {
	row := assetRow{
		ID:         asset.ID,
		Filename:   asset.Filename,
		SizeBytes:  asset.SizeBytes,
		UploadedAt: asset.UploadedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	asset.Seq = row.Seq
	return nil
}

func (r *SQLiteRepo) GetAsset(ctx context.Context, id string) (*models.VideoAsset, error) {
	var row assetRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("get_asset", id, ErrAssetNotFound)
		}
		return nil, err
	}
	a := row.toModel()
	return &a, nil
}

func (r *SQLiteRepo) ListAssets(ctx context.Context) ([]models.VideoAsset, error) {
	var rows []assetRow
	if err := r.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	assets := make([]models.VideoAsset, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, row.toModel())
	}
	return assets, nil
}

func (r *SQLiteRepo) CreateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make(map[string]bool)
		for _, t := range tasks {
			ids[t.AssetID] = true
		}
		for id := range ids {
			var count int64
			if err := tx.Model(&assetRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return apperrors.NotFound("create_tasks", id, ErrAssetNotFound)
			}
		}

		rows := make([]taskRow, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, toTaskRow(t))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		for i := range tasks {
			tasks[i].Seq = rows[i].Seq
		}
		return nil
	})
}

func (r *SQLiteRepo) GetTask(ctx context.Context, id string) (*models.ProcessingTask, error) {
	var row taskRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("get_task", id, ErrTaskNotFound)
		}
		return nil, err
	}
	t := row.toModel()
	return &t, nil
}

func (r *SQLiteRepo) ListTasks(ctx context.Context) ([]models.ProcessingTask, error) {
	var rows []taskRow
	if err := r.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	tasks := make([]models.ProcessingTask, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.toModel())
	}
	return tasks, nil
}

func (r *SQLiteRepo) UpdateTask(ctx context.Context, task models.ProcessingTask) error {
	return r.UpdateTasks(ctx, []models.ProcessingTask{task})
}

func (r *SQLiteRepo) UpdateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range tasks {
			updates := map[string]interface{}{
				"status":        string(t.Status),
				"progress":      t.Progress,
				"created_at":    t.CreatedAt,
				"started_at":    t.StartedAt,
				"completed_at":  t.CompletedAt,
				"error_message": t.Error,
				"output_url":    t.OutputURL,
			}
			result := tx.Model(&taskRow{}).Where("id = ?", t.ID).Updates(updates)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return apperrors.NotFound("update_task", t.ID, ErrTaskNotFound)
			}
		}
		return nil
	})
}

func (r *SQLiteRepo) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&taskRow{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&assetRow{}).Error
	})
}

func (r *SQLiteRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (row assetRow) toModel() models.VideoAsset {
	return models.VideoAsset{
		ID:         row.ID,
		Filename:   row.Filename,
		SizeBytes:  row.SizeBytes,
		UploadedAt: row.UploadedAt,
		Seq:        row.Seq,
	}
}

func toTaskRow(t models.ProcessingTask) taskRow {
	return taskRow{
		ID:           t.ID,
		AssetID:      t.AssetID,
		Container:    string(t.Container),
		Profile:      string(t.Profile),
		Status:       string(t.Status),
		Progress:     t.Progress,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		ErrorMessage: t.Error,
		OutputURL:    t.OutputURL,
	}
}

func (row taskRow) toModel() models.ProcessingTask {
	return models.ProcessingTask{
		ID:          row.ID,
		AssetID:     row.AssetID,
		Container:   models.Container(row.Container),
		Profile:     models.Profile(row.Profile),
		Status:      models.TaskStatus(row.Status),
		Progress:    row.Progress,
		CreatedAt:   row.CreatedAt,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
		Error:       row.ErrorMessage,
		OutputURL:   row.OutputURL,
		Seq:         row.Seq,
	}
}
