package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/types"
)

type DatasetVersionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, version *types.DrugDataSetVersion) (*types.DrugDataSetVersion, error)
	GetBySourceAndVersion(ctx context.Context, tx *gorm.DB, sourceName, version string) (*types.DrugDataSetVersion, error)
	// GetCurrent resolves the most recent successfully imported non-custom
	// version of the given source, or nil if no import ever finished.
	GetCurrent(ctx context.Context, tx *gorm.DB, sourceName string) (*types.DrugDataSetVersion, error)
	// GetOrCreateCustom returns the permanent custom-drugs pseudo-version
	// of the given source, creating it on first use. Exactly one such row
	// exists per source.
	GetOrCreateCustom(ctx context.Context, tx *gorm.DB, sourceName string) (*types.DrugDataSetVersion, error)
	SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status types.ImportStatus, importError *string) error
	List(ctx context.Context, tx *gorm.DB, sourceName string) ([]*types.DrugDataSetVersion, error)
}

type datasetVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDatasetVersionRepo(db *gorm.DB, baseLog *logger.Logger) DatasetVersionRepo {
	repoLog := baseLog.With("repo", "DatasetVersionRepo")
	return &datasetVersionRepo{db: db, log: repoLog}
}

func (r *datasetVersionRepo) Create(ctx context.Context, tx *gorm.DB, version *types.DrugDataSetVersion) (*types.DrugDataSetVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(version).Error; err != nil {
		return nil, err
	}
	return version, nil
}

func (r *datasetVersionRepo) GetBySourceAndVersion(ctx context.Context, tx *gorm.DB, sourceName, version string) (*types.DrugDataSetVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.DrugDataSetVersion
	err := transaction.WithContext(ctx).
		Where("dataset_source_name = ? AND dataset_version = ?", sourceName, version).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *datasetVersionRepo) GetCurrent(ctx context.Context, tx *gorm.DB, sourceName string) (*types.DrugDataSetVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.DrugDataSetVersion
	err := transaction.WithContext(ctx).
		Where("dataset_source_name = ? AND is_custom_drugs_collection = ? AND import_status = ?",
			sourceName, false, types.ImportStatusDone).
		Order("created_at DESC, dataset_version DESC").
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *datasetVersionRepo) GetOrCreateCustom(ctx context.Context, tx *gorm.DB, sourceName string) (*types.DrugDataSetVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.DrugDataSetVersion
	err := transaction.WithContext(ctx).
		Where("dataset_source_name = ? AND is_custom_drugs_collection = ?", sourceName, true).
		First(&result).Error
	if err == nil {
		return &result, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	custom := &types.DrugDataSetVersion{
		DatasetSourceName:       sourceName,
		DatasetVersion:          "custom",
		IsCustomDrugsCollection: true,
		ImportStatus:            types.ImportStatusDone,
	}
	r.log.Debug("Creating custom drugs dataset version", "source", sourceName)
	if err := transaction.WithContext(ctx).Create(custom).Error; err != nil {
		return nil, err
	}
	return custom, nil
}

func (r *datasetVersionRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status types.ImportStatus, importError *string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.DrugDataSetVersion{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"import_status": status,
			"import_error":  importError,
		}).Error
}

func (r *datasetVersionRepo) List(ctx context.Context, tx *gorm.DB, sourceName string) ([]*types.DrugDataSetVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.DrugDataSetVersion
	if err := transaction.WithContext(ctx).
		Where("dataset_source_name = ?", sourceName).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
