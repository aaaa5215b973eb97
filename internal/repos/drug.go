package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/types"
)

type DrugRepo interface {
	CreateDrugs(ctx context.Context, tx *gorm.DB, drugs []*types.DrugData) ([]*types.DrugData, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DrugData, error)
	// GetByIDsOrdered fetches fully hydrated drugs and returns them in the
	// caller-supplied id order. IDs without a matching drug are skipped.
	GetByIDsOrdered(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DrugData, error)
	// ListBatchAfter streams drugs of the given dataset versions in stable
	// id order: all rows with id > afterID, limited to batchSize, with
	// every attribute and code collection eager-loaded.
	ListBatchAfter(ctx context.Context, tx *gorm.DB, datasetIDs []uuid.UUID, afterID *uuid.UUID, batchSize int) ([]*types.DrugData, error)
	CountByDatasets(ctx context.Context, tx *gorm.DB, datasetIDs []uuid.UUID) (int64, error)
	// IDsMatchingAttrValue resolves drug ids whose stored attribute value
	// matches exactly, against the normalized table of the given shape.
	IDsMatchingAttrValue(ctx context.Context, tx *gorm.DB, shape types.FieldShape, fieldName, value string) ([]uuid.UUID, error)
}

type drugRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDrugRepo(db *gorm.DB, baseLog *logger.Logger) DrugRepo {
	repoLog := baseLog.With("repo", "DrugRepo")
	return &drugRepo{db: db, log: repoLog}
}

func withDrugRelations(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Attrs").
		Preload("AttrsMulti").
		Preload("AttrsRef").
		Preload("AttrsRef.LovItem").
		Preload("AttrsMultiRef").
		Preload("AttrsMultiRef.LovItem").
		Preload("Codes")
}

func (r *drugRepo) CreateDrugs(ctx context.Context, tx *gorm.DB, drugs []*types.DrugData) ([]*types.DrugData, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(drugs) == 0 {
		return []*types.DrugData{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&drugs).Error; err != nil {
		return nil, err
	}
	return drugs, nil
}

func (r *drugRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DrugData, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var drug types.DrugData
	err := withDrugRelations(transaction.WithContext(ctx)).
		Where("id = ?", id).
		First(&drug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &drug, nil
}

func (r *drugRepo) GetByIDsOrdered(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DrugData, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return []*types.DrugData{}, nil
	}
	var fetched []*types.DrugData
	if err := withDrugRelations(transaction.WithContext(ctx)).
		Where("id IN ?", ids).
		Find(&fetched).Error; err != nil {
		return nil, err
	}
	// The database returns rows in primary-key order; restore the
	// caller-supplied order (e.g. relevance order from the search engine).
	byID := make(map[uuid.UUID]*types.DrugData, len(fetched))
	for _, drug := range fetched {
		byID[drug.ID] = drug
	}
	ordered := make([]*types.DrugData, 0, len(ids))
	for _, id := range ids {
		if drug, ok := byID[id]; ok {
			ordered = append(ordered, drug)
		}
	}
	return ordered, nil
}

func (r *drugRepo) ListBatchAfter(ctx context.Context, tx *gorm.DB, datasetIDs []uuid.UUID, afterID *uuid.UUID, batchSize int) ([]*types.DrugData, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(datasetIDs) == 0 {
		return []*types.DrugData{}, nil
	}
	query := withDrugRelations(transaction.WithContext(ctx)).
		Where("source_dataset_id IN ?", datasetIDs)
	if afterID != nil {
		query = query.Where("id > ?", *afterID)
	}
	var results []*types.DrugData
	if err := query.
		Order("id ASC").
		Limit(batchSize).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *drugRepo) CountByDatasets(ctx context.Context, tx *gorm.DB, datasetIDs []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if len(datasetIDs) == 0 {
		return 0, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.DrugData{}).
		Where("source_dataset_id IN ?", datasetIDs).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *drugRepo) IDsMatchingAttrValue(ctx context.Context, tx *gorm.DB, shape types.FieldShape, fieldName, value string) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var model any
	switch shape {
	case types.ShapeAttr:
		model = &types.DrugVal{}
	case types.ShapeAttrMulti:
		model = &types.DrugValMulti{}
	case types.ShapeAttrRef:
		model = &types.DrugValRef{}
	case types.ShapeAttrMultiRef:
		model = &types.DrugValMultiRef{}
	default:
		return nil, errors.New("unknown attribute field shape " + string(shape))
	}

	var ids []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(model).
		Distinct("drug_id").
		Where("field_name = ? AND value = ?", fieldName, value).
		Pluck("drug_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
