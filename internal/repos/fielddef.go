package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/types"
)

// AttrFieldDefinitions groups one importer's field definitions by shape,
// plus its code system definitions.
type AttrFieldDefinitions struct {
	Attrs         []*types.DrugAttrFieldDefinition `json:"attrs"`
	AttrsRef      []*types.DrugAttrFieldDefinition `json:"attrs_ref"`
	AttrsMulti    []*types.DrugAttrFieldDefinition `json:"attrs_multi"`
	AttrsMultiRef []*types.DrugAttrFieldDefinition `json:"attrs_multi_ref"`
	Codes         []*types.DrugCodeSystem          `json:"codes"`
}

type FieldDefRepo interface {
	CreateDefinitions(ctx context.Context, tx *gorm.DB, defs []*types.DrugAttrFieldDefinition) error
	CreateLovItems(ctx context.Context, tx *gorm.DB, items []*types.DrugAttrFieldLovItem) error
	CreateCodeSystems(ctx context.Context, tx *gorm.DB, systems []*types.DrugCodeSystem) error
	GetAllByImporter(ctx context.Context, tx *gorm.DB, importerName string) (*AttrFieldDefinitions, error)
	GetByName(ctx context.Context, tx *gorm.DB, importerName, fieldName string) (*types.DrugAttrFieldDefinition, error)
	GetLovItems(ctx context.Context, tx *gorm.DB, importerName, fieldName string) ([]*types.DrugAttrFieldLovItem, error)
}

type fieldDefRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFieldDefRepo(db *gorm.DB, baseLog *logger.Logger) FieldDefRepo {
	repoLog := baseLog.With("repo", "FieldDefRepo")
	return &fieldDefRepo{db: db, log: repoLog}
}

func (r *fieldDefRepo) CreateDefinitions(ctx context.Context, tx *gorm.DB, defs []*types.DrugAttrFieldDefinition) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(defs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&defs).Error
}

func (r *fieldDefRepo) CreateLovItems(ctx context.Context, tx *gorm.DB, items []*types.DrugAttrFieldLovItem) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(items) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&items).Error
}

func (r *fieldDefRepo) CreateCodeSystems(ctx context.Context, tx *gorm.DB, systems []*types.DrugCodeSystem) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(systems) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&systems).Error
}

func (r *fieldDefRepo) GetAllByImporter(ctx context.Context, tx *gorm.DB, importerName string) (*AttrFieldDefinitions, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var defs []*types.DrugAttrFieldDefinition
	if err := transaction.WithContext(ctx).
		Where("importer_name = ?", importerName).
		Order("field_name ASC").
		Find(&defs).Error; err != nil {
		return nil, err
	}

	result := &AttrFieldDefinitions{}
	for _, def := range defs {
		switch def.Shape() {
		case types.ShapeAttrRef:
			result.AttrsRef = append(result.AttrsRef, def)
		case types.ShapeAttrMulti:
			result.AttrsMulti = append(result.AttrsMulti, def)
		case types.ShapeAttrMultiRef:
			result.AttrsMultiRef = append(result.AttrsMultiRef, def)
		default:
			result.Attrs = append(result.Attrs, def)
		}
	}

	if err := transaction.WithContext(ctx).
		Where("importer_name = ?", importerName).
		Order("id ASC").
		Find(&result.Codes).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *fieldDefRepo) GetByName(ctx context.Context, tx *gorm.DB, importerName, fieldName string) (*types.DrugAttrFieldDefinition, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var def types.DrugAttrFieldDefinition
	err := transaction.WithContext(ctx).
		Where("importer_name = ? AND field_name = ?", importerName, fieldName).
		First(&def).Error
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *fieldDefRepo) GetLovItems(ctx context.Context, tx *gorm.DB, importerName, fieldName string) ([]*types.DrugAttrFieldLovItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var items []*types.DrugAttrFieldLovItem
	if err := transaction.WithContext(ctx).
		Where("importer_name = ? AND field_name = ?", importerName, fieldName).
		Order("sort_order ASC, value ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
