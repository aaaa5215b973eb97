package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	pkgerrors "github.com/medlogger/druglog-backend/internal/pkg/errors"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/types"
)

// CustomDrugCreate is the payload for ad-hoc creation of a drug that is
// missing from the imported dataset. Attribute maps are keyed by field
// name and validated against the active importer's field definitions.
type CustomDrugCreate struct {
	TradeName        string              `json:"trade_name" binding:"required"`
	MarketAccessDate *time.Time          `json:"market_access_date,omitempty"`
	MarketExitDate   *time.Time          `json:"market_exit_date,omitempty"`
	Attrs            map[string]string   `json:"attrs,omitempty"`
	AttrsMulti       map[string][]string `json:"attrs_multi,omitempty"`
	AttrsRef         map[string]string   `json:"attrs_ref,omitempty"`
	AttrsMultiRef    map[string][]string `json:"attrs_multi_ref,omitempty"`
	Codes            map[string]string   `json:"codes,omitempty"`
}

type DrugService interface {
	GetDrug(ctx context.Context, id uuid.UUID) (*types.DrugData, error)
	GetFieldDefinitions(ctx context.Context) (*repos.AttrFieldDefinitions, error)
	// CreateCustomDrug validates and stores a custom drug under the
	// permanent custom dataset version, then makes it searchable via a
	// single-row index insert, without a full rebuild.
	CreateCustomDrug(ctx context.Context, create CustomDrugCreate) (*types.DrugData, error)
}

type drugService struct {
	db          *gorm.DB
	log         *logger.Logger
	schema      SchemaService
	drugRepo    repos.DrugRepo
	versionRepo repos.DatasetVersionRepo
	engine      DrugSearchEngine
	sourceName  string
}

func NewDrugService(
	db *gorm.DB,
	baseLog *logger.Logger,
	schema SchemaService,
	drugRepo repos.DrugRepo,
	versionRepo repos.DatasetVersionRepo,
	engine DrugSearchEngine,
	datasetSourceName string,
) DrugService {
	return &drugService{
		db:          db,
		log:         baseLog.With("service", "DrugService"),
		schema:      schema,
		drugRepo:    drugRepo,
		versionRepo: versionRepo,
		engine:      engine,
		sourceName:  datasetSourceName,
	}
}

func (s *drugService) GetDrug(ctx context.Context, id uuid.UUID) (*types.DrugData, error) {
	drug, err := s.drugRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if drug == nil {
		return nil, fmt.Errorf("%w: drug %s", pkgerrors.ErrNotFound, id)
	}
	return drug, nil
}

func (s *drugService) GetFieldDefinitions(ctx context.Context) (*repos.AttrFieldDefinitions, error) {
	return s.schema.GetAllFieldDefinitions(ctx)
}

func (s *drugService) CreateCustomDrug(ctx context.Context, create CustomDrugCreate) (*types.DrugData, error) {
	if create.TradeName == "" {
		return nil, fmt.Errorf("%w: trade_name must not be empty", pkgerrors.ErrInvalidArgument)
	}

	customVersion, err := s.versionRepo.GetOrCreateCustom(ctx, nil, s.sourceName)
	if err != nil {
		return nil, err
	}

	drug := &types.DrugData{
		TradeName:        create.TradeName,
		MarketAccessDate: create.MarketAccessDate,
		MarketExitDate:   create.MarketExitDate,
		IsCustomDrug:     true,
		SourceDatasetID:  customVersion.ID,
	}

	if err := s.buildAttrRows(ctx, drug, create); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.drugRepo.CreateDrugs(ctx, tx, []*types.DrugData{drug})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Re-read with relations so the LOV displays make it into the cache
	// row and the response.
	created, err := s.drugRepo.GetByID(ctx, nil, drug.ID)
	if err != nil {
		return nil, err
	}

	if err := s.engine.InsertDrugToIndex(ctx, created); err != nil {
		// The drug exists either way; an index miss resolves on the next
		// full rebuild.
		s.log.Error("Failed to insert custom drug into search index", "drug_id", created.ID, "error", err)
	}
	return created, nil
}

func (s *drugService) buildAttrRows(ctx context.Context, drug *types.DrugData, create CustomDrugCreate) error {
	importerName := s.schema.ImporterName()

	for _, fieldName := range sortedKeys(create.Attrs) {
		value := create.Attrs[fieldName]
		if err := s.validateFieldValue(ctx, fieldName, value, types.ShapeAttr); err != nil {
			return err
		}
		drug.Attrs = append(drug.Attrs, types.DrugVal{
			FieldName: fieldName, ImporterName: importerName, Value: &value,
		})
	}
	for _, fieldName := range sortedKeys(create.AttrsMulti) {
		for idx, value := range create.AttrsMulti[fieldName] {
			if err := s.validateFieldValue(ctx, fieldName, value, types.ShapeAttrMulti); err != nil {
				return err
			}
			v := value
			drug.AttrsMulti = append(drug.AttrsMulti, types.DrugValMulti{
				FieldName: fieldName, ImporterName: importerName, ValueIndex: idx, Value: &v,
			})
		}
	}
	for _, fieldName := range sortedKeys(create.AttrsRef) {
		value := create.AttrsRef[fieldName]
		if err := s.validateRefValue(ctx, fieldName, value, types.ShapeAttrRef); err != nil {
			return err
		}
		drug.AttrsRef = append(drug.AttrsRef, types.DrugValRef{
			FieldName: fieldName, ImporterName: importerName, Value: &value,
		})
	}
	for _, fieldName := range sortedKeys(create.AttrsMultiRef) {
		for idx, value := range create.AttrsMultiRef[fieldName] {
			if err := s.validateRefValue(ctx, fieldName, value, types.ShapeAttrMultiRef); err != nil {
				return err
			}
			v := value
			drug.AttrsMultiRef = append(drug.AttrsMultiRef, types.DrugValMultiRef{
				FieldName: fieldName, ImporterName: importerName, ValueIndex: idx, Value: &v,
			})
		}
	}
	for _, codeSystemID := range sortedKeys(create.Codes) {
		drug.Codes = append(drug.Codes, types.DrugCode{
			CodeSystemID: codeSystemID, Code: create.Codes[codeSystemID],
		})
	}
	return nil
}

func (s *drugService) validateFieldValue(ctx context.Context, fieldName, value string, wantShape types.FieldShape) (err error) {
	def, err := s.schema.GetFieldDefinition(ctx, fieldName)
	if err != nil {
		return fmt.Errorf("%w: unknown drug attribute field %q", pkgerrors.ErrInvalidArgument, fieldName)
	}
	if def.Shape() != wantShape {
		return fmt.Errorf("%w: field %q is of shape %s, not %s", pkgerrors.ErrInvalidArgument, fieldName, def.Shape(), wantShape)
	}
	if _, err := def.ValueType.CastValue(value); err != nil {
		return fmt.Errorf("%w: field %s: %v", pkgerrors.ErrInvalidArgument, fieldName, err)
	}
	return nil
}

func (s *drugService) validateRefValue(ctx context.Context, fieldName, value string, wantShape types.FieldShape) error {
	if err := s.validateFieldValue(ctx, fieldName, value, wantShape); err != nil {
		return err
	}
	lovItems, err := s.schema.GetLovItems(ctx, fieldName)
	if err != nil {
		return err
	}
	for _, item := range lovItems {
		if item.Value == value {
			return nil
		}
	}
	return fmt.Errorf("%w: value %q is not an allowed value of reference field %q", pkgerrors.ErrInvalidArgument, value, fieldName)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
