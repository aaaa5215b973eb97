package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	pkgerrors "github.com/medlogger/druglog-backend/internal/pkg/errors"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/types"
)

// SearchableFields holds, per shape, the names of the fields flagged
// searchable by the active importer's schema. Consulted by the index
// builder for every attribute row.
type SearchableFields struct {
	Attrs         map[string]bool
	AttrsMulti    map[string]bool
	AttrsRef      map[string]bool
	AttrsMultiRef map[string]bool
}

// SchemaService is the read side of the drug schema registry: which
// attribute fields exist for the active importer, which of them are
// searchable, and which allowed values a reference field has.
type SchemaService interface {
	GetAllFieldDefinitions(ctx context.Context) (*repos.AttrFieldDefinitions, error)
	GetSearchableFields(ctx context.Context) (*SearchableFields, error)
	// GetFieldDefinition resolves one field by name across all shapes.
	// Returns ErrNotFound if the active importer never defined it.
	GetFieldDefinition(ctx context.Context, fieldName string) (*types.DrugAttrFieldDefinition, error)
	GetLovItems(ctx context.Context, fieldName string) ([]*types.DrugAttrFieldLovItem, error)
	ImporterName() string
}

type schemaService struct {
	db           *gorm.DB
	log          *logger.Logger
	fieldDefRepo repos.FieldDefRepo
	importerName string
}

func NewSchemaService(db *gorm.DB, baseLog *logger.Logger, fieldDefRepo repos.FieldDefRepo, importerName string) SchemaService {
	return &schemaService{
		db:           db,
		log:          baseLog.With("service", "SchemaService"),
		fieldDefRepo: fieldDefRepo,
		importerName: importerName,
	}
}

func (s *schemaService) ImporterName() string {
	return s.importerName
}

func (s *schemaService) GetAllFieldDefinitions(ctx context.Context) (*repos.AttrFieldDefinitions, error) {
	return s.fieldDefRepo.GetAllByImporter(ctx, nil, s.importerName)
}

func (s *schemaService) GetSearchableFields(ctx context.Context) (*SearchableFields, error) {
	defs, err := s.fieldDefRepo.GetAllByImporter(ctx, nil, s.importerName)
	if err != nil {
		return nil, err
	}
	result := &SearchableFields{
		Attrs:         map[string]bool{},
		AttrsMulti:    map[string]bool{},
		AttrsRef:      map[string]bool{},
		AttrsMultiRef: map[string]bool{},
	}
	collect := func(target map[string]bool, defs []*types.DrugAttrFieldDefinition) {
		for _, def := range defs {
			if def.Searchable {
				target[def.FieldName] = true
			}
		}
	}
	collect(result.Attrs, defs.Attrs)
	collect(result.AttrsMulti, defs.AttrsMulti)
	collect(result.AttrsRef, defs.AttrsRef)
	collect(result.AttrsMultiRef, defs.AttrsMultiRef)
	return result, nil
}

func (s *schemaService) GetFieldDefinition(ctx context.Context, fieldName string) (*types.DrugAttrFieldDefinition, error) {
	def, err := s.fieldDefRepo.GetByName(ctx, nil, s.importerName, fieldName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: drug attribute field %q", pkgerrors.ErrNotFound, fieldName)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (s *schemaService) GetLovItems(ctx context.Context, fieldName string) ([]*types.DrugAttrFieldLovItem, error) {
	return s.fieldDefRepo.GetLovItems(ctx, nil, s.importerName, fieldName)
}
