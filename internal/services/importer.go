package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/types"
)

// DrugDataSetImporter is the generic shape every drug data source
// exposes: its schema (field definitions, LOV items, code systems), a
// version fingerprint for the data it would import, and the drugs
// themselves. Parsing of real source formats lives behind this interface.
type DrugDataSetImporter interface {
	// DatasetSourceName names the data source, e.g. a pharma index.
	DatasetSourceName() string
	// ImporterName keys the field definitions owned by this importer.
	ImporterName() string
	// DatasetVersion returns an opaque fingerprint of the importable
	// data. Two runs over unchanged data must return the same string.
	DatasetVersion(ctx context.Context) (string, error)
	FieldDefinitions() []*types.DrugAttrFieldDefinition
	LovItems() []*types.DrugAttrFieldLovItem
	CodeSystems() []*types.DrugCodeSystem
	// GenerateDrugs produces the drug entities of this dataset, already
	// attached to the given dataset version.
	GenerateDrugs(ctx context.Context, datasetVersionID uuid.UUID) ([]*types.DrugData, error)
}

// drugImporters is the registry of known importer plugins, keyed by the
// DRUG_IMPORTER_PLUGIN config value.
var drugImporters = map[string]func(log *logger.Logger) DrugDataSetImporter{
	DummyImporterName: NewDummyDrugImporter,
}

func NewDrugImporter(name string, log *logger.Logger) (DrugDataSetImporter, error) {
	factory, ok := drugImporters[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown drug importer plugin %q", ErrSearchEngineNotConfigured, name)
	}
	return factory(log), nil
}

// ImportService drives one importer through the dataset version
// lifecycle: queued, running, then done or failed with the error text
// recorded on the version row.
type ImportService struct {
	db           *gorm.DB
	log          *logger.Logger
	importer     DrugDataSetImporter
	fieldDefRepo repos.FieldDefRepo
	versionRepo  repos.DatasetVersionRepo
	drugRepo     repos.DrugRepo
}

func NewImportService(
	db *gorm.DB,
	baseLog *logger.Logger,
	importer DrugDataSetImporter,
	fieldDefRepo repos.FieldDefRepo,
	versionRepo repos.DatasetVersionRepo,
	drugRepo repos.DrugRepo,
) *ImportService {
	return &ImportService{
		db:           db,
		log:          baseLog.With("service", "ImportService", "importer", importer.ImporterName()),
		importer:     importer,
		fieldDefRepo: fieldDefRepo,
		versionRepo:  versionRepo,
		drugRepo:     drugRepo,
	}
}

// RunImport imports the importer's dataset unless the same version
// fingerprint was imported before. Returns the dataset version row the
// import produced (or found).
func (s *ImportService) RunImport(ctx context.Context) (*types.DrugDataSetVersion, error) {
	fingerprint, err := s.importer.DatasetVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine dataset version: %w", err)
	}

	existing, err := s.versionRepo.GetBySourceAndVersion(ctx, nil, s.importer.DatasetSourceName(), fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.ImportStatus == types.ImportStatusFailed {
			s.log.Warn("Dataset version failed on a previous import run, skipping",
				"dataset_version", fingerprint, "import_error", existing.ImportError)
		} else {
			s.log.Info("Dataset version already imported, skipping", "dataset_version", fingerprint)
		}
		return existing, nil
	}

	if _, err := s.versionRepo.GetOrCreateCustom(ctx, nil, s.importer.DatasetSourceName()); err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	version := &types.DrugDataSetVersion{
		DatasetSourceName: s.importer.DatasetSourceName(),
		DatasetVersion:    fingerprint,
		ImportStatus:      types.ImportStatusQueued,
	}
	if _, err := s.versionRepo.Create(ctx, nil, version); err != nil {
		return nil, err
	}

	s.log.Info("Start drug data import...", "dataset_version", fingerprint)
	if err := s.versionRepo.SetStatus(ctx, nil, version.ID, types.ImportStatusRunning, nil); err != nil {
		return nil, err
	}

	if err := s.importDrugs(ctx, version); err != nil {
		errText := err.Error()
		if statusErr := s.versionRepo.SetStatus(ctx, nil, version.ID, types.ImportStatusFailed, &errText); statusErr != nil {
			s.log.Error("Failed to record import failure", "error", statusErr)
		}
		return nil, fmt.Errorf("drug data import failed: %w", err)
	}

	if err := s.versionRepo.SetStatus(ctx, nil, version.ID, types.ImportStatusDone, nil); err != nil {
		return nil, err
	}
	version.ImportStatus = types.ImportStatusDone
	s.log.Info("...drug data import done", "dataset_version", fingerprint)
	return version, nil
}

func (s *ImportService) importDrugs(ctx context.Context, version *types.DrugDataSetVersion) error {
	drugs, err := s.importer.GenerateDrugs(ctx, version.ID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.drugRepo.CreateDrugs(ctx, tx, drugs)
		return err
	})
}

// ensureSchema writes the importer's field definitions on first import.
// Definitions are read-only after creation, so re-running is a no-op.
func (s *ImportService) ensureSchema(ctx context.Context) error {
	existing, err := s.fieldDefRepo.GetAllByImporter(ctx, nil, s.importer.ImporterName())
	if err != nil {
		return err
	}
	if len(existing.Attrs)+len(existing.AttrsRef)+len(existing.AttrsMulti)+len(existing.AttrsMultiRef) > 0 {
		return nil
	}
	s.log.Info("Creating drug attribute field definitions", "importer", s.importer.ImporterName())
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.fieldDefRepo.CreateDefinitions(ctx, tx, s.importer.FieldDefinitions()); err != nil {
			return err
		}
		if err := s.fieldDefRepo.CreateLovItems(ctx, tx, s.importer.LovItems()); err != nil {
			return err
		}
		return s.fieldDefRepo.CreateCodeSystems(ctx, tx, s.importer.CodeSystems())
	})
}
