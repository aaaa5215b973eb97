package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/types"
)

var (
	// ErrSearchEngineNotReady means the index is still building or has
	// never been built. Retryable; callers should map it to a
	// service-busy response, not an empty result.
	ErrSearchEngineNotReady = errors.New("drug search index is still building or warming up")
	// ErrSearchEngineNotConfigured means the configured engine name does
	// not resolve to a known implementation. A deployment error, not
	// retryable.
	ErrSearchEngineNotConfigured = errors.New("no valid drug search engine configured")
)

// SearchParams carries one search request. MarketAccessable nil applies
// no market filter; true keeps drugs still on the market, false keeps
// retired ones. Filters maps attribute field names to exact values.
type SearchParams struct {
	SearchTerm       string
	MarketAccessable *bool
	Filters          map[string]string
	Offset           int
	Limit            int
}

type DrugSearchResultItem struct {
	DrugID         uuid.UUID       `json:"drug_id"`
	RelevanceScore float64         `json:"relevance_score"`
	Item           *types.DrugData `json:"item"`
}

type PaginatedDrugSearchResult struct {
	TotalCount int64                  `json:"total_count"`
	Offset     int                    `json:"offset"`
	Count      int                    `json:"count"`
	Items      []DrugSearchResultItem `json:"items"`
}

// DrugSearchEngine is the contract every search engine implementation
// fulfills. The only shipped implementation is GenericSQLDrugSearchEngine;
// the indirection keeps room for an external engine later.
type DrugSearchEngine interface {
	// BuildIndex (re)builds the search cache for the current dataset
	// version plus custom drugs. Idempotent: a no-op while a build is in
	// process or when the index already matches the current version,
	// unless forceRebuild is set.
	BuildIndex(ctx context.Context, forceRebuild bool) error
	// IndexReady reports whether no build is running and at least one
	// build ever succeeded.
	IndexReady(ctx context.Context) (bool, error)
	// TotalItemCount returns the item count recorded by the last
	// successful build. Cheap; no live table scan.
	TotalItemCount(ctx context.Context) (int64, error)
	// InsertDrugToIndex upserts a single drug's cache row without a full
	// rebuild. Used for ad-hoc custom drug creation.
	InsertDrugToIndex(ctx context.Context, drug *types.DrugData) error
	Search(ctx context.Context, params SearchParams) (*PaginatedDrugSearchResult, error)
}

// GenericSQLDrugSearchEngineName is the config value selecting the
// built-in SQL engine.
const GenericSQLDrugSearchEngineName = "GenericSQLDrugSearch"

type SearchEngineDeps struct {
	DB          *gorm.DB
	Log         *logger.Logger
	Schema      SchemaService
	DrugRepo    repos.DrugRepo
	CacheRepo   repos.SearchCacheRepo
	StateRepo   repos.SearchStateRepo
	VersionRepo repos.DatasetVersionRepo
	// DatasetSourceName scopes current/custom version resolution to the
	// active importer's source.
	DatasetSourceName string
	// BatchSize bounds how many drugs one build iteration holds in
	// memory. Zero picks the default.
	BatchSize int
}

// NewDrugSearchEngine resolves the configured engine name to an
// implementation. An unknown name is a configuration error, fatal at
// startup.
func NewDrugSearchEngine(engineName string, deps SearchEngineDeps) (DrugSearchEngine, error) {
	switch engineName {
	case GenericSQLDrugSearchEngineName:
		return NewGenericSQLDrugSearchEngine(deps), nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrSearchEngineNotConfigured, engineName)
	}
}
