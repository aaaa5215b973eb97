package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	pkgerrors "github.com/medlogger/druglog-backend/internal/pkg/errors"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/types"
)

// defaultIndexBatchSize bounds how many fully hydrated drugs one build
// iteration holds in memory. The cache rows themselves are flushed in
// smaller INSERT batches by the repo.
const defaultIndexBatchSize = 100000

// GenericSQLDrugSearchEngine is the built-in search engine. It works on
// every SQL database gorm supports and needs no additional
// infrastructure; the trade-off is plain substring scoring instead of a
// real full-text index.
type GenericSQLDrugSearchEngine struct {
	db          *gorm.DB
	log         *logger.Logger
	schema      SchemaService
	drugRepo    repos.DrugRepo
	cacheRepo   repos.SearchCacheRepo
	stateRepo   repos.SearchStateRepo
	versionRepo repos.DatasetVersionRepo

	datasetSourceName string
	batchSize         int
}

func NewGenericSQLDrugSearchEngine(deps SearchEngineDeps) *GenericSQLDrugSearchEngine {
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultIndexBatchSize
	}
	return &GenericSQLDrugSearchEngine{
		db:                deps.DB,
		log:               deps.Log.With("service", "GenericSQLDrugSearchEngine"),
		schema:            deps.Schema,
		drugRepo:          deps.DrugRepo,
		cacheRepo:         deps.CacheRepo,
		stateRepo:         deps.StateRepo,
		versionRepo:       deps.VersionRepo,
		datasetSourceName: deps.DatasetSourceName,
		batchSize:         batchSize,
	}
}

// RecoverState must run once at process start. A state row still marked
// in-process belongs to a crashed build and is forced back to idle so the
// next BuildIndex call rebuilds from scratch.
func (e *GenericSQLDrugSearchEngine) RecoverState(ctx context.Context) error {
	recovered, err := e.stateRepo.RecoverStale(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to recover drug search state: %w", err)
	}
	if recovered {
		e.log.Warn("Recovered drug search state from interrupted index build")
	}
	return nil
}

func (e *GenericSQLDrugSearchEngine) BuildIndex(ctx context.Context, forceRebuild bool) error {
	state, err := e.stateRepo.Get(ctx, nil)
	if err != nil {
		return err
	}
	if state.IndexBuildUpInProcess {
		e.log.Warn("Cancel build_index because an index build up is already in progress")
		return nil
	}

	targetVersion, customVersion, err := e.resolveVersions(ctx)
	if err != nil {
		return err
	}
	versionMarker := customVersion.ID
	if targetVersion != nil {
		versionMarker = targetVersion.ID
	}
	if !forceRebuild &&
		state.LastIndexBuildBasedOnDrugDatasetVersionID != nil &&
		*state.LastIndexBuildBasedOnDrugDatasetVersionID == versionMarker {
		e.log.Debug("Skip build_index, search index is up to date", "dataset_version_id", versionMarker)
		return nil
	}

	// Acquire the in-process flag before touching the cache. The guarded
	// update is the cross-process mutual exclusion: two builders racing on
	// the same database see exactly one RowsAffected=1. The flag is
	// persisted, so it survives a crash.
	acquired, err := e.stateRepo.AcquireBuildLock(ctx, nil)
	if err != nil {
		return err
	}
	if !acquired {
		e.log.Warn("Cancel build_index because an index build up is already in progress")
		return nil
	}

	e.log.Info("Build drug search index...", "dataset_version_id", versionMarker)
	itemCount, buildErr := e.rebuildCache(ctx, targetVersion, customVersion)
	if buildErr != nil {
		e.log.Error("Building drug search index failed", "error", buildErr)
		failureText := fmt.Sprintf("%v\n%s", buildErr, debug.Stack())
		// Drop the flag and record the failure in one targeted update;
		// leaving the flag set would block every rebuild until the next
		// process restart.
		if stateErr := e.stateRepo.RecordFailure(ctx, nil, failureText); stateErr != nil {
			e.log.Error("Failed to persist drug search failure state", "error", stateErr)
			return errors.Join(fmt.Errorf("drug search index build failed: %w", buildErr), stateErr)
		}
		return fmt.Errorf("drug search index build failed: %w", buildErr)
	}

	now := time.Now().UTC()
	state, err = e.stateRepo.Get(ctx, nil)
	if err != nil {
		return err
	}
	state.IndexBuildUpInProcess = false
	state.LastIndexBuildAt = &now
	state.LastIndexBuildBasedOnDrugDatasetVersionID = &versionMarker
	state.IndexItemCount = &itemCount
	state.LastError = nil
	if err := e.stateRepo.Save(ctx, nil, state); err != nil {
		return err
	}
	e.log.Info("...building drug search index done", "item_count", itemCount)
	return nil
}

// rebuildCache clears the cache and repopulates it in bounded batches.
// Each batch commits on its own, so a failure partway leaves a partial
// cache in place; the state row's last_error makes that visible.
func (e *GenericSQLDrugSearchEngine) rebuildCache(ctx context.Context, targetVersion, customVersion *types.DrugDataSetVersion) (int64, error) {
	searchable, err := e.schema.GetSearchableFields(ctx)
	if err != nil {
		return 0, err
	}

	datasetIDs := []uuid.UUID{customVersion.ID}
	if targetVersion != nil {
		datasetIDs = append(datasetIDs, targetVersion.ID)
	}

	if err := e.cacheRepo.DeleteAll(ctx, nil); err != nil {
		return 0, err
	}

	var afterID *uuid.UUID
	for {
		batch, err := e.drugRepo.ListBatchAfter(ctx, nil, datasetIDs, afterID, e.batchSize)
		if err != nil {
			return 0, err
		}
		if len(batch) == 0 {
			break
		}
		entries := make([]*types.DrugSearchCacheEntry, 0, len(batch))
		for _, drug := range batch {
			entries = append(entries, BuildCacheEntry(drug, searchable))
		}
		if err := e.cacheRepo.CreateEntries(ctx, nil, entries); err != nil {
			return 0, err
		}
		lastID := batch[len(batch)-1].ID
		afterID = &lastID
		if len(batch) < e.batchSize {
			break
		}
	}

	return e.cacheRepo.Count(ctx, nil)
}

// BuildCacheEntry denormalizes one drug into its search cache row. Only
// fields flagged searchable contribute to the content blob; codes always
// do. Reference values contribute both the raw value and the LOV display
// label so users can search either.
func BuildCacheEntry(drug *types.DrugData, searchable *SearchableFields) *types.DrugSearchCacheEntry {
	var content strings.Builder
	content.WriteString(drug.TradeName)

	for _, attr := range drug.Attrs {
		if searchable.Attrs[attr.FieldName] && attr.Value != nil {
			content.WriteString(" ")
			content.WriteString(*attr.Value)
		}
	}
	for _, attr := range drug.AttrsMulti {
		if searchable.AttrsMulti[attr.FieldName] && attr.Value != nil {
			content.WriteString(" ")
			content.WriteString(*attr.Value)
		}
	}
	for _, attr := range drug.AttrsRef {
		if searchable.AttrsRef[attr.FieldName] && attr.Value != nil {
			content.WriteString(" ")
			content.WriteString(*attr.Value)
			if attr.LovItem != nil {
				content.WriteString(" ")
				content.WriteString(attr.LovItem.Display)
			}
		}
	}
	for _, attr := range drug.AttrsMultiRef {
		if searchable.AttrsMultiRef[attr.FieldName] && attr.Value != nil {
			content.WriteString(" ")
			content.WriteString(*attr.Value)
			if attr.LovItem != nil {
				content.WriteString(" ")
				content.WriteString(attr.LovItem.Display)
			}
		}
	}

	codeParts := make([]string, 0, len(drug.Codes))
	for _, code := range drug.Codes {
		content.WriteString(" ")
		content.WriteString(code.Code)
		codeParts = append(codeParts, fmt.Sprintf("%s:%s", code.CodeSystemID, code.Code))
	}

	text := content.String()
	return &types.DrugSearchCacheEntry{
		DrugID:                  drug.ID,
		SearchIndexContent:      text,
		SearchIndexContentLower: strings.ToLower(text),
		SearchCacheCodes:        strings.Join(codeParts, "|"),
		MarketExitDate:          drug.MarketExitDate,
		IsCustomDrug:            drug.IsCustomDrug,
	}
}

func (e *GenericSQLDrugSearchEngine) IndexReady(ctx context.Context) (bool, error) {
	state, err := e.stateRepo.Get(ctx, nil)
	if err != nil {
		return false, err
	}
	return !state.IndexBuildUpInProcess && state.LastIndexBuildAt != nil, nil
}

func (e *GenericSQLDrugSearchEngine) TotalItemCount(ctx context.Context) (int64, error) {
	state, err := e.stateRepo.Get(ctx, nil)
	if err != nil {
		return 0, err
	}
	if state.IndexItemCount == nil {
		return 0, nil
	}
	return *state.IndexItemCount, nil
}

func (e *GenericSQLDrugSearchEngine) InsertDrugToIndex(ctx context.Context, drug *types.DrugData) error {
	state, err := e.stateRepo.Get(ctx, nil)
	if err != nil {
		return err
	}
	// A full rebuild deletes and repopulates the whole table; an upsert
	// racing it would be wiped. Serialize on the same state flag.
	if state.IndexBuildUpInProcess {
		return ErrSearchEngineNotReady
	}
	searchable, err := e.schema.GetSearchableFields(ctx)
	if err != nil {
		return err
	}
	return e.cacheRepo.Upsert(ctx, nil, BuildCacheEntry(drug, searchable))
}

type scoredCandidate struct {
	drugID       uuid.UUID
	score        float64
	isCustomDrug bool
}

func (e *GenericSQLDrugSearchEngine) Search(ctx context.Context, params SearchParams) (*PaginatedDrugSearchResult, error) {
	ready, err := e.IndexReady(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrSearchEngineNotReady
	}

	normalized := NormalizeSearchTerm(params.SearchTerm)
	unquoted := UnquoteSearchTerm(normalized)
	if unquoted == "" {
		return nil, fmt.Errorf("%w: search term must not be empty", pkgerrors.ErrInvalidArgument)
	}
	tokens := SplitSearchTerm(normalized)

	allowedIDs, err := e.resolveAttrFilters(ctx, params.Filters)
	if err != nil {
		return nil, err
	}

	fragments := append([]string{unquoted}, tokens...)
	candidates, err := e.cacheRepo.Candidates(ctx, nil, fragments, params.MarketAccessable, time.Now())
	if err != nil {
		return nil, err
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, row := range candidates {
		if allowedIDs != nil && !allowedIDs[row.DrugID] {
			continue
		}
		score := ScoreSearchContent(row.SearchIndexContent, unquoted, tokens)
		if score <= 0 {
			continue
		}
		scored = append(scored, scoredCandidate{
			drugID:       row.DrugID,
			score:        score,
			isCustomDrug: row.IsCustomDrug,
		})
	}

	// Non-custom drugs first on score ties: custom drugs are a fallback,
	// not preferred. Drug id as final tiebreak keeps paging stable.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].isCustomDrug != scored[j].isCustomDrug {
			return !scored[i].isCustomDrug
		}
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].drugID.String() < scored[j].drugID.String()
	})

	totalCount := int64(len(scored))
	page := scored
	if params.Offset > 0 {
		if params.Offset >= len(page) {
			page = nil
		} else {
			page = page[params.Offset:]
		}
	}
	if params.Limit > 0 && params.Limit < len(page) {
		page = page[:params.Limit]
	}

	pageIDs := make([]uuid.UUID, 0, len(page))
	scoreByID := make(map[uuid.UUID]float64, len(page))
	for _, candidate := range page {
		pageIDs = append(pageIDs, candidate.drugID)
		scoreByID[candidate.drugID] = candidate.score
	}

	// Hydrate only the page's drugs, preserving relevance order.
	drugs, err := e.drugRepo.GetByIDsOrdered(ctx, nil, pageIDs)
	if err != nil {
		return nil, err
	}
	items := make([]DrugSearchResultItem, 0, len(drugs))
	for _, drug := range drugs {
		items = append(items, DrugSearchResultItem{
			DrugID:         drug.ID,
			RelevanceScore: scoreByID[drug.ID],
			Item:           drug,
		})
	}

	return &PaginatedDrugSearchResult{
		TotalCount: totalCount,
		Offset:     params.Offset,
		Count:      len(items),
		Items:      items,
	}, nil
}

// resolveAttrFilters validates the structured filters against the schema
// registry and resolves them to the set of matching drug ids. A nil
// result means no filter applies. Unknown field names and values that do
// not parse as the field's declared type are rejected before scoring.
func (e *GenericSQLDrugSearchEngine) resolveAttrFilters(ctx context.Context, filters map[string]string) (map[uuid.UUID]bool, error) {
	var allowed map[uuid.UUID]bool
	for fieldName, value := range filters {
		// Empty filter values mean "no filter".
		if value == "" {
			continue
		}
		def, err := e.schema.GetFieldDefinition(ctx, fieldName)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown drug attribute filter field %q", pkgerrors.ErrInvalidArgument, fieldName)
		}
		if _, err := def.ValueType.CastValue(value); err != nil {
			return nil, fmt.Errorf("%w: filter %s: %v", pkgerrors.ErrInvalidArgument, fieldName, err)
		}
		ids, err := e.drugRepo.IDsMatchingAttrValue(ctx, nil, def.Shape(), fieldName, value)
		if err != nil {
			return nil, err
		}
		matching := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			matching[id] = true
		}
		if allowed == nil {
			allowed = matching
			continue
		}
		for id := range allowed {
			if !matching[id] {
				delete(allowed, id)
			}
		}
	}
	return allowed, nil
}

func (e *GenericSQLDrugSearchEngine) resolveVersions(ctx context.Context) (target, custom *types.DrugDataSetVersion, err error) {
	target, err = e.versionRepo.GetCurrent(ctx, nil, e.datasetSourceName)
	if err != nil {
		return nil, nil, err
	}
	custom, err = e.versionRepo.GetOrCreateCustom(ctx, nil, e.datasetSourceName)
	if err != nil {
		return nil, nil, err
	}
	return target, custom, nil
}
