package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	pkgerrors "github.com/medlogger/druglog-backend/internal/pkg/errors"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/repos/testutil"
	"github.com/medlogger/druglog-backend/internal/types"
)

type searchFixture struct {
	db          *gorm.DB
	importer    DrugDataSetImporter
	engine      *GenericSQLDrugSearchEngine
	drugService DrugService

	drugRepo    repos.DrugRepo
	versionRepo repos.DatasetVersionRepo
	cacheRepo   repos.SearchCacheRepo
	stateRepo   repos.SearchStateRepo
}

// newSearchFixture imports the dummy dataset into a fresh database and
// wires the engine on top. The index is not built yet; most tests call
// build explicitly.
func newSearchFixture(t *testing.T, batchSize int) *searchFixture {
	t.Helper()

	gdb := testutil.DB(t)
	log := testutil.Logger(t)

	fieldDefRepo := repos.NewFieldDefRepo(gdb, log)
	versionRepo := repos.NewDatasetVersionRepo(gdb, log)
	drugRepo := repos.NewDrugRepo(gdb, log)
	cacheRepo := repos.NewSearchCacheRepo(gdb, log)
	stateRepo := repos.NewSearchStateRepo(gdb, log)

	importer := NewDummyDrugImporter(log)
	importService := NewImportService(gdb, log, importer, fieldDefRepo, versionRepo, drugRepo)
	_, err := importService.RunImport(context.Background())
	require.NoError(t, err)

	schema := NewSchemaService(gdb, log, fieldDefRepo, importer.ImporterName())
	engine := NewGenericSQLDrugSearchEngine(SearchEngineDeps{
		DB:                gdb,
		Log:               log,
		Schema:            schema,
		DrugRepo:          drugRepo,
		CacheRepo:         cacheRepo,
		StateRepo:         stateRepo,
		VersionRepo:       versionRepo,
		DatasetSourceName: importer.DatasetSourceName(),
		BatchSize:         batchSize,
	})
	drugService := NewDrugService(gdb, log, schema, drugRepo, versionRepo, engine, importer.DatasetSourceName())

	return &searchFixture{
		db:          gdb,
		importer:    importer,
		engine:      engine,
		drugService: drugService,
		drugRepo:    drugRepo,
		versionRepo: versionRepo,
		cacheRepo:   cacheRepo,
		stateRepo:   stateRepo,
	}
}

func (f *searchFixture) build(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.BuildIndex(context.Background(), false))
}

func tradeNames(result *PaginatedDrugSearchResult) []string {
	names := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		names = append(names, item.Item.TradeName)
	}
	return names
}

func TestBuildIndexPopulatesCache(t *testing.T) {
	f := newSearchFixture(t, 0)
	ctx := context.Background()

	ready, err := f.engine.IndexReady(ctx)
	require.NoError(t, err)
	require.False(t, ready)

	f.build(t)

	ready, err = f.engine.IndexReady(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	count, err := f.engine.TotalItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	state, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, state.IndexBuildUpInProcess)
	assert.NotNil(t, state.LastIndexBuildAt)
	assert.NotNil(t, state.LastIndexBuildBasedOnDrugDatasetVersionID)
	assert.Nil(t, state.LastError)
}

func TestBuildIndexSmallBatches(t *testing.T) {
	// Batch size below the drug count exercises the keyset pagination loop.
	f := newSearchFixture(t, 2)
	f.build(t)

	count, err := f.cacheRepo.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestBuildIndexSkipsWhenUpToDate(t *testing.T) {
	f := newSearchFixture(t, 0)
	ctx := context.Background()
	f.build(t)

	// Tamper with the recorded count; a skipped build must not touch it.
	state, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	tampered := int64(999)
	state.IndexItemCount = &tampered
	require.NoError(t, f.stateRepo.Save(ctx, nil, state))

	require.NoError(t, f.engine.BuildIndex(ctx, false))
	count, err := f.engine.TotalItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(999), count)

	require.NoError(t, f.engine.BuildIndex(ctx, true))
	count, err = f.engine.TotalItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestBuildIndexFailureRecordsError(t *testing.T) {
	f := newSearchFixture(t, 0)
	ctx := context.Background()

	// Dropping the cache table makes the rebuild fail mid-flight.
	require.NoError(t, f.db.Migrator().DropTable(&types.DrugSearchCacheEntry{}))

	err := f.engine.BuildIndex(ctx, false)
	require.Error(t, err)

	state, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, state.IndexBuildUpInProcess)
	require.NotNil(t, state.LastError)
	assert.NotEmpty(t, *state.LastError)

	ready, err := f.engine.IndexReady(ctx)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestBuildIndexBlockedWhileLockHeld(t *testing.T) {
	f := newSearchFixture(t, 0)
	ctx := context.Background()

	// A competing builder (another process) holds the persisted lock.
	acquired, err := f.stateRepo.AcquireBuildLock(ctx, nil)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, f.engine.BuildIndex(ctx, true))

	// The blocked call must not have touched the cache or the lock.
	count, err := f.cacheRepo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	state, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	assert.True(t, state.IndexBuildUpInProcess)

	// Once the competitor releases, the build goes through.
	state.IndexBuildUpInProcess = false
	require.NoError(t, f.stateRepo.Save(ctx, nil, state))
	require.NoError(t, f.engine.BuildIndex(ctx, false))
	count, err = f.cacheRepo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestBuildIndexFailureKeepsPreviousBuildInfo(t *testing.T) {
	f := newSearchFixture(t, 0)
	ctx := context.Background()
	f.build(t)

	before, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, before.LastIndexBuildAt)

	require.NoError(t, f.db.Migrator().DropTable(&types.DrugSearchCacheEntry{}))
	require.Error(t, f.engine.BuildIndex(ctx, true))

	after, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, after.IndexBuildUpInProcess)
	require.NotNil(t, after.LastError)
	// Only the flag and the error change; the last successful build's
	// timestamp and version marker survive the failed attempt.
	require.NotNil(t, after.LastIndexBuildAt)
	assert.True(t, after.LastIndexBuildAt.Equal(*before.LastIndexBuildAt))
	require.NotNil(t, after.LastIndexBuildBasedOnDrugDatasetVersionID)
	assert.Equal(t,
		*before.LastIndexBuildBasedOnDrugDatasetVersionID,
		*after.LastIndexBuildBasedOnDrugDatasetVersionID)
}

func TestRecoverStateForcesRebuild(t *testing.T) {
	f := newSearchFixture(t, 0)
	ctx := context.Background()
	f.build(t)

	// Simulate a crash mid-build: flag left on from a dead process.
	state, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	state.IndexBuildUpInProcess = true
	require.NoError(t, f.stateRepo.Save(ctx, nil, state))

	require.NoError(t, f.engine.RecoverState(ctx))

	state, err = f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, state.IndexBuildUpInProcess)
	assert.Nil(t, state.LastIndexBuildBasedOnDrugDatasetVersionID)

	// The cleared version marker makes the next non-forced build run.
	require.NoError(t, f.engine.BuildIndex(ctx, false))
	count, err := f.engine.TotalItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestSearchBeforeBuildNotReady(t *testing.T) {
	f := newSearchFixture(t, 0)
	_, err := f.engine.Search(context.Background(), SearchParams{SearchTerm: "Aspirin"})
	require.ErrorIs(t, err, ErrSearchEngineNotReady)
}

func TestSearchDuringBuildNotReady(t *testing.T) {
	f := newSearchFixture(t, 0)
	ctx := context.Background()
	f.build(t)

	state, err := f.stateRepo.Get(ctx, nil)
	require.NoError(t, err)
	state.IndexBuildUpInProcess = true
	require.NoError(t, f.stateRepo.Save(ctx, nil, state))

	_, err = f.engine.Search(ctx, SearchParams{SearchTerm: "Aspirin"})
	require.ErrorIs(t, err, ErrSearchEngineNotReady)

	err = f.engine.InsertDrugToIndex(ctx, &types.DrugData{TradeName: "anything"})
	require.ErrorIs(t, err, ErrSearchEngineNotReady)
}

func TestSearchEmptyTerm(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)

	for _, term := range []string{"", "   ", `""`} {
		_, err := f.engine.Search(context.Background(), SearchParams{SearchTerm: term})
		require.ErrorIs(t, err, pkgerrors.ErrInvalidArgument, "term %q", term)
	}
}

func TestSearchAspirin(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)

	result, err := f.engine.Search(context.Background(), SearchParams{SearchTerm: "Aspirin"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.Equal(t, 2, result.Count)
	assert.ElementsMatch(t, []string{"Aspirin 500mg", "Aspirin Complex"}, tradeNames(result))
	for _, item := range result.Items {
		assert.Greater(t, item.RelevanceScore, 0.0)
		require.NotNil(t, item.Item)
		assert.Equal(t, item.Item.ID, item.DrugID)
	}
}

func TestSearchRanking(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)

	result, err := f.engine.Search(context.Background(), SearchParams{SearchTerm: "Aspirin Complex"})
	require.NoError(t, err)
	require.Equal(t, []string{"Aspirin Complex", "Aspirin 500mg"}, tradeNames(result))
	assert.Greater(t, result.Items[0].RelevanceScore, result.Items[1].RelevanceScore)
}

func TestSearchQuotedPhrase(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)

	// The quoted phrase keeps its embedded space: it matches the amount
	// attribute "500 mg", not the trade name fragment "500mg".
	result, err := f.engine.Search(context.Background(), SearchParams{SearchTerm: `"500 mg"`})
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"Aspirin 500mg", "Aspirin Complex", "Paracetamol-ratiopharm 500mg"},
		tradeNames(result))
}

func TestSearchByDrugCode(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)

	result, err := f.engine.Search(context.Background(), SearchParams{SearchTerm: "04773414"})
	require.NoError(t, err)
	require.Equal(t, []string{"Aspirin 500mg"}, tradeNames(result))
}

func TestSearchMarketAccessable(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	result, err := f.engine.Search(ctx, SearchParams{SearchTerm: "Thomapyrin"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalCount)

	onMarket := true
	result, err = f.engine.Search(ctx, SearchParams{SearchTerm: "Thomapyrin", MarketAccessable: &onMarket})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.TotalCount)

	offMarket := false
	result, err = f.engine.Search(ctx, SearchParams{SearchTerm: "Thomapyrin", MarketAccessable: &offMarket})
	require.NoError(t, err)
	require.Equal(t, []string{"Thomapyrin Classic"}, tradeNames(result))
}

func TestSearchAttrFilters(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	t.Run("plain attribute filter", func(t *testing.T) {
		result, err := f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"manufacturer": "Bayer"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.TotalCount)

		result, err = f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"manufacturer": "Zentiva"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.TotalCount)
	})

	t.Run("filter on non searchable field", func(t *testing.T) {
		// pack_size never reaches the content blob but still filters.
		result, err := f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"pack_size": "20"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"Aspirin 500mg"}, tradeNames(result))
	})

	t.Run("multi reference filter", func(t *testing.T) {
		result, err := f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"substances": "COF"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"Aspirin Complex"}, tradeNames(result))
	})

	t.Run("intersection of two filters", func(t *testing.T) {
		result, err := f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"manufacturer": "Bayer", "substances": "COF"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"Aspirin Complex"}, tradeNames(result))
	})

	t.Run("unknown filter field", func(t *testing.T) {
		_, err := f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"no_such_field": "x"},
		})
		require.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)
	})

	t.Run("uncastable filter value", func(t *testing.T) {
		_, err := f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"pack_size": "twenty"},
		})
		require.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)
	})

	t.Run("empty filter value is ignored", func(t *testing.T) {
		result, err := f.engine.Search(ctx, SearchParams{
			SearchTerm: "Aspirin",
			Filters:    map[string]string{"manufacturer": ""},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.TotalCount)
	})
}

func TestSearchPagination(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	// "mg" hits every dummy drug with the same score, so the whole result
	// set is ordered by the stable drug id tiebreak.
	full, err := f.engine.Search(ctx, SearchParams{SearchTerm: "mg"})
	require.NoError(t, err)
	require.Equal(t, int64(5), full.TotalCount)
	require.Equal(t, 5, full.Count)

	var paged []string
	for offset := 0; offset < 5; offset += 2 {
		page, err := f.engine.Search(ctx, SearchParams{SearchTerm: "mg", Offset: offset, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.TotalCount)
		assert.Equal(t, offset, page.Offset)
		assert.Equal(t, len(page.Items), page.Count)
		paged = append(paged, tradeNames(page)...)
	}
	assert.Equal(t, tradeNames(full), paged)

	beyond, err := f.engine.Search(ctx, SearchParams{SearchTerm: "mg", Offset: 99, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), beyond.TotalCount)
	assert.Equal(t, 0, beyond.Count)
}

func TestSearchNonASCIICaseInsensitive(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	_, err := f.drugService.CreateCustomDrug(ctx, CustomDrugCreate{
		TradeName: "SCHMERZLÖSUNG FORTE",
	})
	require.NoError(t, err)

	// Case folding must work beyond ASCII: the lowercased umlaut term only
	// matches case-insensitively, worth the 1.0 base score.
	result, err := f.engine.Search(ctx, SearchParams{SearchTerm: "schmerzlösung"})
	require.NoError(t, err)
	require.Equal(t, []string{"SCHMERZLÖSUNG FORTE"}, tradeNames(result))
	assert.InDelta(t, 1.1, result.Items[0].RelevanceScore, 1e-9)
}

func TestCreateCustomDrugSearchableWithoutRebuild(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	created, err := f.drugService.CreateCustomDrug(ctx, CustomDrugCreate{
		TradeName: "Grandma's Cough Syrup",
		Attrs:     map[string]string{"manufacturer": "Homemade"},
		AttrsRef:  map[string]string{"dispensing_form": "CAP"},
		Codes:     map[string]string{"PZN": "99999999"},
	})
	require.NoError(t, err)
	assert.True(t, created.IsCustomDrug)

	result, err := f.engine.Search(ctx, SearchParams{SearchTerm: "Cough Syrup"})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.TotalCount)
	assert.Equal(t, created.ID, result.Items[0].DrugID)
	assert.True(t, result.Items[0].Item.IsCustomDrug)
}

func TestCreateCustomDrugValidation(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	_, err := f.drugService.CreateCustomDrug(ctx, CustomDrugCreate{
		TradeName: "Bad Field",
		Attrs:     map[string]string{"no_such_field": "x"},
	})
	require.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)

	_, err = f.drugService.CreateCustomDrug(ctx, CustomDrugCreate{
		TradeName: "Bad LOV Value",
		AttrsRef:  map[string]string{"dispensing_form": "SYRUP"},
	})
	require.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)

	_, err = f.drugService.CreateCustomDrug(ctx, CustomDrugCreate{
		TradeName: "Wrong Shape",
		Attrs:     map[string]string{"substances": "ASS"},
	})
	require.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)
}

func TestCustomDrugsRankAfterDatasetDrugs(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	_, err := f.drugService.CreateCustomDrug(ctx, CustomDrugCreate{TradeName: "Aspirin Forte"})
	require.NoError(t, err)

	result, err := f.engine.Search(ctx, SearchParams{SearchTerm: "Aspirin"})
	require.NoError(t, err)
	require.Equal(t, int64(3), result.TotalCount)
	last := result.Items[len(result.Items)-1]
	assert.Equal(t, "Aspirin Forte", last.Item.TradeName)
	assert.True(t, last.Item.IsCustomDrug)
}

func TestBuildIndexSwitchesToNewerDatasetVersion(t *testing.T) {
	f := newSearchFixture(t, 0)
	f.build(t)
	ctx := context.Background()

	newer := &types.DrugDataSetVersion{
		DatasetSourceName: f.importer.DatasetSourceName(),
		DatasetVersion:    "2.0-dummy",
		ImportStatus:      types.ImportStatusDone,
	}
	_, err := f.versionRepo.Create(ctx, nil, newer)
	require.NoError(t, err)
	_, err = f.drugRepo.CreateDrugs(ctx, nil, []*types.DrugData{
		{TradeName: "Novel Cure 10mg", SourceDatasetID: newer.ID},
	})
	require.NoError(t, err)

	// Non-forced build detects the new current version and rebuilds.
	require.NoError(t, f.engine.BuildIndex(ctx, false))

	count, err := f.engine.TotalItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	result, err := f.engine.Search(ctx, SearchParams{SearchTerm: "Novel"})
	require.NoError(t, err)
	require.Equal(t, []string{"Novel Cure 10mg"}, tradeNames(result))

	result, err = f.engine.Search(ctx, SearchParams{SearchTerm: "Aspirin"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.TotalCount)
}

func TestBuildCacheEntry(t *testing.T) {
	exitDate := time.Date(2015, time.October, 31, 0, 0, 0, 0, time.UTC)
	secret := "not indexed"
	manufacturer := "Bayer"
	form := "TAB"
	drug := &types.DrugData{
		TradeName:      "Aspirin 500mg",
		MarketExitDate: &exitDate,
		IsCustomDrug:   true,
		Attrs: []types.DrugVal{
			{FieldName: "manufacturer", Value: &manufacturer},
			{FieldName: "internal_note", Value: &secret},
		},
		AttrsRef: []types.DrugValRef{
			{FieldName: "dispensing_form", Value: &form, LovItem: &types.DrugAttrFieldLovItem{Value: "TAB", Display: "Tablet"}},
		},
		Codes: []types.DrugCode{
			{CodeSystemID: "PZN", Code: "04773414"},
			{CodeSystemID: "ATC", Code: "N02BA01"},
		},
	}
	searchable := &SearchableFields{
		Attrs:         map[string]bool{"manufacturer": true},
		AttrsMulti:    map[string]bool{},
		AttrsRef:      map[string]bool{"dispensing_form": true},
		AttrsMultiRef: map[string]bool{},
	}

	entry := BuildCacheEntry(drug, searchable)
	assert.Equal(t, "Aspirin 500mg Bayer TAB Tablet 04773414 N02BA01", entry.SearchIndexContent)
	assert.Equal(t, "aspirin 500mg bayer tab tablet 04773414 n02ba01", entry.SearchIndexContentLower)
	assert.Equal(t, "PZN:04773414|ATC:N02BA01", entry.SearchCacheCodes)
	assert.NotContains(t, entry.SearchIndexContent, secret)
	assert.True(t, entry.IsCustomDrug)
	require.NotNil(t, entry.MarketExitDate)
	assert.True(t, entry.MarketExitDate.Equal(exitDate))
}
