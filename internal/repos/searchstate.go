package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/types"
)

type SearchStateRepo interface {
	// Get returns the singleton state row, creating it on first read.
	Get(ctx context.Context, tx *gorm.DB) (*types.DrugSearchState, error)
	Save(ctx context.Context, tx *gorm.DB, state *types.DrugSearchState) error
	// AcquireBuildLock atomically flips the in-process flag from false to
	// true via a guarded update. Returns false when another builder holds
	// the flag; check and set happen in one statement so two builders
	// racing on the same database cannot both win.
	AcquireBuildLock(ctx context.Context, tx *gorm.DB) (bool, error)
	// RecordFailure drops the in-process flag and stores the failure text,
	// leaving every other column (last build time, version marker, count)
	// untouched.
	RecordFailure(ctx context.Context, tx *gorm.DB, failureText string) error
	// RecoverStale clears a leftover in-process flag from a crashed build.
	// The last-built version id is cleared as well so the next build runs
	// from scratch; there is no way to know how far the dead build got.
	// Returns true if a stale flag was found.
	RecoverStale(ctx context.Context, tx *gorm.DB) (bool, error)
}

type searchStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSearchStateRepo(db *gorm.DB, baseLog *logger.Logger) SearchStateRepo {
	repoLog := baseLog.With("repo", "SearchStateRepo")
	return &searchStateRepo{db: db, log: repoLog}
}

func (r *searchStateRepo) Get(ctx context.Context, tx *gorm.DB) (*types.DrugSearchState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var state types.DrugSearchState
	err := transaction.WithContext(ctx).
		Where("dummy_pk = ?", types.DrugSearchStatePK).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Debug("Creating new drug search state row")
		state = types.DrugSearchState{DummyPK: types.DrugSearchStatePK}
		if err := transaction.WithContext(ctx).Create(&state).Error; err != nil {
			return nil, err
		}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *searchStateRepo) Save(ctx context.Context, tx *gorm.DB, state *types.DrugSearchState) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	state.DummyPK = types.DrugSearchStatePK
	// Save with a map so nil pointers clear their columns.
	return transaction.WithContext(ctx).
		Model(&types.DrugSearchState{}).
		Where("dummy_pk = ?", types.DrugSearchStatePK).
		Updates(map[string]any{
			"index_build_up_in_process": state.IndexBuildUpInProcess,
			"last_index_build_at":       state.LastIndexBuildAt,
			"last_index_build_based_on_drug_datasetversion_id": state.LastIndexBuildBasedOnDrugDatasetVersionID,
			"index_item_count": state.IndexItemCount,
			"last_error":       state.LastError,
		}).Error
}

func (r *searchStateRepo) AcquireBuildLock(ctx context.Context, tx *gorm.DB) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	// Ensure the singleton row exists before the guarded update.
	if _, err := r.Get(ctx, transaction); err != nil {
		return false, err
	}
	result := transaction.WithContext(ctx).
		Model(&types.DrugSearchState{}).
		Where("dummy_pk = ? AND index_build_up_in_process = ?", types.DrugSearchStatePK, false).
		Update("index_build_up_in_process", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *searchStateRepo) RecordFailure(ctx context.Context, tx *gorm.DB, failureText string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.DrugSearchState{}).
		Where("dummy_pk = ?", types.DrugSearchStatePK).
		Updates(map[string]any{
			"index_build_up_in_process": false,
			"last_error":                failureText,
		}).Error
}

func (r *searchStateRepo) RecoverStale(ctx context.Context, tx *gorm.DB) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	state, err := r.Get(ctx, transaction)
	if err != nil {
		return false, err
	}
	if !state.IndexBuildUpInProcess {
		return false, nil
	}
	r.log.Warn("Found drug search index build marked in-process from a previous run, forcing full rebuild")
	state.IndexBuildUpInProcess = false
	state.LastIndexBuildBasedOnDrugDatasetVersionID = nil
	if err := r.Save(ctx, transaction, state); err != nil {
		return false, err
	}
	return true, nil
}
