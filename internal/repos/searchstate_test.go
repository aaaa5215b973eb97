package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlogger/druglog-backend/internal/repos/testutil"
)

func TestSearchStateRepoGetCreatesSingleton(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewSearchStateRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	state, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, state.IndexBuildUpInProcess)
	assert.Nil(t, state.LastIndexBuildAt)

	// A second read returns the same row, not a second one.
	again, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, state.DummyPK, again.DummyPK)
}

func TestSearchStateRepoSaveClearsNilColumns(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewSearchStateRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	state, err := repo.Get(ctx, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	versionID := uuid.New()
	count := int64(42)
	lastError := "boom"
	state.IndexBuildUpInProcess = true
	state.LastIndexBuildAt = &now
	state.LastIndexBuildBasedOnDrugDatasetVersionID = &versionID
	state.IndexItemCount = &count
	state.LastError = &lastError
	require.NoError(t, repo.Save(ctx, nil, state))

	loaded, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.True(t, loaded.IndexBuildUpInProcess)
	require.NotNil(t, loaded.LastIndexBuildBasedOnDrugDatasetVersionID)
	assert.Equal(t, versionID, *loaded.LastIndexBuildBasedOnDrugDatasetVersionID)
	require.NotNil(t, loaded.LastError)

	// Saving nil pointers must null the columns, not keep old values.
	loaded.IndexBuildUpInProcess = false
	loaded.LastError = nil
	loaded.LastIndexBuildBasedOnDrugDatasetVersionID = nil
	require.NoError(t, repo.Save(ctx, nil, loaded))

	cleared, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, cleared.IndexBuildUpInProcess)
	assert.Nil(t, cleared.LastError)
	assert.Nil(t, cleared.LastIndexBuildBasedOnDrugDatasetVersionID)
}

func TestSearchStateRepoAcquireBuildLock(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewSearchStateRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	// First caller wins, second loses: the guarded update flips the flag
	// and check-then-set cannot interleave across two builders.
	acquired, err := repo.AcquireBuildLock(ctx, nil)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = repo.AcquireBuildLock(ctx, nil)
	require.NoError(t, err)
	assert.False(t, acquired)

	state, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.True(t, state.IndexBuildUpInProcess)

	// Releasing the flag makes the lock acquirable again.
	state.IndexBuildUpInProcess = false
	require.NoError(t, repo.Save(ctx, nil, state))

	acquired, err = repo.AcquireBuildLock(ctx, nil)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestSearchStateRepoRecordFailure(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewSearchStateRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	state, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	versionID := uuid.New()
	count := int64(7)
	state.LastIndexBuildAt = &now
	state.LastIndexBuildBasedOnDrugDatasetVersionID = &versionID
	state.IndexItemCount = &count
	require.NoError(t, repo.Save(ctx, nil, state))

	acquired, err := repo.AcquireBuildLock(ctx, nil)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, repo.RecordFailure(ctx, nil, "boom"))

	loaded, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, loaded.IndexBuildUpInProcess)
	require.NotNil(t, loaded.LastError)
	assert.Equal(t, "boom", *loaded.LastError)
	// Failure recording must not wipe the last successful build info.
	assert.NotNil(t, loaded.LastIndexBuildAt)
	require.NotNil(t, loaded.LastIndexBuildBasedOnDrugDatasetVersionID)
	assert.Equal(t, versionID, *loaded.LastIndexBuildBasedOnDrugDatasetVersionID)
	require.NotNil(t, loaded.IndexItemCount)
	assert.Equal(t, int64(7), *loaded.IndexItemCount)
}

func TestSearchStateRepoRecoverStale(t *testing.T) {
	gdb := testutil.DB(t)
	repo := NewSearchStateRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	recovered, err := repo.RecoverStale(ctx, nil)
	require.NoError(t, err)
	assert.False(t, recovered)

	state, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	versionID := uuid.New()
	state.IndexBuildUpInProcess = true
	state.LastIndexBuildBasedOnDrugDatasetVersionID = &versionID
	require.NoError(t, repo.Save(ctx, nil, state))

	recovered, err = repo.RecoverStale(ctx, nil)
	require.NoError(t, err)
	assert.True(t, recovered)

	state, err = repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.False(t, state.IndexBuildUpInProcess)
	assert.Nil(t, state.LastIndexBuildBasedOnDrugDatasetVersionID)
}
