package repos

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/types"
)

type SearchCacheRepo interface {
	DeleteAll(ctx context.Context, tx *gorm.DB) error
	CreateEntries(ctx context.Context, tx *gorm.DB, entries []*types.DrugSearchCacheEntry) error
	Upsert(ctx context.Context, tx *gorm.DB, entry *types.DrugSearchCacheEntry) error
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
	// Candidates returns cache rows whose content case-insensitively
	// contains any of the given fragments, optionally narrowed by market
	// accessability. Matching runs against the Go-lowercased shadow column
	// so the prefilter folds case exactly like the scorer does, umlauts
	// included. This is a coarse prefilter; exact scoring happens in the
	// query engine.
	Candidates(ctx context.Context, tx *gorm.DB, fragments []string, marketAccessable *bool, today time.Time) ([]*types.DrugSearchCacheEntry, error)
}

type searchCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSearchCacheRepo(db *gorm.DB, baseLog *logger.Logger) SearchCacheRepo {
	repoLog := baseLog.With("repo", "SearchCacheRepo")
	return &searchCacheRepo{db: db, log: repoLog}
}

// insertBatchSize keeps single INSERT statements bounded; the builder's
// streaming batch size (memory bound) is a separate, larger tunable.
const insertBatchSize = 500

func (r *searchCacheRepo) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&types.DrugSearchCacheEntry{}).Error
}

func (r *searchCacheRepo) CreateEntries(ctx context.Context, tx *gorm.DB, entries []*types.DrugSearchCacheEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).CreateInBatches(entries, insertBatchSize).Error
}

func (r *searchCacheRepo) Upsert(ctx context.Context, tx *gorm.DB, entry *types.DrugSearchCacheEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "drug_id"}},
			UpdateAll: true,
		}).
		Create(entry).Error
}

func (r *searchCacheRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.DrugSearchCacheEntry{}).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *searchCacheRepo) Candidates(ctx context.Context, tx *gorm.DB, fragments []string, marketAccessable *bool, today time.Time) ([]*types.DrugSearchCacheEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	query := transaction.WithContext(ctx).Model(&types.DrugSearchCacheEntry{})

	if len(fragments) > 0 {
		likeQuery := r.db.Session(&gorm.Session{NewDB: true})
		matched := false
		for _, fragment := range fragments {
			if fragment == "" {
				continue
			}
			pattern := "%" + EscapeLike(strings.ToLower(fragment)) + "%"
			likeQuery = likeQuery.Or("search_index_content_lower LIKE ? ESCAPE '\\'", pattern)
			matched = true
		}
		if matched {
			query = query.Where(likeQuery)
		}
	}

	if marketAccessable != nil {
		if *marketAccessable {
			query = query.Where("market_exit_date IS NULL OR market_exit_date > ?", today)
		} else {
			query = query.Where("market_exit_date IS NOT NULL AND market_exit_date < ?", today)
		}
	}

	var results []*types.DrugSearchCacheEntry
	if err := query.Order("drug_id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// EscapeLike escapes LIKE wildcards in user input so a search for "50%"
// matches the literal percent sign.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
