package types

import (
	"time"

	"github.com/google/uuid"
)

// DrugSearchCacheEntry is the denormalized per-drug search row. Fully
// derived from the normalized drug tables and disposable; the index
// builder replaces the whole table on rebuild.
type DrugSearchCacheEntry struct {
	DrugID             uuid.UUID `gorm:"type:uuid;primaryKey;column:drug_id" json:"drug_id"`
	SearchIndexContent string    `gorm:"not null;index;column:search_index_content" json:"search_index_content"`
	// SearchIndexContentLower is the Go-lowercased shadow of the content.
	// The LIKE prefilter runs against it so SQL and Go agree on case
	// folding beyond ASCII; SQL LOWER() would not fold umlauts.
	SearchIndexContentLower string     `gorm:"not null;index;column:search_index_content_lower" json:"-"`
	SearchCacheCodes        string     `gorm:"not null;index;column:search_cache_codes" json:"search_cache_codes"`
	MarketExitDate          *time.Time `gorm:"column:market_exit_date" json:"market_exit_date,omitempty"`
	IsCustomDrug            bool       `gorm:"not null;default:false;column:is_custom_drug" json:"is_custom_drug"`
}

func (DrugSearchCacheEntry) TableName() string {
	return "drug_search_generic_sql_cache"
}

// DrugSearchStatePK is the fixed primary key of the singleton state row.
const DrugSearchStatePK = 1

// DrugSearchState is the single persisted row coordinating index builds.
// The IndexBuildUpInProcess flag is the cross-process mutual exclusion for
// rebuilds and the crash-recovery signal on process start.
type DrugSearchState struct {
	DummyPK                                    int        `gorm:"primaryKey;column:dummy_pk" json:"-"`
	IndexBuildUpInProcess                      bool       `gorm:"not null;default:false;column:index_build_up_in_process" json:"index_build_up_in_process"`
	LastIndexBuildAt                           *time.Time `gorm:"column:last_index_build_at" json:"last_index_build_at,omitempty"`
	LastIndexBuildBasedOnDrugDatasetVersionID  *uuid.UUID `gorm:"type:uuid;column:last_index_build_based_on_drug_datasetversion_id" json:"last_index_build_based_on_drug_datasetversion_id,omitempty"`
	IndexItemCount                             *int64     `gorm:"column:index_item_count" json:"index_item_count,omitempty"`
	LastError                                  *string    `gorm:"column:last_error" json:"last_error,omitempty"`
}

func (DrugSearchState) TableName() string {
	return "drug_search_generic_sql_state"
}
