package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportStatus string

const (
	ImportStatusQueued  ImportStatus = "queued"
	ImportStatusRunning ImportStatus = "running"
	ImportStatusFailed  ImportStatus = "failed"
	ImportStatusDone    ImportStatus = "done"
)

// DrugDataSetVersion identifies one import run of a drug data source, or
// the permanent pseudo-version that holds user-created custom drugs.
// Mutated only by the import pipeline; read-only to the search engine.
type DrugDataSetVersion struct {
	ID                      uuid.UUID    `gorm:"type:uuid;primaryKey;column:id" json:"id"`
	DatasetSourceName       string       `gorm:"not null;uniqueIndex:uq_dataset_source_version;column:dataset_source_name" json:"dataset_source_name"`
	DatasetVersion          string       `gorm:"not null;uniqueIndex:uq_dataset_source_version;column:dataset_version" json:"dataset_version"`
	DatasetLink             string       `gorm:"column:dataset_link" json:"dataset_link,omitempty"`
	IsCustomDrugsCollection bool         `gorm:"not null;default:false;column:is_custom_drugs_collection" json:"is_custom_drugs_collection"`
	ImportStatus            ImportStatus `gorm:"not null;default:queued;column:import_status" json:"import_status"`
	ImportError             *string      `gorm:"column:import_error" json:"import_error,omitempty"`
	CreatedAt               time.Time    `gorm:"not null;column:created_at" json:"created_at"`
}

func (DrugDataSetVersion) TableName() string {
	return "drug_dataset_version"
}

func (v *DrugDataSetVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
