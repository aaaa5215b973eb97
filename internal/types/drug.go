package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DrugData is the normalized drug entity. Root scalar fields live here,
// everything dataset-specific hangs off the four attribute collections
// and the code rows. A drug is owned by exactly one dataset version and
// is never hard-deleted; MarketExitDate marks retirement.
type DrugData struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey;column:id" json:"id"`
	TradeName        string     `gorm:"not null;index;column:trade_name" json:"trade_name"`
	MarketAccessDate *time.Time `gorm:"column:market_access_date" json:"market_access_date,omitempty"`
	MarketExitDate   *time.Time `gorm:"column:market_exit_date" json:"market_exit_date,omitempty"`
	IsCustomDrug     bool       `gorm:"not null;default:false;column:is_custom_drug" json:"is_custom_drug"`
	SourceDatasetID  uuid.UUID  `gorm:"type:uuid;not null;index;column:source_dataset_id" json:"source_dataset_id"`

	Attrs         []DrugVal         `gorm:"foreignKey:DrugID" json:"attrs,omitempty"`
	AttrsMulti    []DrugValMulti    `gorm:"foreignKey:DrugID" json:"attrs_multi,omitempty"`
	AttrsRef      []DrugValRef      `gorm:"foreignKey:DrugID" json:"attrs_ref,omitempty"`
	AttrsMultiRef []DrugValMultiRef `gorm:"foreignKey:DrugID" json:"attrs_multi_ref,omitempty"`
	Codes         []DrugCode        `gorm:"foreignKey:DrugID" json:"codes,omitempty"`
}

func (DrugData) TableName() string {
	return "drug"
}

func (d *DrugData) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// DrugVal is a scalar attribute value row, one per attribute per drug.
type DrugVal struct {
	DrugID       uuid.UUID `gorm:"type:uuid;primaryKey;column:drug_id" json:"drug_id"`
	FieldName    string    `gorm:"primaryKey;column:field_name" json:"field_name"`
	ImporterName string    `gorm:"not null;column:importer_name" json:"importer_name"`
	Value        *string   `gorm:"column:value" json:"value"`
}

func (DrugVal) TableName() string {
	return "drug_attr_val"
}

// DrugValMulti is one value of a multi-valued scalar attribute.
// ValueIndex keeps the original order of the value list.
type DrugValMulti struct {
	DrugID       uuid.UUID `gorm:"type:uuid;primaryKey;column:drug_id" json:"drug_id"`
	FieldName    string    `gorm:"primaryKey;column:field_name" json:"field_name"`
	ValueIndex   int       `gorm:"primaryKey;column:value_index" json:"value_index"`
	ImporterName string    `gorm:"not null;column:importer_name" json:"importer_name"`
	Value        *string   `gorm:"column:value" json:"value"`
}

func (DrugValMulti) TableName() string {
	return "drug_attr_multi_val"
}

// DrugValRef is a reference attribute value row. Value must correspond to
// a DrugAttrFieldLovItem of the same field; the import pipeline guarantees
// that, the search engine relies on it.
type DrugValRef struct {
	DrugID       uuid.UUID `gorm:"type:uuid;primaryKey;column:drug_id" json:"drug_id"`
	FieldName    string    `gorm:"primaryKey;column:field_name" json:"field_name"`
	ImporterName string    `gorm:"not null;column:importer_name" json:"importer_name"`
	Value        *string   `gorm:"column:value" json:"value"`

	LovItem *DrugAttrFieldLovItem `gorm:"foreignKey:FieldName,ImporterName,Value;references:FieldName,ImporterName,Value" json:"lov_item,omitempty"`
}

func (DrugValRef) TableName() string {
	return "drug_attr_ref_val"
}

// DrugValMultiRef is one value of a multi-valued reference attribute.
type DrugValMultiRef struct {
	DrugID       uuid.UUID `gorm:"type:uuid;primaryKey;column:drug_id" json:"drug_id"`
	FieldName    string    `gorm:"primaryKey;column:field_name" json:"field_name"`
	ValueIndex   int       `gorm:"primaryKey;column:value_index" json:"value_index"`
	ImporterName string    `gorm:"not null;column:importer_name" json:"importer_name"`
	Value        *string   `gorm:"column:value" json:"value"`

	LovItem *DrugAttrFieldLovItem `gorm:"foreignKey:FieldName,ImporterName,Value;references:FieldName,ImporterName,Value" json:"lov_item,omitempty"`
}

func (DrugValMultiRef) TableName() string {
	return "drug_attr_multi_ref_val"
}

// DrugCode attaches one code in one code system to a drug, e.g. PZN:04773414.
type DrugCode struct {
	DrugID       uuid.UUID `gorm:"type:uuid;primaryKey;column:drug_id" json:"drug_id"`
	CodeSystemID string    `gorm:"primaryKey;column:code_system_id" json:"code_system_id"`
	Code         string    `gorm:"not null;index;column:code" json:"code"`
}

func (DrugCode) TableName() string {
	return "drug_code"
}
