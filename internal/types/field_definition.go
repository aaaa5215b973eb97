package types

// FieldShape identifies which of the four attribute tables a field
// definition belongs to. A field's shape is fixed for its lifetime;
// changing it requires a new field name.
type FieldShape string

const (
	ShapeAttr         FieldShape = "attrs"
	ShapeAttrRef      FieldShape = "attrs_ref"
	ShapeAttrMulti    FieldShape = "attrs_multi"
	ShapeAttrMultiRef FieldShape = "attrs_multi_ref"
)

// DrugAttrFieldDefinition describes one schema field of one importer.
// Created by an importer at import time, read-only afterwards.
type DrugAttrFieldDefinition struct {
	FieldName            string     `gorm:"primaryKey;column:field_name" json:"field_name"`
	ImporterName         string     `gorm:"primaryKey;column:importer_name" json:"importer_name"`
	FieldNameDisplay     string     `gorm:"not null;column:field_name_display" json:"field_name_display"`
	FieldDesc            string     `gorm:"column:field_desc" json:"field_desc,omitempty"`
	ValueType            ValueType  `gorm:"not null;default:STR;column:value_type" json:"value_type"`
	Optional             bool       `gorm:"not null;default:false;column:optional" json:"optional"`
	DefaultValue         *string    `gorm:"column:default_value" json:"default,omitempty"`
	Searchable           bool       `gorm:"not null;default:false;column:searchable" json:"searchable"`
	IsReferenceListField bool       `gorm:"not null;default:false;column:is_reference_list_field" json:"is_reference_list_field"`
	IsMultiValField      bool       `gorm:"not null;default:false;column:is_multi_val_field" json:"is_multi_val_field"`

	LovItems []DrugAttrFieldLovItem `gorm:"foreignKey:FieldName,ImporterName;references:FieldName,ImporterName" json:"lov_items,omitempty"`
}

func (DrugAttrFieldDefinition) TableName() string {
	return "drug_attr_field_definition"
}

func (d DrugAttrFieldDefinition) Shape() FieldShape {
	switch {
	case d.IsReferenceListField && d.IsMultiValField:
		return ShapeAttrMultiRef
	case d.IsReferenceListField:
		return ShapeAttrRef
	case d.IsMultiValField:
		return ShapeAttrMulti
	default:
		return ShapeAttr
	}
}

// DrugAttrFieldLovItem is one allowed value of a reference field, with its
// human-readable display label. Referential integrity between stored ref
// values and LOV items is enforced at import time, not at query time.
type DrugAttrFieldLovItem struct {
	FieldName    string `gorm:"primaryKey;column:field_name" json:"field_name"`
	ImporterName string `gorm:"primaryKey;column:importer_name" json:"importer_name"`
	Value        string `gorm:"primaryKey;column:value" json:"value"`
	Display      string `gorm:"not null;column:display" json:"display"`
	SortOrder    int    `gorm:"not null;default:0;column:sort_order" json:"sort_order"`
}

func (DrugAttrFieldLovItem) TableName() string {
	return "drug_attr_field_lov_item"
}
