package types

// DrugCodeSystem describes one code system drugs can carry codes in,
// e.g. PZN or ATC. Declared per importer, like attribute fields.
type DrugCodeSystem struct {
	ID            string `gorm:"primaryKey;column:id" json:"id"`
	ImporterName  string `gorm:"primaryKey;column:importer_name" json:"importer_name"`
	Name          string `gorm:"not null;column:name" json:"name"`
	Country       string `gorm:"column:country" json:"country,omitempty"`
	Desc          string `gorm:"column:description" json:"description,omitempty"`
	Optional      bool   `gorm:"not null;default:true;column:optional" json:"optional"`
	UniquePerDrug bool   `gorm:"not null;default:false;column:unique_per_drug" json:"unique_per_drug"`
}

func (DrugCodeSystem) TableName() string {
	return "drug_code_system"
}
