package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/types"
)

// DummyImporterName selects the built-in test dataset importer.
const DummyImporterName = "dummy"

// dummyDatasetVersion is a fixed fingerprint: the seed data never
// changes, so re-running the importer is always a skip after the first
// import.
const dummyDatasetVersion = "1.0-dummy"

// dummyDrugImporter seeds a small deterministic drug dataset exercising
// every attribute shape. It stands in for the real dataset parsers
// (WiDo GKV index, MMI Pharmindex) in local mode and tests.
type dummyDrugImporter struct {
	log *logger.Logger
}

func NewDummyDrugImporter(log *logger.Logger) DrugDataSetImporter {
	return &dummyDrugImporter{log: log.With("importer", DummyImporterName)}
}

func (i *dummyDrugImporter) DatasetSourceName() string { return "Dummy Drug Dataset" }
func (i *dummyDrugImporter) ImporterName() string      { return DummyImporterName }

func (i *dummyDrugImporter) DatasetVersion(ctx context.Context) (string, error) {
	return dummyDatasetVersion, nil
}

func (i *dummyDrugImporter) FieldDefinitions() []*types.DrugAttrFieldDefinition {
	return []*types.DrugAttrFieldDefinition{
		{
			FieldName:        "manufacturer",
			ImporterName:     DummyImporterName,
			FieldNameDisplay: "Manufacturer",
			ValueType:        types.ValueTypeStr,
			Optional:         true,
			Searchable:       true,
		},
		{
			FieldName:        "amount",
			ImporterName:     DummyImporterName,
			FieldNameDisplay: "Amount",
			ValueType:        types.ValueTypeStr,
			Optional:         true,
			Searchable:       true,
		},
		{
			FieldName:        "pack_size",
			ImporterName:     DummyImporterName,
			FieldNameDisplay: "Pack size",
			ValueType:        types.ValueTypeInt,
			Optional:         true,
			Searchable:       false,
		},
		{
			FieldName:            "dispensing_form",
			ImporterName:         DummyImporterName,
			FieldNameDisplay:     "Dispensing form",
			ValueType:            types.ValueTypeStr,
			Optional:             true,
			Searchable:           true,
			IsReferenceListField: true,
		},
		{
			FieldName:        "keywords",
			ImporterName:     DummyImporterName,
			FieldNameDisplay: "Keywords",
			ValueType:        types.ValueTypeStr,
			Optional:         true,
			Searchable:       true,
			IsMultiValField:  true,
		},
		{
			FieldName:            "substances",
			ImporterName:         DummyImporterName,
			FieldNameDisplay:     "Active substances",
			ValueType:            types.ValueTypeStr,
			Optional:             true,
			Searchable:           true,
			IsReferenceListField: true,
			IsMultiValField:      true,
		},
	}
}

func (i *dummyDrugImporter) LovItems() []*types.DrugAttrFieldLovItem {
	return []*types.DrugAttrFieldLovItem{
		{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: "TAB", Display: "Tablet", SortOrder: 1},
		{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: "CAP", Display: "Capsule", SortOrder: 2},
		{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: "GRA", Display: "Granules", SortOrder: 3},
		{FieldName: "substances", ImporterName: DummyImporterName, Value: "ASS", Display: "Acetylsalicylic acid", SortOrder: 1},
		{FieldName: "substances", ImporterName: DummyImporterName, Value: "IBU", Display: "Ibuprofen", SortOrder: 2},
		{FieldName: "substances", ImporterName: DummyImporterName, Value: "PAR", Display: "Paracetamol", SortOrder: 3},
		{FieldName: "substances", ImporterName: DummyImporterName, Value: "COF", Display: "Caffeine", SortOrder: 4},
	}
}

func (i *dummyDrugImporter) CodeSystems() []*types.DrugCodeSystem {
	return []*types.DrugCodeSystem{
		{ID: "PZN", ImporterName: DummyImporterName, Name: "Pharmazentralnummer", Country: "Germany"},
		{ID: "ATC", ImporterName: DummyImporterName, Name: "Anatomical Therapeutic Chemical", Country: "International"},
	}
}

func strPtr(s string) *string { return &s }

func datePtr(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func (i *dummyDrugImporter) GenerateDrugs(ctx context.Context, datasetVersionID uuid.UUID) ([]*types.DrugData, error) {
	drugs := []*types.DrugData{
		{
			TradeName:        "Aspirin 500mg",
			MarketAccessDate: datePtr(1999, time.March, 1),
			SourceDatasetID:  datasetVersionID,
			Attrs: []types.DrugVal{
				{FieldName: "manufacturer", ImporterName: DummyImporterName, Value: strPtr("Bayer")},
				{FieldName: "amount", ImporterName: DummyImporterName, Value: strPtr("500 mg")},
				{FieldName: "pack_size", ImporterName: DummyImporterName, Value: strPtr("20")},
			},
			AttrsRef: []types.DrugValRef{
				{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: strPtr("TAB")},
			},
			AttrsMulti: []types.DrugValMulti{
				{FieldName: "keywords", ImporterName: DummyImporterName, ValueIndex: 0, Value: strPtr("headache")},
				{FieldName: "keywords", ImporterName: DummyImporterName, ValueIndex: 1, Value: strPtr("fever")},
			},
			AttrsMultiRef: []types.DrugValMultiRef{
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 0, Value: strPtr("ASS")},
			},
			Codes: []types.DrugCode{
				{CodeSystemID: "PZN", Code: "04773414"},
				{CodeSystemID: "ATC", Code: "N02BA01"},
			},
		},
		{
			TradeName:        "Aspirin Complex",
			MarketAccessDate: datePtr(2005, time.September, 12),
			SourceDatasetID:  datasetVersionID,
			Attrs: []types.DrugVal{
				{FieldName: "manufacturer", ImporterName: DummyImporterName, Value: strPtr("Bayer")},
				{FieldName: "amount", ImporterName: DummyImporterName, Value: strPtr("500 mg / 30 mg")},
			},
			AttrsRef: []types.DrugValRef{
				{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: strPtr("GRA")},
			},
			AttrsMulti: []types.DrugValMulti{
				{FieldName: "keywords", ImporterName: DummyImporterName, ValueIndex: 0, Value: strPtr("cold")},
			},
			AttrsMultiRef: []types.DrugValMultiRef{
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 0, Value: strPtr("ASS")},
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 1, Value: strPtr("COF")},
			},
			Codes: []types.DrugCode{
				{CodeSystemID: "PZN", Code: "04114918"},
				{CodeSystemID: "ATC", Code: "N02BA51"},
			},
		},
		{
			TradeName:        "Ibuflam 400mg",
			MarketAccessDate: datePtr(2001, time.June, 5),
			SourceDatasetID:  datasetVersionID,
			Attrs: []types.DrugVal{
				{FieldName: "manufacturer", ImporterName: DummyImporterName, Value: strPtr("Zentiva")},
				{FieldName: "amount", ImporterName: DummyImporterName, Value: strPtr("400 mg")},
			},
			AttrsRef: []types.DrugValRef{
				{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: strPtr("TAB")},
			},
			AttrsMultiRef: []types.DrugValMultiRef{
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 0, Value: strPtr("IBU")},
			},
			Codes: []types.DrugCode{
				{CodeSystemID: "PZN", Code: "04100218"},
				{CodeSystemID: "ATC", Code: "M01AE01"},
			},
		},
		{
			TradeName:        "Paracetamol-ratiopharm 500mg",
			MarketAccessDate: datePtr(1995, time.January, 20),
			SourceDatasetID:  datasetVersionID,
			Attrs: []types.DrugVal{
				{FieldName: "manufacturer", ImporterName: DummyImporterName, Value: strPtr("ratiopharm")},
				{FieldName: "amount", ImporterName: DummyImporterName, Value: strPtr("500 mg")},
			},
			AttrsRef: []types.DrugValRef{
				{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: strPtr("TAB")},
			},
			AttrsMultiRef: []types.DrugValMultiRef{
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 0, Value: strPtr("PAR")},
			},
			Codes: []types.DrugCode{
				{CodeSystemID: "PZN", Code: "01126111"},
				{CodeSystemID: "ATC", Code: "N02BE01"},
			},
		},
		{
			// Off the market since 2015; only findable without the
			// market-accessable filter.
			TradeName:        "Thomapyrin Classic",
			MarketAccessDate: datePtr(1990, time.April, 2),
			MarketExitDate:   datePtr(2015, time.October, 31),
			SourceDatasetID:  datasetVersionID,
			Attrs: []types.DrugVal{
				{FieldName: "manufacturer", ImporterName: DummyImporterName, Value: strPtr("Sanofi")},
				{FieldName: "amount", ImporterName: DummyImporterName, Value: strPtr("250 mg / 200 mg / 50 mg")},
			},
			AttrsRef: []types.DrugValRef{
				{FieldName: "dispensing_form", ImporterName: DummyImporterName, Value: strPtr("TAB")},
			},
			AttrsMultiRef: []types.DrugValMultiRef{
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 0, Value: strPtr("ASS")},
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 1, Value: strPtr("PAR")},
				{FieldName: "substances", ImporterName: DummyImporterName, ValueIndex: 2, Value: strPtr("COF")},
			},
			Codes: []types.DrugCode{
				{CodeSystemID: "PZN", Code: "03046735"},
			},
		},
	}
	return drugs, nil
}
