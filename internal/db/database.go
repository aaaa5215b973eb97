package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/types"
	"github.com/medlogger/druglog-backend/internal/utils"
)

type DatabaseService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewDatabaseService opens the configured database. DB_DRIVER selects
// postgres (deployment) or sqlite (local mode); both run the same schema.
func NewDatabaseService(log *logger.Logger) (*DatabaseService, error) {
	serviceLog := log.With("service", "DatabaseService")

	driver := strings.ToLower(utils.GetEnv("DB_DRIVER", "postgres", log))
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		sqlitePath := utils.GetEnv("SQLITE_PATH", "./druglog.db", log)
		serviceLog.Info("Connecting to sqlite...", "path", sqlitePath)
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	case "postgres":
		postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
		postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
		postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
		postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
		postgresName := utils.GetEnv("POSTGRES_NAME", "druglog", log)
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)
		serviceLog.Info("Connecting to Postgres...", "host", postgresHost, "db", postgresName)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q (want postgres or sqlite)", driver)
	}
	if err != nil {
		serviceLog.Error("Failed to connect to database", "driver", driver, "error", err)
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	return &DatabaseService{db: db, log: serviceLog}, nil
}

func (s *DatabaseService) AutoMigrateAll() error {
	s.log.Info("Auto migrating drug data tables...")
	if err := AutoMigrate(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}

func (s *DatabaseService) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates the full drug data schema. Shared with the test
// harness so tests and deployment always migrate the same table set.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.DrugDataSetVersion{},
		&types.DrugAttrFieldDefinition{},
		&types.DrugAttrFieldLovItem{},
		&types.DrugCodeSystem{},

		&types.DrugData{},
		&types.DrugVal{},
		&types.DrugValMulti{},
		&types.DrugValRef{},
		&types.DrugValMultiRef{},
		&types.DrugCode{},

		&types.DrugSearchCacheEntry{},
		&types.DrugSearchState{},
	)
}
