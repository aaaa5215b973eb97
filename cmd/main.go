package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/medlogger/druglog-backend/internal/db"
	"github.com/medlogger/druglog-backend/internal/handlers"
	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/server"
	"github.com/medlogger/druglog-backend/internal/services"
	"github.com/medlogger/druglog-backend/internal/utils"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	dbService, err := db.NewDatabaseService(log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Fatal("Database migration failed", "error", err)
	}
	gormDB := dbService.DB()

	fieldDefRepo := repos.NewFieldDefRepo(gormDB, log)
	versionRepo := repos.NewDatasetVersionRepo(gormDB, log)
	drugRepo := repos.NewDrugRepo(gormDB, log)
	cacheRepo := repos.NewSearchCacheRepo(gormDB, log)
	stateRepo := repos.NewSearchStateRepo(gormDB, log)

	importerName := utils.GetEnv("DRUG_IMPORTER_PLUGIN", services.DummyImporterName, log)
	importer, err := services.NewDrugImporter(importerName, log)
	if err != nil {
		log.Error("Unknown drug dataset importer, refusing to start", "importer", importerName, "error", err)
		os.Exit(1)
	}
	importService := services.NewImportService(gormDB, log, importer, fieldDefRepo, versionRepo, drugRepo)
	if _, err := importService.RunImport(ctx); err != nil {
		log.Fatal("Drug dataset import failed", "importer", importerName, "error", err)
	}

	schemaService := services.NewSchemaService(gormDB, log, fieldDefRepo, importer.ImporterName())

	engineName := utils.GetEnv("DRUG_SEARCHENGINE_CLASS", services.GenericSQLDrugSearchEngineName, log)
	searchEngine, err := services.NewDrugSearchEngine(engineName, services.SearchEngineDeps{
		DB:                gormDB,
		Log:               log,
		Schema:            schemaService,
		DrugRepo:          drugRepo,
		CacheRepo:         cacheRepo,
		StateRepo:         stateRepo,
		VersionRepo:       versionRepo,
		DatasetSourceName: importer.DatasetSourceName(),
		BatchSize:         utils.GetEnvAsInt("DRUG_SEARCH_INDEX_BATCH_SIZE", 0, log),
	})
	if err != nil {
		if errors.Is(err, services.ErrSearchEngineNotConfigured) {
			log.Error("Search engine misconfigured, refusing to start", "engine", engineName, "error", err)
			os.Exit(1)
		}
		log.Fatal("Failed to create search engine", "error", err)
	}

	if recoverer, ok := searchEngine.(*services.GenericSQLDrugSearchEngine); ok {
		if err := recoverer.RecoverState(ctx); err != nil {
			log.Fatal("Search index state recovery failed", "error", err)
		}
	}

	if err := searchEngine.BuildIndex(ctx, false); err != nil {
		// A failed build is recorded on the state row and search answers
		// 503 until the next successful rebuild. The server still starts
		// so the status endpoint stays reachable.
		log.Error("Initial search index build failed", "error", err)
	}

	drugService := services.NewDrugService(gormDB, log, schemaService, drugRepo, versionRepo, searchEngine, importer.DatasetSourceName())

	router := server.NewRouter(server.RouterConfig{
		DrugHandler:   handlers.NewDrugHandler(log, drugService, searchEngine),
		StatusHandler: handlers.NewStatusHandler(log, stateRepo, searchEngine),
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server terminated", "error", err)
	}
}
