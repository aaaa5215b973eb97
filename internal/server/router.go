package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/medlogger/druglog-backend/internal/handlers"
)

type RouterConfig struct {
	DrugHandler   *handlers.DrugHandler
	StatusHandler *handlers.StatusHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api/v2")
	{
		api.GET("/drug/search", cfg.DrugHandler.Search)
		api.GET("/drug/field_def", cfg.DrugHandler.GetFieldDefinitions)
		api.GET("/drug/:drug_id", cfg.DrugHandler.GetDrug)
		api.POST("/drug/custom", cfg.DrugHandler.CreateCustomDrug)

		api.GET("/drug/search/index/status", cfg.StatusHandler.IndexStatus)
		api.POST("/drug/search/index/rebuild", cfg.StatusHandler.RebuildIndex)
	}

	return router
}
