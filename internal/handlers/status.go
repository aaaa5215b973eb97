package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/repos"
	"github.com/medlogger/druglog-backend/internal/services"
)

// StatusHandler exposes the operational state of the search index: build
// status, item count and the last build error. Build failures surface
// here, not on the search endpoint.
type StatusHandler struct {
	log          *logger.Logger
	stateRepo    repos.SearchStateRepo
	searchEngine services.DrugSearchEngine
}

func NewStatusHandler(log *logger.Logger, stateRepo repos.SearchStateRepo, searchEngine services.DrugSearchEngine) *StatusHandler {
	return &StatusHandler{
		log:          log.With("handler", "StatusHandler"),
		stateRepo:    stateRepo,
		searchEngine: searchEngine,
	}
}

func (h *StatusHandler) IndexStatus(c *gin.Context) {
	state, err := h.stateRepo.Get(c.Request.Context(), nil)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	ready, err := h.searchEngine.IndexReady(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"ready": ready,
		"state": state,
	})
}

// RebuildIndex handles the admin trigger for a forced rebuild.
func (h *StatusHandler) RebuildIndex(c *gin.Context) {
	if err := h.searchEngine.BuildIndex(c.Request.Context(), true); err != nil {
		h.log.Error("Forced index rebuild failed", "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "rebuilt"})
}
