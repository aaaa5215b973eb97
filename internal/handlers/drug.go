package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medlogger/druglog-backend/internal/logger"
	"github.com/medlogger/druglog-backend/internal/services"
)

// reservedSearchParams are query parameters of the search endpoint that
// are not structured attribute filters.
var reservedSearchParams = map[string]bool{
	"search_term":       true,
	"market_accessable": true,
	"offset":            true,
	"limit":             true,
}

const defaultSearchLimit = 100

type DrugHandler struct {
	log          *logger.Logger
	drugService  services.DrugService
	searchEngine services.DrugSearchEngine
}

func NewDrugHandler(log *logger.Logger, drugService services.DrugService, searchEngine services.DrugSearchEngine) *DrugHandler {
	return &DrugHandler{
		log:          log.With("handler", "DrugHandler"),
		drugService:  drugService,
		searchEngine: searchEngine,
	}
}

// Search handles GET /api/v2/drug/search. Every query parameter that is
// not a reserved one is treated as a structured attribute filter
// (field_name=value, exact match).
func (h *DrugHandler) Search(c *gin.Context) {
	params := services.SearchParams{
		SearchTerm: c.Query("search_term"),
		Offset:     atoiDefault(c.Query("offset"), 0),
		Limit:      atoiDefault(c.Query("limit"), defaultSearchLimit),
		Filters:    map[string]string{},
	}

	if raw := c.Query("market_accessable"); raw != "" {
		accessable, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(c, http.StatusUnprocessableEntity, "invalid_argument", err)
			return
		}
		params.MarketAccessable = &accessable
	}

	for key, values := range c.Request.URL.Query() {
		if reservedSearchParams[key] || len(values) == 0 {
			continue
		}
		params.Filters[key] = values[0]
	}

	result, err := h.searchEngine.Search(c.Request.Context(), params)
	if err != nil {
		h.log.Debug("Drug search failed", "error", err, "search_term", params.SearchTerm)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *DrugHandler) GetDrug(c *gin.Context) {
	id, err := uuid.Parse(c.Param("drug_id"))
	if err != nil {
		RespondError(c, http.StatusUnprocessableEntity, "invalid_argument", err)
		return
	}
	drug, err := h.drugService.GetDrug(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, drug)
}

func (h *DrugHandler) GetFieldDefinitions(c *gin.Context) {
	defs, err := h.drugService.GetFieldDefinitions(c.Request.Context())
	if err != nil {
		h.log.Error("Loading field definitions failed", "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, defs)
}

func (h *DrugHandler) CreateCustomDrug(c *gin.Context) {
	var create services.CustomDrugCreate
	if err := c.ShouldBindJSON(&create); err != nil {
		RespondError(c, http.StatusUnprocessableEntity, "invalid_argument", err)
		return
	}
	drug, err := h.drugService.CreateCustomDrug(c.Request.Context(), create)
	if err != nil {
		h.log.Error("Creating custom drug failed", "error", err)
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, drug)
}

func atoiDefault(raw string, defaultVal int) int {
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
