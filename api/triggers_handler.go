package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"estate-harvester/services"
)

// TriggersHandler serves the scheduler trigger endpoints.
type TriggersHandler struct {
	triggers TriggerService
}

func NewTriggersHandler(triggers TriggerService) *TriggersHandler {
	return &TriggersHandler{triggers: triggers}
}

// ListTriggers handles GET /api/v1/triggers
func (h *TriggersHandler) ListTriggers(c *gin.Context) {
	if h.triggers == nil {
		c.JSON(http.StatusOK, gin.H{"triggers": []services.TriggerInfo{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": h.triggers.Triggers()})
}

// RunTrigger handles POST /api/v1/triggers/:name/run
func (h *TriggersHandler) RunTrigger(c *gin.Context) {
	if h.triggers == nil {
		respondNotFound(c, "Trigger")
		return
	}

	id, err := h.triggers.TriggerNow(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, services.ErrUnknownTrigger):
		respondNotFound(c, "Trigger")
		return
	case errors.Is(err, services.ErrInvalidArgument):
		respondBadRequest(c, err.Error())
		return
	case errors.Is(err, services.ErrShuttingDown):
		respondError(c, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		respondInternalError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": id})
}
