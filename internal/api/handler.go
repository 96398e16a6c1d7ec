package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetlink/internal/config"
	"fleetlink/internal/coordinator"
	"fleetlink/internal/transition"
	"fleetlink/pkg/logger"
)

// Handler handles HTTP requests
type Handler struct {
	mgr    *coordinator.Manager
	store  config.Store
	router *transition.Router
}

// NewHandler creates a new handler
func NewHandler(mgr *coordinator.Manager, store config.Store, router *transition.Router) *Handler {
	return &Handler{mgr: mgr, store: store, router: router}
}

// ListEntries handles GET /api/entries
func (h *Handler) ListEntries(c *gin.Context) {
	entries, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]*config.FleetEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, redact(entry))
	}
	c.JSON(http.StatusOK, out)
}

// PutEntry handles POST /api/entries: creates or replaces a fleet entry and
// (re)starts its polling.
func (h *Handler) PutEntry(c *gin.Context) {
	var entry config.FleetEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if entry.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry id is required"})
		return
	}

	ctx := c.Request.Context()
	if err := h.store.Put(ctx, &entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.Start(ctx, entry.ID); err != nil {
		logger.Errorf("entry %s: start failed: %v", entry.ID, err)
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "stored",
			"message": "entry stored but polling could not start: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// DeleteEntry handles DELETE /api/entries/:id
func (h *Handler) DeleteEntry(c *gin.Context) {
	id := c.Param("id")

	h.mgr.Stop(id)
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrEntryNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetSnapshot handles GET /api/entries/:id/snapshot. Counter sensors pass
// through the monotonic tracker unless ?raw=1 asks for transport values.
func (h *Handler) GetSnapshot(c *gin.Context) {
	id := c.Param("id")
	raw := c.Query("raw") == "1"

	snap, ok := h.mgr.Snapshot(id, !raw)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not running"})
		return
	}
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Refresh handles POST /api/entries/:id/refresh
func (h *Handler) Refresh(c *gin.Context) {
	id := c.Param("id")

	snap, err := h.mgr.Refresh(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type startTransitionRequest struct {
	EntryID string                `json:"entry_id"`
	Target  config.ConnectionMode `json:"target"`
}

type stepRequest struct {
	Step  transition.Step   `json:"step"`
	Input map[string]string `json:"input"`
}

// StartTransition handles POST /api/transitions
func (h *Handler) StartTransition(c *gin.Context) {
	var req startTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	id, res, err := h.router.Start(c.Request.Context(), req.EntryID, req.Target)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrEntryNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition_id": id, "result": res})
}

// StepTransition handles POST /api/transitions/:id/step
func (h *Handler) StepTransition(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	res, err := h.router.Step(c.Request.Context(), c.Param("id"), req.Step, req.Input)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, transition.ErrWorkflowNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// AbandonTransition handles DELETE /api/transitions/:id
func (h *Handler) AbandonTransition(c *gin.Context) {
	if err := h.router.Abandon(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "abandoned"})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// redact blanks secrets before an entry leaves the API.
func redact(entry *config.FleetEntry) *config.FleetEntry {
	out := entry.Clone()
	if out.Cloud != nil {
		out.Cloud.Password = ""
	}
	return out
}
