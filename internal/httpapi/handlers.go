// Package httpapi is the thin external surface named in spec.md §6:
// read access to active and historical warnings plus acknowledgement,
// health, and metrics. It is a consumer of C10, never the other way
// around, grounded on gohypo/internal/api's gin handler shape.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pmuwatch/internal/warning"
)

// WarningsHandler exposes C10 over HTTP.
type WarningsHandler struct {
	manager *warning.Manager
}

// NewWarningsHandler builds a handler bound to manager.
func NewWarningsHandler(manager *warning.Manager) *WarningsHandler {
	return &WarningsHandler{manager: manager}
}

// Register mounts every route this package serves onto r.
func (h *WarningsHandler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/warnings/active", h.GetActive)
	r.GET("/warnings/history", h.GetHistory)
	r.POST("/warnings/:id/ack", h.Acknowledge)
}

// Healthz reports process liveness only; it does not probe the database.
func (h *WarningsHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetActive implements spec.md §6's GET /warnings/active.
func (h *WarningsHandler) GetActive(c *gin.Context) {
	active := h.manager.GetActiveWarnings()
	out := make([]interface{}, 0, len(active))
	for _, ev := range active {
		out = append(out, ev)
	}
	c.JSON(http.StatusOK, gin.H{"warnings": out})
}

// GetHistory implements spec.md §6's GET /warnings/history, filtered by
// optional signal_id, severity, state, start, end (RFC3339), and limit.
func (h *WarningsHandler) GetHistory(c *gin.Context) {
	q := warning.HistoricalQuery{
		SignalID: c.Query("signal_id"),
		Severity: c.Query("severity"),
		State:    c.Query("state"),
	}

	if start := c.Query("start"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
		q.Start = t
	}
	if end := c.Query("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
		q.End = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := parsePositiveInt(limit)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		q.Limit = n
	}

	events := h.manager.QueryHistorical(c.Request.Context(), q)
	c.JSON(http.StatusOK, gin.H{"warnings": events})
}

type ackRequest struct {
	User string `json:"user" binding:"required"`
}

// Acknowledge implements spec.md §6's POST /warnings/:id/ack.
func (h *WarningsHandler) Acknowledge(c *gin.Context) {
	eventID := c.Param("id")

	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}

	ev, ok := h.manager.AcknowledgeEvent(eventID, req.User, time.Now())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active event with that id"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
