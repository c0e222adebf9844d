package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/tollgate/module/core/domain"
)

type tollService interface {
	Get(ctx context.Context, id int64) (*domain.TollRecord, error)
	ListByStatus(ctx context.Context, status domain.TollStatus, limit int) ([]domain.TollRecord, error)
}

type settlementService interface {
	Retry(ctx context.Context, tollID int64) (*domain.TollRecord, error)
}

type tollResponse struct {
	TollID    int64             `json:"toll_id"`
	VehicleID string            `json:"vehicle_id"`
	GantryID  string            `json:"gantry_id"`
	Price     string            `json:"price"`
	Status    domain.TollStatus `json:"status"`
	Attempts  int               `json:"attempts"`
	Reference string            `json:"reference,omitempty"`
	CrossedAt int64             `json:"crossed_at"`
	UpdatedAt int64             `json:"updated_at"`
}

type TollHandler struct {
	tolls      tollService
	settlement settlementService
}

func NewTollHandler(tolls tollService, settlement settlementService) *TollHandler {
	return &TollHandler{tolls: tolls, settlement: settlement}
}

func (h *TollHandler) Register(r *gin.RouterGroup) {
	r.GET("/tolls", h.ListTolls)
	r.GET("/tolls/:toll_id", h.GetToll)
	r.POST("/tolls/:toll_id/retry", h.RetryToll)
}

func (h *TollHandler) ListTolls(c *gin.Context) {
	status := domain.TollStatus(c.DefaultQuery("status", string(domain.TollLedgerFailed)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status parameter"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}

	records, err := h.tolls.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch tolls"})
		return
	}

	results := make([]tollResponse, len(records))
	for i := range records {
		results[i] = toTollResponse(&records[i])
	}
	c.JSON(http.StatusOK, results)
}

func (h *TollHandler) GetToll(c *gin.Context) {
	id, ok := tollID(c)
	if !ok {
		return
	}

	rec, err := h.tolls.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "toll not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch toll"})
		return
	}

	c.JSON(http.StatusOK, toTollResponse(rec))
}

func (h *TollHandler) RetryToll(c *gin.Context) {
	id, ok := tollID(c)
	if !ok {
		return
	}

	rec, err := h.settlement.Retry(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, toTollResponse(rec))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "toll not found"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "toll is already being settled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
	}
}

func tollID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("toll_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid toll_id"})
		return 0, false
	}
	return id, true
}

func toTollResponse(rec *domain.TollRecord) tollResponse {
	return tollResponse{
		TollID:    rec.ID,
		VehicleID: rec.DeviceID,
		GantryID:  rec.GantryID,
		Price:     rec.Price.StringFixed(2),
		Status:    rec.Status,
		Attempts:  rec.Attempts,
		Reference: rec.Reference,
		CrossedAt: rec.CrossedAt.Unix(),
		UpdatedAt: rec.UpdatedAt.Unix(),
	}
}
