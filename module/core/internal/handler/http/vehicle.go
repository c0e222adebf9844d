package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/nandanugg/tollgate/module/core/domain"
)

type ledgerService interface {
	Balance(ctx context.Context, vehicleID string) (domain.VehicleBalance, error)
	Deposit(ctx context.Context, vehicleID string, amount decimal.Decimal) (domain.LedgerEvent, error)
	Events(ctx context.Context, vehicleID string) ([]domain.LedgerEvent, error)
}

type balanceResponse struct {
	VehicleID string `json:"vehicle_id"`
	Balance   string `json:"balance"`
	Version   int64  `json:"version"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ledgerEventResponse struct {
	Seq       int64                  `json:"seq"`
	Kind      domain.LedgerEventKind `json:"kind"`
	Amount    string                 `json:"amount"`
	Reference string                 `json:"reference"`
	TollKey   string                 `json:"idempotency_key,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

type VehicleHandler struct {
	ledger ledgerService
}

func NewVehicleHandler(ledger ledgerService) *VehicleHandler {
	return &VehicleHandler{ledger: ledger}
}

func (h *VehicleHandler) Register(r *gin.RouterGroup) {
	r.GET("/vehicles/:vehicle_id/balance", h.GetBalance)
	r.POST("/vehicles/:vehicle_id/deposit", h.Deposit)
	r.GET("/vehicles/:vehicle_id/ledger", h.GetLedger)
}

func (h *VehicleHandler) GetBalance(c *gin.Context) {
	bal, err := h.ledger.Balance(c.Request.Context(), c.Param("vehicle_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch balance"})
		return
	}
	c.JSON(http.StatusOK, toBalanceResponse(bal))
}

func (h *VehicleHandler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deposit body"})
		return
	}

	vehicleID := c.Param("vehicle_id")
	if _, err := h.ledger.Deposit(c.Request.Context(), vehicleID, req.Amount); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must not be negative"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deposit failed"})
		return
	}

	bal, err := h.ledger.Balance(c.Request.Context(), vehicleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch balance"})
		return
	}
	c.JSON(http.StatusOK, toBalanceResponse(bal))
}

func (h *VehicleHandler) GetLedger(c *gin.Context) {
	events, err := h.ledger.Events(c.Request.Context(), c.Param("vehicle_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch ledger"})
		return
	}

	results := make([]ledgerEventResponse, len(events))
	for i, e := range events {
		results[i] = ledgerEventResponse{
			Seq:       e.Seq,
			Kind:      e.Kind,
			Amount:    e.Amount.StringFixed(2),
			Reference: e.Reference,
			TollKey:   e.IdempotencyKey,
			Timestamp: e.Timestamp.Unix(),
		}
	}
	c.JSON(http.StatusOK, results)
}

func toBalanceResponse(bal domain.VehicleBalance) balanceResponse {
	return balanceResponse{
		VehicleID: bal.VehicleID,
		Balance:   bal.Balance.StringFixed(2),
		Version:   bal.Version,
	}
}
