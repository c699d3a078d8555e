package handler

import (
	"net/http"

	"github.com/efreitasn/minicheckout/internal/domain"
	"github.com/efreitasn/minicheckout/internal/engine"
	"github.com/efreitasn/minicheckout/internal/service"
	"github.com/go-chi/chi/v5"
)

// StockHandler handles HTTP requests for the stock admin endpoints.
type StockHandler struct {
	stockSvc *service.StockService
}

// NewStockHandler creates a new StockHandler.
func NewStockHandler(stockSvc *service.StockService) *StockHandler {
	return &StockHandler{stockSvc: stockSvc}
}

// setOnHandRequest is the JSON request body for PUT /stock/{variant_id}/{warehouse_id}.
type setOnHandRequest struct {
	OnHand int64 `json:"on_hand"`
}

// positionResponse is the JSON representation of one ledger position.
type positionResponse struct {
	VariantID   string `json:"variant_id"`
	WarehouseID string `json:"warehouse_id"`
	OnHand      int64  `json:"on_hand"`
	Reserved    int64  `json:"reserved"`
	Available   int64  `json:"available"`
}

// setPriceRequest is the JSON request body for PUT /prices/{variant_id}.
type setPriceRequest struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

type priceResponse struct {
	VariantID string  `json:"variant_id"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
}

// SetOnHand handles PUT /stock/{variant_id}/{warehouse_id}.
func (h *StockHandler) SetOnHand(w http.ResponseWriter, r *http.Request) {
	var req setOnHandRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	view, err := h.stockSvc.SetOnHand(chi.URLParam(r, "variant_id"), chi.URLParam(r, "warehouse_id"), req.OnHand)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toPositionResponse(view))
}

// ListPositions handles GET /stock.
func (h *StockHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	views := h.stockSvc.ListPositions()
	resp := make([]positionResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toPositionResponse(v))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"positions": resp})
}

// SetPrice handles PUT /prices/{variant_id}.
func (h *StockHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	variantID := chi.URLParam(r, "variant_id")
	vp, err := h.stockSvc.SetPrice(variantID, req.Price, req.Currency)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, priceResponse{
		VariantID: variantID,
		Price:     domain.CentsToDollars(vp.UnitPrice),
		Currency:  vp.Currency,
	})
}

func toPositionResponse(v engine.PositionView) positionResponse {
	return positionResponse{
		VariantID:   v.VariantID,
		WarehouseID: v.WarehouseID,
		OnHand:      v.OnHand,
		Reserved:    v.Reserved,
		Available:   v.Available,
	}
}
