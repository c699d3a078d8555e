package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/efreitasn/minicheckout/internal/domain"
	"github.com/efreitasn/minicheckout/internal/service"
	"github.com/go-chi/chi/v5"
)

// CheckoutHandler handles HTTP requests for checkout endpoints.
type CheckoutHandler struct {
	checkoutSvc *service.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkoutSvc *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutSvc: checkoutSvc}
}

// acquireRequest is the JSON request body for POST /checkouts.
type acquireRequest struct {
	CartID     string             `json:"cart_id"`
	Holder     string             `json:"holder"`
	TTLSeconds *int64             `json:"ttl_seconds"`
	Lines      []cartLineRequest  `json:"lines"`
}

type cartLineRequest struct {
	LineID      string `json:"line_id"`
	VariantID   string `json:"variant_id"`
	WarehouseID string `json:"warehouse_id"`
	Quantity    int64  `json:"quantity"`
}

// lockResponse is the JSON representation of a checkout lock.
// Nullable fields use pointers.
type lockResponse struct {
	LockID        string  `json:"lock_id"`
	CartID        string  `json:"cart_id"`
	Holder        string  `json:"holder"`
	State         string  `json:"state"`
	AcquiredAt    string  `json:"acquired_at"`
	ExpiresAt     string  `json:"expires_at"`
	CompletedAt   *string `json:"completed_at"`
	FailedAt      *string `json:"failed_at"`
	FailureReason *string `json:"failure_reason"`
}

type snapshotResponse struct {
	SnapshotID string  `json:"snapshot_id"`
	CartLineID string  `json:"cart_line_id"`
	UnitPrice  float64 `json:"unit_price"`
	Currency   string  `json:"currency"`
	CapturedAt string  `json:"captured_at"`
}

type reservationResponse struct {
	ReservationID string `json:"reservation_id"`
	VariantID     string `json:"variant_id"`
	WarehouseID   string `json:"warehouse_id"`
	Quantity      int64  `json:"quantity"`
}

// checkoutResponse is the full observability view of a checkout.
type checkoutResponse struct {
	lockResponse
	Snapshots    []snapshotResponse    `json:"snapshots"`
	Reservations []reservationResponse `json:"reservations"`
}

type orderLineResponse struct {
	CartLineID  string  `json:"cart_line_id"`
	VariantID   string  `json:"variant_id"`
	WarehouseID string  `json:"warehouse_id"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

type orderResponse struct {
	OrderID     string              `json:"order_id"`
	LockID      string              `json:"lock_id"`
	CartID      string              `json:"cart_id"`
	Holder      string              `json:"holder"`
	Lines       []orderLineResponse `json:"lines"`
	TotalAmount float64             `json:"total_amount"`
	Currency    string              `json:"currency"`
	CreatedAt   string              `json:"created_at"`
}

type shortfallResponse struct {
	VariantID   string `json:"variant_id"`
	WarehouseID string `json:"warehouse_id"`
	Requested   int64  `json:"requested"`
	Available   int64  `json:"available"`
	Shortfall   int64  `json:"shortfall"`
}

type driftResponse struct {
	CartLineID    string  `json:"cart_line_id"`
	SnapshotPrice float64 `json:"snapshot_price"`
	LivePrice     float64 `json:"live_price"`
}

type statsResponse struct {
	ActiveCount     int      `json:"active_count"`
	CompletedCount  int      `json:"completed_count"`
	FailedCount     int      `json:"failed_count"`
	ExpiredCount    int      `json:"expired_count"`
	WindowCompleted int      `json:"window_completed"`
	WindowFailed    int      `json:"window_failed"`
	SuccessRate     *float64 `json:"success_rate"`
	Window          string   `json:"window"`
}

// releaseRequest is the optional JSON body for DELETE /checkouts/{lock_id}.
type releaseRequest struct {
	Reason string `json:"reason"`
}

// Acquire handles POST /checkouts.
func (h *CheckoutHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	svcReq := service.AcquireCheckoutRequest{
		CartID: req.CartID,
		Holder: req.Holder,
	}
	if req.TTLSeconds != nil {
		ttl := time.Duration(*req.TTLSeconds) * time.Second
		svcReq.TTL = &ttl
	}
	for _, l := range req.Lines {
		svcReq.Lines = append(svcReq.Lines, service.CartLineRequest{
			LineID:      l.LineID,
			VariantID:   l.VariantID,
			WarehouseID: l.WarehouseID,
			Quantity:    l.Quantity,
		})
	}

	lock, err := h.checkoutSvc.AcquireCheckout(svcReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toLockResponse(lock))
}

// Get handles GET /checkouts/{lock_id}.
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkoutSvc.GetCheckout(chi.URLParam(r, "lock_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := checkoutResponse{
		lockResponse: toLockResponse(view.Lock),
		Snapshots:    make([]snapshotResponse, 0, len(view.Snapshots)),
		Reservations: make([]reservationResponse, 0, len(view.Reservations)),
	}
	for _, s := range view.Snapshots {
		resp.Snapshots = append(resp.Snapshots, snapshotResponse{
			SnapshotID: s.SnapshotID,
			CartLineID: s.CartLineID,
			UnitPrice:  domain.CentsToDollars(s.UnitPrice),
			Currency:   s.Currency,
			CapturedAt: formatTime(s.CapturedAt),
		})
	}
	for _, res := range view.Reservations {
		resp.Reservations = append(resp.Reservations, reservationResponse{
			ReservationID: res.ReservationID,
			VariantID:     res.VariantID,
			WarehouseID:   res.WarehouseID,
			Quantity:      res.Quantity,
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Complete handles POST /checkouts/{lock_id}/complete.
func (h *CheckoutHandler) Complete(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkoutSvc.CompleteCheckout(chi.URLParam(r, "lock_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

// Release handles DELETE /checkouts/{lock_id}.
func (h *CheckoutHandler) Release(w http.ResponseWriter, r *http.Request) {
	var reason string
	if r.ContentLength != 0 {
		var req releaseRequest
		if err := ParseJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		reason = req.Reason
	}

	if err := h.checkoutSvc.ReleaseCheckout(chi.URLParam(r, "lock_id"), reason); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// GetOrder handles GET /orders/{order_id}.
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkoutSvc.GetOrder(chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

// Stats handles GET /checkouts/stats.
func (h *CheckoutHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.checkoutSvc.Stats()
	WriteJSON(w, http.StatusOK, statsResponse{
		ActiveCount:     stats.ActiveCount,
		CompletedCount:  stats.CompletedCount,
		FailedCount:     stats.FailedCount,
		ExpiredCount:    stats.ExpiredCount,
		WindowCompleted: stats.WindowCompleted,
		WindowFailed:    stats.WindowFailed,
		SuccessRate:     stats.SuccessRate,
		Window:          stats.Window.String(),
	})
}

func toLockResponse(l *domain.CheckoutLock) lockResponse {
	view := l.View()
	resp := lockResponse{
		LockID:     l.LockID,
		CartID:     l.CartID,
		Holder:     l.Holder,
		State:      string(view.State),
		AcquiredAt: formatTime(l.AcquiredAt),
		ExpiresAt:  formatTime(l.ExpiresAt),
	}
	if view.CompletedAt != nil {
		s := formatTime(*view.CompletedAt)
		resp.CompletedAt = &s
	}
	if view.FailedAt != nil {
		s := formatTime(*view.FailedAt)
		resp.FailedAt = &s
	}
	if view.FailureReason != "" {
		reason := view.FailureReason
		resp.FailureReason = &reason
	}
	return resp
}

func toOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:     o.OrderID,
		LockID:      o.LockID,
		CartID:      o.CartID,
		Holder:      o.Holder,
		Lines:       make([]orderLineResponse, 0, len(o.Lines)),
		TotalAmount: domain.CentsToDollars(o.TotalAmount),
		Currency:    o.Currency,
		CreatedAt:   formatTime(o.CreatedAt),
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			CartLineID:  l.CartLineID,
			VariantID:   l.VariantID,
			WarehouseID: l.WarehouseID,
			Quantity:    l.Quantity,
			UnitPrice:   domain.CentsToDollars(l.UnitPrice),
		})
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// writeDomainError maps domain errors to HTTP responses. Rich failures
// carry their per-line detail so the calling layer can re-present the
// cart instead of failing opaquely.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		WriteError(w, http.StatusBadRequest, "validation_error", ve.Message)
		return
	}

	var ise *domain.InsufficientStockError
	if errors.As(err, &ise) {
		details := make([]shortfallResponse, 0, len(ise.Lines))
		for _, l := range ise.Lines {
			details = append(details, shortfallResponse{
				VariantID:   l.VariantID,
				WarehouseID: l.WarehouseID,
				Requested:   l.Requested,
				Available:   l.Available,
				Shortfall:   l.Shortfall,
			})
		}
		WriteErrorDetails(w, http.StatusConflict, "insufficient_stock",
			"one or more lines could not be reserved", details)
		return
	}

	var pde *domain.PriceDriftError
	if errors.As(err, &pde) {
		details := make([]driftResponse, 0, len(pde.Lines))
		for _, l := range pde.Lines {
			details = append(details, driftResponse{
				CartLineID:    l.CartLineID,
				SnapshotPrice: domain.CentsToDollars(l.SnapshotPrice),
				LivePrice:     domain.CentsToDollars(l.LivePrice),
			})
		}
		WriteErrorDetails(w, http.StatusConflict, "price_drift",
			"one or more prices changed since the quote", details)
		return
	}

	switch {
	case errors.Is(err, domain.ErrLockConflict):
		WriteError(w, http.StatusConflict, "lock_conflict", "an active checkout already exists for this cart")
	case errors.Is(err, domain.ErrExpiredLock):
		WriteError(w, http.StatusGone, "expired_lock", "the checkout lease has expired")
	case errors.Is(err, domain.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "invalid_transition", "the checkout is already in a terminal state")
	case errors.Is(err, domain.ErrLockNotFound):
		WriteError(w, http.StatusNotFound, "lock_not_found", "no checkout lock with that ID")
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", "no order with that ID")
	case errors.Is(err, domain.ErrWebhookNotFound):
		WriteError(w, http.StatusNotFound, "webhook_not_found", "no webhook with that ID")
	case errors.Is(err, domain.ErrVariantNotPriced):
		WriteError(w, http.StatusUnprocessableEntity, "variant_not_priced", "no catalog price for one or more variants")
	case errors.Is(err, domain.ErrStockBelowReserved):
		WriteError(w, http.StatusConflict, "stock_below_reserved", "on_hand cannot be set below the reserved quantity")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
