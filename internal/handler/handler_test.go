package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/efreitasn/minicheckout/internal/engine"
	"github.com/efreitasn/minicheckout/internal/service"
	"github.com/efreitasn/minicheckout/internal/store"
)

// testEnv bundles a fully wired router with the collaborators the tests
// poke at directly.
type testEnv struct {
	router http.Handler
	ledger *engine.Ledger
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	ledger := engine.NewLedger()
	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), time.Second)
	manager := engine.NewLockManager(store.NewLockStore(), ledger, webhookSvc)
	sweeper := engine.NewSweeper(time.Second, manager)
	pricer := service.NewCatalogPricer()

	checkoutSvc := service.NewCheckoutService(
		manager, ledger, sweeper,
		store.NewSnapshotStore(), store.NewOrderStore(),
		pricer, webhookSvc,
		15*time.Minute, 0, true, time.Hour,
	)
	stockSvc := service.NewStockService(ledger, pricer)

	return &testEnv{
		router: NewRouter(checkoutSvc, stockSvc, webhookSvc, logger),
		ledger: ledger,
	}
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doRaw(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

// seedStock primes a position and a catalog price through the admin
// endpoints, the same way an operator would.
func (e *testEnv) seedStock(t *testing.T, variantID string, onHand int64, price float64) {
	t.Helper()
	if w := e.doJSON(t, http.MethodPut, "/stock/"+variantID+"/w1", map[string]any{"on_hand": onHand}); w.Code != http.StatusOK {
		t.Fatalf("seed stock: status %d: %s", w.Code, w.Body.String())
	}
	if w := e.doJSON(t, http.MethodPut, "/prices/"+variantID, map[string]any{"price": price}); w.Code != http.StatusOK {
		t.Fatalf("seed price: status %d: %s", w.Code, w.Body.String())
	}
}

func (e *testEnv) acquire(t *testing.T, cartID, holder string, lines []map[string]any) lockResponse {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/checkouts", map[string]any{
		"cart_id": cartID,
		"holder":  holder,
		"lines":   lines,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("acquire: status %d: %s", w.Code, w.Body.String())
	}
	return decodeJSON[lockResponse](t, w)
}

func lineBody(lineID, variantID string, qty int64) map[string]any {
	return map[string]any{
		"line_id":      lineID,
		"variant_id":   variantID,
		"warehouse_id": "w1",
		"quantity":     qty,
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv()
	w := env.doJSON(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAcquireEndpoint(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 10, 10.00)

	lock := env.acquire(t, "cart-1", "alice", []map[string]any{lineBody("l1", "v1", 2)})
	if lock.State != "active" {
		t.Errorf("state = %s, want active", lock.State)
	}
	if lock.LockID == "" || lock.AcquiredAt == "" || lock.ExpiresAt == "" {
		t.Errorf("missing fields in %+v", lock)
	}
	if lock.CompletedAt != nil || lock.FailedAt != nil || lock.FailureReason != nil {
		t.Errorf("terminal fields should be null on a fresh lock: %+v", lock)
	}
}

func TestAcquireEndpoint_BadRequests(t *testing.T) {
	env := newTestEnv()

	t.Run("missing content type", func(t *testing.T) {
		w := env.doRaw(t, http.MethodPost, "/checkouts", "", `{"cart_id":"c","holder":"h"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
	t.Run("malformed json", func(t *testing.T) {
		w := env.doRaw(t, http.MethodPost, "/checkouts", "application/json", `{"cart_id":`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
	t.Run("unknown field", func(t *testing.T) {
		w := env.doRaw(t, http.MethodPost, "/checkouts", "application/json", `{"cart":"c"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
	t.Run("validation failure", func(t *testing.T) {
		w := env.doJSON(t, http.MethodPost, "/checkouts", map[string]any{
			"cart_id": "cart 1", "holder": "alice",
			"lines": []map[string]any{lineBody("l1", "v1", 1)},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		resp := decodeJSON[errorResponse](t, w)
		if resp.Error != "validation_error" {
			t.Errorf("error = %s, want validation_error", resp.Error)
		}
	})
}

func TestAcquireEndpoint_Conflict(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 10, 10.00)
	env.acquire(t, "cart-1", "alice", []map[string]any{lineBody("l1", "v1", 1)})

	w := env.doJSON(t, http.MethodPost, "/checkouts", map[string]any{
		"cart_id": "cart-1", "holder": "bob",
		"lines": []map[string]any{lineBody("l1", "v1", 1)},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if resp := decodeJSON[errorResponse](t, w); resp.Error != "lock_conflict" {
		t.Errorf("error = %s, want lock_conflict", resp.Error)
	}
}

func TestAcquireEndpoint_InsufficientStock(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 1, 10.00)

	w := env.doJSON(t, http.MethodPost, "/checkouts", map[string]any{
		"cart_id": "cart-1", "holder": "alice",
		"lines": []map[string]any{lineBody("l1", "v1", 3)},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error   string              `json:"error"`
		Details []shortfallResponse `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "insufficient_stock" {
		t.Errorf("error = %s, want insufficient_stock", resp.Error)
	}
	if len(resp.Details) != 1 || resp.Details[0].Shortfall != 2 {
		t.Errorf("details = %+v, want one line short by 2", resp.Details)
	}
}

func TestAcquireEndpoint_UnpricedVariant(t *testing.T) {
	env := newTestEnv()
	if w := env.doJSON(t, http.MethodPut, "/stock/v1/w1", map[string]any{"on_hand": 5}); w.Code != http.StatusOK {
		t.Fatalf("seed stock: %d", w.Code)
	}

	w := env.doJSON(t, http.MethodPost, "/checkouts", map[string]any{
		"cart_id": "cart-1", "holder": "alice",
		"lines": []map[string]any{lineBody("l1", "v1", 1)},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
}

func TestCheckoutLifecycleEndpoints(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 10, 10.50)

	lock := env.acquire(t, "cart-1", "alice", []map[string]any{lineBody("l1", "v1", 2)})

	// GET the observability view.
	w := env.doJSON(t, http.MethodGet, "/checkouts/"+lock.LockID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get checkout: status %d", w.Code)
	}
	view := decodeJSON[checkoutResponse](t, w)
	if len(view.Snapshots) != 1 || view.Snapshots[0].UnitPrice != 10.50 {
		t.Errorf("snapshots = %+v, want one at 10.50", view.Snapshots)
	}
	if len(view.Reservations) != 1 || view.Reservations[0].Quantity != 2 {
		t.Errorf("reservations = %+v, want one of 2", view.Reservations)
	}

	// Complete. No body, no Content-Type header.
	w = env.doRaw(t, http.MethodPost, "/checkouts/"+lock.LockID+"/complete", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("complete: status %d: %s", w.Code, w.Body.String())
	}
	order := decodeJSON[orderResponse](t, w)
	if order.TotalAmount != 21.00 {
		t.Errorf("total_amount = %v, want 21.00", order.TotalAmount)
	}
	if order.LockID != lock.LockID {
		t.Errorf("lock_id = %s, want %s", order.LockID, lock.LockID)
	}

	// Fetch the order back.
	w = env.doJSON(t, http.MethodGet, "/orders/"+order.OrderID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get order: status %d", w.Code)
	}
	if got := decodeJSON[orderResponse](t, w); got.OrderID != order.OrderID {
		t.Errorf("order_id = %s, want %s", got.OrderID, order.OrderID)
	}

	// The lock now reads completed.
	w = env.doJSON(t, http.MethodGet, "/checkouts/"+lock.LockID, nil)
	if got := decodeJSON[checkoutResponse](t, w); got.State != "completed" || got.CompletedAt == nil {
		t.Errorf("lock = %+v, want completed with completed_at set", got)
	}
}

func TestCompleteEndpoint_PriceDrift(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 10, 10.00)
	lock := env.acquire(t, "cart-1", "alice", []map[string]any{lineBody("l1", "v1", 1)})

	// Reprice upward past the zero tolerance.
	if w := env.doJSON(t, http.MethodPut, "/prices/v1", map[string]any{"price": 10.50}); w.Code != http.StatusOK {
		t.Fatalf("reprice: %d", w.Code)
	}

	w := env.doRaw(t, http.MethodPost, "/checkouts/"+lock.LockID+"/complete", "", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error   string          `json:"error"`
		Details []driftResponse `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "price_drift" {
		t.Errorf("error = %s, want price_drift", resp.Error)
	}
	if len(resp.Details) != 1 || resp.Details[0].SnapshotPrice != 10.00 || resp.Details[0].LivePrice != 10.50 {
		t.Errorf("details = %+v, want 10.00 → 10.50", resp.Details)
	}

	// A failed checkout cannot be completed afterwards.
	w = env.doRaw(t, http.MethodPost, "/checkouts/"+lock.LockID+"/complete", "", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if resp := decodeJSON[errorResponse](t, w); resp.Error != "invalid_transition" {
		t.Errorf("error = %s, want invalid_transition", resp.Error)
	}
}

func TestCompleteEndpoint_NotFound(t *testing.T) {
	env := newTestEnv()
	w := env.doRaw(t, http.MethodPost, "/checkouts/no-such-lock/complete", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestReleaseEndpoint(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 10, 10.00)
	lock := env.acquire(t, "cart-1", "alice", []map[string]any{lineBody("l1", "v1", 4)})

	w := env.doJSON(t, http.MethodDelete, "/checkouts/"+lock.LockID, map[string]any{"reason": "shopper_left"})
	if w.Code != http.StatusOK {
		t.Fatalf("release: status %d: %s", w.Code, w.Body.String())
	}

	if got := env.ledger.Available("v1", "w1"); got != 10 {
		t.Errorf("Available = %d, want 10", got)
	}

	view := decodeJSON[checkoutResponse](t, env.doJSON(t, http.MethodGet, "/checkouts/"+lock.LockID, nil))
	if view.State != "failed" || view.FailureReason == nil || *view.FailureReason != "shopper_left" {
		t.Errorf("lock = %+v, want failed with reason shopper_left", view)
	}

	// Repeat release is a no-op.
	if w := env.doRaw(t, http.MethodDelete, "/checkouts/"+lock.LockID, "", ""); w.Code != http.StatusOK {
		t.Errorf("repeat release: status %d, want 200", w.Code)
	}
}

func TestReleaseEndpoint_CompletedLock(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 10, 10.00)
	lock := env.acquire(t, "cart-1", "alice", []map[string]any{lineBody("l1", "v1", 1)})
	if w := env.doRaw(t, http.MethodPost, "/checkouts/"+lock.LockID+"/complete", "", ""); w.Code != http.StatusOK {
		t.Fatalf("complete: %d", w.Code)
	}

	w := env.doRaw(t, http.MethodDelete, "/checkouts/"+lock.LockID, "", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestGetCheckoutEndpoint_NotFound(t *testing.T) {
	env := newTestEnv()
	w := env.doJSON(t, http.MethodGet, "/checkouts/no-such-lock", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if resp := decodeJSON[errorResponse](t, w); resp.Error != "lock_not_found" {
		t.Errorf("error = %s, want lock_not_found", resp.Error)
	}
}

func TestGetOrderEndpoint_NotFound(t *testing.T) {
	env := newTestEnv()
	w := env.doJSON(t, http.MethodGet, "/orders/no-such-order", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv()
	env.seedStock(t, "v1", 100, 10.00)

	done := env.acquire(t, "cart-a", "alice", []map[string]any{lineBody("l1", "v1", 1)})
	if w := env.doRaw(t, http.MethodPost, "/checkouts/"+done.LockID+"/complete", "", ""); w.Code != http.StatusOK {
		t.Fatalf("complete: %d", w.Code)
	}
	env.acquire(t, "cart-b", "bob", []map[string]any{lineBody("l1", "v1", 1)})

	w := env.doJSON(t, http.MethodGet, "/checkouts/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status %d", w.Code)
	}
	stats := decodeJSON[statsResponse](t, w)
	if stats.ActiveCount != 1 || stats.CompletedCount != 1 {
		t.Errorf("stats = %+v, want active 1, completed 1", stats)
	}
	if stats.SuccessRate == nil || *stats.SuccessRate != 1.0 {
		t.Errorf("success_rate = %v, want 1.0", stats.SuccessRate)
	}
	if stats.Window != "1h0m0s" {
		t.Errorf("window = %s, want 1h0m0s", stats.Window)
	}
}

func TestStockEndpoints(t *testing.T) {
	env := newTestEnv()

	w := env.doJSON(t, http.MethodPut, "/stock/v1/w1", map[string]any{"on_hand": 7})
	if w.Code != http.StatusOK {
		t.Fatalf("set on hand: status %d: %s", w.Code, w.Body.String())
	}
	pos := decodeJSON[positionResponse](t, w)
	if pos.OnHand != 7 || pos.Available != 7 {
		t.Errorf("position = %+v, want on_hand 7", pos)
	}

	t.Run("negative on_hand", func(t *testing.T) {
		w := env.doJSON(t, http.MethodPut, "/stock/v1/w1", map[string]any{"on_hand": -1})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("below reserved", func(t *testing.T) {
		env.seedStock(t, "v1", 7, 5.00)
		env.acquire(t, "cart-1", "alice", []map[string]any{lineBody("l1", "v1", 5)})

		w := env.doJSON(t, http.MethodPut, "/stock/v1/w1", map[string]any{"on_hand": 3})
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409: %s", w.Code, w.Body.String())
		}
	})

	t.Run("list", func(t *testing.T) {
		w := env.doJSON(t, http.MethodGet, "/stock", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct {
			Positions []positionResponse `json:"positions"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Positions) != 1 {
			t.Errorf("len(positions) = %d, want 1", len(resp.Positions))
		}
	})
}

func TestPriceEndpoint(t *testing.T) {
	env := newTestEnv()

	w := env.doJSON(t, http.MethodPut, "/prices/v1", map[string]any{"price": 12.34, "currency": "EUR"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[priceResponse](t, w)
	if resp.Price != 12.34 || resp.Currency != "EUR" {
		t.Errorf("price = %+v, want 12.34 EUR", resp)
	}

	t.Run("sub-cent price", func(t *testing.T) {
		w := env.doJSON(t, http.MethodPut, "/prices/v1", map[string]any{"price": 12.345})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestWebhookEndpoints(t *testing.T) {
	env := newTestEnv()

	w := env.doJSON(t, http.MethodPost, "/webhooks", map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"checkout.completed", "checkout.expired"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Webhooks []webhookResponse `json:"webhooks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.Webhooks) != 2 {
		t.Fatalf("len(webhooks) = %d, want 2", len(created.Webhooks))
	}

	// Re-registering the same pairs is an update, not a create.
	w = env.doJSON(t, http.MethodPost, "/webhooks", map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"checkout.completed", "checkout.expired"},
	})
	if w.Code != http.StatusOK {
		t.Errorf("repeat upsert: status %d, want 200", w.Code)
	}

	t.Run("http scheme rejected", func(t *testing.T) {
		w := env.doJSON(t, http.MethodPost, "/webhooks", map[string]any{
			"url":    "http://example.com/hook",
			"events": []string{"checkout.completed"},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	w = env.doJSON(t, http.MethodGet, "/webhooks", nil)
	var listed struct {
		Webhooks []webhookResponse `json:"webhooks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Webhooks) != 2 {
		t.Errorf("len(webhooks) = %d, want 2", len(listed.Webhooks))
	}

	w = env.doJSON(t, http.MethodDelete, "/webhooks/"+created.Webhooks[0].WebhookID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	w = env.doJSON(t, http.MethodDelete, "/webhooks/"+created.Webhooks[0].WebhookID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("repeat delete: status %d, want 404", w.Code)
	}
}

func TestContentTypeMiddleware(t *testing.T) {
	env := newTestEnv()

	t.Run("rejects text bodies", func(t *testing.T) {
		w := env.doRaw(t, http.MethodPut, "/stock/v1/w1", "text/plain", `{"on_hand": 5}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
	t.Run("allows charset suffix", func(t *testing.T) {
		w := env.doRaw(t, http.MethodPut, "/stock/v1/w1", "application/json; charset=utf-8", `{"on_hand": 5}`)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
	})
	t.Run("skips bodyless requests", func(t *testing.T) {
		w := env.doRaw(t, http.MethodPost, "/checkouts/no-such-lock/complete", "", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want the handler to run (404)", w.Code)
		}
	})
}
