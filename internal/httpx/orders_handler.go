package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/damilare/storelink/internal/checkout"
	"github.com/damilare/storelink/internal/metrics"
	"github.com/damilare/storelink/internal/orders"
	"github.com/damilare/storelink/internal/paystack"
	"github.com/damilare/storelink/internal/reaper"
	"github.com/damilare/storelink/internal/redisx"
	"github.com/damilare/storelink/internal/stores"
)

type Handler struct {
	Checkout *checkout.Service
	Reaper   *reaper.Service
	Payout   *stores.PayoutService
	Stores   *stores.Repo
	Orders   *orders.Repo
	Stock    *orders.StockRepo
	Gateway  *paystack.Client
	Redis    *redis.Client
	Metrics  *metrics.Metrics
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/checkout", h.startCheckout)
	r.Get("/payments/confirm", h.confirmPayment)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/status", h.updateOrderStatus)
	r.Post("/orders/sweep-expired", h.sweepExpired)
	r.Post("/products/{id}/auto-disable", h.toggleAutoDisable)
	r.Post("/stores/payout", h.connectPayout)
	r.Get("/banks", h.listBanks)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the error taxonomy onto status codes. Gateway timeouts get a
// distinct retryable shape so the client shows "try again" instead of a hard
// failure.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, paystack.ErrGatewayTimeout):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "payment gateway timed out", "retryable": true})
	case errors.Is(err, checkout.ErrPaymentFailed):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrInsufficientStock), errors.Is(err, orders.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrProductNotFound), errors.Is(err, stores.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrValidation), errors.Is(err, stores.ErrMissingFields):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (h *Handler) observe(name string, start time.Time) {
	if h.Metrics != nil {
		h.Metrics.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// actingStore resolves the authenticated user (upstream auth puts the id in
// X-User-ID) to the store they own.
func (h *Handler) actingStore(r *http.Request) (stores.Store, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return stores.Store{}, fmt.Errorf("%w: missing X-User-ID", orders.ErrValidation)
	}
	return h.Stores.GetByOwner(r.Context(), userID)
}

type checkoutReq struct {
	StoreSlug string              `json:"store_slug"`
	Items     []orders.ItemInput  `json:"items"`
	Customer  orders.CustomerInfo `json:"customer"`
}

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	defer h.observe("checkout", time.Now())

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	res, err := h.Checkout.StartCheckout(r.Context(), checkout.CheckoutInput{
		StoreSlug: req.StoreSlug,
		Items:     req.Items,
		Customer:  req.Customer,
	})
	if err != nil {
		h.countCheckout("error")
		writeErr(w, err)
		return
	}
	h.countCheckout("ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":          res.OrderID,
		"reference":         res.Reference,
		"authorization_url": res.AuthorizationURL,
		"total_kobo":        res.TotalKobo,
	})
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	defer h.observe("confirm", time.Now())

	res, err := h.Checkout.ConfirmPayment(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		switch {
		case errors.Is(err, paystack.ErrGatewayTimeout):
			h.countConfirm("timeout")
		case errors.Is(err, checkout.ErrPaymentFailed):
			h.countConfirm("declined")
		default:
			h.countConfirm("error")
		}
		writeErr(w, err)
		return
	}
	h.countConfirm("ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"order_id":          res.OrderID,
		"already_confirmed": res.AlreadyConfirmed,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, DB as fallback
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	status, err := h.Orders.GetStatus(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	b, _ := json.Marshal(map[string]any{"status": status})
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	store, err := h.actingStore(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.Checkout.CancelOrder(r.Context(), chi.URLParam(r, "id"), store.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	store, err := h.actingStore(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.Checkout.UpdateStatus(r.Context(), chi.URLParam(r, "id"), store.ID, orders.Status(req.Status)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) sweepExpired(w http.ResponseWriter, r *http.Request) {
	defer h.observe("sweep", time.Now())

	store, err := h.actingStore(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	released, err := h.Reaper.Sweep(r.Context(), store.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.StockReleased.Add(float64(released))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "released": released})
}

func (h *Handler) toggleAutoDisable(w http.ResponseWriter, r *http.Request) {
	store, err := h.actingStore(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		AutoDisableOnOOS *bool `json:"auto_disable_on_oos"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AutoDisableOnOOS == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing auto_disable_on_oos"})
		return
	}
	if err := h.Stock.SetAutoDisable(r.Context(), store.ID, chi.URLParam(r, "id"), *req.AutoDisableOnOOS); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) connectPayout(w http.ResponseWriter, r *http.Request) {
	store, err := h.actingStore(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req stores.PayoutInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	code, err := h.Payout.Connect(r.Context(), store.ID, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "subaccount_code": code})
}

func (h *Handler) listBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.Gateway.ListBanks(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, banks)
}

func (h *Handler) countCheckout(result string) {
	if h.Metrics != nil {
		h.Metrics.Checkouts.WithLabelValues(result).Inc()
	}
}

func (h *Handler) countConfirm(result string) {
	if h.Metrics != nil {
		h.Metrics.Confirmations.WithLabelValues(result).Inc()
	}
}
