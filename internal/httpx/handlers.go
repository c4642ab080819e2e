package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/cart"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/orders"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/stock"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

// Handler is the thin HTTP surface over the engine. Presentation concerns
// stay here; the engine packages never see a request.
type Handler struct {
	Cart   *cart.Cart
	Ledger *stock.Ledger
	Repo   *orders.Repository
	Log    *zap.Logger
}

func (h *Handler) Register(r *chi.Mux) {
	r.Put("/stock/{id}", h.putStock)
	r.Get("/stock/{id}", h.getStock)

	r.Post("/cart/items", h.addCartItem)
	r.Patch("/cart/items/{id}", h.updateCartItem)
	r.Delete("/cart/items/{id}", h.removeCartItem)
	r.Get("/cart", h.getCart)
	r.Delete("/cart", h.clearCart)
	r.Post("/checkout", h.checkout)

	r.Get("/orders", h.listOrders)
	r.Get("/orders/customer/{id}", h.listCustomerOrders)
	r.Patch("/orders/{id}/status", h.updateOrderStatus)
	r.Delete("/orders/{id}", h.deleteOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var insufficient *stock.InsufficientStockError
	var persistence *storage.PersistenceError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"productId": insufficient.ProductID,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.Is(err, stock.ErrProductNotFound), errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrIsolationViolation):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "customer scope required"})
	case errors.As(err, &persistence):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

type putStockReq struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) putStock(w http.ResponseWriter, r *http.Request) {
	var req putStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	rec, err := h.Ledger.Put(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type addCartItemReq struct {
	Product  orders.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Product.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing product id"})
		return
	}
	if err := h.Cart.AddItem(r.Context(), req.Product, req.Quantity); err != nil {
		writeErr(w, err)
		return
	}
	h.writeCart(w)
}

type updateCartItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.Cart.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity); err != nil {
		writeErr(w, err)
		return
	}
	h.writeCart(w)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Cart.RemoveItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	h.writeCart(w)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	restore := r.URL.Query().Get("restore") != "false"
	h.Cart.Clear(r.Context(), restore)
	h.writeCart(w)
}

func (h *Handler) writeCart(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items": h.Cart.Items(),
		"total": h.Cart.Total(),
	})
}

type checkoutReq struct {
	CustomerID      string `json:"customerId"`
	CustomerName    string `json:"customerName"`
	CustomerEmail   string `json:"customerEmail"`
	CustomerPhone   string `json:"customerPhone"`
	DeliveryAddress string `json:"deliveryAddress"`
	Notes           string `json:"notes"`
	PaymentMethod   string `json:"paymentMethod"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	items := h.Cart.Items()
	if len(items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cart is empty"})
		return
	}

	// read-after-write check before the order is cut; the cross-instance
	// oversell window closes no further than this
	if err := h.Ledger.Revalidate(r.Context(), h.Cart.ProductIDs()); err != nil {
		writeErr(w, err)
		return
	}

	o, err := h.Repo.Create(r.Context(), orders.Draft{
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		Items:           items,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
		Source:          "web",
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	// stock stays consumed by the order
	h.Cart.Clear(r.Context(), false)
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := &orders.Filter{CustomerID: q.Get("customerId")}
	if s := q.Get("status"); s != "" {
		f.Status = orders.ParseStatus(s)
	}
	out, err := h.Repo.GetAll(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	out, err := h.Repo.GetByCustomerID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type updateStatusReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
	Actor  string `json:"actor"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	o, err := h.Repo.UpdateStatus(r.Context(), chi.URLParam(r, "id"),
		orders.ParseStatus(req.Status), req.Notes, req.Actor)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	removed, err := h.Repo.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
