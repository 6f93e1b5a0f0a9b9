package stock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock allocator.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock/deduct", h.handleDeduct)
	r.Post("/stock/restore", h.handleRestore)
	r.Get("/stock/variants/{id}/availability", h.handleVariantAvailability)
	r.Get("/stock/virtual/{id}/availability", h.handleVirtualAvailability)
}

type itemRequest struct {
	Description      string  `json:"description"`
	VariantID        int64   `json:"variantId"`
	Qty              float64 `json:"qty" validate:"required,gt=0"`
	PurchaseID       int64   `json:"purchaseId"`
	VirtualProductID int64   `json:"virtualProductId"`
}

type batchRequest struct {
	Items []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request) ([]Item, bool) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return nil, false
	}
	items := make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, Item{
			Description:      it.Description,
			VariantID:        it.VariantID,
			Qty:              it.Qty,
			PurchaseID:       it.PurchaseID,
			VirtualProductID: it.VirtualProductID,
		})
	}
	return items, true
}

func (h *Handler) handleDeduct(w http.ResponseWriter, r *http.Request) {
	items, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	res := h.service.Deduct(r.Context(), items)
	h.service.LogFailures("deduct", res)
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	items, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	res := h.service.Restore(r.Context(), items)
	h.service.LogFailures("restore", res)
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleVariantAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid variant id")
		return
	}
	qty, err := h.service.VariantAvailability(r.Context(), id)
	if err != nil {
		h.logger.Error("variant availability", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"variantId": id, "available": qty})
}

func (h *Handler) handleVirtualAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid virtual product id")
		return
	}
	units, err := h.service.VirtualAvailability(r.Context(), id)
	if err != nil {
		h.logger.Error("virtual availability", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"virtualProductId": id, "available": units})
}
