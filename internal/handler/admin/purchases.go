package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/handler"
	"github.com/tunevault/platform/internal/service"
)

// PurchaseAuditHandler exposes the purchase ledger read-only.
type PurchaseAuditHandler struct {
	purchases *service.PurchaseService
}

// NewPurchaseAuditHandler creates a new PurchaseAuditHandler.
func NewPurchaseAuditHandler(purchases *service.PurchaseService) *PurchaseAuditHandler {
	return &PurchaseAuditHandler{purchases: purchases}
}

type purchaseListResponse struct {
	Purchases []domain.Purchase `json:"purchases"`
}

// ListPurchases handles GET /admin/purchases, optionally filtered by ?user_id.
func (h *PurchaseAuditHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var (
		purchases []domain.Purchase
		err       error
	)
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, perr := uuid.Parse(raw)
		if perr != nil {
			handler.RespondError(w, domain.ErrValidation("invalid user_id"))
			return
		}
		purchases, err = h.purchases.ListPurchases(r.Context(), userID, limit)
	} else {
		purchases, err = h.purchases.ListRecentPurchases(r.Context(), limit)
	}
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, purchaseListResponse{Purchases: purchases})
}

// GetPurchase handles GET /admin/purchases/{providerID}.
func (h *PurchaseAuditHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.purchases.LookupPurchase(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, p)
}
