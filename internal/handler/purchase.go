package handler

import (
	"net/http"

	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/service"
)

// PurchaseHandler handles checkout and purchase history.
type PurchaseHandler struct {
	purchases *service.PurchaseService
}

// NewPurchaseHandler creates a new PurchaseHandler.
func NewPurchaseHandler(purchases *service.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases}
}

type finalizeRequest struct {
	ProviderID string `json:"provider_id"`
}

type purchaseListResponse struct {
	Purchases []domain.Purchase `json:"purchases"`
}

// CreateIntent handles POST /purchases/intent.
func (h *PurchaseHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	ref, err := h.purchases.CreateIntent(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, ref)
}

// Finalize handles POST /purchases/finalize. A replay of an already committed
// purchase answers 200 with replayed=true.
func (h *PurchaseHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req finalizeRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	result, err := h.purchases.Finalize(r.Context(), userID, req.ProviderID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// ListPurchases handles GET /purchases.
func (h *PurchaseHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	purchases, err := h.purchases.ListPurchases(r.Context(), userID, limitParam(r))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, purchaseListResponse{Purchases: purchases})
}
