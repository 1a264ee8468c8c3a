package handler

import (
	"net/http"

	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/service"
)

// CartHandler handles the listener's cart.
type CartHandler struct {
	carts *service.CartService
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(carts *service.CartService) *CartHandler {
	return &CartHandler{carts: carts}
}

type addItemRequest struct {
	TrackID string `json:"track_id"`
}

// GetCart handles GET /cart.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	snapshot, err := h.carts.Snapshot(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snapshot)
}

// AddItem handles POST /cart/items.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req addItemRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	trackID, err := domain.ParseTrackID(req.TrackID)
	if err != nil {
		RespondError(w, err)
		return
	}

	item, err := h.carts.Add(r.Context(), userID, trackID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, item)
}

// RemoveItem handles DELETE /cart/items/{trackID}. Removing an absent item succeeds.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	trackID, err := trackIDParam(r, "trackID")
	if err != nil {
		RespondError(w, err)
		return
	}

	if err := h.carts.Remove(r.Context(), userID, trackID); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}

// ClearCart handles DELETE /cart.
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	if err := h.carts.Clear(r.Context(), userID); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}
