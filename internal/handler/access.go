package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/service"
)

// AccessHandler handles ownership checks, streaming and the listener library.
type AccessHandler struct {
	access *service.AccessGate
}

// NewAccessHandler creates a new AccessHandler.
func NewAccessHandler(access *service.AccessGate) *AccessHandler {
	return &AccessHandler{access: access}
}

type ownershipResponse struct {
	TrackID uuid.UUID `json:"track_id"`
	Owned   bool      `json:"owned"`
}

type libraryResponse struct {
	Entitlements []domain.EntitlementRecord `json:"entitlements"`
}

// Preview handles GET /tracks/{id}/preview. No authentication.
func (h *AccessHandler) Preview(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	target, err := h.access.Preview(r.Context(), trackID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, target)
}

// Ownership handles GET /tracks/{id}/ownership.
func (h *AccessHandler) Ownership(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	trackID, err := trackIDParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	owned, err := h.access.CheckOwnership(r.Context(), userID, trackID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, ownershipResponse{TrackID: trackID, Owned: owned})
}

// Stream handles GET /tracks/{id}/stream: the full track for owners, the
// preview for everyone else.
func (h *AccessHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	trackID, err := trackIDParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	target, err := h.access.ResolveStreamTarget(r.Context(), userID, trackID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, target)
}

// Library handles GET /library.
func (h *AccessHandler) Library(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	records, err := h.access.Library(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, libraryResponse{Entitlements: records})
}
