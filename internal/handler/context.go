package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/auth"
	"github.com/tunevault/platform/internal/domain"
)

// userIDFromContext returns the authenticated listener. The id is never
// taken from the request body.
func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	sub := auth.SubjectFromContext(r.Context())
	if sub == "" {
		return uuid.Nil, domain.ErrUnauthorized("no subject in context")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized("invalid subject")
	}
	return id, nil
}

func trackIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return domain.ParseTrackID(chi.URLParam(r, name))
}

// limitParam parses ?limit; invalid values fall back to the service default.
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
