package httpadapter

import (
	"net/http"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrTrialNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with {"detail": ...}, preferring the public message
// carried by err.
func writeError(w http.ResponseWriter, status int, err error) {
	writeDetail(w, status, domain.PublicMessage(err, http.StatusText(status)))
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
