package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps operation outcomes to HTTP statuses. Sync
// divergences report 502 with the primitive to re-run, so a partially
// applied operation is never mistaken for success.
func writeDomainError(w http.ResponseWriter, err error) {
	var syncErr *domain.SyncError
	switch {
	case errors.As(err, &syncErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":     err.Error(),
			"reconcile": syncErr.Primitive,
		})
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
