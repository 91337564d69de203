package v1

import (
	"encoding/json"
	"net/http"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/auth"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/httperr"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
)

// maxBodyBytes caps request bodies. A full push batch is 100 operations
// of up to 256 KiB ciphertext each, so the ceiling sits above that.
const maxBodyBytes = 32 << 20

// writeJSON writes v with the no-store cache policy every JSON response
// carries.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// decodeJSON parses a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return httperr.New(http.StatusBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}

// identityOf returns the authenticated identity or a 401 error. The auth
// middleware guarantees presence on protected routes; this guards
// against wiring mistakes.
func identityOf(r *http.Request) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil, httperr.New(http.StatusUnauthorized, "authentication required")
	}
	return identity, nil
}

// successResponse is the fixed {success:true} payload.
type successResponse struct {
	Success bool `json:"success"`
}
