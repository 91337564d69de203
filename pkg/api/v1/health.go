package v1

import (
	"net/http"
	"time"
)

// healthResponse is the liveness payload.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// getHealth reports liveness. No auth, no rate limit.
func getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
	})
}
