package handler

import "net/http"

// Health handles GET /health. Always unauthenticated.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
