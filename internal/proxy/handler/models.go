package handler

import "net/http"

// ListModels handles GET /llm/v1/models.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Router.ListModels(r.Context()))
}
