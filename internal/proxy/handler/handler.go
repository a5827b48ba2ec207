// Package handler implements the LLM surface endpoints.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/router"
)

// Handlers holds dependencies for the LLM endpoints.
type Handlers struct {
	Router *router.Router
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a pipeline error onto the OpenAI error body. Internal
// errors surface a generic message; the full context was already logged.
func writeError(w http.ResponseWriter, err error) {
	if gwErr, ok := err.(*model.GatewayError); ok {
		status := gwErr.StatusCode
		if status == 0 {
			status = model.HTTPStatus(gwErr.Err)
		}
		message := gwErr.Message
		if message == "" {
			message = "internal server error"
		}
		writeJSON(w, status, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message:  message,
				Type:     gwErr.Type,
				Code:     status,
				Provider: gwErr.Provider,
				Model:    gwErr.Model,
			},
		})
		return
	}

	writeJSON(w, model.HTTPStatus(err), model.ErrorResponse{
		Error: model.ErrorDetail{
			Message: "internal server error",
			Type:    model.ErrorType(err),
			Code:    model.HTTPStatus(err),
		},
	})
}
