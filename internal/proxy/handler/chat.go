package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/proxy/middleware"
	"github.com/jrmatherly/nexus/internal/router"
)

// ChatCompletion handles POST /llm/v1/chat/completions.
func (h *Handlers) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req model.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message: "invalid request body: " + err.Error(),
				Type:    "invalid_request_error",
			},
		})
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message: "model and messages are required",
				Type:    "invalid_request_error",
			},
		})
		return
	}

	rc := router.RequestContext{
		Identity: middleware.IdentityFromContext(r.Context()),
		Headers:  r.Header,
	}

	if req.IsStreaming() {
		h.handleStreamingCompletion(w, r, &req, rc)
		return
	}

	result, err := h.Router.Complete(r.Context(), &req, rc)
	if err != nil {
		writeError(w, err)
		return
	}

	if result.ID == "" {
		result.ID = "chatcmpl-" + uuid.NewString()
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleStreamingCompletion(w http.ResponseWriter, r *http.Request, req *model.ChatCompletionRequest, rc router.RequestContext) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, &model.GatewayError{
			StatusCode: http.StatusNotImplemented,
			Message:    "streaming is not supported by this connection",
			Type:       "invalid_request_error",
			Err:        model.ErrStreamingNotSupported,
		})
		return
	}

	stream, err := h.Router.CompleteStream(r.Context(), req, rc)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Response.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	streamID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	scanner := bufio.NewScanner(stream.Response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		chunk, done, err := stream.Provider.TransformStreamChunk(r.Context(), []byte(data))
		if err != nil {
			log.Printf("warn: stream chunk from %s: %v", stream.Provider.Name(), err)
			continue
		}

		if chunk != nil {
			if chunk.ID == "" {
				chunk.ID = streamID
			}
			if chunk.Created == 0 {
				chunk.Created = created
			}
			chunk.Model = stream.DisplayModel
			chunkData, err := json.Marshal(chunk)
			if err != nil {
				log.Printf("warn: marshal chunk: %v", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", chunkData)
			flusher.Flush()
		}

		if done {
			fmt.Fprintf(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
	}

	// Upstream ended without a terminator; still close out the SSE stream.
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
