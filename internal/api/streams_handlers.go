package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

type streamRegisterRequest struct {
	Name       string            `json:"name"`
	OutputURLs map[string]string `json:"outputUrls"`
}

// Streams handles the stream collection: GET lists known streams, POST
// registers one ahead of its first publish callback.
func (h *Handler) Streams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Registry.List())
	case http.MethodPost:
		var req streamRegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		stream, err := h.Registry.Register(req.Name, req.OutputURLs)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, stream)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// StreamByName routes /api/streams/{name} and /api/streams/{name}/metrics.
func (h *Handler) StreamByName(w http.ResponseWriter, r *http.Request) {
	remaining := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/streams/"), "/"), "/")
	if len(remaining) == 0 || remaining[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("stream name missing"))
		return
	}
	name := remaining[0]

	if len(remaining) == 2 && remaining[1] == "metrics" {
		h.streamMetrics(w, r, name)
		return
	}
	if len(remaining) > 1 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown stream action %s", remaining[1]))
		return
	}

	switch r.Method {
	case http.MethodGet:
		stream, ok := h.Registry.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("stream %s not found", name))
			return
		}
		writeJSON(w, http.StatusOK, stream)
	case http.MethodDelete:
		if err := h.Registry.Unregister(name); err != nil {
			writeStoreError(w, err)
			return
		}
		h.Dispatcher.CancelStream(name)
		writeJSON(w, http.StatusNoContent, nil)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) streamMetrics(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var sample models.StreamMetrics
	if err := decodeJSON(r, &sample); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stream, err := h.Registry.UpdateMetrics(name, sample)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

type publishHookRequest struct {
	Action   string `json:"action"`
	Stream   string `json:"stream"`
	ClientID string `json:"client_id,omitempty"`
	Param    string `json:"param,omitempty"`
}

func normalizeHookAction(action string) string {
	normalized := strings.ToLower(strings.TrimSpace(action))
	normalized = strings.TrimPrefix(normalized, "on_")
	return normalized
}

// PublishHook receives lifecycle callbacks from the media ingest process.
// Authorization uses the shared hook token as a bearer header or token query
// parameter.
func (h *Handler) PublishHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !h.hookAuthorized(r) {
		h.logger().Warn("publish hook rejected token", "path", r.URL.Path, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
		return
	}

	var req publishHookRequest
	if r.Body != nil && r.Body != http.NoBody {
		if err := decodeJSONAllowUnknown(r, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
	}
	if req.Action == "" {
		req.Action = r.URL.Query().Get("action")
	}
	if req.Stream == "" {
		req.Stream = r.URL.Query().Get("stream")
	}

	action := normalizeHookAction(req.Action)
	if action == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("action is required"))
		return
	}
	name := strings.TrimSpace(req.Stream)
	if name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("stream is required"))
		return
	}

	switch action {
	case "publish":
		stream, err := h.Registry.HandlePublish(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, stream)
	case "publish_done", "unpublish":
		stream, err := h.Registry.HandlePublishDone(name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		// Never let a CUE-IN chase a stream that just went dark.
		h.Dispatcher.CancelStream(name)
		writeJSON(w, http.StatusOK, stream)
	case "play":
		stream, err := h.Registry.HandlePlay(name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"currentViewers": stream.Viewers})
	case "play_done", "stop":
		stream, err := h.Registry.HandlePlayDone(name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"currentViewers": stream.Viewers})
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %s", req.Action))
	}
}
