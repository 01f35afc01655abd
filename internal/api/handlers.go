package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/dudu/swapstream/internal/imaging"
	"github.com/dudu/swapstream/internal/jobs"
	"github.com/dudu/swapstream/internal/reference"
	"github.com/dudu/swapstream/internal/stream"
)

// Upload limits keep multipart parsing bounded
const (
	maxImageUpload = 32 << 20  // 32 MiB
	maxVideoUpload = 512 << 20 // 512 MiB
)

// Handler exposes the service over HTTP and WebSocket
type Handler struct {
	Store          *reference.Store
	Jobs           *jobs.Manager
	Stream         *stream.Handler
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewHandler creates the API handler
func NewHandler(log zerolog.Logger, store *reference.Store, manager *jobs.Manager, streamHandler *stream.Handler, allowedOrigins []string) *Handler {
	return &Handler{
		Store:          store,
		Jobs:           manager,
		Stream:         streamHandler,
		AllowedOrigins: allowedOrigins,
		Log:            log,
	}
}

// UploadReference accepts a still image and replaces the active reference
func (h *Handler) UploadReference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "msg": "invalid upload"})
		return
	}
	file, header, err := r.FormFile("img")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "msg": "missing image field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "msg": "failed to read upload"})
		return
	}

	ref, err := h.Store.Set(data, header.Filename)
	switch {
	case errors.Is(err, imaging.ErrDecodeFailure):
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "msg": "could not read file"})
		return
	case errors.Is(err, reference.ErrNoFaceFound):
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "msg": "no face found"})
		return
	case err != nil:
		h.Log.Error().Err(err).Msg("reference upload failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "msg": "internal error"})
		return
	}

	var thumb any
	if ref.Thumbnail != nil {
		thumb = "/reference-thumb"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"id":    ref.ID,
		"thumb": thumb,
	})
}

// ReferenceThumb returns the stored thumbnail image
func (h *Handler) ReferenceThumb(w http.ResponseWriter, r *http.Request) {
	thumb := h.Store.Thumbnail()
	if thumb == nil {
		http.Error(w, "No thumbnail", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(thumb)
}

// ReferenceInfo reports the active reference state
func (h *Handler) ReferenceInfo(w http.ResponseWriter, r *http.Request) {
	ref := h.Store.Get()

	var id, thumb any
	hasFace := false
	if ref != nil {
		id = ref.ID
		hasFace = true
		if ref.Thumbnail != nil {
			thumb = "/reference-thumb"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"thumb":    thumb,
		"has_face": hasFace,
	})
}

// LiveStream upgrades to WebSocket and runs the frame loop until the client
// disconnects.
func (h *Handler) LiveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.AllowedOrigins),
	})
	if err != nil {
		h.Log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	if err := h.Stream.Serve(r.Context(), conn); err != nil {
		h.Log.Warn().Err(err).Msg("stream ended with error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// SubmitVideo accepts a whole video file for asynchronous processing
func (h *Handler) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxVideoUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "msg": "invalid upload"})
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "msg": "missing video field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "msg": "failed to read upload"})
		return
	}

	id, err := h.Jobs.Submit(data, header.Filename)
	switch {
	case errors.Is(err, jobs.ErrNoReference):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "msg": "no reference set"})
		return
	case err != nil:
		h.Log.Error().Err(err).Msg("video submission failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "msg": "internal error"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "job_id": id})
}

// JobStatus returns the polling snapshot for one job
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path)
	view, err := h.Jobs.Status(id)
	if errors.Is(err, jobs.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// JobResult serves the finished output video as a download
func (h *Handler) JobResult(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path)
	path, err := h.Jobs.Result(id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrNotReady):
		http.Error(w, "Not ready", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".mp4"))
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func pathTail(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// originPatterns strips schemes so the origin allow-list matches the
// websocket library's host-pattern check.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "http://")
		o = strings.TrimPrefix(o, "https://")
		patterns = append(patterns, o)
	}
	return patterns
}
