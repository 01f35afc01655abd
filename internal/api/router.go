package api

import "net/http"

// NewRouter sets up routes and applies global middleware
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/upload-reference", h.UploadReference)
	mux.HandleFunc("/reference-thumb", h.ReferenceThumb)
	mux.HandleFunc("/reference-info", h.ReferenceInfo)
	mux.HandleFunc("/ws", h.LiveStream)
	mux.HandleFunc("/submit-video", h.SubmitVideo)
	mux.HandleFunc("/job-status/", h.JobStatus)
	mux.HandleFunc("/job-result/", h.JobResult)

	return CORSMiddleware(h.AllowedOrigins, mux)
}
