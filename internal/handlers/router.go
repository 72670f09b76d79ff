package handlers

import (
	"net/http"
)

// NewRouter wires the endpoints behind request id, access log and CORS
// middleware. /metrics is mounted only when metrics are configured.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Page)
	mux.HandleFunc("POST /{$}", h.Page)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("POST /predict/image", h.PredictFromImage)

	var handler http.Handler = mux
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
		handler = h.metrics.Middleware(service, handler)
	}

	handler = corsMiddleware(handler)
	handler = accessLogMiddleware(h.logger, handler)
	return requestIDMiddleware(handler)
}
