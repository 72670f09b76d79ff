package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/metrics"
	"github.com/Brownie44l1/car-classifier/internal/model"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
	"github.com/Brownie44l1/car-classifier/internal/rank"
)

const (
	service          = "carclassifier"
	defaultMaxUpload = 10 << 20
)

// errNoUpload marks a request without an image file.
var errNoUpload = errors.New("no image file provided")

type Handler struct {
	predictor model.Predictor
	cache     *lru.Cache[string, *model.Prediction]
	metrics   *metrics.ServerMetrics
	logger    *slog.Logger
	maxUpload int64
	backend   string
}

type Options struct {
	// CacheSize bounds the prediction cache; 0 disables it.
	CacheSize      int
	MaxUploadBytes int64
	Metrics        *metrics.ServerMetrics
	Logger         *slog.Logger
	Backend        string
}

func NewHandler(predictor model.Predictor, opts Options) (*Handler, error) {
	h := &Handler{
		predictor: predictor,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		maxUpload: opts.MaxUploadBytes,
		backend:   opts.Backend,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, *model.Prediction](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		h.cache = cache
	}
	return h, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"classes": h.predictor.Classes().Len(),
		"backend": h.backend,
	})
}

// Predict takes an already preprocessed 3×224×224 tensor.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		h.writeError(w, r, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, r, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Image) != preprocess.Len {
		h.writeError(w, r, fmt.Sprintf("Expected %d values, got %d", preprocess.Len, len(req.Image)),
			http.StatusBadRequest)
		return
	}

	probs, err := h.predictor.PredictTensor(r.Context(), req.Image)
	if err != nil {
		h.writePredictionError(w, r, err)
		return
	}
	prediction := model.NewPrediction(h.predictor.Classes(), probs, rank.DefaultTopK)
	h.record(prediction)
	h.writeJSON(w, http.StatusOK, prediction.Response())
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	data, filename, err := h.readUpload(w, r)
	if err != nil {
		if errors.Is(err, errNoUpload) {
			h.writeError(w, r, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
			return
		}
		h.writeError(w, r, "Failed to parse form", http.StatusBadRequest)
		return
	}
	h.logger.Debug("Received file", "request_id", requestIDFromContext(r.Context()), "file", filename, "bytes", len(data))

	prediction, err := h.predictBytes(r.Context(), data)
	if err != nil {
		h.writePredictionError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, prediction.Response())
}

// readUpload returns the bytes of the "image" form file.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, "", errNoUpload
		}
		return nil, "", err
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", errNoUpload
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errNoUpload
	}
	return data, header.Filename, nil
}

// predictBytes decodes and classifies an upload, consulting the cache first.
// Weights never change after load, so cached entries stay valid.
func (h *Handler) predictBytes(ctx context.Context, data []byte) (*model.Prediction, error) {
	key := ""
	if h.cache != nil {
		sum := sha256.Sum256(data)
		key = hex.EncodeToString(sum[:])
		if cached, ok := h.cache.Get(key); ok {
			h.recordCache(true)
			h.record(cached)
			return cached, nil
		}
		h.recordCache(false)
	}

	img, _, err := preprocess.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	prediction, err := model.Predict(ctx, h.predictor, img)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		h.cache.Add(key, prediction)
	}
	h.record(prediction)
	return prediction, nil
}

func (h *Handler) record(p *model.Prediction) {
	if h.metrics != nil {
		h.metrics.RecordPrediction(service, p.Best.Class)
	}
}

func (h *Handler) recordCache(hit bool) {
	if h.metrics != nil {
		h.metrics.RecordCacheLookup(service, hit)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrArtifactUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writePredictionError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := "Prediction failed"
	switch status {
	case http.StatusBadRequest:
		message = "Invalid image format. Supported: JPEG, PNG"
	case http.StatusServiceUnavailable:
		message = "Model unavailable"
	}
	h.logger.Error("Prediction error", "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	h.writeError(w, r, message, status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Unable to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, message string, status int) {
	h.writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}
