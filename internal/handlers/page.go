package handlers

import (
	"bytes"
	"embed"
	"encoding/base64"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/model"
	"github.com/Brownie44l1/car-classifier/internal/rank"
)

const (
	promptUpload  = "Please upload a JPG or PNG image of a car."
	promptInvalid = "That file could not be read as an image. Please upload a JPG or PNG image of a car."

	promptUnavailable = "The model is not available right now. Please try again later."
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type pageData struct {
	Prompt string
	Result *pageResult
}

type pageResult struct {
	ImageURI    template.URL
	Best        model.RankedClass
	BestPercent string
	Top         []pageEntry
	Bars        []pageEntry
}

type pageEntry struct {
	Class   string
	Percent string
	Width   string
}

func newPageResult(p *model.Prediction, data []byte) *pageResult {
	res := &pageResult{
		ImageURI:    template.URL("data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)),
		Best:        p.Best,
		BestPercent: rank.FormatPercent(p.Best.Confidence),
	}
	for _, t := range p.Top {
		res.Top = append(res.Top, pageEntry{Class: t.Class, Percent: rank.FormatPercent(t.Confidence)})
	}
	for i, prob := range p.Probabilities {
		res.Bars = append(res.Bars, pageEntry{
			Class:   p.Classes.Label(i),
			Percent: rank.FormatPercent(prob),
			Width:   strconv.FormatFloat(rank.Percent(prob), 'f', 1, 64),
		})
	}
	return res
}

// Page serves the upload form on GET and the classification result on POST.
// A missing or unreadable upload re-renders the form with a prompt.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.renderPage(w, http.StatusOK, pageData{Prompt: promptUpload})
		return
	}

	data, _, err := h.readUpload(w, r)
	if err != nil {
		h.renderPage(w, http.StatusBadRequest, pageData{Prompt: promptUpload})
		return
	}

	prediction, err := h.predictBytes(r.Context(), data)
	if err != nil {
		prompt := promptInvalid
		if !errors.Is(err, domain.ErrDecode) {
			h.logger.Error("Prediction error", "request_id", requestIDFromContext(r.Context()), "error", err)
			prompt = promptUnavailable
		}
		h.renderPage(w, statusFor(err), pageData{Prompt: prompt})
		return
	}

	h.renderPage(w, http.StatusOK, pageData{Result: newPageResult(prediction, data)})
}

func (h *Handler) renderPage(w http.ResponseWriter, status int, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		h.logger.Error("Unable to render page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
