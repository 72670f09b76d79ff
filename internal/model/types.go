package model

import (
	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/rank"
)

// PredictionRequest carries an already preprocessed image (3×224×224 CHW).
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type RankedClass struct {
	Index      int     `json:"index"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Top         []RankedClass      `json:"top"`
	Predictions map[string]float32 `json:"predictions"`
}

// Prediction is a probability distribution over a class list with its
// derived ranking.
type Prediction struct {
	Classes       domain.ClassList
	Probabilities []float32
	Best          RankedClass
	Top           []RankedClass
}

// NewPrediction ranks probs against classes. Top holds up to k entries.
func NewPrediction(classes domain.ClassList, probs []float32, k int) *Prediction {
	p := &Prediction{Classes: classes, Probabilities: probs}
	if best := rank.Argmax(probs); best >= 0 {
		p.Best = RankedClass{Index: best, Class: classes.Label(best), Confidence: probs[best]}
	}
	for _, i := range rank.TopK(probs, k) {
		p.Top = append(p.Top, RankedClass{Index: i, Class: classes.Label(i), Confidence: probs[i]})
	}
	return p
}

func (p *Prediction) Response() *PredictionResponse {
	predictions := make(map[string]float32, len(p.Probabilities))
	for i, v := range p.Probabilities {
		predictions[p.Classes.Label(i)] = v
	}
	return &PredictionResponse{
		Class:       p.Best.Class,
		Confidence:  p.Best.Confidence,
		Top:         p.Top,
		Predictions: predictions,
	}
}
