// Package classifier talks to the image-classification model.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrEmptyResult is returned when the model answers with no usable prediction.
var ErrEmptyResult = errors.New("classifier: empty result")

// Prediction is one ranked label of a classification.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier returns predictions for an image, best first.
type Classifier interface {
	Classify(ctx context.Context, image []byte, topK int) ([]Prediction, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, image []byte, topK int) ([]Prediction, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, image []byte, topK int) ([]Prediction, error) {
	return f(ctx, image, topK)
}

// Validate checks a model answer: non-empty, labelled, confidences within [0,1].
func Validate(preds []Prediction) error {
	if len(preds) == 0 {
		return ErrEmptyResult
	}
	for i, p := range preds {
		if p.Label == "" {
			return fmt.Errorf("classifier: prediction %d has empty label", i)
		}
		if p.Confidence < 0 || p.Confidence > 1 || math.IsNaN(p.Confidence) {
			return fmt.Errorf("classifier: prediction %d confidence %v outside [0,1]", i, p.Confidence)
		}
	}
	return nil
}
