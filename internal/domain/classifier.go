package domain

import (
	"context"
	"time"
)

// Classifier turns raw image bytes into per-band likelihoods.
// Implementations wrap outages with ErrUnavailable so callers can tell an
// unreachable service apart from one that rejected the input.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (Predictions, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, image []byte) (Predictions, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, image []byte) (Predictions, error) {
	return f(ctx, image)
}

// ClassifierConfig holds settings for the remote inference service.
// An empty URL means no model is loaded.
type ClassifierConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}
