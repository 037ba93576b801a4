// Package classifier talks to the image inference service that turns a
// disaster photo into severity likelihoods.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/opensource-finance/blockaid/internal/domain"
)

// ErrNoModel is returned when no inference service is configured.
var ErrNoModel = errors.New("no classification model configured")

const defaultTimeout = 30 * time.Second

type predictResponse struct {
	Predictions    *domain.Predictions `json:"predictions"`
	PredictedClass string              `json:"predicted_class"`
	Confidence     float64             `json:"confidence"`
}

// Client calls POST {URL}/predict with the image as a multipart "image"
// field. It never retries; a failed call surfaces to the reporter.
type Client struct {
	http *resty.Client
	url  string
}

// New creates a client for cfg. An empty URL yields a client that always
// reports the model as unavailable.
func New(cfg domain.ClassifierConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := strings.TrimRight(cfg.URL, "/")
	c := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: c, url: base}
}

// Classify uploads image and decodes the likelihoods. Transport failures,
// timeouts and 503 responses wrap domain.ErrUnavailable; any other failure
// is returned as a plain error.
func (c *Client) Classify(ctx context.Context, image []byte) (domain.Predictions, error) {
	if c.url == "" {
		return domain.Predictions{}, fmt.Errorf("%w: %w", domain.ErrUnavailable, ErrNoModel)
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("image", "image.jpg", bytes.NewReader(image)).
		Post("/predict")
	if err != nil {
		return domain.Predictions{}, fmt.Errorf("%w: call classifier: %w", domain.ErrUnavailable, err)
	}

	slog.Debug("classifier responded",
		"status", resp.StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode() == http.StatusServiceUnavailable:
		return domain.Predictions{}, fmt.Errorf("%w: classifier returned %d", domain.ErrUnavailable, resp.StatusCode())
	case resp.IsError():
		return domain.Predictions{}, fmt.Errorf("classifier returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	var body predictResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return domain.Predictions{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if body.Predictions == nil {
		return domain.Predictions{}, errors.New("classifier response has no predictions")
	}

	p := *body.Predictions
	for _, v := range []float64{p.Low, p.Medium, p.High} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Predictions{}, fmt.Errorf("classifier returned non-finite likelihood %v", v)
		}
	}
	return p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
