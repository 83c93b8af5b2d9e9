package dream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lucidlens/server/internal/circuitbreaker"
	"github.com/lucidlens/server/internal/httputil"
	"github.com/lucidlens/server/internal/logger"
)

// DefaultImageModelURL is the hosted Stable Diffusion XL endpoint.
const DefaultImageModelURL = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"

const maxImageBytes = 10 << 20

// HuggingFaceGenerator calls a Hugging Face text-to-image inference endpoint.
// The response body is the image itself.
type HuggingFaceGenerator struct {
	url      string
	apiKey   string
	http     *http.Client
	breakers *circuitbreaker.Manager
}

// NewHuggingFaceGenerator builds a generator. breakers may be nil.
func NewHuggingFaceGenerator(url, apiKey string, timeout time.Duration, breakers *circuitbreaker.Manager) *HuggingFaceGenerator {
	if url == "" {
		url = DefaultImageModelURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HuggingFaceGenerator{url: url, apiKey: apiKey, http: httputil.NewClient(timeout), breakers: breakers}
}

func (g *HuggingFaceGenerator) Generate(ctx context.Context, prompt string) (Image, error) {
	out, err := g.breakers.Execute(circuitbreaker.ServiceImageModel, func() (interface{}, error) {
		return g.generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return Image{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return Image{}, err
	}
	return out.(Image), nil
}

func (g *HuggingFaceGenerator) generate(ctx context.Context, prompt string) (Image, error) {
	payload, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return Image{}, fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Image{}, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	body, err := httputil.ReadBody(resp, maxImageBytes)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return Image{}, ErrModelLoading
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		log := logger.FromContext(ctx)
		log.Warn().
			Int("status", resp.StatusCode).
			Str("body", httputil.ErrorSnippet(body)).
			Msg("dream.image.rejected")
		return Image{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	case len(body) == 0:
		return Image{}, fmt.Errorf("%w: empty image", ErrUpstream)
	}

	return Image{ContentType: resp.Header.Get("Content-Type"), Data: body}, nil
}
