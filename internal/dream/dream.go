// Package dream turns a dream description into an interpretation and images,
// and keeps a per-user gallery of saved dreams. Visualization is only
// available to users whose entitlement record has hasPaid set.
package dream

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
)

var (
	ErrNotEntitled           = errors.New("dream: visualization requires an unlocked account")
	ErrEmptyText             = errors.New("dream: text is empty")
	ErrTextTooLong           = errors.New("dream: text is too long")
	ErrTooManyImages         = errors.New("dream: too many images")
	ErrUpstream              = errors.New("dream: model request failed")
	ErrModelLoading          = errors.New("dream: image model is loading")
	ErrInvalidInterpretation = errors.New("dream: model returned an unusable interpretation")
)

// Sounds the interpreter may suggest.
var Sounds = []string{"Calm", "Mysterious", "Ethereal", "Melancholy", "Chaotic"}

const (
	// DefaultSound is stored when a saved dream carries no sound.
	DefaultSound = "Default"

	DefaultText    = "No text provided."
	DefaultSummary = "No summary available."

	// PlaceholderImage replaces gallery images whose blob is gone.
	PlaceholderImage = "https://placehold.co/512x512/0d0c22/F6F6F6?text=Image+Missing"
	// FallbackImage is returned when the image model fails during visualization.
	FallbackImage = "https://placehold.co/512x512/0d0c22/c8b6ff?text=Visual+Fallback"

	MaxTextLength = 2000
	MaxImages     = 4
)

// Interpretation is the structured reading of a dream.
type Interpretation struct {
	Colors        []string `json:"colors"`
	Keywords      []string `json:"keywords"`
	PoeticSummary string   `json:"poeticSummary"`
	DreamMeaning  string   `json:"dreamMeaning"`
	Sound         string   `json:"sound"`
}

// Validate checks the fixed shape: five colors, three keywords, a known sound.
func (i Interpretation) Validate() error {
	if len(i.Colors) != 5 || len(i.Keywords) != 3 || !validSound(i.Sound) {
		return ErrInvalidInterpretation
	}
	return nil
}

func validSound(s string) bool {
	for _, known := range Sounds {
		if s == known {
			return true
		}
	}
	return false
}

// Visualization is the result of visualizing a dream. Images are data URLs
// or, when generation failed, the fallback image URL.
type Visualization struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
	Interpretation
}

// Dream is a saved visualization. Images is only populated when listing.
type Dream struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	PoeticSummary string    `json:"poeticSummary"`
	DreamMeaning  string    `json:"dreamMeaning"`
	Colors        []string  `json:"colors"`
	Keywords      []string  `json:"keywords"`
	Sound         string    `json:"sound"`
	Timestamp     time.Time `json:"timestamp"`
	ImageCount    int       `json:"imageCount"`
	Images        []string  `json:"images,omitempty"`
}

// Image is raw image output from the image model.
type Image struct {
	ContentType string
	Data        []byte
}

// DataURL encodes the image as a data: URL.
func (img Image) DataURL() string {
	ct := img.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Interpreter produces an Interpretation for a dream description.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (Interpretation, error)
}

// ImageGenerator renders one image for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}

// Repository persists saved dreams under artifacts/{appId}/users/{uid}/dreams.
type Repository interface {
	Create(ctx context.Context, userID string, d Dream) (string, error)
	List(ctx context.Context, userID string) ([]Dream, error)
}

// BlobStore keeps image data URLs outside the dream documents.
// Get reports false when the blob does not exist.
type BlobStore interface {
	Put(ctx context.Context, owner, key, value string) error
	Get(ctx context.Context, owner, key string) (string, bool, error)
}
