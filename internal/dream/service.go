package dream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucidlens/server/internal/entitlement"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/logger"
	"github.com/lucidlens/server/internal/metrics"
)

// DefaultStyle is appended to the dream text to form the image prompt.
const DefaultStyle = "surreal, ethereal, dreamlike"

// Prompt builds the image model prompt for a dream.
func Prompt(text, style string) string {
	return fmt.Sprintf("%s, %s, digital art, highly detailed, cinematic lighting", strings.TrimSpace(text), style)
}

// Service coordinates interpretation, image generation and the gallery.
type Service struct {
	entitlements entitlement.Store
	interpreter  Interpreter
	images       ImageGenerator
	repo         Repository
	blobs        BlobStore
	metrics      *metrics.Metrics
	imageCount   int
	style        string
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithImageCount sets how many images each visualization produces.
func WithImageCount(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= MaxImages {
			s.imageCount = n
		}
	}
}

// WithStyle overrides the style fragment of the image prompt.
func WithStyle(style string) Option {
	return func(s *Service) {
		if strings.TrimSpace(style) != "" {
			s.style = style
		}
	}
}

// WithMetrics records visualization and save metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the collaborators.
func NewService(store entitlement.Store, interpreter Interpreter, images ImageGenerator, repo Repository, blobs BlobStore, opts ...Option) *Service {
	s := &Service{
		entitlements: store,
		interpreter:  interpreter,
		images:       images,
		repo:         repo,
		blobs:        blobs,
		imageCount:   1,
		style:        DefaultStyle,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Visualize interprets the dream and renders its images. The caller must have
// an unlocked account. Interpretation failures fail the call; image failures
// degrade to FallbackImage.
func (s *Service) Visualize(ctx context.Context, user identity.User, text string) (Visualization, error) {
	if user.UID == "" {
		return Visualization{}, identity.ErrMissingToken
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Visualization{}, ErrEmptyText
	}
	if len(text) > MaxTextLength {
		return Visualization{}, ErrTextTooLong
	}

	rec, err := s.entitlements.Get(ctx, user.UID)
	if err != nil {
		s.metrics.ObserveDreamVisualized("store_error")
		return Visualization{}, fmt.Errorf("load entitlement: %w", err)
	}
	if !rec.HasPaid {
		s.metrics.ObserveDreamVisualized("not_entitled")
		return Visualization{}, ErrNotEntitled
	}

	log := logger.FromContext(ctx)
	images := make([]string, s.imageCount)
	var interp Interpretation

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		out, err := s.interpreter.Interpret(gctx, text)
		s.metrics.ObserveUpstream("text_model", time.Since(start), err)
		if err != nil {
			return err
		}
		interp = out
		return nil
	})
	prompt := Prompt(text, s.style)
	for i := range images {
		i := i
		g.Go(func() error {
			start := time.Now()
			img, err := s.images.Generate(gctx, prompt)
			s.metrics.ObserveUpstream("image_model", time.Since(start), err)
			if err != nil {
				log.Warn().Err(err).Int("index", i).Msg("dream.image.fallback")
				images[i] = FallbackImage
				return nil
			}
			images[i] = img.DataURL()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.metrics.ObserveDreamVisualized("interpret_failed")
		log.Error().Err(err).Msg("dream.visualize.failed")
		return Visualization{}, err
	}

	s.metrics.ObserveDreamVisualized("success")
	log.Info().Int("images", len(images)).Str("sound", interp.Sound).Msg("dream.visualize.ok")
	return Visualization{Text: text, Images: images, Interpretation: interp}, nil
}

// Save stores a visualization in the caller's gallery. Data URL images go to
// the blob store under "<dreamId>-<index>"; a blob failure is logged and does
// not fail the save.
func (s *Service) Save(ctx context.Context, user identity.User, v Visualization) (Dream, error) {
	if user.UID == "" {
		return Dream{}, identity.ErrMissingToken
	}
	if len(v.Text) > MaxTextLength {
		return Dream{}, ErrTextTooLong
	}
	if len(v.Images) > MaxImages {
		return Dream{}, ErrTooManyImages
	}

	d := Dream{
		Text:          orDefault(v.Text, DefaultText),
		PoeticSummary: orDefault(v.PoeticSummary, DefaultSummary),
		DreamMeaning:  v.DreamMeaning,
		Colors:        nonNil(v.Colors),
		Keywords:      nonNil(v.Keywords),
		Sound:         orDefault(v.Sound, DefaultSound),
		Timestamp:     s.now().UTC(),
		ImageCount:    len(v.Images),
	}

	id, err := s.repo.Create(ctx, user.UID, d)
	if err != nil {
		return Dream{}, fmt.Errorf("save dream: %w", err)
	}
	d.ID = id

	log := logger.FromContext(ctx)
	for i, img := range v.Images {
		if !strings.HasPrefix(img, "data:image") {
			continue
		}
		if err := s.blobs.Put(ctx, user.UID, BlobKey(id, i), img); err != nil {
			log.Warn().Err(err).Str("dream_id", id).Int("index", i).Msg("dream.save.blob_failed")
		}
	}

	s.metrics.ObserveDreamSaved()
	log.Info().Str("dream_id", id).Int("images", d.ImageCount).Msg("dream.save.ok")
	return d, nil
}

// List returns the caller's dreams newest first with their images resolved.
func (s *Service) List(ctx context.Context, user identity.User) ([]Dream, error) {
	if user.UID == "" {
		return nil, identity.ErrMissingToken
	}
	dreams, err := s.repo.List(ctx, user.UID)
	if err != nil {
		return nil, fmt.Errorf("list dreams: %w", err)
	}

	sort.SliceStable(dreams, func(i, j int) bool {
		return dreams[i].Timestamp.After(dreams[j].Timestamp)
	})

	log := logger.FromContext(ctx)
	for i := range dreams {
		images := make([]string, dreams[i].ImageCount)
		for n := range images {
			images[n] = PlaceholderImage
			data, ok, err := s.blobs.Get(ctx, user.UID, BlobKey(dreams[i].ID, n))
			if err != nil {
				log.Warn().Err(err).Str("dream_id", dreams[i].ID).Msg("dream.list.blob_failed")
				continue
			}
			if ok {
				images[n] = data
			}
		}
		dreams[i].Images = images
	}
	return dreams, nil
}

// BlobKey names the blob holding image index of a dream.
func BlobKey(dreamID string, index int) string {
	return fmt.Sprintf("%s-%d", dreamID, index)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
