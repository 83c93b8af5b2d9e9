package dream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/lucidlens/server/internal/circuitbreaker"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

const interpretPrompt = `Analyze the following dream description. Provide a JSON object with a color palette, keywords, a poetic summary, a symbolic interpretation, and a suggested ambient sound.
Dream: %q

The JSON object must have this exact structure:
{
"colors": ["#hex1", "#hex2", "#hex3", "#hex4", "#hex5"],
"keywords": ["word1", "word2", "word3"],
"poeticSummary": "A short, poetic summary of the dream's feeling and narrative.",
"dreamMeaning": "A symbolic or psychological interpretation of the dream's elements.",
"sound": "One of: Calm, Mysterious, Ethereal, Melancholy, Chaotic"
}`

// GeminiInterpreter asks a Gemini model for a JSON interpretation.
type GeminiInterpreter struct {
	client   *genai.Client
	model    string
	breakers *circuitbreaker.Manager
}

// NewGeminiInterpreter creates a Gemini API client. baseURL may be empty.
func NewGeminiInterpreter(ctx context.Context, apiKey, baseURL, model string, breakers *circuitbreaker.Manager) (*GeminiInterpreter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	return &GeminiInterpreter{client: client, model: model, breakers: breakers}, nil
}

func (g *GeminiInterpreter) Interpret(ctx context.Context, text string) (Interpretation, error) {
	out, err := g.breakers.Execute(circuitbreaker.ServiceTextModel, func() (interface{}, error) {
		return g.interpret(ctx, text)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return Interpretation{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return Interpretation{}, err
	}
	return out.(Interpretation), nil
}

func (g *GeminiInterpreter) interpret(ctx context.Context, text string) (Interpretation, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(fmt.Sprintf(interpretPrompt, strings.TrimSpace(text))),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   interpretationSchema,
		})
	if err != nil {
		return Interpretation{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return ParseInterpretation(resp.Text())
}

// ParseInterpretation decodes and validates the model's JSON output.
func ParseInterpretation(raw string) (Interpretation, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(raw, "```")), "```")
	if strings.TrimSpace(raw) == "" {
		return Interpretation{}, ErrInvalidInterpretation
	}

	var out Interpretation
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Interpretation{}, fmt.Errorf("%w: %v", ErrInvalidInterpretation, err)
	}
	if err := out.Validate(); err != nil {
		return Interpretation{}, err
	}
	return out, nil
}

var interpretationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"colors":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"keywords":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"poeticSummary": {Type: genai.TypeString},
		"dreamMeaning":  {Type: genai.TypeString},
		"sound":         {Type: genai.TypeString, Enum: Sounds},
	},
	Required: []string{"colors", "keywords", "poeticSummary", "dreamMeaning", "sound"},
}
