package rating

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"beauty-rater/api/internal/capture"
)

const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.8

	imageMIME = "image/jpeg"
)

var ErrMissingAPIKey = errors.New("gemini: API key is empty")

type Options struct {
	APIKey      string
	Model       string
	Language    string
	// Temperature nil means DefaultTemperature; 0 is a valid setting.
	Temperature *float32
}

type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

// Gemini rates photos with a hosted Gemini model. It keeps no state between calls.
type Gemini struct {
	apiKey      string
	model       string
	language    string
	temperature float32

	generate generateFunc
}

func NewGemini(opts Options) (*Gemini, error) {
	g := &Gemini{
		apiKey:      strings.TrimSpace(opts.APIKey),
		model:       strings.TrimSpace(opts.Model),
		language:    strings.TrimSpace(opts.Language),
		temperature: DefaultTemperature,
	}
	if g.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.language == "" {
		g.language = DefaultLanguage
	}
	if opts.Temperature != nil {
		g.temperature = *opts.Temperature
	}
	g.generate = g.generateContent
	return g, nil
}

func (g *Gemini) Name() string     { return "gemini" }
func (g *Gemini) GetModel() string { return g.model }

// Analyze issues exactly one request; there is no retry and no timeout beyond ctx.
func (g *Gemini) Analyze(ctx context.Context, img capture.Image) (BeautyRating, error) {
	if img.Empty() {
		return BeautyRating{}, newAnalysisError(capture.ErrEmptyImage)
	}

	parts := []genai.Part{
		&genai.Blob{MIMEType: imageMIME, Data: img.Data},
		genai.Text(Instruction(g.language)),
	}
	resp, err := g.generate(ctx, parts...)
	if err != nil {
		return BeautyRating{}, newAnalysisError(err)
	}

	r, err := Decode(firstText(resp))
	if err != nil {
		return BeautyRating{}, newAnalysisError(err)
	}
	return r, nil
}

func (g *Gemini) generationConfig() genai.GenerationConfig {
	return genai.GenerationConfig{
		Temperature:      ptrFloat32(g.temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(g.language),
	}
}

func (g *Gemini) generateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(g.model)
	m.GenerationConfig = g.generationConfig()
	return m.GenerateContent(ctx, parts...)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
