package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"engagement_backend/platform/sanitize"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	contextLines       = 12
	maxTitleRunes      = 60
	maxBodyRunes       = 280
)

const systemPrompt = `Tu assistes un conseiller en formation professionnelle pendant un appel.
A partir de la transcription, detecte au plus une objection a traiter ou un signal d'achat.
Reponds uniquement en JSON: {"kind":"objection"|"positive_signal"|"none","title":"...","body":"..."}.
Le titre fait moins de 8 mots. Le corps donne une action concrete au conseiller, en francais.`

// generator produces the raw model answer for a prompt.
type generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g genaiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GeminiAnalyzer asks a Gemini model for a suggestion over the recent
// transcript. Any failure yields an error and no suggestion.
type GeminiAnalyzer struct {
	gen     generator
	timeout time.Duration
}

// NewGeminiAnalyzer creates a Gemini-backed analyzer.
func NewGeminiAnalyzer(ctx context.Context, apiKey, model string) (*GeminiAnalyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiAnalyzer{gen: genaiGenerator{client: client, model: model}, timeout: 8 * time.Second}, nil
}

type modelAnswer struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, in Input) (*Suggestion, error) {
	if strings.TrimSpace(in.Segment) == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.gen.Generate(ctx, systemPrompt, buildPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("gemini analyze: %w", err)
	}
	return parseAnswer(raw)
}

func buildPrompt(in Input) string {
	lines := in.Transcript
	if len(lines) > contextLines {
		lines = lines[len(lines)-contextLines:]
	}
	var b strings.Builder
	b.WriteString("Transcription recente:\n")
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(sanitize.Text(l))
		b.WriteByte('\n')
	}
	b.WriteString("\nDerniere phrase: ")
	b.WriteString(sanitize.Text(in.Segment))
	return b.String()
}

func parseAnswer(raw string) (*Suggestion, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var ans modelAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ans); err != nil {
		return nil, fmt.Errorf("decode gemini answer: %w", err)
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(ans.Kind)))
	if kind == "none" || kind == "" {
		return nil, nil
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown suggestion kind %q", ans.Kind)
	}
	title := sanitize.Truncate(ans.Title, maxTitleRunes)
	body := sanitize.Truncate(ans.Body, maxBodyRunes)
	if title == "" || body == "" {
		return nil, fmt.Errorf("incomplete gemini answer")
	}
	return &Suggestion{Kind: kind, Title: title, Body: body}, nil
}
