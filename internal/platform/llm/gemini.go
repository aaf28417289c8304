package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient calls a Gemini model with JSON responses enabled.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Model() string { return g.model }

func (g *GeminiClient) Close() error { return g.client.Close() }

func (g *GeminiClient) generative() *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.model)
	m.ResponseMIMEType = "application/json"
	m.SetTemperature(0.2)
	return m
}

func (g *GeminiClient) Summarize(ctx context.Context, doc Document) (*Summary, error) {
	if len(doc.Data) == 0 {
		return nil, errors.New("gemini: empty document")
	}
	mime := doc.ContentType
	if mime == "" {
		mime = "application/octet-stream"
	}
	parts := []genai.Part{
		genai.Blob{MIMEType: mime, Data: doc.Data},
		genai.Text(buildSummarizePrompt(doc.UploadType)),
	}
	var out Summary
	if err := g.generate(ctx, &out, parts...); err != nil {
		return nil, err
	}
	out.normalize()
	return &out, nil
}

func (g *GeminiClient) AnalyzeSymptoms(ctx context.Context, symptoms, severity string) (*Triage, error) {
	var out Triage
	if err := g.generate(ctx, &out, genai.Text(buildSymptomsPrompt(symptoms, severity))); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.RecommendedSpecialist) == "" {
		out.RecommendedSpecialist = "General"
	}
	return &out, nil
}

func (g *GeminiClient) ValidatePrescription(ctx context.Context, in PrescriptionInput) (*Validation, error) {
	var out Validation
	if err := g.generate(ctx, &out, genai.Text(buildValidatePrompt(in))); err != nil {
		return nil, err
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return &out, nil
}

func (g *GeminiClient) generate(ctx context.Context, v interface{}, parts ...genai.Part) error {
	resp, err := g.generative().GenerateContent(ctx, parts...)
	if err != nil {
		return fmt.Errorf("gemini: generate content: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return errors.New("gemini: empty response")
	}
	return decodeJSON(text, v)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}
