package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

type GeminiProvider struct {
	usageTracker
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string, pricing RequestPricing) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		usageTracker: usageTracker{pricing: pricing},
	}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) DescribeEvent(ctx context.Context, images [][]byte, ec EventContext) (*EventDescription, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to describe")
	}

	parts := []*genai.Part{
		{Text: eventAlbumPrompt + "\n\n" + buildEventContent(ec, len(images))},
	}
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img, MIMEType: "image/jpeg"}})
	}

	contents := []*genai.Content{
		{Role: "user", Parts: parts},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	ask := func() (string, error) {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return "", fmt.Errorf("gemini API error: %w", err)
		}
		if result.UsageMetadata != nil {
			p.trackUsage(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount))
		}
		content := result.Text()
		if content == "" {
			return "", errors.New("no response from Gemini")
		}
		return content, nil
	}
	retry := func(answer, feedback string) {
		contents = append(contents,
			&genai.Content{Role: "model", Parts: []*genai.Part{{Text: answer}}},
			&genai.Content{Role: "user", Parts: []*genai.Part{{Text: feedback}}},
		)
	}
	return describeWithRepair(ask, retry)
}
