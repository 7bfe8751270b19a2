package reviewer

import (
	"context"
	"fmt"
	"progression-pipeline/internal/models"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiReviewer implements Reviewer with Google Gemini
type GeminiReviewer struct {
	client    *genai.Client
	modelName string
}

// NewGeminiReviewer creates a Gemini-backed reviewer
func NewGeminiReviewer(ctx context.Context, apiKey, modelName string) (*GeminiReviewer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiReviewer{client: client, modelName: modelName}, nil
}

// Review asks the model for a JSON review and validates it.
// Transport errors are returned as is; unusable answers as *MalformedResultError.
func (r *GeminiReviewer) Review(ctx context.Context, content string) (*models.ReviewResult, error) {
	model := r.client.GenerativeModel(r.modelName)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(BuildPrompt(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to generate review: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return ParseReviewJSON(text)
}

// Close releases resources held by the client
func (r *GeminiReviewer) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResult
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrEmptyResult
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", &MalformedResultError{Reason: "no text parts in response"}
	}
	return strings.Join(parts, ""), nil
}
