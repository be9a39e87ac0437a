package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultOCRPrompt asks the vision model for a plain transcription.
const DefaultOCRPrompt = "Extract all text visible in this image. Reply with the text only, preserving line breaks. If there is no text, reply with an empty message."

// GroqClient extracts text from images with a Groq-hosted vision model.
type GroqClient struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewGroqClient(apiKey, baseURL, model string, timeout time.Duration) *GroqClient {
	return &GroqClient{
		APIKey:  apiKey,
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Model:   model,
		HTTP:    newHTTPClient(nil, timeout),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractText returns the text found in img. An empty prompt uses
// DefaultOCRPrompt.
func (c *GroqClient) ExtractText(ctx context.Context, img Image, prompt string) (string, error) {
	if c == nil || c.APIKey == "" {
		return "", fmt.Errorf("groq: %w", ErrNotConfigured)
	}
	if prompt == "" {
		prompt = DefaultOCRPrompt
	}

	dataURL := "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	req := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}},
			},
		}},
		MaxTokens: 2048,
	}

	var resp chatResponse
	err := sendJSON(ctx, c.HTTP, "groq", http.MethodPost, c.BaseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.APIKey}, req, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq: empty completion: %w", ErrFailed)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
