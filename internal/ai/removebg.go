package ai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// RemoveBGClient calls the Remove.bg background removal API.
type RemoveBGClient struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

func NewRemoveBGClient(apiKey, baseURL string, timeout time.Duration) *RemoveBGClient {
	return &RemoveBGClient{
		APIKey:  apiKey,
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    newHTTPClient(nil, timeout),
	}
}

// RemoveBackground returns a PNG with the background made transparent.
// size is passed through to the API ("auto", "preview", "full", ...).
func (c *RemoveBGClient) RemoveBackground(ctx context.Context, img Image, size string) (Image, error) {
	if c == nil || c.APIKey == "" {
		return Image{}, fmt.Errorf("removebg: %w", ErrNotConfigured)
	}
	if size == "" {
		size = "auto"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image_file", "image"+extensionFor(img.ContentType))
	if err != nil {
		return Image{}, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := fw.Write(img.Data); err != nil {
		return Image{}, fmt.Errorf("failed to build form: %w", err)
	}
	_ = mw.WriteField("size", size)
	_ = mw.WriteField("format", "png")
	if err := mw.Close(); err != nil {
		return Image{}, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/removebg", &body)
	if err != nil {
		return Image{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Accept", "image/png")

	data, _, err := send(c.HTTP, "removebg", req)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: data, ContentType: "image/png"}, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
