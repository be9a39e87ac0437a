package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ReplicateClient runs image models on Replicate.
type ReplicateClient struct {
	APIToken     string
	BaseURL      string
	PollInterval time.Duration
	HTTP         *http.Client
}

func NewReplicateClient(token, baseURL string, poll, timeout time.Duration) *ReplicateClient {
	if poll <= 0 {
		poll = time.Second
	}
	return &ReplicateClient{
		APIToken:     token,
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		PollInterval: poll,
		HTTP:         newHTTPClient(nil, timeout),
	}
}

// Prediction mirrors the subset of Replicate's prediction object we use.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

func (p *Prediction) done() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// outputURL returns the first URL of the prediction output, which is
// either a string or a list of strings depending on the model.
func (p *Prediction) outputURL() (string, error) {
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	return "", fmt.Errorf("replicate: prediction %s has no output: %w", p.ID, ErrFailed)
}

func (c *ReplicateClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.APIToken}
}

// Run creates a prediction for the model version, waits for it to finish
// and downloads the produced image. The input image is sent as a data URL
// under the "img" or "image" key chosen by imageKey.
func (c *ReplicateClient) Run(ctx context.Context, version, imageKey string, img Image, input map[string]any) (Image, error) {
	if c == nil || c.APIToken == "" {
		return Image{}, fmt.Errorf("replicate: %w", ErrNotConfigured)
	}

	payload := map[string]any{}
	for k, v := range input {
		payload[k] = v
	}
	payload[imageKey] = "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	var pred Prediction
	err := sendJSON(ctx, c.HTTP, "replicate", http.MethodPost, c.BaseURL+"/predictions", c.headers(),
		map[string]any{"version": version, "input": payload}, &pred)
	if err != nil {
		return Image{}, err
	}

	if err := c.wait(ctx, &pred); err != nil {
		return Image{}, err
	}
	if pred.Status != "succeeded" {
		return Image{}, fmt.Errorf("replicate: prediction %s %s: %v: %w", pred.ID, pred.Status, pred.Error, ErrFailed)
	}

	url, err := pred.outputURL()
	if err != nil {
		return Image{}, err
	}
	return download(ctx, c.HTTP, "replicate", url, nil)
}

func (c *ReplicateClient) wait(ctx context.Context, pred *Prediction) error {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for !pred.done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := sendJSON(ctx, c.HTTP, "replicate", http.MethodGet, c.BaseURL+"/predictions/"+pred.ID, c.headers(), nil, pred)
		if err != nil {
			return err
		}
	}
	return nil
}
