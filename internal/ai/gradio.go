package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GradioClient calls a Gradio Space that takes one image and returns one
// image, using the two-step call API (submit, then read the event stream).
type GradioClient struct {
	SpaceURL string
	Endpoint string
	Token    string
	HTTP     *http.Client
}

func NewGradioClient(spaceURL, endpoint, token string, timeout time.Duration) *GradioClient {
	if endpoint == "" {
		endpoint = "predict"
	}
	return &GradioClient{
		SpaceURL: strings.TrimSuffix(spaceURL, "/"),
		Endpoint: strings.Trim(endpoint, "/"),
		Token:    token,
		HTTP:     newHTTPClient(nil, timeout),
	}
}

type gradioFile struct {
	URL  string         `json:"url,omitempty"`
	Path string         `json:"path,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

func (c *GradioClient) headers() map[string]string {
	if c.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.Token}
}

// Process submits img to the Space and downloads the resulting image.
func (c *GradioClient) Process(ctx context.Context, img Image) (Image, error) {
	if c == nil || c.SpaceURL == "" {
		return Image{}, fmt.Errorf("gradio: %w", ErrNotConfigured)
	}

	callURL := c.SpaceURL + "/gradio_api/call/" + c.Endpoint
	input := gradioFile{
		URL:  "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		Meta: map[string]any{"_type": "gradio.FileData"},
	}

	var submitted struct {
		EventID string `json:"event_id"`
	}
	err := sendJSON(ctx, c.HTTP, "gradio", http.MethodPost, callURL, c.headers(),
		map[string]any{"data": []any{input}}, &submitted)
	if err != nil {
		return Image{}, err
	}
	if submitted.EventID == "" {
		return Image{}, fmt.Errorf("gradio: missing event id: %w", ErrFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callURL+"/"+submitted.EventID, nil)
	if err != nil {
		return Image{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	stream, _, err := send(c.HTTP, "gradio", req)
	if err != nil {
		return Image{}, err
	}

	data, err := completeEvent(stream)
	if err != nil {
		return Image{}, err
	}
	url, err := c.resultURL(data)
	if err != nil {
		return Image{}, err
	}
	return download(ctx, c.HTTP, "gradio", url, c.headers())
}

// completeEvent scans a server-sent event stream for the "complete" event
// and returns its data line.
func completeEvent(stream []byte) ([]byte, error) {
	var event string
	sc := bufio.NewScanner(bytes.NewReader(stream))
	sc.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "complete":
				return []byte(data), nil
			case "error":
				return nil, fmt.Errorf("gradio: space reported error %s: %w", data, ErrFailed)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gradio stream: %w", err)
	}
	return nil, fmt.Errorf("gradio: stream ended without result: %w", ErrFailed)
}

// resultURL picks the first file out of the output list. Spaces return
// either file objects or bare URLs.
func (c *GradioClient) resultURL(data []byte) (string, error) {
	var outputs []json.RawMessage
	if err := json.Unmarshal(data, &outputs); err != nil {
		return "", fmt.Errorf("failed to parse gradio output: %w", err)
	}
	for _, raw := range outputs {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s, nil
		}
		var f gradioFile
		if json.Unmarshal(raw, &f) == nil {
			if f.URL != "" {
				return f.URL, nil
			}
			if f.Path != "" {
				return c.SpaceURL + "/gradio_api/file=" + f.Path, nil
			}
		}
	}
	return "", fmt.Errorf("gradio: output has no file: %w", ErrFailed)
}
