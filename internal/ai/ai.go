// Package ai wraps the third-party inference APIs used by the editing tools:
// Groq vision (OCR), Remove.bg, Replicate and Gradio-hosted Spaces.
//
// Every call takes a context and returns a result or an error. Callers
// decide what to do with the result; nothing here touches session state.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrNotConfigured = errors.New("provider is not configured")
	ErrUnauthorized  = errors.New("provider rejected credentials")
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	ErrRateLimited   = errors.New("provider rate limit exceeded")
	ErrFailed        = errors.New("provider failed to process image")
)

// maxResponseBytes caps any body read from a provider.
const maxResponseBytes = 64 << 20

// Image is an encoded image payload.
type Image struct {
	Data        []byte
	ContentType string
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.Status, e.Message)
}

// Unwrap maps well-known statuses onto the package sentinels. Any other
// status is a provider failure.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusPaymentRequired:
		return ErrQuotaExceeded
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return ErrFailed
}

func newHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// send executes req and returns the body of a 2xx response.
func send(client *http.Client, provider string, req *http.Request) ([]byte, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		// Keep the transport error reachable so callers can tell a
		// timeout or cancellation apart.
		return nil, nil, fmt.Errorf("%s request failed: %w: %w", provider, ErrFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s response: %w: %w", provider, ErrFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &APIError{Provider: provider, Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, resp.Header, nil
}

func sendJSON(ctx context.Context, client *http.Client, provider, method, url string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", provider, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	data, _, err := send(client, provider, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w: %w", provider, ErrFailed, err)
	}
	return nil
}

// download fetches a result file produced by a provider.
func download(ctx context.Context, client *http.Client, provider, url string, headers map[string]string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	data, header, err := send(client, provider, req)
	if err != nil {
		return Image{}, err
	}
	ct := header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: ct}, nil
}

// errorMessage pulls a human-readable message out of the common error
// envelopes used by the providers.
func errorMessage(body []byte) string {
	var envelope struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
		Errors []struct {
			Title string `json:"title"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		if len(body) > 200 {
			body = body[:200]
		}
		return string(bytes.TrimSpace(body))
	}

	switch {
	case len(envelope.Errors) > 0:
		return envelope.Errors[0].Title
	case envelope.Detail != "":
		return envelope.Detail
	case len(envelope.Error) > 0:
		var s string
		if json.Unmarshal(envelope.Error, &s) == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &obj) == nil {
			return obj.Message
		}
	}
	return ""
}
