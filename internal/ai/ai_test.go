package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngStub = Image{Data: []byte("\x89PNG\r\n\x1a\nstub"), ContentType: "image/png"}

func TestGroqExtractText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vision-model", req.Model)
		require.Len(t, req.Messages, 1)
		require.Len(t, req.Messages[0].Content, 2)
		assert.Equal(t, DefaultOCRPrompt, req.Messages[0].Content[0].Text)
		assert.True(t, strings.HasPrefix(req.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,"))

		fmt.Fprint(w, `{"choices":[{"message":{"content":"  HELLO\nWORLD \n"}}]}`)
	}))
	defer ts.Close()

	c := NewGroqClient("gsk", ts.URL+"/", "vision-model", time.Second)
	text, err := c.ExtractText(context.Background(), pngStub, "")
	require.NoError(t, err)
	assert.Equal(t, "HELLO\nWORLD", text)
}

func TestGroqErrors(t *testing.T) {
	_, err := NewGroqClient("", "http://unused", "m", time.Second).ExtractText(context.Background(), pngStub, "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer ts.Close()

	_, err = NewGroqClient("gsk", ts.URL, "m", time.Second).ExtractText(context.Background(), pngStub, "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorContains(t, err, "slow down")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}

func TestRemoveBackground(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/removebg", r.URL.Path)
		assert.Equal(t, "rb-key", r.Header.Get("X-Api-Key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "auto", r.FormValue("size"))
		f, hdr, err := r.FormFile("image_file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "image.png", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, pngStub.Data, data)

		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("cutout"))
	}))
	defer ts.Close()

	c := NewRemoveBGClient("rb-key", ts.URL, time.Second)
	out, err := c.RemoveBackground(context.Background(), pngStub, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("cutout"), out.Data)
	assert.Equal(t, "image/png", out.ContentType)
}

func TestRemoveBackgroundQuota(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"errors":[{"title":"Insufficient credits"}]}`)
	}))
	defer ts.Close()

	_, err := NewRemoveBGClient("rb-key", ts.URL, time.Second).RemoveBackground(context.Background(), pngStub, "")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.ErrorContains(t, err, "Insufficient credits")

	_, err = NewRemoveBGClient("", ts.URL, time.Second).RemoveBackground(context.Background(), pngStub, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReplicateRunPolls(t *testing.T) {
	var polls atomic.Int32
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer r8", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			var body struct {
				Version string         `json:"version"`
				Input   map[string]any `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "v1", body.Version)
			assert.Equal(t, float64(4), body.Input["scale"])
			assert.Contains(t, body.Input["image"], "data:image/png;base64,")
			fmt.Fprint(w, `{"id":"p1","status":"starting"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/p1":
			if polls.Add(1) < 2 {
				fmt.Fprint(w, `{"id":"p1","status":"processing"}`)
				return
			}
			fmt.Fprintf(w, `{"id":"p1","status":"succeeded","output":["%s/out.png"]}`, ts.URL)
		case r.URL.Path == "/out.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("upscaled"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	c := NewReplicateClient("r8", ts.URL, time.Millisecond, time.Second)
	out, err := c.Run(context.Background(), "v1", "image", pngStub, map[string]any{"scale": 4})
	require.NoError(t, err)
	assert.Equal(t, []byte("upscaled"), out.Data)
	assert.Equal(t, int32(2), polls.Load())
}

func TestReplicateFailedPrediction(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"p2","status":"failed","error":"CUDA out of memory"}`)
	}))
	defer ts.Close()

	c := NewReplicateClient("r8", ts.URL, time.Millisecond, time.Second)
	_, err := c.Run(context.Background(), "v1", "img", pngStub, nil)
	assert.ErrorIs(t, err, ErrFailed)
	assert.ErrorContains(t, err, "CUDA out of memory")
}

func TestReplicateHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"p3","status":"processing"}`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewReplicateClient("r8", ts.URL, 5*time.Millisecond, time.Second)
	_, err := c.Run(ctx, "v1", "img", pngStub, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGradioProcess(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/gradio_api/call/image":
			var body struct {
				Data []gradioFile `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Data, 1)
			assert.Equal(t, "gradio.FileData", body.Data[0].Meta["_type"])
			fmt.Fprint(w, `{"event_id":"ev1"}`)
		case r.URL.Path == "/gradio_api/call/image/ev1":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: generating\ndata: null\n\n")
			fmt.Fprint(w, "event: complete\ndata: [{\"path\":\"/tmp/out.png\"}]\n\n")
		case r.URL.Path == "/gradio_api/file=/tmp/out.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("nobg"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	c := NewGradioClient(ts.URL, "/image", "", time.Second)
	out, err := c.Process(context.Background(), pngStub)
	require.NoError(t, err)
	assert.Equal(t, []byte("nobg"), out.Data)
}

func TestGradioStreamErrors(t *testing.T) {
	_, err := completeEvent([]byte("event: error\ndata: \"boom\"\n\n"))
	assert.ErrorIs(t, err, ErrFailed)

	_, err = completeEvent([]byte("event: heartbeat\ndata: null\n"))
	assert.ErrorIs(t, err, ErrFailed)

	data, err := completeEvent([]byte("event: complete\ndata: [\"https://x/y.png\"]\n"))
	require.NoError(t, err)

	url, err := (&GradioClient{}).resultURL(data)
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", url)

	_, err = NewGradioClient("", "", "", time.Second).Process(context.Background(), pngStub)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestProviderFailuresWrapErrFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"detail":"model crashed"}`)
	}))
	defer ts.Close()

	_, err := NewRemoveBGClient("rb", ts.URL, time.Second).RemoveBackground(context.Background(), pngStub, "")
	assert.ErrorIs(t, err, ErrFailed)
	assert.ErrorContains(t, err, "model crashed")

	// Nothing listens on a closed server's address.
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	_, err = NewRemoveBGClient("rb", url, time.Second).RemoveBackground(context.Background(), pngStub, "")
	assert.ErrorIs(t, err, ErrFailed)
}

func TestTransportErrorKeepsContextCause(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewRemoveBGClient("rb", ts.URL, time.Second).RemoveBackground(ctx, pngStub, "")
	assert.ErrorIs(t, err, ErrFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
