package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, id := range []string{"remove-bg", "ocr", "upscale", "face-enhance", "grayscale", "invert", "rotate", "flip", "adjust", "resize"} {
		tool, ok := c.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, id, tool.ID)
		assert.NotEmpty(t, tool.Name)
	}

	list := c.List("en")
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		assert.True(t, prev.Category < cur.Category || (prev.Category == cur.Category && prev.ID < cur.ID))
	}
}

func TestListLocalized(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	var ja *Tool
	for _, tool := range c.List("ja") {
		if tool.ID == "remove-bg" {
			ja = tool
		}
	}
	require.NotNil(t, ja)
	assert.Equal(t, "背景を削除", ja.Name)

	orig, _ := c.Get("remove-bg")
	assert.Equal(t, "Remove Background", orig.Name, "localizing must not mutate the catalog")
}

func TestResolve(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name     string
		tool     string
		settings map[string]any
		wantErr  error
	}{
		{"defaults", "upscale", nil, nil},
		{"json float scale", "upscale", map[string]any{"scale": float64(4)}, nil},
		{"bad scale", "upscale", map[string]any{"scale": 3}, ErrInvalidSettings},
		{"rotate float", "rotate", map[string]any{"degrees": float64(270)}, nil},
		{"rotate odd", "rotate", map[string]any{"degrees": 45}, ErrInvalidSettings},
		{"adjust fraction", "adjust", map[string]any{"brightness": 0.25}, nil},
		{"adjust range", "adjust", map[string]any{"contrast": 1.5}, ErrInvalidSettings},
		{"flip none", "flip", map[string]any{"horizontal": false}, ErrInvalidSettings},
		{"remove-bg gradio", "remove-bg", map[string]any{"provider": "gradio"}, nil},
		{"remove-bg unknown", "remove-bg", map[string]any{"provider": "photoshop"}, ErrInvalidSettings},
		{"unknown tool", "sharpen", nil, ErrUnknownTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Resolve(tt.tool, tt.settings)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestResolveMergesDefaults(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	merged, err := c.Resolve("resize", map[string]any{"width": float64(640)})
	require.NoError(t, err)
	assert.Equal(t, 640, merged["width"])
	assert.Equal(t, 1024, merged["height"])
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(fstest.MapFS{})
	assert.Error(t, err)

	_, err = Load(fstest.MapFS{
		"a.yaml": {Data: []byte("id: x\nconstraints:\n  - expr: 'scale >'\n")},
	})
	assert.ErrorContains(t, err, "bad constraint")

	_, err = Load(fstest.MapFS{
		"a.yaml": {Data: []byte("id: x\n")},
		"b.yaml": {Data: []byte("id: x\n")},
	})
	assert.ErrorContains(t, err, "duplicate")

	c, err := Load(fstest.MapFS{"blur.yaml": {Data: []byte("name: Blur\n")}})
	require.NoError(t, err)
	_, ok := c.Get("blur")
	assert.True(t, ok, "id defaults to the file name")
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("blur.yaml", "id: blur\nname: Blur\n")

	c, err := LoadDir(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx, dir, slog.New(slog.NewTextHandler(io.Discard, nil))))

	write("sharpen.yaml", "id: sharpen\nname: Sharpen\n")

	assert.Eventually(t, func() bool {
		_, ok := c.Get("sharpen")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	write("broken.yaml", "id: [unterminated\n")
	time.Sleep(2 * reloadDebounce)
	_, ok := c.Get("blur")
	assert.True(t, ok, "a failed reload keeps the previous catalog")
}
