package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryJSONRoundTrip(t *testing.T) {
	cases := []Settings{
		Upload{Filename: "cat.png", Size: 42},
		BackgroundRemoval{Provider: "removebg", Size: "preview"},
		Upscale{Model: "real-esrgan", Scale: 4, FaceEnhance: true},
		Transform{Rotate: 90, FlipVertical: true},
		Adjust{Brightness: 0.25, Contrast: -0.5},
		Resize{Width: 640, Height: 480},
		Filter{Name: "grayscale"},
		TextExtraction{Model: "vision", Chars: 12},
		nil,
	}
	for _, settings := range cases {
		e := NewEntry("tool", []byte("payload"), "image/png", "data:image/png;base64,AA==", settings)
		e.ToolName = "Tool"
		e.CreatedAt = e.CreatedAt.Truncate(time.Second)

		data, err := json.Marshal(e)
		require.NoError(t, err)

		var got Entry
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.Digest, got.Digest)
		assert.Equal(t, e.ETag(), got.ETag())
		assert.Equal(t, e.ContentType, got.ContentType)
		assert.Equal(t, e.Preview, got.Preview)
		assert.Equal(t, e.ToolName, got.ToolName)
		assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, settings, got.Settings)
		assert.Nil(t, got.Payload)
	}
}

func TestEntryUnmarshalRejectsBadInput(t *testing.T) {
	var e Entry
	err := json.Unmarshal([]byte(`{"id":"x","digest":"not-hex"}`), &e)
	assert.ErrorContains(t, err, "invalid digest")

	err = json.Unmarshal([]byte(`{"id":"x","settings":{"kind":"sharpen","value":{}}}`), &e)
	assert.ErrorContains(t, err, "unknown settings kind")

	err = json.Unmarshal([]byte(`{"id":"x","settings":{"kind":"resize","value":{"width":"wide"}}}`), &e)
	assert.ErrorContains(t, err, "invalid resize settings")
}

func TestSnapshotDecodes(t *testing.T) {
	h := NewManager(3)
	h.Append(NewEntry("upload", []byte("a"), "image/png", "", Upload{Filename: "a.png", Size: 1}))
	h.Append(NewEntry("resize", []byte("b"), "image/png", "", Resize{Width: 2, Height: 2}))

	data, err := json.Marshal(h.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, Resize{Width: 2, Height: 2}, snap.Entries[1].Settings)
}
