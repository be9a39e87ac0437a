package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Entry is one snapshot in the edit sequence.
type Entry struct {
	ID          string
	Payload     []byte // nil for an empty initial state
	ContentType string
	Digest      uint64 // xxh3 of Payload
	Preview     string // URL or data URL shown to the user
	Tool        string
	ToolName    string
	CreatedAt   time.Time
	Settings    Settings
}

// NewEntry builds an entry for the given tool output.
func NewEntry(tool string, payload []byte, contentType, preview string, settings Settings) Entry {
	e := Entry{
		ID:          uuid.NewString(),
		Payload:     payload,
		ContentType: contentType,
		Preview:     preview,
		Tool:        tool,
		CreatedAt:   time.Now(),
		Settings:    settings,
	}
	if payload != nil {
		e.Digest = xxh3.Hash(payload)
	}
	return e
}

// ETag returns a strong entity tag derived from the payload digest.
func (e Entry) ETag() string {
	return `"` + strconv.FormatUint(e.Digest, 16) + `"`
}

// Size returns the payload length in bytes.
func (e Entry) Size() int {
	return len(e.Payload)
}

type entryJSON struct {
	ID          string           `json:"id"`
	Preview     string           `json:"preview"`
	Tool        string           `json:"tool"`
	ToolName    string           `json:"toolName,omitempty"`
	ContentType string           `json:"contentType,omitempty"`
	Digest      string           `json:"digest,omitempty"`
	Size        int              `json:"size"`
	CreatedAt   time.Time        `json:"createdAt"`
	Settings    *settingsPayload `json:"settings,omitempty"`
}

type settingsPayload struct {
	Kind  string   `json:"kind"`
	Value Settings `json:"value"`
}

type rawSettings struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the entry without its payload. Clients fetch image
// bytes separately.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		ID:          e.ID,
		Preview:     e.Preview,
		Tool:        e.Tool,
		ToolName:    e.ToolName,
		ContentType: e.ContentType,
		Size:        len(e.Payload),
		CreatedAt:   e.CreatedAt,
	}
	if e.Payload != nil {
		out.Digest = strconv.FormatUint(e.Digest, 16)
	}
	if e.Settings != nil {
		out.Settings = &settingsPayload{Kind: e.Settings.Kind(), Value: e.Settings}
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON. The payload is not part of
// the encoding, so it stays nil.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in struct {
		entryJSON
		Settings *rawSettings `json:"settings,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := Entry{
		ID:          in.ID,
		Preview:     in.Preview,
		Tool:        in.Tool,
		ToolName:    in.ToolName,
		ContentType: in.ContentType,
		CreatedAt:   in.CreatedAt,
	}
	if in.Digest != "" {
		d, err := strconv.ParseUint(in.Digest, 16, 64)
		if err != nil {
			return fmt.Errorf("invalid digest %q: %w", in.Digest, err)
		}
		out.Digest = d
	}
	if in.Settings != nil {
		settings, err := decodeSettings(in.Settings.Kind, in.Settings.Value)
		if err != nil {
			return err
		}
		out.Settings = settings
	}
	*e = out
	return nil
}

func decodeSettings(kind string, raw json.RawMessage) (Settings, error) {
	switch kind {
	case Upload{}.Kind():
		return decodeAs[Upload](kind, raw)
	case BackgroundRemoval{}.Kind():
		return decodeAs[BackgroundRemoval](kind, raw)
	case Upscale{}.Kind():
		return decodeAs[Upscale](kind, raw)
	case Transform{}.Kind():
		return decodeAs[Transform](kind, raw)
	case Adjust{}.Kind():
		return decodeAs[Adjust](kind, raw)
	case Resize{}.Kind():
		return decodeAs[Resize](kind, raw)
	case Filter{}.Kind():
		return decodeAs[Filter](kind, raw)
	case TextExtraction{}.Kind():
		return decodeAs[TextExtraction](kind, raw)
	}
	return nil, fmt.Errorf("unknown settings kind %q", kind)
}

func decodeAs[T Settings](kind string, raw json.RawMessage) (Settings, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s settings: %w", kind, err)
		}
	}
	return v, nil
}
