// Package pipeline runs editing tools against the current snapshot of a
// session and records the outcome in its history.
package pipeline

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/kurobon/imagepro/internal/ai"
	"github.com/kurobon/imagepro/internal/history"
)

// Providers are the vendor clients tools may call. Any of them may be nil;
// the tools then fail with ai.ErrNotConfigured.
type Providers struct {
	Groq           *ai.GroqClient
	RemoveBG       *ai.RemoveBGClient
	Replicate      *ai.ReplicateClient
	Gradio         *ai.GradioClient
	UpscaleVersion string
	FaceVersion    string
}

// Input is what a tool works on.
type Input struct {
	Image     image.Image
	Source    ai.Image // encoded form of Image, for vendor uploads
	Settings  map[string]any
	MaxPixels int64 // largest image a tool may allocate
}

// Output is what a tool produced. Exactly one of Image, Encoded or Text is
// set; Text means the snapshot is unchanged.
type Output struct {
	Image    image.Image
	Encoded  *ai.Image
	Text     string
	Settings history.Settings
}

// Tool is one editing operation.
type Tool interface {
	Apply(ctx context.Context, p *Providers, in Input) (Output, error)
}

// ToolFactory allows creating new instances of tools
type ToolFactory func() Tool

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ToolFactory)
)

// RegisterTool registers a tool factory under id.
func RegisterTool(id string, factory ToolFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = factory
}

// Lookup returns a fresh instance of the tool registered under id.
func Lookup(id string) (Tool, bool) {
	registryMu.RLock()
	factory, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Tools returns the registered tool ids, sorted.
func Tools() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc func(ctx context.Context, p *Providers, in Input) (Output, error)

func (f ToolFunc) Apply(ctx context.Context, p *Providers, in Input) (Output, error) {
	return f(ctx, p, in)
}
