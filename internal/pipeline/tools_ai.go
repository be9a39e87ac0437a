package pipeline

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/kurobon/imagepro/internal/ai"
	"github.com/kurobon/imagepro/internal/catalog"
	"github.com/kurobon/imagepro/internal/history"
)

func init() {
	RegisterTool("remove-bg", func() Tool { return ToolFunc(removeBackground) })
	RegisterTool("ocr", func() Tool { return ToolFunc(extractText) })
	RegisterTool("upscale", func() Tool { return ToolFunc(upscale) })
	RegisterTool("face-enhance", func() Tool { return ToolFunc(enhanceFaces) })
}

func removeBackground(ctx context.Context, p *Providers, in Input) (Output, error) {
	provider, err := stringSetting(in.Settings, "provider")
	if err != nil {
		return Output{}, err
	}
	size, err := stringSetting(in.Settings, "size")
	if err != nil {
		return Output{}, err
	}

	var out ai.Image
	switch provider {
	case "", "removebg":
		provider = "removebg"
		out, err = p.RemoveBG.RemoveBackground(ctx, in.Source, size)
	case "gradio":
		// Spaces pick their own output size.
		size = ""
		out, err = p.Gradio.Process(ctx, in.Source)
	default:
		return Output{}, fmt.Errorf("%w: unknown provider %q", catalog.ErrInvalidSettings, provider)
	}
	if err != nil {
		return Output{}, err
	}
	return Output{Encoded: &out, Settings: history.BackgroundRemoval{Provider: provider, Size: size}}, nil
}

func extractText(ctx context.Context, p *Providers, in Input) (Output, error) {
	prompt, err := stringSetting(in.Settings, "prompt")
	if err != nil {
		return Output{}, err
	}
	text, err := p.Groq.ExtractText(ctx, in.Source, prompt)
	if err != nil {
		return Output{}, err
	}
	var model string
	if p.Groq != nil {
		model = p.Groq.Model
	}
	return Output{
		Text:     text,
		Settings: history.TextExtraction{Model: model, Chars: utf8.RuneCountInString(text)},
	}, nil
}

func upscale(ctx context.Context, p *Providers, in Input) (Output, error) {
	scale, err := intSetting(in.Settings, "scale")
	if err != nil {
		return Output{}, err
	}
	face, err := boolSetting(in.Settings, "face_enhance")
	if err != nil {
		return Output{}, err
	}
	out, err := p.Replicate.Run(ctx, p.UpscaleVersion, "image", in.Source, map[string]any{
		"scale":        scale,
		"face_enhance": face,
	})
	if err != nil {
		return Output{}, err
	}
	return Output{Encoded: &out, Settings: history.Upscale{Model: "real-esrgan", Scale: scale, FaceEnhance: face}}, nil
}

func enhanceFaces(ctx context.Context, p *Providers, in Input) (Output, error) {
	scale, err := intSetting(in.Settings, "scale")
	if err != nil {
		return Output{}, err
	}
	out, err := p.Replicate.Run(ctx, p.FaceVersion, "img", in.Source, map[string]any{
		"scale":   scale,
		"version": "v1.4",
	})
	if err != nil {
		return Output{}, err
	}
	return Output{Encoded: &out, Settings: history.Upscale{Model: "gfpgan", Scale: scale, FaceEnhance: true}}, nil
}
