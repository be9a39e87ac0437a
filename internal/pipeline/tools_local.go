package pipeline

import (
	"context"

	"github.com/kurobon/imagepro/internal/history"
	"github.com/kurobon/imagepro/internal/imaging"
)

func init() {
	RegisterTool("grayscale", func() Tool { return ToolFunc(grayscale) })
	RegisterTool("invert", func() Tool { return ToolFunc(invert) })
	RegisterTool("rotate", func() Tool { return ToolFunc(rotate) })
	RegisterTool("flip", func() Tool { return ToolFunc(flip) })
	RegisterTool("adjust", func() Tool { return ToolFunc(adjust) })
	RegisterTool("resize", func() Tool { return ToolFunc(resize) })
}

func grayscale(_ context.Context, _ *Providers, in Input) (Output, error) {
	return Output{Image: imaging.Grayscale(in.Image), Settings: history.Filter{Name: "grayscale"}}, nil
}

func invert(_ context.Context, _ *Providers, in Input) (Output, error) {
	return Output{Image: imaging.Invert(in.Image), Settings: history.Filter{Name: "invert"}}, nil
}

func rotate(_ context.Context, _ *Providers, in Input) (Output, error) {
	degrees, err := intSetting(in.Settings, "degrees")
	if err != nil {
		return Output{}, err
	}
	img, err := imaging.Rotate(in.Image, degrees)
	if err != nil {
		return Output{}, err
	}
	return Output{Image: img, Settings: history.Transform{Rotate: degrees}}, nil
}

func flip(_ context.Context, _ *Providers, in Input) (Output, error) {
	h, err := boolSetting(in.Settings, "horizontal")
	if err != nil {
		return Output{}, err
	}
	v, err := boolSetting(in.Settings, "vertical")
	if err != nil {
		return Output{}, err
	}
	return Output{
		Image:    imaging.Flip(in.Image, h, v),
		Settings: history.Transform{FlipHorizontal: h, FlipVertical: v},
	}, nil
}

func adjust(_ context.Context, _ *Providers, in Input) (Output, error) {
	b, err := floatSetting(in.Settings, "brightness")
	if err != nil {
		return Output{}, err
	}
	c, err := floatSetting(in.Settings, "contrast")
	if err != nil {
		return Output{}, err
	}
	return Output{
		Image:    imaging.Adjust(in.Image, b, c),
		Settings: history.Adjust{Brightness: b, Contrast: c},
	}, nil
}

func resize(_ context.Context, _ *Providers, in Input) (Output, error) {
	w, err := intSetting(in.Settings, "width")
	if err != nil {
		return Output{}, err
	}
	h, err := intSetting(in.Settings, "height")
	if err != nil {
		return Output{}, err
	}
	if err := imaging.CheckPixels(w, h, in.MaxPixels); err != nil {
		return Output{}, err
	}
	return Output{
		Image:    imaging.Resize(in.Image, w, h),
		Settings: history.Resize{Width: w, Height: h},
	}, nil
}
