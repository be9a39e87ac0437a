// Package imaging decodes, encodes and transforms raster images locally.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image dimensions exceed the pixel limit")
)

// DefaultMaxPixels bounds decoded images to roughly 160 MiB of NRGBA.
const DefaultMaxPixels = 40_000_000

const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
)

// DetectContentType sniffs the payload and returns its MIME type.
func DetectContentType(data []byte) string {
	return http.DetectContentType(data)
}

// Decode parses a PNG or JPEG payload of at most DefaultMaxPixels.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited parses a PNG or JPEG payload after checking from its header
// that it holds no more than maxPixels pixels. A non-positive limit means
// DefaultMaxPixels.
func DecodeLimited(data []byte, maxPixels int64) (image.Image, string, error) {
	ct := DetectContentType(data)
	var (
		decodeConfig func(io.Reader) (image.Config, error)
		decode       func(io.Reader) (image.Image, error)
	)
	switch ct {
	case ContentTypePNG:
		decodeConfig, decode = png.DecodeConfig, png.Decode
	case ContentTypeJPEG:
		decodeConfig, decode = jpeg.DecodeConfig, jpeg.Decode
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ct)
	}

	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", ct, err)
	}
	if err := CheckPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, "", err
	}

	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", ct, err)
	}
	return img, ct, nil
}

// CheckPixels returns ErrTooLarge when a width x height image exceeds
// maxPixels. A non-positive limit means DefaultMaxPixels.
func CheckPixels(width, height int, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if width < 0 || height < 0 || int64(width)*int64(height) > maxPixels {
		return fmt.Errorf("%w: %dx%d > %d", ErrTooLarge, width, height, maxPixels)
	}
	return nil
}

// Encode serializes img using the given content type. Unknown types fall
// back to PNG so transparency survives.
func Encode(img image.Image, contentType string) ([]byte, string, error) {
	var buf bytes.Buffer
	switch contentType {
	case ContentTypeJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
			return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
	default:
		contentType = ContentTypePNG
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
	}
	return buf.Bytes(), contentType, nil
}

// DataURL wraps a payload in a data: URL.
func DataURL(data []byte, contentType string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Preview returns a PNG data URL of img scaled down so that its longest edge
// is at most maxEdge pixels.
func Preview(img image.Image, maxEdge int) (string, error) {
	thumb := Fit(img, maxEdge)
	data, ct, err := Encode(thumb, ContentTypePNG)
	if err != nil {
		return "", err
	}
	return DataURL(data, ct), nil
}

// Fit scales img down to fit in a maxEdge square, keeping the aspect ratio.
// Images already small enough are returned unchanged.
func Fit(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}
	if w >= h {
		return Resize(img, maxEdge, max(1, h*maxEdge/w))
	}
	return Resize(img, max(1, w*maxEdge/h), maxEdge)
}

// Resize scales img to exactly width x height.
func Resize(img image.Image, width, height int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Grayscale converts img to luminance while keeping alpha.
func Grayscale(img image.Image) image.Image {
	return mapPixels(img, func(c color.NRGBA) color.NRGBA {
		y := color.GrayModel.Convert(color.NRGBA{c.R, c.G, c.B, 255}).(color.Gray).Y
		return color.NRGBA{y, y, y, c.A}
	})
}

// Invert negates the color channels.
func Invert(img image.Image) image.Image {
	return mapPixels(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{255 - c.R, 255 - c.G, 255 - c.B, c.A}
	})
}

// Adjust applies brightness and contrast, both in [-1, 1].
func Adjust(img image.Image, brightness, contrast float64) image.Image {
	factor := (1 + contrast) / (1 - min(contrast, 0.999))
	shift := brightness * 255
	apply := func(v uint8) uint8 {
		f := factor*(float64(v)-128) + 128 + shift
		return clamp(f)
	}
	return mapPixels(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{apply(c.R), apply(c.G), apply(c.B), c.A}
	})
}

// Rotate turns img clockwise by degrees, which must be a multiple of 90.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	degrees = ((degrees % 360) + 360) % 360
	if degrees%90 != 0 {
		return nil, fmt.Errorf("rotation must be a multiple of 90, got %d", degrees)
	}
	if degrees == 0 {
		return toNRGBA(img), nil
	}

	src := toNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	var dst *image.NRGBA
	if degrees == 180 {
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.NRGBAAt(x, y)
			switch degrees {
			case 90:
				dst.SetNRGBA(h-1-y, x, c)
			case 180:
				dst.SetNRGBA(w-1-x, h-1-y, c)
			case 270:
				dst.SetNRGBA(y, w-1-x, c)
			}
		}
	}
	return dst, nil
}

// Flip mirrors img horizontally and/or vertically.
func Flip(img image.Image, horizontal, vertical bool) image.Image {
	src := toNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x, y
			if horizontal {
				dx = w - 1 - x
			}
			if vertical {
				dy = h - 1 - y
			}
			dst.SetNRGBA(dx, dy, src.NRGBAAt(x, y))
		}
	}
	return dst
}

func mapPixels(img image.Image, fn func(color.NRGBA) color.NRGBA) image.Image {
	dst := toNRGBA(img)
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetNRGBA(x, y, fn(dst.NRGBAAt(x, y)))
		}
	}
	return dst
}

// toNRGBA returns a fresh, zero-origin NRGBA copy of img.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func clamp(f float64) uint8 {
	switch {
	case f < 0:
		return 0
	case f > 255:
		return 255
	default:
		return uint8(f + 0.5)
	}
}
