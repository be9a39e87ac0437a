package history

// Settings describes how a snapshot was produced. Each tool family has its
// own concrete type; Kind is the tag used when the value is serialized.
type Settings interface {
	Kind() string
}

// Upload records the original file that started the session.
type Upload struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (Upload) Kind() string { return "upload" }

// BackgroundRemoval records which provider cut out the subject.
type BackgroundRemoval struct {
	Provider string `json:"provider"`
	Size     string `json:"size,omitempty"`
}

func (BackgroundRemoval) Kind() string { return "background-removal" }

// Upscale covers super-resolution and face restoration models.
type Upscale struct {
	Model       string `json:"model"`
	Scale       int    `json:"scale"`
	FaceEnhance bool   `json:"faceEnhance"`
}

func (Upscale) Kind() string { return "upscale" }

// Transform is a lossless geometric change.
type Transform struct {
	Rotate         int  `json:"rotate,omitempty"`
	FlipHorizontal bool `json:"flipHorizontal,omitempty"`
	FlipVertical   bool `json:"flipVertical,omitempty"`
}

func (Transform) Kind() string { return "transform" }

// Adjust holds tonal corrections. Both values are in [-1, 1].
type Adjust struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
}

func (Adjust) Kind() string { return "adjust" }

// Resize scales the image to an explicit size.
type Resize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (Resize) Kind() string { return "resize" }

// Filter is a parameterless per-pixel filter such as grayscale.
type Filter struct {
	Name string `json:"name"`
}

func (Filter) Kind() string { return "filter" }

// TextExtraction describes an OCR run. It never produces a snapshot but is
// reported alongside the extracted text.
type TextExtraction struct {
	Model string `json:"model,omitempty"`
	Chars int    `json:"chars"`
}

func (TextExtraction) Kind() string { return "text-extraction" }
