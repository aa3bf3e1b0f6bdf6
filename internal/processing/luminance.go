package processing

import (
	"errors"
	"math"

	"flashguard-go/internal/types"
)

var (
	ErrEmptyFrame        = errors.New("empty or malformed frame")
	ErrInvalidBrightness = errors.New("brightness is not a number")
)

// Rec. 601 luma weights.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

type Luma struct {
	Brightness float64
	Delta      float64
}

// LuminanceAnalyzer reduces frames of one source to a mean brightness and
// the absolute change against the previous good frame.
type LuminanceAnalyzer struct {
	prev    float64
	hasPrev bool
}

func (a *LuminanceAnalyzer) Analyze(frame types.FrameSample) (Luma, error) {
	brightness, err := Brightness(frame.Pixels, frame.Width, frame.Height, frame.Format)
	if err != nil {
		a.Reset()
		return Luma{}, err
	}

	delta := 0.0
	if a.hasPrev {
		delta = math.Abs(brightness - a.prev)
	}
	a.prev = brightness
	a.hasPrev = true
	return Luma{Brightness: brightness, Delta: delta}, nil
}

// Previous returns the stored baseline, if any.
func (a *LuminanceAnalyzer) Previous() (float64, bool) {
	return a.prev, a.hasPrev
}

func (a *LuminanceAnalyzer) Reset() {
	a.prev = 0
	a.hasPrev = false
}

// Brightness returns the mean luma over all pixels of the buffer.
func Brightness(pixels []byte, width, height int, format types.PixelFormat) (float64, error) {
	channels := format.Channels()
	if width <= 0 || height <= 0 || channels == 0 || len(pixels) == 0 {
		return 0, ErrEmptyFrame
	}
	// Compare against the buffer before multiplying so oversized
	// dimensions cannot wrap.
	maxCount := len(pixels) / channels
	if width > maxCount || height > maxCount/width {
		return 0, ErrEmptyFrame
	}
	count := width * height

	var total float64
	switch channels {
	case 1:
		total = sumGray(pixels[:count])
	default:
		total = sumColor(pixels[:count*channels], channels)
	}

	mean := total / float64(count)
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0, ErrInvalidBrightness
	}
	return mean, nil
}

func sumGray(values []byte) float64 {
	var total uint64
	for _, v := range values {
		total += uint64(v)
	}
	return float64(total)
}

func sumColor(values []byte, channels int) float64 {
	var r, g, b uint64
	for i := 0; i+2 < len(values); i += channels {
		r += uint64(values[i])
		g += uint64(values[i+1])
		b += uint64(values[i+2])
	}
	return lumaR*float64(r) + lumaG*float64(g) + lumaB*float64(b)
}
