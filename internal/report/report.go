// Package report turns a model change map into a change verdict.
package report

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrEmptyChangeMap is returned for a change map without pixels.
var ErrEmptyChangeMap = errors.New("empty change map")

// Config holds the decision thresholds.
type Config struct {
	// AreaPixels is the changed pixel count that must be exceeded.
	AreaPixels int `json:"area_pixels"`
	// Ratio is the changed pixel fraction that must be exceeded.
	Ratio float64 `json:"ratio"`
	// Sigma is the standard deviation of the smoothing blur, in pixels.
	Sigma float64 `json:"sigma"`
	// Probability is the smoothed change probability a pixel must exceed.
	Probability float64 `json:"probability"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{AreaPixels: 500, Ratio: 0.02, Sigma: 2, Probability: 0.6}
}

// Analysis is the outcome of thresholding one change map.
type Analysis struct {
	ChangedPixels int     `json:"changed_pixels"`
	TotalPixels   int     `json:"total_pixels"`
	Ratio         float64 `json:"ratio"`
	Changed       bool    `json:"changed"`
}

// Analyze smooths the change map, thresholds it and applies the area and ratio
// tests. Both must be exceeded for Changed to be set.
func Analyze(changeMap *image.Gray, cfg Config) (Analysis, error) {
	if changeMap == nil || changeMap.Bounds().Empty() {
		return Analysis{}, ErrEmptyChangeMap
	}
	b := changeMap.Bounds()
	w, h := b.Dx(), b.Dy()

	prob := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := changeMap.Pix[y*changeMap.Stride : y*changeMap.Stride+w]
		for x, v := range row {
			prob[y*w+x] = float64(v) / 255
		}
	}

	if cfg.Sigma > 0 {
		prob = gaussianBlur(prob, w, h, cfg.Sigma)
	}

	changed := 0
	for _, p := range prob {
		if p > cfg.Probability {
			changed++
		}
	}

	total := w * h
	ratio := float64(changed) / float64(total)
	return Analysis{
		ChangedPixels: changed,
		TotalPixels:   total,
		Ratio:         ratio,
		Changed:       changed > cfg.AreaPixels && ratio > cfg.Ratio,
	}, nil
}

func (a Analysis) String() string {
	verdict := "no change"
	if a.Changed {
		verdict = "change detected"
	}
	return fmt.Sprintf("%s: %d of %d pixels (%.4f)", verdict, a.ChangedPixels, a.TotalPixels, a.Ratio)
}

// gaussianBlur applies a separable Gaussian with a kernel truncated at four
// standard deviations and mirrored edges (d c b a | a b c d | d c b a).
func gaussianBlur(src []float64, w, h int, sigma float64) []float64 {
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2

	tmp := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k, kv := range kernel {
				sum += kv * src[y*w+reflect(x+k-radius, w)]
			}
			tmp[y*w+x] = sum
		}
	}

	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k, kv := range kernel {
				sum += kv * tmp[reflect(y+k-radius, h)*w+x]
			}
			out[y*w+x] = sum
		}
	}
	return out
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// reflect maps i into [0, n) by mirroring at the edges, repeating the edge sample.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
