// Package raster produces the fixed-size RGB images handed to the change
// detection model, either from real scene bands or from a deterministic
// synthetic generator.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
)

const (
	// DefaultSize is the model input edge length in pixels.
	DefaultSize = 416

	// Channels is the number of interleaved samples per pixel.
	Channels = 3
)

// Source tells real imagery apart from generated placeholder data.
type Source string

const (
	SourceReal      Source = "real"
	SourceSynthetic Source = "synthetic"
)

var errInvalidImage = errors.New("invalid raster image")

// Image is an immutable square RGB raster with 8 bits per channel.
type Image struct {
	width   int
	height  int
	pix     []uint8
	source  Source
	sceneID string
}

// NewImage copies pix (RGB interleaved, row major) into a new Image.
func NewImage(width, height int, pix []uint8, source Source, sceneID string) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", errInvalidImage, width, height)
	}
	if len(pix) != width*height*Channels {
		return nil, fmt.Errorf("%w: have %d samples, need %d", errInvalidImage, len(pix), width*height*Channels)
	}
	return &Image{
		width:   width,
		height:  height,
		pix:     append([]uint8(nil), pix...),
		source:  source,
		sceneID: sceneID,
	}, nil
}

// FromRGBA converts a Go image into an Image of the same dimensions.
func FromRGBA(img *image.RGBA, source Source, sceneID string) *Image {
	b := img.Bounds()
	out := &Image{
		width:   b.Dx(),
		height:  b.Dy(),
		pix:     make([]uint8, 0, b.Dx()*b.Dy()*Channels),
		source:  source,
		sceneID: sceneID,
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			out.pix = append(out.pix, c.R, c.G, c.B)
		}
	}
	return out
}

func (m *Image) Width() int      { return m.width }
func (m *Image) Height() int     { return m.height }
func (m *Image) Channels() int   { return Channels }
func (m *Image) Source() Source  { return m.source }
func (m *Image) SceneID() string { return m.sceneID }

// Synthetic reports whether the image is placeholder data.
func (m *Image) Synthetic() bool { return m.source == SourceSynthetic }

// Pix returns a copy of the interleaved RGB samples.
func (m *Image) Pix() []uint8 {
	return append([]uint8(nil), m.pix...)
}

// At returns the RGB samples of pixel (x, y).
func (m *Image) At(x, y int) (r, g, b uint8) {
	i := (y*m.width + x) * Channels
	return m.pix[i], m.pix[i+1], m.pix[i+2]
}

// Validate checks the output contract: size x size pixels with three channels.
func (m *Image) Validate(size int) error {
	if m == nil {
		return fmt.Errorf("%w: nil image", errInvalidImage)
	}
	if m.width != size || m.height != size {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", errInvalidImage, m.width, m.height, size, size)
	}
	if len(m.pix) != size*size*Channels {
		return fmt.Errorf("%w: got %d samples", errInvalidImage, len(m.pix))
	}
	return nil
}

// RGBA builds a fresh Go image from the raster.
func (m *Image) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			r, g, b := m.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return img
}

// EncodePNG writes the raster as a lossless PNG.
func (m *Image) EncodePNG(w io.Writer) error {
	return png.Encode(w, m.RGBA())
}

// EncodeJPEG writes the raster as a JPEG, the format accepted by the model.
func (m *Image) EncodeJPEG(w io.Writer, quality int) error {
	if quality <= 0 {
		quality = 95
	}
	return jpeg.Encode(w, m.RGBA(), &jpeg.Options{Quality: quality})
}
