package raster

import (
	"math"
	"math/rand"
)

// syntheticSeed fixes the noise so repeated fallbacks are bit-identical.
const syntheticSeed = 42

// syntheticNoiseSigma is the standard deviation of the additive noise.
const syntheticNoiseSigma = 5.0

// Synthetic returns a deterministic size x size placeholder raster: a smooth
// sin/cos terrain pattern per channel over [0,4]x[0,4] plus fixed-seed noise.
func Synthetic(size int) *Image {
	if size <= 0 {
		size = DefaultSize
	}

	rng := rand.New(rand.NewSource(syntheticSeed))
	coords := linspace(0, 4, size)
	pix := make([]uint8, size*size*Channels)

	i := 0
	for row := 0; row < size; row++ {
		y := coords[row]
		for col := 0; col < size; col++ {
			x := coords[col]
			r := 100 + 50*math.Sin(x)*math.Cos(y)
			g := 120 + 60*math.Sin(x+0.5)*math.Cos(y+0.5)
			b := 80 + 40*math.Sin(x+1)*math.Cos(y+1)

			pix[i] = clip8(r + rng.NormFloat64()*syntheticNoiseSigma)
			pix[i+1] = clip8(g + rng.NormFloat64()*syntheticNoiseSigma)
			pix[i+2] = clip8(b + rng.NormFloat64()*syntheticNoiseSigma)
			i += Channels
		}
	}

	return &Image{
		width:  size,
		height: size,
		pix:    pix,
		source: SourceSynthetic,
	}
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func clip8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
