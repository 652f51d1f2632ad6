package report

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func grayWithSquare(size, side int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	off := (size - side) / 2
	for y := off; y < off+side; y++ {
		for x := off; x < off+side; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestAnalyze_Verdicts(t *testing.T) {
	tests := []struct {
		name    string
		img     *image.Gray
		changed bool
	}{
		{"blank map", image.NewGray(image.Rect(0, 0, 416, 416)), false},
		{"saturated map", grayWithSquare(416, 416, 255), true},
		{"large changed block", grayWithSquare(416, 120, 255), true},
		// 20x20 block survives the blur as 324 pixels, below the area threshold.
		{"small changed block", grayWithSquare(416, 20, 255), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Analyze(tt.img, DefaultConfig())
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if a.Changed != tt.changed {
				t.Errorf("expected changed=%v, got %v", tt.changed, a)
			}
			if a.TotalPixels != 416*416 {
				t.Errorf("expected %d total pixels, got %d", 416*416, a.TotalPixels)
			}
		})
	}
}

func TestAnalyze_BothThresholdsRequired(t *testing.T) {
	// 100x100 fully changed: 10000 pixels, ratio 1.
	img := grayWithSquare(100, 100, 255)

	cfg := DefaultConfig()
	cfg.AreaPixels = 20000
	a, _ := Analyze(img, cfg)
	if a.Changed {
		t.Error("area threshold not met, expected no change")
	}

	cfg = DefaultConfig()
	cfg.Ratio = 1
	a, _ = Analyze(img, cfg)
	if a.Changed {
		t.Error("ratio must be strictly exceeded")
	}
}

func TestAnalyze_UniformMapIsStableUnderBlur(t *testing.T) {
	img := grayWithSquare(50, 50, 160)
	a, err := Analyze(img, DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	// 160/255 = 0.627 > 0.6 everywhere; mirrored edges keep the border unchanged.
	if a.ChangedPixels != 2500 || a.Ratio != 1 {
		t.Errorf("expected every pixel changed, got %v", a)
	}
}

func TestAnalyze_SubImage(t *testing.T) {
	full := grayWithSquare(100, 100, 255)
	sub := full.SubImage(image.Rect(10, 10, 40, 50)).(*image.Gray)

	a, err := Analyze(sub, Config{Probability: 0.5})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if a.TotalPixels != 30*40 || a.ChangedPixels != 30*40 {
		t.Errorf("unexpected analysis of sub image: %v", a)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	if _, err := Analyze(nil, DefaultConfig()); !errors.Is(err, ErrEmptyChangeMap) {
		t.Errorf("expected ErrEmptyChangeMap, got %v", err)
	}
	if _, err := Analyze(image.NewGray(image.Rectangle{}), DefaultConfig()); !errors.Is(err, ErrEmptyChangeMap) {
		t.Errorf("expected ErrEmptyChangeMap, got %v", err)
	}
}

func TestGaussianKernel_Normalized(t *testing.T) {
	k := gaussianKernel(2)
	if len(k) != 17 {
		t.Fatalf("expected radius 8 kernel, got %d taps", len(k))
	}
	var sum float64
	for _, v := range k {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("kernel sums to %v", sum)
	}
	if k[8] <= k[7] || k[7] != k[9] {
		t.Error("kernel must peak at the center and be symmetric")
	}
}

func TestReflect(t *testing.T) {
	n := 4
	want := map[int]int{-3: 2, -2: 1, -1: 0, 0: 0, 3: 3, 4: 3, 5: 2, 7: 0, 8: 0}
	for in, out := range want {
		if got := reflect(in, n); got != out {
			t.Errorf("reflect(%d, %d) = %d, want %d", in, n, got, out)
		}
	}
	if reflect(5, 1) != 0 {
		t.Error("single sample must always map to 0")
	}
}
