package changenet

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"slices"
	"strings"

	"golang.org/x/image/draw"
)

// ExtractChangeMap finds the change map in an inference archive. Entries named
// out_*.jpg win; otherwise the first PNG or JPEG whose name does not start with
// "changenet" is used. Names are considered in sorted order.
func ExtractChangeMap(archive []byte) (*ChangeMap, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: inference response is not a zip archive: %w", ErrInvocationFailed, err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		files[name] = f
		names = append(names, name)
	}
	slices.Sort(names)

	for _, pass := range []func(string) bool{isModelOutput, isFallbackImage} {
		for _, name := range names {
			if !pass(name) {
				continue
			}
			gray, err := decodeGray(files[name])
			if err != nil {
				continue
			}
			return &ChangeMap{Name: name, Image: gray}, nil
		}
	}

	var available []string
	for _, name := range names {
		if !strings.HasSuffix(name, ".response") && !strings.HasSuffix(name, ".zip") {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: archive is empty or only holds metadata", ErrChangeMapNotFound)
	}
	return nil, fmt.Errorf("%w: available files: %s", ErrChangeMapNotFound, strings.Join(available, ", "))
}

func isModelOutput(name string) bool {
	return strings.HasPrefix(name, "out_") && strings.HasSuffix(name, ".jpg")
}

func isFallbackImage(name string) bool {
	if strings.HasPrefix(name, "changenet") {
		return false
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func decodeGray(f *zip.File) (*image.Gray, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(io.LimitReader(rc, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}

	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray, nil
}
