package geo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

type testTag struct {
	tag     uint16
	shorts  []uint16
	doubles []float64
}

// buildTIFF writes a little endian TIFF holding only the given tags, which
// must be in ascending order.
func buildTIFF(tags ...testTag) []byte {
	le := binary.LittleEndian
	ifdSize := 2 + 12*len(tags) + 4
	dataOff := 8 + ifdSize

	var header, ifd, extra bytes.Buffer
	header.WriteString("II")
	_ = binary.Write(&header, le, uint16(42))
	_ = binary.Write(&header, le, uint32(8))

	_ = binary.Write(&ifd, le, uint16(len(tags)))
	for _, tg := range tags {
		var payload bytes.Buffer
		var typ uint16
		var count uint32
		if tg.doubles != nil {
			typ, count = typeDouble, uint32(len(tg.doubles))
			for _, d := range tg.doubles {
				_ = binary.Write(&payload, le, math.Float64bits(d))
			}
		} else {
			typ, count = typeShort, uint32(len(tg.shorts))
			_ = binary.Write(&payload, le, tg.shorts)
		}

		_ = binary.Write(&ifd, le, tg.tag)
		_ = binary.Write(&ifd, le, typ)
		_ = binary.Write(&ifd, le, count)
		if payload.Len() <= 4 {
			field := make([]byte, 4)
			copy(field, payload.Bytes())
			ifd.Write(field)
		} else {
			_ = binary.Write(&ifd, le, uint32(dataOff+extra.Len()))
			extra.Write(payload.Bytes())
		}
	}
	_ = binary.Write(&ifd, le, uint32(0))

	return append(append(header.Bytes(), ifd.Bytes()...), extra.Bytes()...)
}

func TestReadGeoTIFF_TiePointUTM(t *testing.T) {
	data := buildTIFF(
		testTag{tag: 256, shorts: []uint16{10980}},
		testTag{tag: tagModelPixelScale, doubles: []float64{10, 10, 0}},
		testTag{tag: tagModelTiepoint, doubles: []float64{0, 0, 0, 300000, 2100000, 0}},
		testTag{tag: tagGeoKeyDirectory, shorts: []uint16{
			1, 1, 0, 3,
			keyModelType, 0, 1, modelProjected,
			keyRasterType, 0, 1, 1,
			keyProjectedType, 0, 1, 32643,
		}},
	)

	g, ok, err := ReadGeoTIFF(data)
	if err != nil || !ok {
		t.Fatalf("ReadGeoTIFF: ok=%v err=%v", ok, err)
	}
	want := Grid{EPSG: 32643, Transform: [6]float64{10, 0, 300000, 0, -10, 2100000}}
	if g != want {
		t.Errorf("got %+v, want %+v", g, want)
	}
}

func TestReadGeoTIFF_PixelIsPoint(t *testing.T) {
	data := buildTIFF(
		testTag{tag: tagModelPixelScale, doubles: []float64{30, 30, 0}},
		testTag{tag: tagModelTiepoint, doubles: []float64{0, 0, 0, 300000, 2100000, 0}},
		testTag{tag: tagGeoKeyDirectory, shorts: []uint16{
			1, 1, 0, 2,
			keyRasterType, 0, 1, rasterPixelPoint,
			keyProjectedType, 0, 1, 32643,
		}},
	)

	g, ok, err := ReadGeoTIFF(data)
	if err != nil || !ok {
		t.Fatalf("ReadGeoTIFF: ok=%v err=%v", ok, err)
	}
	if g.Transform[2] != 299985 || g.Transform[5] != 2100015 {
		t.Errorf("expected half pixel shift to the corner, got %v", g.Transform)
	}
}

func TestReadGeoTIFF_TransformationGeographic(t *testing.T) {
	data := buildTIFF(
		testTag{tag: tagModelTransformation, doubles: []float64{
			0.01, 0, 0, 73,
			0, -0.01, 0, 19,
			0, 0, 0, 0,
			0, 0, 0, 1,
		}},
		testTag{tag: tagGeoKeyDirectory, shorts: []uint16{
			1, 1, 0, 2,
			keyModelType, 0, 1, 2,
			keyGeographicType, 0, 1, 4326,
		}},
	)

	g, ok, err := ReadGeoTIFF(data)
	if err != nil || !ok {
		t.Fatalf("ReadGeoTIFF: ok=%v err=%v", ok, err)
	}
	want := Grid{EPSG: EPSGWGS84, Transform: [6]float64{0.01, 0, 73, 0, -0.01, 19}}
	if g != want {
		t.Errorf("got %+v, want %+v", g, want)
	}
}

func TestReadGeoTIFF_NotGeoreferenced(t *testing.T) {
	data := buildTIFF(testTag{tag: 256, shorts: []uint16{64}})
	if _, ok, err := ReadGeoTIFF(data); ok || err != nil {
		t.Errorf("plain TIFF: ok=%v err=%v", ok, err)
	}

	if _, _, err := ReadGeoTIFF([]byte("not a tiff")); err == nil {
		t.Error("expected error for non TIFF data")
	}
}

func TestReadGeoTIFF_UserDefinedProjection(t *testing.T) {
	data := buildTIFF(
		testTag{tag: tagModelPixelScale, doubles: []float64{10, 10, 0}},
		testTag{tag: tagModelTiepoint, doubles: []float64{0, 0, 0, 0, 0, 0}},
		testTag{tag: tagGeoKeyDirectory, shorts: []uint16{
			1, 1, 0, 1,
			keyModelType, 0, 1, modelProjected,
		}},
	)
	if _, _, err := ReadGeoTIFF(data); !errors.Is(err, ErrUnsupportedCRS) {
		t.Errorf("expected ErrUnsupportedCRS, got %v", err)
	}
}
