package geo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// TIFF tags and GeoTIFF keys read by ReadGeoTIFF.
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735

	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	modelProjected   = 1
	rasterPixelPoint = 2
	userDefined      = 32767

	typeShort  = 3
	typeDouble = 12
)

var errMalformedTIFF = errors.New("malformed TIFF")

type tiffEntry struct {
	typ   uint16
	count uint32
	value []byte
}

// ReadGeoTIFF returns the georeferencing stored in the first IFD of a classic
// TIFF. ok is false when the file has no GeoTIFF tags.
func ReadGeoTIFF(data []byte) (grid Grid, ok bool, err error) {
	entries, order, err := readIFD(data)
	if err != nil {
		return Grid{}, false, err
	}

	transform, ok, err := modelTransform(entries, order)
	if err != nil || !ok {
		return Grid{}, false, err
	}

	keys, err := geoKeys(entries, order)
	if err != nil {
		return Grid{}, false, err
	}

	if keys[keyRasterType] == rasterPixelPoint {
		// Tie points name the pixel center; move them to the corner.
		transform[2] -= (transform[0] + transform[1]) / 2
		transform[5] -= (transform[3] + transform[4]) / 2
	}

	epsg, err := keysEPSG(keys)
	if err != nil {
		return Grid{}, false, err
	}

	g, err := NewGrid(epsg, transform[:])
	if err != nil {
		return Grid{}, false, err
	}
	return g, true, nil
}

func readIFD(data []byte) (map[uint16]tiffEntry, binary.ByteOrder, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("%w: short header", errMalformedTIFF)
	}

	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: bad byte order mark", errMalformedTIFF)
	}
	if magic := order.Uint16(data[2:4]); magic != 42 {
		return nil, nil, fmt.Errorf("%w: unsupported TIFF version %d", errMalformedTIFF, magic)
	}

	off := int(order.Uint32(data[4:8]))
	if off+2 > len(data) {
		return nil, nil, fmt.Errorf("%w: IFD offset out of range", errMalformedTIFF)
	}
	n := int(order.Uint16(data[off:]))
	if off+2+12*n > len(data) {
		return nil, nil, fmt.Errorf("%w: IFD truncated", errMalformedTIFF)
	}

	entries := make(map[uint16]tiffEntry, n)
	for i := 0; i < n; i++ {
		e := data[off+2+12*i : off+14+12*i]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])

		var size int
		switch typ {
		case typeShort:
			size = 2
		case typeDouble:
			size = 8
		default:
			continue
		}

		total := size * int(count)
		value := e[8:12]
		if total > 4 {
			start := int(order.Uint32(e[8:12]))
			if start < 0 || start+total > len(data) {
				return nil, nil, fmt.Errorf("%w: tag %d value out of range", errMalformedTIFF, tag)
			}
			value = data[start : start+total]
		}
		entries[tag] = tiffEntry{typ: typ, count: count, value: value[:min(total, len(value))]}
	}
	return entries, order, nil
}

func doubles(e tiffEntry, order binary.ByteOrder) []float64 {
	if e.typ != typeDouble {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(e.value[8*i:]))
	}
	return out
}

func shorts(e tiffEntry, order binary.ByteOrder) []uint16 {
	if e.typ != typeShort {
		return nil
	}
	out := make([]uint16, e.count)
	for i := range out {
		out[i] = order.Uint16(e.value[2*i:])
	}
	return out
}

// modelTransform builds the pixel to model affine from either the
// transformation matrix or a tie point plus pixel scale.
func modelTransform(entries map[uint16]tiffEntry, order binary.ByteOrder) ([6]float64, bool, error) {
	if e, ok := entries[tagModelTransformation]; ok {
		m := doubles(e, order)
		if len(m) < 16 {
			return [6]float64{}, false, fmt.Errorf("%w: model transformation has %d values", errMalformedTIFF, len(m))
		}
		return [6]float64{m[0], m[1], m[3], m[4], m[5], m[7]}, true, nil
	}

	tp, hasTie := entries[tagModelTiepoint]
	sc, hasScale := entries[tagModelPixelScale]
	if !hasTie || !hasScale {
		return [6]float64{}, false, nil
	}
	tie, scale := doubles(tp, order), doubles(sc, order)
	if len(tie) < 6 || len(scale) < 2 {
		return [6]float64{}, false, fmt.Errorf("%w: short tie point or pixel scale", errMalformedTIFF)
	}

	i, j, x, y := tie[0], tie[1], tie[3], tie[4]
	sx, sy := scale[0], scale[1]
	return [6]float64{sx, 0, x - i*sx, 0, -sy, y + j*sy}, true, nil
}

// geoKeys returns the inline SHORT keys of the GeoKeyDirectory.
func geoKeys(entries map[uint16]tiffEntry, order binary.ByteOrder) (map[uint16]uint16, error) {
	keys := make(map[uint16]uint16)
	e, ok := entries[tagGeoKeyDirectory]
	if !ok {
		return keys, nil
	}
	dir := shorts(e, order)
	if len(dir) < 4 {
		return nil, fmt.Errorf("%w: short GeoKey directory", errMalformedTIFF)
	}
	n := int(dir[3])
	if len(dir) < 4+4*n {
		return nil, fmt.Errorf("%w: GeoKey directory truncated", errMalformedTIFF)
	}
	for i := 0; i < n; i++ {
		k := dir[4+4*i : 8+4*i]
		if k[1] == 0 {
			keys[k[0]] = k[3]
		}
	}
	return keys, nil
}

func keysEPSG(keys map[uint16]uint16) (int, error) {
	projected, hasProjected := keys[keyProjectedType]
	geographic, hasGeographic := keys[keyGeographicType]

	model := keys[keyModelType]
	if model == 0 && hasProjected {
		model = modelProjected
	}

	switch {
	case model == modelProjected:
		if !hasProjected || projected == userDefined {
			return 0, fmt.Errorf("%w: user defined projection", ErrUnsupportedCRS)
		}
		return int(projected), nil
	case hasGeographic && geographic != userDefined:
		return int(geographic), nil
	default:
		return EPSGWGS84, nil
	}
}
