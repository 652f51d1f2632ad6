package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var codecMagic = []byte("CWR1")

// MarshalBinary encodes the raster for an external cache.
func (m *Image) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(codecMagic) + 16 + len(m.source) + len(m.sceneID) + len(m.pix))
	buf.Write(codecMagic)
	_ = binary.Write(&buf, binary.BigEndian, uint32(m.width))
	_ = binary.Write(&buf, binary.BigEndian, uint32(m.height))
	writeString(&buf, string(m.source))
	writeString(&buf, m.sceneID)
	buf.Write(m.pix)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a raster written by MarshalBinary.
func (m *Image) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	magic := make([]byte, len(codecMagic))
	if _, err := r.Read(magic); err != nil || !bytes.Equal(magic, codecMagic) {
		return fmt.Errorf("%w: bad header", errInvalidImage)
	}

	var w, h uint32
	if err := binary.Read(r, binary.BigEndian, &w); err != nil {
		return fmt.Errorf("%w: %v", errInvalidImage, err)
	}
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return fmt.Errorf("%w: %v", errInvalidImage, err)
	}
	source, err := readString(r)
	if err != nil {
		return err
	}
	sceneID, err := readString(r)
	if err != nil {
		return err
	}

	pix := make([]uint8, r.Len())
	_, _ = r.Read(pix)

	img, err := NewImage(int(w), int(h), pix, Source(source), sceneID)
	if err != nil {
		return err
	}
	*m = *img
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidImage, err)
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("%w: truncated", errInvalidImage)
	}
	b := make([]byte, n)
	_, _ = r.Read(b)
	return string(b), nil
}
