package track

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// maxInflatedBytes limits decompressed payloads to 256 MB
const maxInflatedBytes = 256 << 20

// wireFrame is the JSON shape of a frame on the wire and on disk
type wireFrame struct {
	FrameID string      `json:"frameId"`
	Stamp   *time.Time  `json:"stamp,omitempty"`
	Points  []wirePoint `json:"points"`
}

type wirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	R *uint8  `json:"r,omitempty"`
	G *uint8  `json:"g,omitempty"`
	B *uint8  `json:"b,omitempty"`
}

// DecodeFrame decodes a point cloud frame from either format:
// - Raw JSON
// - Zlib-compressed JSON
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	jsonBytes := data
	if first := firstNonSpace(data); first != '{' {
		var err error
		jsonBytes, err = inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON or zlib-compressed JSON")
		}
	}

	return ParseFrameJSON(jsonBytes)
}

// ParseFrameJSON parses the JSON frame format
func ParseFrameJSON(data []byte) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing frame JSON: %w", err)
	}

	f := &Frame{FrameID: w.FrameID, Points: make([]Point, len(w.Points))}
	if w.Stamp != nil {
		f.Stamp = *w.Stamp
	}
	for i, wp := range w.Points {
		p := Point{X: wp.X, Y: wp.Y, Z: wp.Z}
		if wp.R != nil || wp.G != nil || wp.B != nil {
			p.HasColor = true
			p.R, p.G, p.B = deref(wp.R), deref(wp.G), deref(wp.B)
		}
		f.Points[i] = p
	}
	return f, nil
}

// EncodeFrame serializes a frame as JSON, optionally zlib-compressed
func EncodeFrame(f *Frame, compress bool) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("encoding frame: nil frame")
	}
	w := wireFrame{FrameID: f.FrameID, Points: make([]wirePoint, len(f.Points))}
	if !f.Stamp.IsZero() {
		stamp := f.Stamp
		w.Stamp = &stamp
	}
	for i, p := range f.Points {
		wp := wirePoint{X: p.X, Y: p.Y, Z: p.Z}
		if p.HasColor {
			r, g, b := p.R, p.G, p.B
			wp.R, wp.G, wp.B = &r, &g, &b
		}
		w.Points[i] = wp
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshaling frame: %w", err)
	}
	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing frame: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseFrameFile reads and decodes a frame file
func ParseFrameFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame file: %w", err)
	}
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxInflatedBytes+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxInflatedBytes {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxInflatedBytes)
	}
	return out, nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}

func deref(v *uint8) uint8 {
	if v == nil {
		return 0
	}
	return *v
}
