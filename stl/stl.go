// Package stl reads and writes STL files on top of github.com/flywave/go-stl.
//
// Geometry stays in gonum r3 vectors on this side; the library's float32
// Solid is only built at the file boundary.
package stl

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	gostl "github.com/flywave/go-stl"
	"github.com/flywave/go3d/vec3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	HeaderSize = 80
	RecordSize = 50
)

// ErrTruncated is returned when the input ends inside the header or a record.
var ErrTruncated = errors.New("stl: truncated file")

type Triangle struct {
	Normal    r3.Vec
	Vertices  [3]r3.Vec
	Attribute uint16
}

// NewTriangle computes the normal from the winding of a, b, c.
func NewTriangle(a, b, c r3.Vec) Triangle {
	return Triangle{
		Normal:   FaceNormal(a, b, c),
		Vertices: [3]r3.Vec{a, b, c},
	}
}

// FaceNormal is the unit normal of a counter-clockwise triangle, or the zero
// vector for a degenerate one.
func FaceNormal(a, b, c r3.Vec) r3.Vec {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if r3.Norm(n) == 0 {
		return r3.Vec{}
	}
	return r3.Unit(n)
}

// Area of the triangle.
func (t Triangle) Area() float64 {
	v := t.Vertices
	return 0.5 * r3.Norm(r3.Cross(r3.Sub(v[1], v[0]), r3.Sub(v[2], v[0])))
}

func toVec3(v r3.Vec) vec3.T {
	return vec3.T{float32(v.X), float32(v.Y), float32(v.Z)}
}

func fromVec3(v vec3.T) r3.Vec {
	return r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

// Solid converts tris into a binary go-stl solid with hdr as its header.
func Solid(hdr string, tris []Triangle) *gostl.Solid {
	header := make([]byte, HeaderSize)
	copy(header, hdr)
	s := &gostl.Solid{
		BinaryHeader: header,
		Triangles:    make([]gostl.Triangle, len(tris)),
	}
	for i, t := range tris {
		s.Triangles[i] = gostl.Triangle{
			Normal:     toVec3(t.Normal),
			Vertices:   [3]vec3.T{toVec3(t.Vertices[0]), toVec3(t.Vertices[1]), toVec3(t.Vertices[2])},
			Attributes: t.Attribute,
		}
	}
	return s
}

// Encode writes a complete binary STL to w.
func Encode(w io.Writer, hdr string, tris []Triangle) error {
	if uint64(len(tris)) > math.MaxUint32 {
		return errors.Errorf("stl: %d triangles exceed the format limit", len(tris))
	}
	return errors.Wrap(Solid(hdr, tris).WriteAll(w), "stl: write")
}

// WriteFile encodes tris to path. A failed write removes the partial file.
func WriteFile(path, hdr string, tris []Triangle) error {
	return writeFile(path, func(w io.Writer) error {
		return Encode(w, hdr, tris)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "stl: create")
	}
	err = write(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "stl: close")
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

// File is a decoded STL.
type File struct {
	Header    string
	Triangles []Triangle
}

func fromSolid(s *gostl.Solid) *File {
	f := &File{
		Header:    string(bytes.TrimRight(s.BinaryHeader, "\x00")),
		Triangles: make([]Triangle, len(s.Triangles)),
	}
	if s.IsAscii || len(s.BinaryHeader) == 0 {
		f.Header = s.Name
	}
	for i, t := range s.Triangles {
		f.Triangles[i] = Triangle{
			Normal:    fromVec3(t.Normal),
			Vertices:  [3]r3.Vec{fromVec3(t.Vertices[0]), fromVec3(t.Vertices[1]), fromVec3(t.Vertices[2])},
			Attribute: t.Attributes,
		}
	}
	return f
}

// Decode parses an STL. Binary input that ends before its declared triangle
// count gives ErrTruncated. Trailing NUL bytes are stripped from the header.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "stl: read")
	}
	if err := checkBinary(data); err != nil {
		return nil, err
	}
	s, err := gostl.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "stl: parse")
	}
	return fromSolid(s), nil
}

// checkBinary rejects binary input shorter than its header and declared
// records. ASCII input is left to the parser.
func checkBinary(data []byte) error {
	if bytes.HasPrefix(data, []byte("solid")) && !fitsBinary(data) {
		return nil
	}
	if len(data) < HeaderSize+4 {
		return errors.Wrap(ErrTruncated, "header")
	}
	if !fitsBinary(data) {
		return errors.Wrap(ErrTruncated, "triangle")
	}
	return nil
}

func fitsBinary(data []byte) bool {
	if len(data) < HeaderSize+4 {
		return false
	}
	n := uint64(binary.LittleEndian.Uint32(data[HeaderSize:]))
	return uint64(len(data)) >= HeaderSize+4+n*RecordSize
}

// ReadFile decodes the STL at path.
func ReadFile(path string) (*File, error) {
	s, err := gostl.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "stl: read file")
	}
	return fromSolid(s), nil
}
