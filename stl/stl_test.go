package stl

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

func sampleTriangles() []Triangle {
	return []Triangle{
		NewTriangle(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}),
		NewTriangle(r3.Vec{Z: 2}, r3.Vec{X: 0.5, Z: 2}, r3.Vec{Y: 0.25, Z: 2}),
	}
}

func TestEncodeLayout(t *testing.T) {
	tris := sampleTriangles()
	var buf bytes.Buffer
	if err := Encode(&buf, "test", tris); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := HeaderSize + 4 + RecordSize*len(tris)
	if buf.Len() != want {
		t.Fatalf("expected %d bytes, got %d", want, buf.Len())
	}
	if got := string(buf.Bytes()[:4]); got != "test" {
		t.Errorf("header starts with %q", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tris := sampleTriangles()
	tris[1].Attribute = 7
	var buf bytes.Buffer
	if err := Encode(&buf, "round trip", tris); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Header != "round trip" {
		t.Errorf("header %q", f.Header)
	}
	if len(f.Triangles) != len(tris) {
		t.Fatalf("expected %d triangles, got %d", len(tris), len(f.Triangles))
	}
	for i := range tris {
		if f.Triangles[i] != tris[i] {
			t.Errorf("triangle %d: got %+v, want %+v", i, f.Triangles[i], tris[i])
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, "", sampleTriangles()); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	for _, n := range []int{10, HeaderSize + 2, HeaderSize + 4 + RecordSize + 3} {
		_, err := Decode(bytes.NewReader(data[:n]))
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("len %d: expected ErrTruncated, got %v", n, err)
		}
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.stl")
	tris := sampleTriangles()
	if err := WriteFile(path, "file", tris); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(HeaderSize + 4 + len(tris)*RecordSize); info.Size() != want {
		t.Errorf("file size %d, want %d", info.Size(), want)
	}
	f, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(f.Triangles) != len(tris) || f.Header != "file" {
		t.Errorf("read back %q with %d triangles", f.Header, len(f.Triangles))
	}
}

func TestWriteFileRemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.stl")
	errDisk := errors.New("disk full")
	err := writeFile(path, func(w io.Writer) error {
		w.Write(make([]byte, HeaderSize))
		return errDisk
	})
	if !errors.Is(err, errDisk) {
		t.Fatalf("expected write error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}

	missing := filepath.Join(t.TempDir(), "no", "such", "dir.stl")
	if err := WriteFile(missing, "", sampleTriangles()); err == nil {
		t.Error("expected error creating file in missing directory")
	}
}

func TestFaceNormal(t *testing.T) {
	n := FaceNormal(r3.Vec{}, r3.Vec{X: 2}, r3.Vec{Y: 3})
	if n != (r3.Vec{Z: 1}) {
		t.Errorf("normal %+v", n)
	}
	if d := FaceNormal(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{X: 2}); d != (r3.Vec{}) {
		t.Errorf("degenerate normal %+v", d)
	}
}

func TestAnalyze(t *testing.T) {
	info := Analyze(sampleTriangles())
	if info.Triangles != 2 {
		t.Errorf("Triangles = %d", info.Triangles)
	}
	if info.Min != (r3.Vec{}) || info.Max != (r3.Vec{X: 1, Y: 1, Z: 2}) {
		t.Errorf("bounds %+v - %+v", info.Min, info.Max)
	}
	if info.Size != (r3.Vec{X: 1, Y: 1, Z: 2}) {
		t.Errorf("size %+v", info.Size)
	}
	want := 0.5 + 0.5*0.5*0.25
	if math.Abs(info.Area-want) > 1e-12 {
		t.Errorf("area %g, want %g", info.Area, want)
	}
	if empty := Analyze(nil); empty.Triangles != 0 || empty.Area != 0 {
		t.Errorf("empty info %+v", empty)
	}
}
