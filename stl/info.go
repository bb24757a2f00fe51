package stl

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Info summarizes a triangle soup.
type Info struct {
	Triangles int
	Min, Max  r3.Vec
	Size      r3.Vec
	Area      float64
}

// Analyze measures the bounding box through go-stl, at float32 precision as
// stored on disk. Area is summed in float64.
func Analyze(tris []Triangle) Info {
	info := Info{Triangles: len(tris)}
	if len(tris) == 0 {
		return info
	}
	m := Solid("", tris).Measure()
	info.Min = fromVec3(m.Min)
	info.Max = fromVec3(m.Max)
	info.Size = fromVec3(m.Len)
	for _, t := range tris {
		info.Area += t.Area()
	}
	return info
}
