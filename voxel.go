package voxelstl

import (
	"cmp"
	"context"
	"image"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/setanarut/voxelstl/stl"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Strip is a horizontal run of Len same-color tiles starting at (X, Y).
type Strip struct {
	X, Y, Len int
}

func (s Strip) Tiles() []image.Point {
	out := make([]image.Point, s.Len)
	for i := range out {
		out[i] = image.Pt(s.X+i, s.Y)
	}
	return out
}

// MergeStrips merges tile coordinates into horizontal runs. Positions are
// scanned row by row, left to right. A run ends when y changes or x is not
// contiguous. Duplicate positions are ignored.
func MergeStrips(positions []image.Point) []Strip {
	if len(positions) == 0 {
		return nil
	}
	sorted := slices.Clone(positions)
	slices.SortFunc(sorted, func(a, b image.Point) int {
		if c := cmp.Compare(a.Y, b.Y); c != 0 {
			return c
		}
		return cmp.Compare(a.X, b.X)
	})
	sorted = slices.Compact(sorted)

	var out []Strip
	cur := Strip{X: sorted[0].X, Y: sorted[0].Y, Len: 1}
	for _, p := range sorted[1:] {
		if p.Y == cur.Y && p.X == cur.X+cur.Len {
			cur.Len++
			continue
		}
		out = append(out, cur)
		cur = Strip{X: p.X, Y: p.Y, Len: 1}
	}
	return append(out, cur)
}

// Geometry holds the physical dimensions used to extrude tiles.
type Geometry struct {
	// Tile edge in millimeters.
	NozzleSize float64
	// Print layer height in millimeters.
	LayerHeight float64
	// Layers per color band.
	ColorLayers int
	// Start every box at z=0.
	Solid bool
}

func (g Geometry) BandHeight() float64 {
	return g.LayerHeight * float64(g.ColorLayers)
}

// Box is an axis-aligned box in millimeters.
type Box struct {
	Min, Max r3.Vec
	Band     int
	Color    colorful.Color
	Strip    Strip
}

// boxFaces lists the corner indices of each face, counter-clockwise seen from
// outside. Corner i has x from bit 0, y from bit 1 and z from bit 2.
var boxFaces = [6][4]int{
	{0, 2, 3, 1}, // -Z
	{4, 5, 7, 6}, // +Z
	{0, 1, 5, 4}, // -Y
	{2, 6, 7, 3}, // +Y
	{0, 4, 6, 2}, // -X
	{1, 3, 7, 5}, // +X
}

func (b Box) corner(i int) r3.Vec {
	c := b.Min
	if i&1 != 0 {
		c.X = b.Max.X
	}
	if i&2 != 0 {
		c.Y = b.Max.Y
	}
	if i&4 != 0 {
		c.Z = b.Max.Z
	}
	return c
}

// Triangles returns the 12 outward-facing triangles of the box surface.
func (b Box) Triangles() []stl.Triangle {
	out := make([]stl.Triangle, 0, 12)
	for _, f := range boxFaces {
		p0, p1, p2, p3 := b.corner(f[0]), b.corner(f[1]), b.corner(f[2]), b.corner(f[3])
		out = append(out, stl.NewTriangle(p0, p1, p2), stl.NewTriangle(p0, p2, p3))
	}
	return out
}

// Model is the layered voxel model of one image.
type Model struct {
	Boxes []Box
	Bands int
	// Extent of the model; its minimum corner is the origin.
	Size r3.Vec
}

// BuildModel emits one box per strip of every color. Band i spans
// z = i*h .. (i+1)*h with h = geom.BandHeight(); image row 0 is the top (+Y)
// edge of the model.
func BuildModel(ctx context.Context, cm *ColorMap, rows int, geom Geometry) (*Model, error) {
	m := &Model{Bands: len(cm.Order)}
	h := geom.BandHeight()
	for band, hex := range cm.Order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col := cm.Color(band)
		for _, s := range MergeStrips(cm.Positions[hex]) {
			box := Box{
				Min: r3.Vec{
					X: float64(s.X) * geom.NozzleSize,
					Y: float64(rows-1-s.Y) * geom.NozzleSize,
					Z: float64(band) * h,
				},
				Max: r3.Vec{
					X: float64(s.X+s.Len) * geom.NozzleSize,
					Y: float64(rows-s.Y) * geom.NozzleSize,
					Z: float64(band+1) * h,
				},
				Band:  band,
				Color: col,
				Strip: s,
			}
			if geom.Solid {
				box.Min.Z = 0
			}
			m.Boxes = append(m.Boxes, box)
			m.Size.X = max(m.Size.X, box.Max.X)
			m.Size.Y = max(m.Size.Y, box.Max.Y)
			m.Size.Z = max(m.Size.Z, box.Max.Z)
		}
	}
	return m, nil
}

func (m *Model) Triangles() []stl.Triangle {
	out := make([]stl.Triangle, 0, 12*len(m.Boxes))
	for _, b := range m.Boxes {
		out = append(out, b.Triangles()...)
	}
	return out
}

// BandTriangles returns the triangles of one color band only.
func (m *Model) BandTriangles(band int) []stl.Triangle {
	var out []stl.Triangle
	for _, b := range m.Boxes {
		if b.Band == band {
			out = append(out, b.Triangles()...)
		}
	}
	return out
}

// BandBoxes counts the boxes of each band.
func (m *Model) BandBoxes() []int {
	out := make([]int, m.Bands)
	for _, b := range m.Boxes {
		out[b.Band]++
	}
	return out
}

type Stats struct {
	Tiles     int
	Boxes     int
	Triangles int
	// Mean strip length; Boxes*AvgRun == Tiles.
	AvgRun float64
}

func (m *Model) Stats() Stats {
	s := Stats{Boxes: len(m.Boxes), Triangles: 12 * len(m.Boxes)}
	if len(m.Boxes) == 0 {
		return s
	}
	runs := make([]float64, len(m.Boxes))
	for i, b := range m.Boxes {
		runs[i] = float64(b.Strip.Len)
		s.Tiles += b.Strip.Len
	}
	s.AvgRun = stat.Mean(runs, nil)
	return s
}
