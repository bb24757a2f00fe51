package voxelstl

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorMap groups tile coordinates by quantized color. Transparent tiles are
// not mapped.
type ColorMap struct {
	// Hex keys by band. Identical palette colors collapse into one key on
	// the lowest band they occupy.
	Order []string
	// Tile coordinates per hex key in row-major scan order.
	Positions map[string][]image.Point
}

func NewColorMap(grid *TileGrid, palette []colorful.Color, assign []int) *ColorMap {
	m := &ColorMap{Positions: make(map[string][]image.Point)}
	hexes := make([]string, len(palette))
	for i, c := range palette {
		hexes[i] = c.Clamped().Hex()
		if _, ok := m.Positions[hexes[i]]; !ok {
			m.Positions[hexes[i]] = nil
			m.Order = append(m.Order, hexes[i])
		}
	}
	for y := range grid.Rows {
		for x := range grid.Cols {
			a := assign[y*grid.Cols+x]
			if a == Unassigned {
				continue
			}
			key := hexes[a]
			m.Positions[key] = append(m.Positions[key], image.Pt(x, y))
		}
	}
	return m
}

// Band returns the band index of hex, or -1.
func (m *ColorMap) Band(hex string) int {
	for i, h := range m.Order {
		if h == hex {
			return i
		}
	}
	return -1
}

// Remap rewrites a palette assignment in band terms: the returned palette
// holds one color per band and assign points at bands. Palette entries that
// share a hex key share a band.
func (m *ColorMap) Remap(palette []colorful.Color, assign []int) ([]colorful.Color, []int) {
	bands := make([]colorful.Color, len(m.Order))
	for i := range bands {
		bands[i] = m.Color(i)
	}
	bandOf := make([]int, len(palette))
	for i, c := range palette {
		bandOf[i] = m.Band(c.Clamped().Hex())
	}
	out := make([]int, len(assign))
	for t, a := range assign {
		out[t] = Unassigned
		if a != Unassigned {
			out[t] = bandOf[a]
		}
	}
	return bands, out
}

// Color parses the hex key of band.
func (m *ColorMap) Color(band int) colorful.Color {
	c, _ := colorful.Hex(m.Order[band])
	return c
}

// Tiles is the total number of mapped tiles.
func (m *ColorMap) Tiles() int {
	n := 0
	for _, p := range m.Positions {
		n += len(p)
	}
	return n
}
