package voxelstl

import (
	"image"
	"image/color"
	"log"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/setanarut/voxelstl/utils"
	"golang.org/x/image/draw"
)

// ExtractPalette finds up to k representative colors of the grid's tiles.
// A failed or empty k-means run falls back to the dominant-color method.
func ExtractPalette(grid *TileGrid, k int, method PaletteMethod, maxSamples int) ([]colorful.Color, error) {
	if k < 1 {
		return nil, ErrInvalidColorCount
	}
	if grid == nil || grid.Opaque() == 0 {
		return nil, ErrEmptyImage
	}
	switch method {
	case PaletteMethodDominantColor:
		return utils.ExtractDominantPalette(grid.Image(), k), nil
	default:
		p, err := utils.ExtractKMeansPalette(grid.Samples(), k, maxSamples)
		if err == nil && len(p) != 0 {
			return p, nil
		}
		log.Println("palette warning: kmeans returned empty palette, falling back to dominantcolor:", err)
		return utils.ExtractDominantPalette(grid.Image(), k), nil
	}
}

// Nearest returns the index of the palette color closest to c by Euclidean
// RGB distance. The first minimum wins.
func Nearest(c colorful.Color, palette []colorful.Color) int {
	best := -1
	bestD := 0.0
	for i, p := range palette {
		d := c.DistanceRgb(p)
		if best < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// Unassigned marks a transparent tile in an assignment.
const Unassigned = -1

// Assign maps every tile (row-major) to its nearest palette index.
// Transparent tiles get Unassigned.
func Assign(grid *TileGrid, palette []colorful.Color) []int {
	out := make([]int, len(grid.Colors))
	for i, c := range grid.Colors {
		if grid.Transparent(i) {
			out[i] = Unassigned
			continue
		}
		col, _ := colorful.MakeColor(c)
		out[i] = Nearest(col, palette)
	}
	return out
}

// Repaint renders the quantized blocky image. Unassigned tiles stay transparent.
func Repaint(grid *TileGrid, palette []colorful.Color, assign []int) *image.RGBA {
	img := image.NewRGBA(grid.Bounds)
	for y := range grid.Rows {
		for x := range grid.Cols {
			a := assign[y*grid.Cols+x]
			if a == Unassigned {
				continue
			}
			r, g, b := palette[a].Clamped().RGB255()
			src := image.NewUniform(color.RGBA{R: r, G: g, B: b, A: 255})
			draw.Draw(img, grid.TileRect(x, y), src, image.Point{}, draw.Src)
		}
	}
	return img
}

// Counts returns how many tiles were assigned to each of n palette indices.
func Counts(assign []int, n int) []int {
	counts := make([]int, n)
	for _, a := range assign {
		if a != Unassigned {
			counts[a]++
		}
	}
	return counts
}

// OrderPalette returns the band permutation: perm[band] is the palette index
// placed on that band.
func OrderPalette(palette []colorful.Color, counts []int, order BandOrder) []int {
	switch order {
	case OrderBrightness:
		return utils.BrightnessOrder(palette)
	case OrderPopulation:
		perm := identity(len(palette))
		slices.SortStableFunc(perm, func(a, b int) int {
			return counts[b] - counts[a]
		})
		return perm
	default:
		return identity(len(palette))
	}
}

// Permute applies perm to the palette and remaps the tile assignment to it.
func Permute(palette []colorful.Color, assign []int, perm []int) ([]colorful.Color, []int, error) {
	if len(perm) != len(palette) {
		return nil, nil, errors.Errorf("permutation of %d entries for %d colors", len(perm), len(palette))
	}
	band := make([]int, len(palette))
	out := make([]colorful.Color, len(palette))
	for b, i := range perm {
		out[b] = palette[i]
		band[i] = b
	}
	remapped := make([]int, len(assign))
	for t, a := range assign {
		remapped[t] = Unassigned
		if a != Unassigned {
			remapped[t] = band[a]
		}
	}
	return out, remapped, nil
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
