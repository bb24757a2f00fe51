package utils

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"
)

// ErrDecode marks input that is not a decodable PNG, JPEG, GIF or WebP image.
var ErrDecode = errors.New("cannot decode image")

type weightedColor struct {
	Col    colorful.Color
	Weight float64
}

// Luminance is the relative luminance of c computed from linear RGB.
func Luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// BrightnessOrder returns palette indices ordered from darkest to brightest.
// Colors of equal luminance keep their palette order.
func BrightnessOrder(palette []colorful.Color) []int {
	idx := make([]int, len(palette))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		ya, yb := Luminance(palette[a]), Luminance(palette[b])
		if ya < yb {
			return -1
		}
		if ya > yb {
			return 1
		}
		return 0
	})
	return idx
}

func ExtractDominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}

	nCandidates := max(24, k*8)
	candidates := dominantcolor.FindWeight(img, nCandidates)
	if len(candidates) == 0 {
		// Last resort: a single gray keeps the palette non-empty.
		candidates = append(candidates, dominantcolor.Color{
			RGBA:   color.RGBA{R: 128, G: 128, B: 128, A: 255},
			Weight: 1.0,
		})
	}

	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(c.RGBA)
		w := c.Weight
		if w <= 0 {
			w = 1e-6
		}
		weighted = append(weighted, weightedColor{Col: col.Clamped(), Weight: w})
	}
	return selectDiverseWeightedColors(weighted, k)
}

// selectDiverseWeightedColors greedily picks k candidates, starting from the
// heaviest and then favoring colors far (in Lab) from those already chosen.
func selectDiverseWeightedColors(cands []weightedColor, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	type item struct {
		col colorful.Color
		lab [3]float64
		w   float64
	}
	items := make([]item, 0, len(cands))
	maxW := 0.0
	for _, c := range cands {
		col := c.Col.Clamped()
		l, a, b := col.Lab()
		w := max(c.Weight, 1e-6)
		maxW = max(maxW, w)
		items = append(items, item{col: col, lab: [3]float64{l, a, b}, w: w})
	}
	k = min(k, len(items))

	selectedIdx := make([]int, 0, k)
	selected := make([]bool, len(items))

	bestSeed := 0
	for i := 1; i < len(items); i++ {
		if items[i].w > items[bestSeed].w {
			bestSeed = i
		}
	}
	selectedIdx = append(selectedIdx, bestSeed)
	selected[bestSeed] = true

	for len(selectedIdx) < k {
		bestIdx := -1
		bestScore := -1.0
		for i := range items {
			if selected[i] {
				continue
			}
			minD2 := math.MaxFloat64
			for _, s := range selectedIdx {
				d0 := items[i].lab[0] - items[s].lab[0]
				d1 := items[i].lab[1] - items[s].lab[1]
				d2 := items[i].lab[2] - items[s].lab[2]
				minD2 = min(minD2, d0*d0+d1*d1+d2*d2)
			}
			normW := items[i].w / maxW
			score := math.Sqrt(minD2) * (0.55 + 0.45*math.Sqrt(normW))
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected[bestIdx] = true
		selectedIdx = append(selectedIdx, bestIdx)
	}

	out := make([]colorful.Color, 0, len(selectedIdx))
	for _, idx := range selectedIdx {
		out = append(out, items[idx].col)
	}
	return out
}

// DistinctColors returns the distinct 8-bit colors of samples in first-seen order.
func DistinctColors(samples []colorful.Color) []colorful.Color {
	seen := make(map[[3]uint8]bool)
	var out []colorful.Color
	for _, c := range samples {
		r, g, b := c.Clamped().RGB255()
		key := [3]uint8{r, g, b}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// ExtractKMeansPalette clusters samples into at most k colors and returns the
// centroids in cluster index order. When the samples hold no more than k
// distinct colors those colors are the palette. Above maxSamples the samples
// are taken with a fixed stride.
func ExtractKMeansPalette(samples []colorful.Color, k, maxSamples int) ([]colorful.Color, error) {
	if k <= 0 {
		return nil, errors.New("kmeans: k must be positive")
	}
	if len(samples) == 0 {
		return nil, errors.New("kmeans: no samples")
	}

	distinct := DistinctColors(samples)
	if len(distinct) <= k {
		return distinct, nil
	}

	step := 1
	if maxSamples > 0 && len(samples) > maxSamples {
		step = (len(samples) + maxSamples - 1) / maxSamples
	}
	dataset := make(clusters.Observations, 0, len(samples)/step+1)
	for i := 0; i < len(samples); i += step {
		c := samples[i]
		dataset = append(dataset, clusters.Coordinates{c.R, c.G, c.B})
	}
	if k > len(dataset) {
		k = len(dataset)
	}

	km := kmeans.New()
	cc, err := km.Partition(dataset, k)
	if err != nil {
		return nil, errors.Wrap(err, "kmeans partition")
	}

	palette := make([]colorful.Color, 0, len(cc))
	for _, c := range cc {
		if len(c.Observations) == 0 || len(c.Center) < 3 {
			continue
		}
		palette = append(palette, colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped())
	}
	return palette, nil
}

// DecodeImage decodes a PNG, JPEG, GIF or WebP image.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.WithMessage(ErrDecode, err.Error())
	}
	return img, nil
}

func ReadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer file.Close()
	img, err := DecodeImage(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return img, nil
}

func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "create image file")
	}
	defer f.Close()
	return errors.Wrap(png.Encode(f, img), "encode png")
}

// PaletteImage draws one tileSize square per palette color, left to right.
func PaletteImage(palette []colorful.Color, tileSize int) *image.RGBA {
	if tileSize <= 0 {
		tileSize = 64
	}
	img := image.NewRGBA(image.Rect(0, 0, tileSize*len(palette), tileSize))
	for i, c := range palette {
		r, g, b := c.Clamped().RGB255()
		x0 := i * tileSize
		for y := range tileSize {
			for x := x0; x < x0+tileSize; x++ {
				img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
			}
		}
	}
	return img
}

func SavePalette(palette []colorful.Color, tileSize int, filename string) error {
	if len(palette) == 0 {
		return errors.New("empty palette")
	}
	return SaveImage(PaletteImage(palette, tileSize), filename)
}
