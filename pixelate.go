package voxelstl

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// ScaledSize fits src inside a maxSize×maxSize square keeping the aspect
// ratio. Sizes already inside the bound are returned unchanged.
func ScaledSize(src image.Point, maxSize int) image.Point {
	if src.X <= 0 || src.Y <= 0 || maxSize <= 0 {
		return image.Point{}
	}
	long := max(src.X, src.Y)
	if long <= maxSize {
		return src
	}
	scale := float64(maxSize) / float64(long)
	return image.Point{
		X: max(1, int(math.Round(float64(src.X)*scale))),
		Y: max(1, int(math.Round(float64(src.Y)*scale))),
	}
}

// Scale draws img onto a canvas of ScaledSize with its origin at (0,0).
func Scale(img image.Image, maxSize int) *image.RGBA {
	size := ScaledSize(img.Bounds().Size(), maxSize)
	canvas := image.NewRGBA(image.Rectangle{Max: size})
	if size.X == 0 || size.Y == 0 {
		return canvas
	}
	src := img
	if size != img.Bounds().Size() {
		src = resize.Resize(uint(size.X), uint(size.Y), img, resize.Bilinear)
	}
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)
	return canvas
}

// TileGrid holds one averaged color per block×block tile of a canvas.
type TileGrid struct {
	Cols, Rows int
	Block      int
	Bounds     image.Rectangle
	Colors     []color.RGBA // row-major, len = Cols*Rows
}

func (g *TileGrid) At(x, y int) color.RGBA {
	return g.Colors[y*g.Cols+x]
}

// TileRect is the canvas region covered by tile (x, y), clipped to Bounds.
func (g *TileGrid) TileRect(x, y int) image.Rectangle {
	r := image.Rect(x*g.Block, y*g.Block, (x+1)*g.Block, (y+1)*g.Block)
	return r.Add(g.Bounds.Min).Intersect(g.Bounds)
}

func (g *TileGrid) Len() int {
	return len(g.Colors)
}

// Image renders the blocky canvas: every tile region is filled with its average.
func (g *TileGrid) Image() *image.RGBA {
	img := image.NewRGBA(g.Bounds)
	for y := range g.Rows {
		for x := range g.Cols {
			draw.Draw(img, g.TileRect(x, y), image.NewUniform(g.At(x, y)), image.Point{}, draw.Src)
		}
	}
	return img
}

// Transparent reports whether tile i, row-major, averaged to zero alpha.
// Transparent tiles carry no color and are left out of the model.
func (g *TileGrid) Transparent(i int) bool {
	return g.Colors[i].A == 0
}

// Opaque is the number of tiles that are not transparent.
func (g *TileGrid) Opaque() int {
	n := 0
	for i := range g.Colors {
		if !g.Transparent(i) {
			n++
		}
	}
	return n
}

// Samples returns the colors of the non-transparent tiles in row-major order.
func (g *TileGrid) Samples() []colorful.Color {
	out := make([]colorful.Color, 0, len(g.Colors))
	for i, c := range g.Colors {
		if g.Transparent(i) {
			continue
		}
		col, _ := colorful.MakeColor(c)
		out = append(out, col)
	}
	return out
}

// Pixelate block-averages canvas into blockSize×blockSize tiles. Tiles on the
// right and bottom edges average only the pixels inside the canvas. Rows of
// tiles are shared between workers goroutines.
func Pixelate(ctx context.Context, canvas *image.RGBA, blockSize, workers int) (*TileGrid, error) {
	b := canvas.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}
	if blockSize < 1 {
		blockSize = 1
	}
	g := &TileGrid{
		Cols:   (b.Dx() + blockSize - 1) / blockSize,
		Rows:   (b.Dy() + blockSize - 1) / blockSize,
		Block:  blockSize,
		Bounds: b,
	}
	g.Colors = make([]color.RGBA, g.Cols*g.Rows)

	workers = max(1, min(workers, g.Rows))
	rows := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ty := range rows {
				for tx := range g.Cols {
					g.Colors[ty*g.Cols+tx] = averageTile(canvas, g.TileRect(tx, ty))
				}
			}
		}()
	}

	var err error
feed:
	for ty := range g.Rows {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case rows <- ty:
		}
	}
	close(rows)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return g, nil
}

// averageTile returns the mean color of r, each channel rounded half up.
func averageTile(img *image.RGBA, r image.Rectangle) color.RGBA {
	var sr, sg, sb, sa, n int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			sr += int(img.Pix[off])
			sg += int(img.Pix[off+1])
			sb += int(img.Pix[off+2])
			sa += int(img.Pix[off+3])
			off += 4
			n++
		}
	}
	if n == 0 {
		return color.RGBA{}
	}
	half := n / 2
	return color.RGBA{
		R: uint8((sr + half) / n),
		G: uint8((sg + half) / n),
		B: uint8((sb + half) / n),
		A: uint8((sa + half) / n),
	}
}
