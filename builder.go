package voxelstl

import (
	"context"
	"image"
	"io"
	"log"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/setanarut/voxelstl/stl"
)

const stlHeader = "voxelstl binary STL"

// Builder turns one image into a layered voxel model.
// Fields are filled stage by stage by Build.
type Builder struct {
	InputImage image.Image
	Options    Options
	// Scaled input, origin at (0,0).
	Canvas *image.RGBA
	Grid   *TileGrid
	// One color per band, Colors.Order parsed.
	Palette []colorful.Color
	// Band index per tile, row-major. Unassigned for transparent tiles.
	Assign []int
	Colors *ColorMap
	Model  *Model
	// Progress goes here when non-nil.
	Logger *log.Logger
}

func NewBuilder(input image.Image) *Builder {
	return &Builder{InputImage: input}
}

func (b *Builder) logf(format string, args ...any) {
	if b.Logger != nil {
		b.Logger.Printf(format, args...)
	}
}

// Build runs scale → pixelate → palette → order → assign → color map → model.
// ctx is checked between stages; a cancelled build leaves the previous
// result in place.
func (b *Builder) Build(ctx context.Context, opt Options) error {
	if b.InputImage == nil {
		return ErrNoImage
	}
	if err := opt.Validate(); err != nil {
		return err
	}
	opt = opt.ResolveBlockSize(b.InputImage.Bounds().Size())

	canvas := Scale(b.InputImage, opt.MaxSize)
	if canvas.Bounds().Empty() {
		return ErrEmptyImage
	}
	b.logf("   canvas %dx%d", canvas.Bounds().Dx(), canvas.Bounds().Dy())

	grid, err := Pixelate(ctx, canvas, opt.BlockSize, opt.Workers)
	if err != nil {
		return errors.Wrap(err, "pixelate")
	}
	b.logf("   %dx%d tiles of %dpx", grid.Cols, grid.Rows, grid.Block)
	if err := ctx.Err(); err != nil {
		return err
	}

	palette, err := ExtractPalette(grid, opt.Colors, opt.Method, opt.MaxSamples)
	if err != nil {
		return errors.Wrap(err, "palette")
	}
	assign := Assign(grid, palette)
	perm := OrderPalette(palette, Counts(assign, len(palette)), opt.Order)
	palette, assign, err = Permute(palette, assign, perm)
	if err != nil {
		return err
	}
	b.logf("   %s palette of %d colors, %s order", opt.Method, len(palette), opt.Order)
	if err := ctx.Err(); err != nil {
		return err
	}

	colors := NewColorMap(grid, palette, assign)
	palette, assign = colors.Remap(palette, assign)
	b.logf("   %d bands of %.2fmm", len(colors.Order), opt.BandHeight())
	model, err := BuildModel(ctx, colors, grid.Rows, opt.Geometry())
	if err != nil {
		return errors.Wrap(err, "voxel model")
	}
	st := model.Stats()
	b.logf("   %d tiles -> %d boxes (avg run %.2f), %d triangles", st.Tiles, st.Boxes, st.AvgRun, st.Triangles)

	b.Options = opt
	b.Canvas = canvas
	b.Grid = grid
	b.Palette = palette
	b.Assign = assign
	b.Colors = colors
	b.Model = model
	return nil
}

// Preview is the quantized blocky image, or nil before a successful Build.
func (b *Builder) Preview() *image.RGBA {
	if b.Grid == nil {
		return nil
	}
	return Repaint(b.Grid, b.Palette, b.Assign)
}

func (b *Builder) Stats() Stats {
	if b.Model == nil {
		return Stats{}
	}
	return b.Model.Stats()
}

// WriteSTL writes the whole model as binary STL.
func (b *Builder) WriteSTL(w io.Writer) error {
	if b.Model == nil {
		return ErrNoImage
	}
	return stl.Encode(w, stlHeader, b.Model.Triangles())
}

// SaveSTL writes the model to path. Nothing is left at path on failure.
func (b *Builder) SaveSTL(path string) error {
	if b.Model == nil {
		return ErrNoImage
	}
	return stl.WriteFile(path, stlHeader, b.Model.Triangles())
}

// WriteBandSTL writes a single color band, for one file per material.
func (b *Builder) WriteBandSTL(w io.Writer, band int) error {
	if b.Model == nil {
		return ErrNoImage
	}
	if band < 0 || band >= b.Model.Bands {
		return errors.Errorf("band %d out of range [0,%d)", band, b.Model.Bands)
	}
	return stl.Encode(w, stlHeader+" "+b.Colors.Order[band], b.Model.BandTriangles(band))
}

// Reset drops every derived result so a new image can be loaded.
func (b *Builder) Reset(input image.Image) {
	*b = Builder{InputImage: input, Logger: b.Logger}
}
