package voxelstl

import (
	"image"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

type PaletteMethod int

const (
	PaletteMethodKMeans PaletteMethod = iota
	PaletteMethodDominantColor
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodDominantColor:
		return "dominantcolor"
	default:
		return "kmeans"
	}
}

// ParsePaletteMethod accepts the names produced by PaletteMethod.String.
func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kmeans":
		return PaletteMethodKMeans, nil
	case "dominantcolor", "dominant":
		return PaletteMethodDominantColor, nil
	}
	return 0, errors.Wrapf(ErrInvalidOptions, "unknown palette method %q", s)
}

// BandOrder decides which palette color gets which z band.
type BandOrder int

const (
	// OrderCluster keeps the k-means cluster index order.
	OrderCluster BandOrder = iota
	// OrderBrightness puts the darkest color on the bottom band.
	OrderBrightness
	// OrderPopulation puts the color covering the most tiles on the bottom band.
	OrderPopulation
)

func (o BandOrder) String() string {
	switch o {
	case OrderBrightness:
		return "brightness"
	case OrderPopulation:
		return "population"
	default:
		return "cluster"
	}
}

func ParseBandOrder(s string) (BandOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cluster":
		return OrderCluster, nil
	case "brightness":
		return OrderBrightness, nil
	case "population":
		return OrderPopulation, nil
	}
	return 0, errors.Wrapf(ErrInvalidOptions, "unknown band order %q", s)
}

// AutoBlockSize asks Build to pick the block size from the image size.
const AutoBlockSize = 0

type Options struct {
	// Bound on the longer canvas edge in pixels.
	// Larger inputs are scaled down to fit, smaller ones are left alone.
	MaxSize int
	// Tile edge in canvas pixels. Each tile becomes one voxel column.
	// AutoBlockSize derives it from the image size at build time.
	BlockSize int
	// Palette size K.
	Colors int
	// Physical tile edge in millimeters (nozzle / pixel size).
	NozzleSize float64
	// Print layer height in millimeters.
	LayerHeight float64
	// Print layers per color band. Band height = LayerHeight*ColorLayers.
	ColorLayers int
	Method      PaletteMethod
	Order       BandOrder
	// Extrude every column from z=0 instead of floating it at its band.
	Solid bool
	// Upper bound on the number of tiles fed to k-means.
	MaxSamples int
	// Goroutines used for block averaging.
	Workers int
}

func DefaultOptions() Options {
	return Options{
		MaxSize:     256,
		BlockSize:   AutoBlockSize,
		Colors:      4,
		NozzleSize:  0.4,
		LayerHeight: 0.2,
		ColorLayers: 3,
		Method:      PaletteMethodKMeans,
		Order:       OrderCluster,
		MaxSamples:  12000,
		Workers:     runtime.NumCPU(),
	}
}

// ResolveBlockSize replaces an AutoBlockSize with one derived from the input
// image size, so the scaled canvas yields roughly 64-128 tiles along its
// longer edge. An explicit block size is kept.
func (o Options) ResolveBlockSize(size image.Point) Options {
	if o.BlockSize != AutoBlockSize {
		return o
	}
	o.BlockSize = 1
	scaled := ScaledSize(size, o.MaxSize)
	long := max(scaled.X, scaled.Y)
	if long <= 0 {
		return o
	}
	target := 96
	if long <= 128 {
		target = 64
	}
	o.BlockSize = max(1, min(16, long/target))
	return o
}

// BandHeight is the z extent of one color band in millimeters.
func (o Options) BandHeight() float64 {
	return o.Geometry().BandHeight()
}

func (o Options) Validate() error {
	switch {
	case o.Colors < 1:
		return ErrInvalidColorCount
	case o.MaxSize < 1:
		return errors.Wrapf(ErrInvalidOptions, "max size %d", o.MaxSize)
	case o.BlockSize < AutoBlockSize:
		return errors.Wrapf(ErrInvalidOptions, "block size %d", o.BlockSize)
	case o.NozzleSize <= 0:
		return errors.Wrapf(ErrInvalidOptions, "nozzle size %g", o.NozzleSize)
	case o.LayerHeight <= 0:
		return errors.Wrapf(ErrInvalidOptions, "layer height %g", o.LayerHeight)
	case o.ColorLayers < 1:
		return errors.Wrapf(ErrInvalidOptions, "color layers %d", o.ColorLayers)
	case o.Method != PaletteMethodKMeans && o.Method != PaletteMethodDominantColor:
		return errors.Wrapf(ErrInvalidOptions, "palette method %d", int(o.Method))
	case o.Order < OrderCluster || o.Order > OrderPopulation:
		return errors.Wrapf(ErrInvalidOptions, "band order %d", int(o.Order))
	}
	return nil
}

func (o Options) Geometry() Geometry {
	return Geometry{
		NozzleSize:  o.NozzleSize,
		LayerHeight: o.LayerHeight,
		ColorLayers: o.ColorLayers,
		Solid:       o.Solid,
	}
}
