package voxelstl

import "github.com/pkg/errors"

var (
	// ErrNoImage is returned when a build is started without an input image.
	ErrNoImage = errors.New("no image loaded")
	// ErrEmptyImage is returned for images with a zero-sized canvas.
	ErrEmptyImage = errors.New("image has no pixels")
	// ErrInvalidColorCount is returned when fewer than one palette color is requested.
	ErrInvalidColorCount = errors.New("color count must be at least 1")
	ErrInvalidOptions    = errors.New("invalid options")
)
