package main

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGeometry is returned when a container or image size cannot
// produce a layout (zero, negative or not finite).
var ErrInvalidGeometry = errors.New("invalid geometry")

type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (s Size) valid() bool {
	return positiveFinite(s.W) && positiveFinite(s.H)
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.W, s.H)
}

// ImageLayout is the rectangle an image occupies inside its container
// under "contain" scaling, plus the image's natural pixel size.
type ImageLayout struct {
	DisplayWidth   float64 `json:"displayWidth"`
	DisplayHeight  float64 `json:"displayHeight"`
	DisplayOffsetX float64 `json:"displayOffsetX"`
	DisplayOffsetY float64 `json:"displayOffsetY"`
	NaturalWidth   float64 `json:"naturalWidth"`
	NaturalHeight  float64 `json:"naturalHeight"`
}

// ComputeLayout fits an image of the natural size into the container,
// preserving its aspect ratio and centring it on the letterboxed axis.
func ComputeLayout(container, natural Size) (ImageLayout, error) {
	if !container.valid() {
		return ImageLayout{}, fmt.Errorf("container %s: %w", container, ErrInvalidGeometry)
	}
	if !natural.valid() {
		return ImageLayout{}, fmt.Errorf("natural size %s: %w", natural, ErrInvalidGeometry)
	}

	naturalAspect := natural.W / natural.H
	containerAspect := container.W / container.H

	layout := ImageLayout{
		NaturalWidth:  natural.W,
		NaturalHeight: natural.H,
	}
	if naturalAspect > containerAspect {
		layout.DisplayWidth = container.W
		layout.DisplayHeight = container.W / naturalAspect
		layout.DisplayOffsetY = (container.H - layout.DisplayHeight) / 2
	} else {
		layout.DisplayHeight = container.H
		layout.DisplayWidth = container.H * naturalAspect
		layout.DisplayOffsetX = (container.W - layout.DisplayWidth) / 2
	}
	return layout, nil
}

// Valid reports whether the layout can be used for cropping.
func (l ImageLayout) Valid() bool {
	return positiveFinite(l.DisplayWidth) && positiveFinite(l.DisplayHeight) &&
		positiveFinite(l.NaturalWidth) && positiveFinite(l.NaturalHeight)
}

// Rect returns the rendered image rectangle in container coordinates.
func (l ImageLayout) Rect() Region {
	return Region{
		X:      l.DisplayOffsetX,
		Y:      l.DisplayOffsetY,
		Width:  l.DisplayWidth,
		Height: l.DisplayHeight,
	}
}

// Contains reports whether r lies fully inside the rendered image,
// allowing for floating point noise.
func (l ImageLayout) Contains(r Region) bool {
	const eps = 1e-9
	return r.X >= l.DisplayOffsetX-eps &&
		r.Y >= l.DisplayOffsetY-eps &&
		r.X+r.Width <= l.DisplayOffsetX+l.DisplayWidth+eps &&
		r.Y+r.Height <= l.DisplayOffsetY+l.DisplayHeight+eps
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
