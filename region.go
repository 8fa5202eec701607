package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	DefaultMinCropSize     = 50
	DefaultInitialFraction = 0.6
)

// Region is a crop selection in container-local pixels.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Region) String() string {
	return fmt.Sprintf("region(x=%.2f,y=%.2f,w=%.2f,h=%.2f)", r.X, r.Y, r.Width, r.Height)
}

// Constraints bound every crop region a Controller produces.
type Constraints struct {
	MinSize float64 `json:"minSize" yaml:"min_size"`
	Square  bool    `json:"square" yaml:"square"`
}

// DefaultConstraints returns a square region with a 50px minimum side.
func DefaultConstraints() Constraints {
	return Constraints{MinSize: DefaultMinCropSize, Square: true}
}

// InitialRegion returns a centred square covering fraction of the
// image's smaller rendered dimension.
func InitialRegion(layout ImageLayout, fraction float64, c Constraints) Region {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultInitialFraction
	}
	side := math.Min(layout.DisplayWidth, layout.DisplayHeight) * fraction
	r := Region{
		X:      layout.DisplayOffsetX + (layout.DisplayWidth-side)/2,
		Y:      layout.DisplayOffsetY + (layout.DisplayHeight-side)/2,
		Width:  side,
		Height: side,
	}
	return Constrain(r, layout, c)
}

// Constrain clamps r into the rendered image. Size limits are applied
// before position so a region pushed against an edge shrinks in place.
// When the image is rendered smaller than MinSize the image size wins.
func Constrain(r Region, layout ImageLayout, c Constraints) Region {
	r.Width = math.Max(r.Width, c.MinSize)
	r.Height = math.Max(r.Height, c.MinSize)

	r.Width = math.Min(r.Width, layout.DisplayWidth)
	r.Height = math.Min(r.Height, layout.DisplayHeight)

	if c.Square {
		side := math.Min(r.Width, r.Height)
		r.Width, r.Height = side, side
	}

	r.X = clamp(r.X, layout.DisplayOffsetX, layout.DisplayOffsetX+layout.DisplayWidth-r.Width)
	r.Y = clamp(r.Y, layout.DisplayOffsetY, layout.DisplayOffsetY+layout.DisplayHeight-r.Height)
	return r
}

// relocate maps r from one layout into another, keeping its position and
// size relative to the rendered image.
func relocate(r Region, from, to ImageLayout) Region {
	sx := to.DisplayWidth / from.DisplayWidth
	sy := to.DisplayHeight / from.DisplayHeight
	return Region{
		X:      to.DisplayOffsetX + (r.X-from.DisplayOffsetX)*sx,
		Y:      to.DisplayOffsetY + (r.Y-from.DisplayOffsetY)*sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}

// Handle is one of the eight resize grips around a crop region.
type Handle int

const (
	HandleN Handle = iota + 1
	HandleNE
	HandleE
	HandleSE
	HandleS
	HandleSW
	HandleW
	HandleNW
)

var handleNames = map[Handle]string{
	HandleN:  "n",
	HandleNE: "ne",
	HandleE:  "e",
	HandleSE: "se",
	HandleS:  "s",
	HandleSW: "sw",
	HandleW:  "w",
	HandleNW: "nw",
}

// ParseHandle parses a compass handle name such as "nw" or "e".
func ParseHandle(s string) (Handle, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for h, name := range handleNames {
		if name == s {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown handle %q", s)
}

func (h Handle) String() string {
	if name, ok := handleNames[h]; ok {
		return name
	}
	return fmt.Sprintf("handle(%d)", int(h))
}

func (h Handle) MarshalJSON() ([]byte, error) {
	if _, ok := handleNames[h]; !ok {
		return nil, fmt.Errorf("unknown handle %d", int(h))
	}
	return json.Marshal(h.String())
}

func (h *Handle) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to unmarshal handle: %w", err)
	}
	parsed, err := ParseHandle(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// edges reports which sides of the region the handle moves: -1 for the
// left/top edge, +1 for the right/bottom edge, 0 when the axis is untouched.
func (h Handle) edges() (ex, ey int) {
	switch h {
	case HandleN:
		return 0, -1
	case HandleNE:
		return 1, -1
	case HandleE:
		return 1, 0
	case HandleSE:
		return 1, 1
	case HandleS:
		return 0, 1
	case HandleSW:
		return -1, 1
	case HandleW:
		return -1, 0
	case HandleNW:
		return -1, -1
	}
	return 0, 0
}

func (h Handle) corner() bool {
	ex, ey := h.edges()
	return ex != 0 && ey != 0
}
