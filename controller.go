package main

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoLayout is returned when an operation needs a loaded image.
var ErrNoLayout = errors.New("image layout not available")

// Point is a position in container-local coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// InteractionKind is the gesture a Controller is currently tracking.
type InteractionKind int

const (
	Idle InteractionKind = iota
	Dragging
	Resizing
)

func (k InteractionKind) String() string {
	switch k {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

func (k InteractionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *InteractionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*k = Idle
	case "dragging":
		*k = Dragging
	case "resizing":
		*k = Resizing
	default:
		return fmt.Errorf("unknown interaction %q", text)
	}
	return nil
}

// interaction is the active pointer gesture. Only the fields belonging
// to kind are meaningful.
type interaction struct {
	kind InteractionKind

	// Dragging
	offset Point

	// Resizing
	handle  Handle
	initial Region
	origin  Point
}

// Controller tracks one crop region over a loaded image and applies
// pointer gestures to it. Pointer positions are container-local.
type Controller struct {
	constraints Constraints
	fraction    float64

	layout *ImageLayout
	region Region
	state  interaction
}

// NewController returns an inert controller. It becomes active once a
// layout is installed with SetLayout.
func NewController(c Constraints, initialFraction float64) *Controller {
	return &Controller{constraints: c, fraction: initialFraction}
}

// SetLayout installs a freshly computed layout and re-initialises the
// region, as happens whenever the dialog opens or the image changes.
func (c *Controller) SetLayout(layout ImageLayout) {
	c.layout = &layout
	c.region = InitialRegion(layout, c.fraction, c.constraints)
	c.state = interaction{}
}

// Relayout keeps the current selection when only the container changed.
func (c *Controller) Relayout(layout ImageLayout) {
	if c.layout == nil {
		c.SetLayout(layout)
		return
	}
	c.region = Constrain(relocate(c.region, *c.layout, layout), layout, c.constraints)
	c.layout = &layout
	c.state = interaction{}
}

// Reset discards everything, leaving the controller inert.
func (c *Controller) Reset() {
	c.layout = nil
	c.region = Region{}
	c.state = interaction{}
}

// Layout returns the installed layout, if any.
func (c *Controller) Layout() (ImageLayout, bool) {
	if c.layout == nil {
		return ImageLayout{}, false
	}
	return *c.layout, true
}

// Region returns the current crop region. It is only meaningful while a
// layout is installed.
func (c *Controller) Region() (Region, bool) {
	if c.layout == nil {
		return Region{}, false
	}
	return c.region, true
}

// State reports the active gesture.
func (c *Controller) State() InteractionKind {
	return c.state.kind
}

// StartDrag begins moving the region, keeping the grab offset between p
// and the region origin. It returns false without a layout.
func (c *Controller) StartDrag(p Point) bool {
	if c.layout == nil {
		return false
	}
	c.state = interaction{
		kind:   Dragging,
		offset: p.Sub(Point{X: c.region.X, Y: c.region.Y}),
	}
	return true
}

// StartResize snapshots the region and begins resizing from handle h.
func (c *Controller) StartResize(p Point, h Handle) bool {
	if c.layout == nil {
		return false
	}
	if ex, ey := h.edges(); ex == 0 && ey == 0 {
		return false
	}
	c.state = interaction{
		kind:    Resizing,
		handle:  h,
		initial: c.region,
		origin:  p,
	}
	return true
}

// UpdatePointer applies a pointer move to the active gesture and reports
// whether the region was recomputed.
func (c *Controller) UpdatePointer(p Point) bool {
	if c.layout == nil {
		return false
	}
	switch c.state.kind {
	case Dragging:
		pos := p.Sub(c.state.offset)
		c.region = Constrain(Region{
			X:      pos.X,
			Y:      pos.Y,
			Width:  c.region.Width,
			Height: c.region.Height,
		}, *c.layout, c.constraints)
	case Resizing:
		c.region = Constrain(c.resized(p.Sub(c.state.origin)), *c.layout, c.constraints)
	default:
		return false
	}
	return true
}

// EndInteraction returns the controller to Idle and keeps the region.
func (c *Controller) EndInteraction() {
	c.state = interaction{}
}

// resized recomputes the region from the snapshot taken at StartResize.
// Each axis the handle controls gets a growth value: the pointer delta,
// negated for the left and top edges. In square mode corners use the
// growth of larger magnitude on both axes and edges apply their single
// growth to both axes around the perpendicular centre.
func (c *Controller) resized(delta Point) Region {
	start := c.state.initial
	ex, ey := c.state.handle.edges()

	gx := float64(ex) * delta.X
	gy := float64(ey) * delta.Y

	if c.constraints.Square {
		var g float64
		switch {
		case ex != 0 && ey != 0:
			g = gx
			if math.Abs(gy) > math.Abs(gx) {
				g = gy
			}
		case ex != 0:
			g = gx
		default:
			g = gy
		}
		gx, gy = g, g
	}

	minSize := c.constraints.MinSize
	w := math.Max(start.Width+gx, minSize)
	h := math.Max(start.Height+gy, minSize)

	r := Region{Width: w, Height: h}
	r.X = anchor(start.X, start.Width, w, ex, c.constraints.Square && ex == 0)
	r.Y = anchor(start.Y, start.Height, h, ey, c.constraints.Square && ey == 0)
	return r
}

// anchor positions one axis of a resized region: the edge opposite the
// moving one stays fixed, or the centre stays fixed when centred is set.
func anchor(pos, oldSize, newSize float64, edge int, centred bool) float64 {
	switch {
	case edge < 0:
		return pos + oldSize - newSize
	case centred:
		return pos + (oldSize-newSize)/2
	default:
		return pos
	}
}
