package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/webp"
)

const (
	DefaultOutputSize = 300
	DefaultQuality    = 90
)

// ErrDecode is returned when the source image cannot be decoded.
var ErrDecode = errors.New("failed to decode image")

// SourceRect is a crop rectangle in natural image pixels.
type SourceRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ComputeSourceRect maps a container-local region onto the image's natural
// pixels, clamped to the image so edge rounding never reads outside it.
func ComputeSourceRect(layout ImageLayout, region Region) (SourceRect, error) {
	if !layout.Valid() {
		return SourceRect{}, ErrNoLayout
	}

	scaleX := layout.NaturalWidth / layout.DisplayWidth
	scaleY := layout.NaturalHeight / layout.DisplayHeight

	x0 := (region.X - layout.DisplayOffsetX) * scaleX
	y0 := (region.Y - layout.DisplayOffsetY) * scaleY
	x1 := x0 + region.Width*scaleX
	y1 := y0 + region.Height*scaleY

	x0 = clamp(x0, 0, layout.NaturalWidth)
	y0 = clamp(y0, 0, layout.NaturalHeight)
	x1 = clamp(x1, 0, layout.NaturalWidth)
	y1 = clamp(y1, 0, layout.NaturalHeight)

	if x1-x0 <= 0 || y1-y0 <= 0 {
		return SourceRect{}, fmt.Errorf("crop %s is outside the image: %w", region, ErrInvalidGeometry)
	}
	return SourceRect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, nil
}

// ExportJob describes one crop export in container coordinates.
type ExportJob struct {
	Layout     ImageLayout
	Region     Region
	OutputSize int
	Quality    int
}

// Exporter renders a crop region of an encoded image into an avatar.
type Exporter interface {
	Export(ctx context.Context, r io.Reader, w io.Writer, job ExportJob) error
}

// ImagingExporter renders square avatars: it decodes the source with the
// imaging library and scales the selected rectangle with x/image/draw.
type ImagingExporter struct{}

// NewImagingExporter returns an exporter backed by imaging and x/image/draw.
func NewImagingExporter() *ImagingExporter {
	return &ImagingExporter{}
}

// Export reads an image from r, renders the job's region into an
// OutputSize x OutputSize JPEG and writes it to w.
func (e *ImagingExporter) Export(ctx context.Context, r io.Reader, w io.Writer, job ExportJob) error {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	layout := job.Layout
	if !layout.Valid() {
		return ErrNoLayout
	}
	// Natural size comes from the decoded pixels, which are already
	// oriented; the header size the layout was built from may not be.
	bounds := src.Bounds()
	layout.NaturalWidth = float64(bounds.Dx())
	layout.NaturalHeight = float64(bounds.Dy())

	rect, err := ComputeSourceRect(layout, job.Region)
	if err != nil {
		return err
	}

	out := Render(src, rect, job.outputSize())
	return imaging.Encode(w, out, imaging.JPEG, imaging.JPEGQuality(job.quality()))
}

func (j ExportJob) outputSize() int {
	if j.OutputSize <= 0 {
		return DefaultOutputSize
	}
	return j.OutputSize
}

func (j ExportJob) quality() int {
	if j.Quality <= 0 || j.Quality > 100 {
		return DefaultQuality
	}
	return j.Quality
}

// Render draws rect of src scaled to fill a size x size opaque white canvas.
func Render(src image.Image, rect SourceRect, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	bounds := src.Bounds()
	sx := float64(size) / rect.Width
	sy := float64(size) / rect.Height
	ox := float64(bounds.Min.X) + rect.X
	oy := float64(bounds.Min.Y) + rect.Y

	// source-to-destination transform
	m := f64.Aff3{
		sx, 0, -ox * sx,
		0, sy, -oy * sy,
	}
	sr := image.Rect(
		bounds.Min.X+int(math.Floor(rect.X)),
		bounds.Min.Y+int(math.Floor(rect.Y)),
		bounds.Min.X+int(math.Ceil(rect.X+rect.Width)),
		bounds.Min.Y+int(math.Ceil(rect.Y+rect.Height)),
	).Intersect(bounds)

	draw.CatmullRom.Transform(dst, m, src, sr, draw.Over, nil)
	return dst
}

// EncodeDataURL wraps encoded image bytes in a data URL.
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
