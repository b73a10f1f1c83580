package canvas

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/forPelevin/trigreel/internal/ports"
)

const (
	ThumbnailQuality = 70
	SeamWidth        = 10
	SeamGlow         = 15
)

// SeamColor is the wipe boundary colour (#10b981).
var SeamColor = color.RGBA{R: 0x10, G: 0xb9, B: 0x81, A: 0xff}

// Surface is an in-memory RGBA drawable.
type Surface struct {
	img *image.RGBA
}

func New(w, h int) (*Surface, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("surface %dx%d: dimensions must be positive", w, h)
	}
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, w, h))}, nil
}

// Factory adapts New to ports.SurfaceFactory.
func Factory(w, h int) (ports.Surface, error) {
	s, err := New(w, h)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) Bounds() image.Rectangle { return s.img.Bounds() }

func (s *Surface) Image() *image.RGBA { return s.img }

// DrawFrame draws frame at (0,0), scaling when its size differs from the
// surface.
func (s *Surface) DrawFrame(frame image.Image) {
	if frame == nil {
		return
	}
	drawInto(s.img, s.img.Bounds(), frame)
}

func (s *Surface) DrawSnapshot(snap ports.Snapshot) {
	if snap == nil {
		return
	}
	s.DrawFrame(snap.Image())
}

// DrawWipe composites a left-to-right reveal of cur over prev. t is the
// elapsed fraction of the transition in [0,1].
func (s *Surface) DrawWipe(prev ports.Snapshot, cur image.Image, t float64) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	b := s.img.Bounds()
	if prev != nil {
		s.DrawSnapshot(prev)
	}
	edge := b.Min.X + int(t*float64(b.Dx()))
	if cur != nil && edge > b.Min.X {
		full := acquireFrame(b)
		drawInto(full, b, cur)
		clip := image.Rect(b.Min.X, b.Min.Y, edge, b.Max.Y)
		draw.Draw(s.img, clip, full, clip.Min, draw.Src)
		recycleFrame(full)
	}
	s.strokeSeam(edge)
}

func (s *Surface) strokeSeam(x int) {
	b := s.img.Bounds()
	half := SeamWidth / 2
	src := image.NewUniform(SeamColor)

	for d := 1; d <= SeamGlow; d++ {
		a := uint8(160 * (SeamGlow - d + 1) / (SeamGlow + 1))
		mask := image.NewUniform(color.Alpha{A: a})
		for _, col := range []int{x - half - d, x + half + d - 1} {
			r := image.Rect(col, b.Min.Y, col+1, b.Max.Y).Intersect(b)
			if !r.Empty() {
				draw.DrawMask(s.img, r, src, image.Point{}, mask, image.Point{}, draw.Over)
			}
		}
	}
	line := image.Rect(x-half, b.Min.Y, x+SeamWidth-half, b.Max.Y).Intersect(b)
	if !line.Empty() {
		draw.Draw(s.img, line, src, image.Point{}, draw.Src)
	}
}

// Region returns a view of r without copying.
func (s *Surface) Region(r image.Rectangle) image.Image {
	return s.img.SubImage(r.Intersect(s.img.Bounds()))
}

func (s *Surface) Snapshot() ports.Snapshot {
	img := acquireFrame(s.img.Rect)
	copy(img.Pix, s.img.Pix)
	return &snapshot{img: img}
}

// Thumbnail scales the surface to w x h and encodes it as JPEG.
func (s *Surface) Thumbnail(w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("thumbnail %dx%d: dimensions must be positive", w, h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), s.img, s.img.Bounds(), draw.Src, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func drawInto(dst *image.RGBA, r image.Rectangle, src image.Image) {
	sb := src.Bounds()
	if sb.Dx() == r.Dx() && sb.Dy() == r.Dy() {
		draw.Draw(dst, r, src, sb.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, r, src, sb, draw.Src, nil)
}

type snapshot struct {
	img      *image.RGBA
	released bool
}

func (s *snapshot) Image() image.Image { return s.img }

func (s *snapshot) Release() {
	if s.released {
		return
	}
	s.released = true
	recycleFrame(s.img)
}

var (
	_ ports.Surface        = (*Surface)(nil)
	_ ports.SurfaceFactory = Factory
)
