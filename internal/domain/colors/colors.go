package colors

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/forPelevin/trigreel/internal/types"
)

var ErrEmptyRegion = errors.New("sample region is empty")

// Average returns the per-channel mean of the pixels in rect, floored to an
// integer. Pixels of rect outside the image bounds count as black.
func Average(img image.Image, rect image.Rectangle) (types.RGB, error) {
	if img == nil {
		return types.RGB{}, errors.New("nil image")
	}
	if rect.Empty() {
		return types.RGB{}, ErrEmptyRegion
	}
	r := rect.Intersect(img.Bounds())

	var sr, sg, sb uint64
	if rgba, ok := img.(*image.RGBA); ok {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := rgba.PixOffset(r.Min.X, y)
			row := rgba.Pix[off : off+r.Dx()*4]
			for i := 0; i < len(row); i += 4 {
				sr += uint64(row[i])
				sg += uint64(row[i+1])
				sb += uint64(row[i+2])
			}
		}
	} else {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				cr, cg, cb, _ := img.At(x, y).RGBA()
				sr += uint64(cr >> 8)
				sg += uint64(cg >> 8)
				sb += uint64(cb >> 8)
			}
		}
	}

	n := uint64(rect.Dx()) * uint64(rect.Dy())
	return types.RGB{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n)}, nil
}

// Distance is the Euclidean distance between two colors in RGB space.
func Distance(a, b types.RGB) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// Matches reports whether sample is strictly closer to ref than tolerance.
func Matches(sample, ref types.RGB, tolerance float64) bool {
	return Distance(sample, ref) < tolerance
}

func Hex(c types.RGB) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseHex accepts "#rrggbb" or "rrggbb".
func ParseHex(s string) (types.RGB, error) {
	v := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(v) != 6 {
		return types.RGB{}, fmt.Errorf("invalid hex color %q", s)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return types.RGB{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return types.RGB{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
}
