package compare

import (
	"image"
	"image/color"
	"math"
)

// DiffOptions tunes the per-pixel comparison.
type DiffOptions struct {
	// Threshold in [0,1]: maximum tolerated perceptual color distance.
	Threshold float64
	// IncludeAA counts anti-aliased pixels as differences.
	IncludeAA bool
	// Alpha is the opacity of unchanged pixels drawn into the diff image.
	Alpha     float64
	DiffColor color.NRGBA
	AAColor   color.NRGBA
}

// DefaultDiffOptions mirrors the stock configuration.
func DefaultDiffOptions() DiffOptions {
	return DiffOptions{
		Threshold: 0.2,
		Alpha:     0.1,
		DiffColor: color.NRGBA{R: 255, G: 0, B: 255, A: 255},
		AAColor:   color.NRGBA{R: 255, G: 255, B: 0, A: 255},
	}
}

// maxYIQDelta is the largest possible value of the YIQ distance.
const maxYIQDelta = 35215

// Diff counts the pixels of a and b whose color distance exceeds the
// threshold and paints the diff image: differing pixels in DiffColor,
// anti-aliasing in AAColor, everything else as a faded grayscale copy of a.
// Both images must share the same bounds.
func Diff(a, b *image.NRGBA, opts DiffOptions) (int, *image.NRGBA) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	maxDelta := maxYIQDelta * opts.Threshold * opts.Threshold

	diff := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ia := a.PixOffset(a.Rect.Min.X+x, a.Rect.Min.Y+y)
			ib := b.PixOffset(b.Rect.Min.X+x, b.Rect.Min.Y+y)
			io := out.PixOffset(x, y)

			delta := colorDelta(a.Pix[ia:ia+4], b.Pix[ib:ib+4], false)
			if math.Abs(delta) > maxDelta {
				if !opts.IncludeAA && (antialiased(a, x, y, b) || antialiased(b, x, y, a)) {
					setPixel(out.Pix[io:io+4], opts.AAColor)
					continue
				}
				setPixel(out.Pix[io:io+4], opts.DiffColor)
				diff++
				continue
			}
			drawGray(out.Pix[io:io+4], a.Pix[ia:ia+4], opts.Alpha)
		}
	}
	return diff, out
}

func setPixel(dst []uint8, c color.NRGBA) {
	dst[0], dst[1], dst[2], dst[3] = c.R, c.G, c.B, 255
}

func drawGray(dst, src []uint8, alpha float64) {
	y := rgb2y(float64(src[0]), float64(src[1]), float64(src[2]))
	v := uint8(math.Round(blend(y, alpha*float64(src[3])/255)))
	dst[0], dst[1], dst[2], dst[3] = v, v, v, 255
}

// colorDelta is the perceptual YIQ distance between two NRGBA pixels,
// signed by which one is brighter. yOnly returns the luma difference alone.
func colorDelta(p1, p2 []uint8, yOnly bool) float64 {
	if p1[0] == p2[0] && p1[1] == p2[1] && p1[2] == p2[2] && p1[3] == p2[3] {
		return 0
	}
	r1, g1, b1, a1 := float64(p1[0]), float64(p1[1]), float64(p1[2]), float64(p1[3])
	r2, g2, b2, a2 := float64(p2[0]), float64(p2[1]), float64(p2[2]), float64(p2[3])

	// Translucent pixels are composed over white.
	if a1 < 255 {
		a1 /= 255
		r1, g1, b1 = blend(r1, a1), blend(g1, a1), blend(b1, a1)
	}
	if a2 < 255 {
		a2 /= 255
		r2, g2, b2 = blend(r2, a2), blend(g2, a2), blend(b2, a2)
	}

	y1, y2 := rgb2y(r1, g1, b1), rgb2y(r2, g2, b2)
	y := y1 - y2
	if yOnly {
		return y
	}
	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)
	delta := 0.5053*y*y + 0.299*i*i + 0.1957*q*q
	if y1 > y2 {
		return -delta
	}
	return delta
}

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

func blend(c, a float64) float64 { return 255 + (c-255)*a }

func pixelAt(img *image.NRGBA, x, y int) []uint8 {
	i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	return img.Pix[i : i+4]
}

// antialiased reports whether the pixel at (x1,y1) of img looks like an
// anti-aliased edge: it has both a darker and a brighter neighbour, at most
// two identical neighbours, and one of those extreme neighbours sits in a
// flat region of both images.
func antialiased(img *image.NRGBA, x1, y1 int, other *image.NRGBA) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)
	center := pixelAt(img, x1, y1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}
	var minD, maxD float64
	var minX, minY, maxX, maxY int

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			delta := colorDelta(center, pixelAt(img, x, y), true)
			switch {
			case delta == 0:
				zeroes++
				if zeroes > 2 {
					return false
				}
			case delta < minD:
				minD, minX, minY = delta, x, y
			case delta > maxD:
				maxD, maxX, maxY = delta, x, y
			}
		}
	}
	if minD == 0 || maxD == 0 {
		return false
	}
	return (hasManySiblings(img, minX, minY) && hasManySiblings(other, minX, minY)) ||
		(hasManySiblings(img, maxX, maxY) && hasManySiblings(other, maxX, maxY))
}

// hasManySiblings reports whether more than two neighbours of (x1,y1) share
// its exact color.
func hasManySiblings(img *image.NRGBA, x1, y1 int) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)
	center := pixelAt(img, x1, y1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}
	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			p := pixelAt(img, x, y)
			if p[0] == center[0] && p[1] == center[1] && p[2] == center[2] && p[3] == center[3] {
				zeroes++
			}
			if zeroes > 2 {
				return true
			}
		}
	}
	return false
}
