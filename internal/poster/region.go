package poster

import (
	"fmt"
	"image"
	stddraw "image/draw"

	"golang.org/x/image/draw"

	"server/internal/domain"
)

// Side identifies which half of a poster a swap targets.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Region describes a half-image cut of a poster. Posters are always split on
// the horizontal axis at floor(width/2); odd widths give the extra column to
// the right half.
type Region struct {
	Side         Side
	Bounds       image.Rectangle
	SourceWidth  int
	SourceHeight int
}

// RegionFor computes the bounding box of one side for a source of the given
// dimensions.
func RegionFor(width, height int, side Side) (Region, error) {
	if width <= 0 || height <= 0 {
		return Region{}, fmt.Errorf("%w: dimensions %dx%d", domain.ErrInvalidImage, width, height)
	}
	half := width / 2
	var bounds image.Rectangle
	switch side {
	case SideLeft:
		bounds = image.Rect(0, 0, half, height)
	case SideRight:
		bounds = image.Rect(half, 0, width, height)
	default:
		return Region{}, fmt.Errorf("%w: side %q", domain.ErrInvalidImage, side)
	}
	return Region{Side: side, Bounds: bounds, SourceWidth: width, SourceHeight: height}, nil
}

// ExtractRegion cuts one side out of the source image and returns it as an
// independent buffer together with its placement metadata.
func ExtractRegion(src image.Image, side Side) (Region, *image.RGBA, error) {
	if src == nil {
		return Region{}, nil, fmt.Errorf("%w: nil source", domain.ErrInvalidImage)
	}
	b := src.Bounds()
	region, err := RegionFor(b.Dx(), b.Dy(), side)
	if err != nil {
		return Region{}, nil, err
	}
	cut := region.Bounds.Add(b.Min)
	out := image.NewRGBA(image.Rect(0, 0, cut.Dx(), cut.Dy()))
	stddraw.Draw(out, out.Bounds(), src, cut.Min, stddraw.Src)
	return region, out, nil
}

// CompositeRegion overlays the processed region back onto the base poster at
// the bounding box of the given side. The region is resized to exactly fit
// the box so the seam between halves stays aligned.
func CompositeRegion(base image.Image, region image.Image, side Side) (*image.RGBA, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil base image", domain.ErrComposite)
	}
	if region == nil || region.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty region buffer", domain.ErrComposite)
	}
	b := base.Bounds()
	target, err := RegionFor(b.Dx(), b.Dy(), side)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrComposite, err)
	}

	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(out, out.Bounds(), base, b.Min, stddraw.Src)

	rb := region.Bounds()
	if rb.Dx() == target.Bounds.Dx() && rb.Dy() == target.Bounds.Dy() {
		stddraw.Draw(out, target.Bounds, region, rb.Min, stddraw.Src)
		return out, nil
	}
	draw.ApproxBiLinear.Scale(out, target.Bounds, region, rb, draw.Src, nil)
	return out, nil
}
