package geometry

// Pixel-space rectangles are measured against a rendered page container
// (top-left origin). Percent-space rectangles are the persisted form: every
// component is a percentage of the container dimension in [0,100], so stored
// geometry never depends on viewport size, DPI or zoom level.

// PixelRect is a rectangle in container pixel coordinates.
type PixelRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PercentRect is a rectangle expressed as page-relative percentages.
type PercentRect struct {
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Size is a measured container size in pixels. Both dimensions must be
// non-zero before any conversion; measuring is the caller's responsibility.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Minimum pixel footprints enforced by callers before normalization.
// The normalizer itself never clamps.
const (
	MinCreateWidth  = 36.0
	MinCreateHeight = 12.0
	MinResizeWidth  = 30.0
	MinResizeHeight = 20.0
)

// ToPercent converts a pixel rectangle into page-relative percentages.
func ToPercent(r PixelRect, container Size) PercentRect {
	return PercentRect{
		PositionX: r.X / container.Width * 100,
		PositionY: r.Y / container.Height * 100,
		Width:     r.Width / container.Width * 100,
		Height:    r.Height / container.Height * 100,
	}
}

// ToPixels is the exact algebraic inverse of ToPercent.
func ToPixels(r PercentRect, container Size) PixelRect {
	return PixelRect{
		X:      r.PositionX / 100 * container.Width,
		Y:      r.PositionY / 100 * container.Height,
		Width:  r.Width / 100 * container.Width,
		Height: r.Height / 100 * container.Height,
	}
}

// CenterOnPoint builds the rectangle for a single-click placement: the box is
// centered on the pointer by backing off half of the requested dimensions.
func CenterOnPoint(x, y, width, height float64) PixelRect {
	return PixelRect{
		X:      x - width/2,
		Y:      y - height/2,
		Width:  width,
		Height: height,
	}
}

// DetectionBox is an AI field-detection bounding box in the detector's
// 0-1000 normalized space.
type DetectionBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// FromDetectionBox maps a 0-1000 bounding box into percent space.
func FromDetectionBox(b DetectionBox) PercentRect {
	return PercentRect{
		PositionX: b.XMin / 1000 * 100,
		PositionY: b.YMin / 1000 * 100,
		Width:     (b.XMax - b.XMin) / 1000 * 100,
		Height:    (b.YMax - b.YMin) / 1000 * 100,
	}
}

// MeetsCreateMinimum reports whether a drag rectangle is large enough to
// become a new field.
func MeetsCreateMinimum(r PixelRect) bool {
	return r.Width >= MinCreateWidth && r.Height >= MinCreateHeight
}

// MeetsResizeMinimum reports whether a resize result may be committed.
func MeetsResizeMinimum(r PixelRect) bool {
	return r.Width >= MinResizeWidth && r.Height >= MinResizeHeight
}
