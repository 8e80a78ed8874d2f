package geometry

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= 1e-9*scale
}

func TestRoundTrip(t *testing.T) {
	containers := []Size{
		{Width: 800, Height: 1000},
		{Width: 612, Height: 792},
		{Width: 1.5, Height: 3000},
	}
	rects := []PixelRect{
		{X: 0, Y: 0, Width: 36, Height: 12},
		{X: 100, Y: 100, Width: 200, Height: 60},
		{X: 123.456, Y: 789.012, Width: 55.5, Height: 17.25},
	}
	for _, c := range containers {
		for _, r := range rects {
			got := ToPixels(ToPercent(r, c), c)
			if !almostEqual(got.X, r.X) || !almostEqual(got.Y, r.Y) ||
				!almostEqual(got.Width, r.Width) || !almostEqual(got.Height, r.Height) {
				t.Fatalf("round trip drifted: container=%+v in=%+v out=%+v", c, r, got)
			}
		}
	}
}

func TestToPercentKnownValues(t *testing.T) {
	// 800x1000 container, drag from (100,100) to (300,160).
	p := ToPercent(PixelRect{X: 100, Y: 100, Width: 200, Height: 60}, Size{Width: 800, Height: 1000})
	if p.PositionX != 12.5 || p.PositionY != 10 || p.Width != 25 || p.Height != 6 {
		t.Fatalf("unexpected percent rect: %+v", p)
	}
}

func TestCenterOnPoint(t *testing.T) {
	r := CenterOnPoint(400, 500, MinCreateWidth, MinCreateHeight)
	if r.X != 400-MinCreateWidth/2 || r.Y != 500-MinCreateHeight/2 {
		t.Fatalf("click placement not centered: %+v", r)
	}
	if r.Width != MinCreateWidth || r.Height != MinCreateHeight {
		t.Fatalf("click placement resized the box: %+v", r)
	}
}

func TestFromDetectionBox(t *testing.T) {
	p := FromDetectionBox(DetectionBox{XMin: 100, YMin: 250, XMax: 400, YMax: 300})
	if p.PositionX != 10 || p.PositionY != 25 || p.Width != 30 || p.Height != 5 {
		t.Fatalf("unexpected mapping: %+v", p)
	}
}

func TestMinimums(t *testing.T) {
	if MeetsCreateMinimum(PixelRect{Width: 35.9, Height: 12}) {
		t.Fatal("create minimum should reject width below 36")
	}
	if !MeetsCreateMinimum(PixelRect{Width: 36, Height: 12}) {
		t.Fatal("create minimum should accept the exact threshold")
	}
	if MeetsResizeMinimum(PixelRect{Width: 30, Height: 19.5}) {
		t.Fatal("resize minimum should reject height below 20")
	}
}
