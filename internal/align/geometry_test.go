package align

import (
	"math"
	"testing"

	"github.com/kozaktomas/face-search/internal/embedding"
	"golang.org/x/image/math/f64"
)

func apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func TestBBoxArea(t *testing.T) {
	tests := []struct {
		name string
		bbox []float64
		want float64
	}{
		{"normal", []float64{10, 20, 30, 60}, 800},
		{"empty", nil, 0},
		{"short", []float64{1, 2, 3}, 0},
		{"inverted", []float64{30, 60, 10, 20}, 0},
		{"zero width", []float64{10, 10, 10, 20}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BBoxArea(tt.bbox); got != tt.want {
				t.Errorf("BBoxArea(%v) = %v, want %v", tt.bbox, got, tt.want)
			}
		})
	}
}

func TestLargestFace(t *testing.T) {
	faces := []embedding.Face{
		{BBox: []float64{0, 0, 10, 10}},
		{BBox: []float64{0, 0, 30, 30}},
		{BBox: []float64{5, 5, 35, 35}},
		{BBox: []float64{0, 0, 20, 20}},
	}
	if got := LargestFace(faces); got != 1 {
		t.Errorf("LargestFace = %d, want 1 (first of equal areas)", got)
	}
	if got := LargestFace(nil); got != -1 {
		t.Errorf("LargestFace(nil) = %d, want -1", got)
	}
	if got := LargestFace([]embedding.Face{{BBox: []float64{1, 2}}}); got != -1 {
		t.Errorf("LargestFace(malformed) = %d, want -1", got)
	}
}

func TestEyeAngle(t *testing.T) {
	tests := []struct {
		name        string
		left, right [2]float64
		want        float64
	}{
		{"level", [2]float64{10, 50}, [2]float64{30, 50}, 0},
		{"right eye lower", [2]float64{0, 0}, [2]float64{10, 10}, 45},
		{"right eye higher", [2]float64{0, 10}, [2]float64{10, 0}, -45},
		{"vertical", [2]float64{0, 0}, [2]float64{0, 10}, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EyeAngle(tt.left, tt.right); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EyeAngle = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRotationMatrix_LevelsEyes(t *testing.T) {
	origins := [][2]float64{{0, 0}, {-7, 13}}
	eyePairs := [][2][2]float64{
		{{40, 60}, {80, 75}},
		{{40, 80}, {80, 55}},
		{{100, 100}, {130, 101}},
	}

	for _, origin := range origins {
		for _, pair := range eyePairs {
			left, right := pair[0], pair[1]
			center := Midpoint(left, right)
			m := rotationMatrix(center, origin, EyeAngle(left, right))

			// Landmarks are relative to the bounds origin; the source space is absolute.
			lx, ly := apply(m, origin[0]+left[0], origin[1]+left[1])
			rx, ry := apply(m, origin[0]+right[0], origin[1]+right[1])
			if math.Abs(ly-ry) > 1e-9 {
				t.Errorf("origin %v eyes %v: rotated eyes not level: %v vs %v", origin, pair, ly, ry)
			}
			if rx <= lx {
				t.Errorf("origin %v eyes %v: eye order flipped: %v, %v", origin, pair, lx, rx)
			}

			cx, cy := apply(m, origin[0]+center[0], origin[1]+center[1])
			if math.Abs(cx-center[0]) > 1e-9 || math.Abs(cy-center[1]) > 1e-9 {
				t.Errorf("origin %v: center moved to (%v, %v), want %v", origin, cx, cy, center)
			}

			dist := math.Hypot(right[0]-left[0], right[1]-left[1])
			if math.Abs((rx-lx)-dist) > 1e-9 {
				t.Errorf("eye distance changed: %v, want %v", rx-lx, dist)
			}
		}
	}
}
