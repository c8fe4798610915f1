package align

import (
	"math"

	"github.com/kozaktomas/face-search/internal/embedding"
	"golang.org/x/image/math/f64"
)

// BBoxArea returns the area of an [x1, y1, x2, y2] box, or 0 if malformed.
func BBoxArea(bbox []float64) float64 {
	if len(bbox) != 4 {
		return 0
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// LargestFace returns the index of the face with the largest bounding box,
// or -1 when there is none. Ties keep the earlier face.
func LargestFace(faces []embedding.Face) int {
	best, bestArea := -1, 0.0
	for i, f := range faces {
		if area := BBoxArea(f.BBox); area > bestArea {
			best, bestArea = i, area
		}
	}
	return best
}

// EyeAngle returns the angle in degrees of the line from the left to the
// right eye, in image coordinates (y grows downwards).
func EyeAngle(left, right [2]float64) float64 {
	return math.Atan2(right[1]-left[1], right[0]-left[0]) * 180 / math.Pi
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b [2]float64) [2]float64 {
	return [2]float64{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}

// rotationMatrix maps source coordinates to destination coordinates so that
// a line at angleDeg through center becomes horizontal, with center fixed.
// origin is the top-left of the source bounds; the destination starts at 0,0.
func rotationMatrix(center [2]float64, origin [2]float64, angleDeg float64) f64.Aff3 {
	theta := angleDeg * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	ax, ay := origin[0]+center[0], origin[1]+center[1]
	return f64.Aff3{
		cos, sin, center[0] - cos*ax - sin*ay,
		-sin, cos, center[1] + sin*ax - cos*ay,
	}
}
