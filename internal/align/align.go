// Package align rotates a photo so that the eyes of its most prominent face
// lie on a horizontal line before embeddings are extracted.
package align

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"math"

	_ "image/gif"
	_ "image/png"

	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/embedding"
	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	errNoFace      = errors.New("no faces detected")
	errNoLandmarks = errors.New("face has no eye landmarks")
)

// Detector locates faces and their landmarks in an image.
type Detector interface {
	ExtractFaces(ctx context.Context, imageData []byte) (*embedding.FaceResponse, error)
}

// Aligner levels the eye line of the largest detected face.
type Aligner struct {
	detector Detector
	logger   *slog.Logger
}

// New creates an aligner backed by detector. A nil detector yields an
// aligner that returns its input unchanged.
func New(detector Detector) *Aligner {
	return &Aligner{
		detector: detector,
		logger:   slog.Default().With("component", "align"),
	}
}

// Align returns a re-encoded, rotated copy of imageData, or imageData itself
// when there is nothing to rotate or anything goes wrong. It never fails.
func (a *Aligner) Align(ctx context.Context, imageData []byte) (out []byte) {
	if a == nil || a.detector == nil || len(imageData) == 0 {
		return imageData
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("alignment panicked, using original", "panic", r)
			out = imageData
		}
	}()

	aligned, err := a.align(ctx, imageData)
	if err != nil {
		a.logger.Debug("alignment skipped", "reason", err)
		return imageData
	}
	if aligned == nil {
		return imageData
	}
	return aligned
}

// align returns nil without error when the image is already level.
func (a *Aligner) align(ctx context.Context, imageData []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resp, err := a.detector.ExtractFaces(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if resp == nil {
		return nil, errNoFace
	}
	idx := LargestFace(resp.Faces)
	if idx < 0 {
		return nil, errNoFace
	}

	left, right, err := eyes(resp.Faces[idx])
	if err != nil {
		return nil, err
	}

	angle := EyeAngle(left, right)
	if math.Abs(angle) < constants.MinAlignAngle {
		return nil, nil
	}

	rotated := Rotate(src, Midpoint(left, right), angle)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rotated, &jpeg.Options{Quality: constants.AlignJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode aligned image: %w", err)
	}
	return buf.Bytes(), nil
}

// Rotate rotates src by -angleDeg about center (relative to the bounds
// origin) onto a canvas of the same dimensions. Uncovered areas stay black.
func Rotate(src image.Image, center [2]float64, angleDeg float64) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	m := rotationMatrix(center, [2]float64{float64(b.Min.X), float64(b.Min.Y)}, angleDeg)
	xdraw.CatmullRom.Transform(dst, m, src, b, xdraw.Over, nil)
	return dst
}

func eyes(f embedding.Face) ([2]float64, [2]float64, error) {
	if len(f.Landmarks) < 2 || len(f.Landmarks[0]) < 2 || len(f.Landmarks[1]) < 2 {
		return [2]float64{}, [2]float64{}, errNoLandmarks
	}
	left := [2]float64{f.Landmarks[0][0], f.Landmarks[0][1]}
	right := [2]float64{f.Landmarks[1][0], f.Landmarks[1][1]}
	return left, right, nil
}
