package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"

	"dresscode/internal/detect"
	"dresscode/internal/geometry"
)

// Descriptor dimensions. Crops are scaled to a fixed size so histograms are
// comparable across detections.
const (
	featureWidth            = 64
	featureHeight           = 128
	histogramBins           = 32
	minKeypointsForFeatures = 5
)

// extractCrop decodes the frame, pads the bbox and returns the cropped
// sub-image plus the padded box actually used.
func extractCrop(frameJPEG []byte, bbox geometry.BBox, paddingRatio float64) (image.Image, geometry.BBox, error) {
	img, err := jpeg.Decode(bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, geometry.BBox{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	padded := bbox.Pad(paddingRatio, bounds.Dx(), bounds.Dy())

	rect := image.Rect(int(padded.X1), int(padded.Y1), int(padded.X2), int(padded.Y2))
	rect = rect.Intersect(bounds)
	if rect.Empty() {
		return nil, geometry.BBox{}, fmt.Errorf("empty crop for bbox %+v", bbox)
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	return crop, padded, nil
}

// encodeCrop re-encodes a crop as JPEG for persistence and classification.
func encodeCrop(crop image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// extractFeatures builds the appearance descriptor for a person crop:
// per-channel color histograms over the scaled crop, concatenated with
// normalized keypoint positions when enough keypoints are visible.
func extractFeatures(crop image.Image, padded geometry.BBox, keypoints []detect.Keypoint, keypointConf float64) []float64 {
	scaled := image.NewRGBA(image.Rect(0, 0, featureWidth, featureHeight))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), crop, crop.Bounds(), draw.Src, nil)

	features := make([]float64, 0, 3*histogramBins)

	var hists [3][histogramBins]float64
	for y := 0; y < featureHeight; y++ {
		for x := 0; x < featureWidth; x++ {
			r, g, b, _ := scaled.At(x, y).RGBA()
			hists[0][int(r>>8)*histogramBins/256]++
			hists[1][int(g>>8)*histogramBins/256]++
			hists[2][int(b>>8)*histogramBins/256]++
		}
	}

	for c := 0; c < 3; c++ {
		var norm float64
		for _, v := range hists[c] {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		for _, v := range hists[c] {
			if norm > 0 {
				features = append(features, v/norm)
			} else {
				features = append(features, 0)
			}
		}
	}

	valid := validKeypoints(keypoints, keypointConf)
	if len(valid) >= minKeypointsForFeatures {
		w := padded.Width()
		h := padded.Height()
		for _, kp := range valid {
			var nx, ny float64
			if w > 0 {
				nx = (kp.X - padded.X1) / w
			}
			if h > 0 {
				ny = (kp.Y - padded.Y1) / h
			}
			features = append(features, nx, ny, kp.Conf)
		}
	}

	return features
}

// validKeypoints filters keypoints by visibility confidence, preserving
// their indices.
type indexedKeypoint struct {
	Index int
	X, Y  float64
	Conf  float64
}

func validKeypoints(keypoints []detect.Keypoint, threshold float64) []indexedKeypoint {
	var valid []indexedKeypoint
	for i, kp := range keypoints {
		if kp.Conf > threshold {
			valid = append(valid, indexedKeypoint{Index: i, X: kp.X, Y: kp.Y, Conf: kp.Conf})
		}
	}
	return valid
}

// cosineSimilarity compares two descriptors, truncating to the shorter length
// since the keypoint tail varies with visibility.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
