// Package imageprocessor turns uploaded bytes into the per-channel color
// statistics the maturity heuristic consumes.
package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// ratioEpsilon keeps the green ratio finite for all-black images.
const ratioEpsilon = 0.001

// DefaultMaxPixels caps the declared width times height an upload may have
// before its pixels are decoded.
const DefaultMaxPixels int64 = 178956970

// Analysis holds the color statistics of a decoded image.
type Analysis struct {
	Format     string  `json:"format"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	AvgR       float64 `json:"avg_r"`
	AvgG       float64 `json:"avg_g"`
	AvgB       float64 `json:"avg_b"`
	GreenRatio float64 `json:"green_ratio"`
}

// Analyzer exposes the subset of functionality used by the scorer.
type Analyzer interface {
	Analyze(data []byte) (*Analysis, error)
}

// DecodeError reports input that is not a readable PNG, JPEG or GIF image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return errors.As(err, &decErr)
}

// Processor decodes images and averages their color channels.
type Processor struct {
	// MaxSide bounds the longer side of the image that is averaged.
	// Larger images are downsampled first; zero disables downsampling.
	MaxSide uint
	// MaxPixels rejects images whose header declares more pixels than this.
	MaxPixels int64
}

// NewProcessor creates a processor that downsamples images whose longer
// side exceeds maxSide and refuses images larger than maxPixels. A
// maxPixels of zero means DefaultMaxPixels.
func NewProcessor(maxSide uint, maxPixels int64) *Processor {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Processor{MaxSide: maxSide, MaxPixels: maxPixels}
}

// Analyze decodes data and computes its channel averages. Width and Height
// always describe the original image, even when averaging ran on a
// downsampled copy.
func (p *Processor) Analyze(data []byte) (*Analysis, error) {
	img, format, err := DecodeLimit(data, p.MaxPixels)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()

	sampled := img
	if p.MaxSide > 0 && (bounds.Dx() > int(p.MaxSide) || bounds.Dy() > int(p.MaxSide)) {
		sampled = resize.Thumbnail(p.MaxSide, p.MaxSide, img, resize.NearestNeighbor)
	}

	avgR, avgG, avgB := AverageColor(sampled)
	return &Analysis{
		Format:     format,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		AvgR:       avgR,
		AvgG:       avgG,
		AvgB:       avgB,
		GreenRatio: GreenRatio(avgR, avgG, avgB),
	}, nil
}

// Decode parses data as a PNG, JPEG or GIF image of at most
// DefaultMaxPixels pixels. Every failure, including an image with no
// pixels, is returned as a *DecodeError.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel cap. The header is checked
// against maxPixels before any pixel data is decoded.
func DecodeLimit(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Err: errors.New("empty input")}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, format, &DecodeError{
			Err: fmt.Errorf("image is %dx%d, more than %d pixels", cfg.Width, cfg.Height, maxPixels),
		}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, format, &DecodeError{Err: errors.New("image has no pixels")}
	}
	if format == "gif" {
		restoreTransparentColor(img, cfg.ColorModel)
	}
	return img, format, nil
}

// restoreTransparentColor undoes the gif decoder blanking the transparent
// palette entry, so those pixels average as the RGB stored in the global
// color table. Frames with a local color table are left alone.
func restoreTransparentColor(img image.Image, model color.Model) {
	paletted, ok := img.(*image.Paletted)
	if !ok {
		return
	}
	global, ok := model.(color.Palette)
	if !ok || len(global) != len(paletted.Palette) {
		return
	}
	blank := -1
	for i, c := range paletted.Palette {
		if c == global[i] {
			continue
		}
		if c != (color.RGBA{}) || blank >= 0 {
			return
		}
		blank = i
	}
	if blank >= 0 {
		paletted.Palette[blank] = global[blank]
	}
}

// AverageColor returns the mean 8-bit red, green and blue values over all
// pixels. Alpha is dropped: each pixel contributes its straight color, not
// the color composited onto a background.
func AverageColor(img image.Image) (avgR, avgG, avgB float64) {
	bounds := img.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0, 0, 0
	}

	var sumR, sumG, sumB uint64
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			row := nrgba.Pix[nrgba.PixOffset(bounds.Min.X, y):nrgba.PixOffset(bounds.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				sumR += uint64(row[i])
				sumG += uint64(row[i+1])
				sumB += uint64(row[i+2])
			}
		}
	} else {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				sumR += uint64(c.R)
				sumG += uint64(c.G)
				sumB += uint64(c.B)
			}
		}
	}

	total := float64(n)
	return float64(sumR) / total, float64(sumG) / total, float64(sumB) / total
}

// GreenRatio is the share of the average green intensity in the summed
// channel averages.
func GreenRatio(avgR, avgG, avgB float64) float64 {
	return avgG / (avgR + avgG + avgB + ratioEpsilon)
}
