// Package preprocess converts uploaded images into the normalized CHW tensors
// the classifier consumes. Training and inference share this code path so the
// resampling filter and normalization constants can never drift apart.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/car-classifier/internal/domain"
)

const (
	Size     = 224
	Channels = 3
	// Len is the number of values in one preprocessed image.
	Len = Channels * Size * Size
)

var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// Filter is the resampling filter used for every resize.
const Filter = resize.Bilinear

// Tensor is one preprocessed image laid out as [channel][row][col].
type Tensor []float32

// Shape returns the logical (C, H, W) shape.
func (t Tensor) Shape() [3]int {
	return [3]int{Channels, Size, Size}
}

// MaxPixels bounds the width*height of an image Decode will expand.
const MaxPixels = 50_000_000

// Decode reads a JPEG, PNG or GIF image. Anything else, or an image larger
// than MaxPixels, is a DecodeError.
func Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrDecode, "read image", err)
	}
	return decode(data)
}

func DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image", io.ErrUnexpectedEOF)
	}
	return decode(data)
}

func decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image", fmt.Errorf("empty image %dx%d", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image",
			fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image", err)
	}
	return img, format, nil
}

func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ToRGB drops alpha and expands grayscale/paletted images to opaque RGB.
// Color channels keep their straight (non-premultiplied) values.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out
}

// Preprocess resizes to Size×Size, scales to [0,1] and normalizes per channel.
func Preprocess(img image.Image) Tensor {
	resized := resize.Resize(Size, Size, ToRGB(img), Filter)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	out := make(Tensor, Channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			out[pixelIndex] = (float32(r)/65535.0 - Mean[0]) / Std[0]
			out[plane+pixelIndex] = (float32(g)/65535.0 - Mean[1]) / Std[1]
			out[2*plane+pixelIndex] = (float32(b)/65535.0 - Mean[2]) / Std[2]
		}
	}

	return out
}

// Load decodes and preprocesses an image file.
func Load(path string) (Tensor, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return Preprocess(img), nil
}
