package embedding

import (
	"bytes"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DecodeImage decodes uploaded bytes into an image. Supports jpeg, png, gif,
// bmp, and webp. Returns ErrUnreadableImage when the bytes cannot be decoded.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return img, nil
}

// ResizeRGBA scales img to size x size pixels using Catmull-Rom resampling,
// discarding aspect ratio as the model expects a square input.
func ResizeRGBA(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// CLIP preprocessing constants (RGB mean and std used at training time).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// PixelValues converts a square RGBA image into a CHW float32 tensor with
// CLIP's per-channel normalization applied.
func PixelValues(img *image.RGBA, size int) []float32 {
	out := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := img.PixOffset(x, y)
			pos := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(img.Pix[off+c]) / 255.0
				out[c*plane+pos] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
