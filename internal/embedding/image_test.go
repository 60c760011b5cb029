package embedding

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// testPNG renders a small solid-color png for decode tests.
func testPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	data := testPNG(t, color.RGBA{R: 200, G: 40, B: 10, A: 255})
	img, err := DecodeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Errorf("unexpected bounds: %v", img.Bounds())
	}
}

func TestDecodeImage_Unreadable(t *testing.T) {
	_, err := DecodeImage([]byte("definitely not an image"))
	if !errors.Is(err, ErrUnreadableImage) {
		t.Errorf("expected ErrUnreadableImage, got %v", err)
	}
}

func TestResizeRGBA(t *testing.T) {
	img, err := DecodeImage(testPNG(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	resized := ResizeRGBA(img, 224)
	if resized.Bounds().Dx() != 224 || resized.Bounds().Dy() != 224 {
		t.Errorf("unexpected resized bounds: %v", resized.Bounds())
	}
}

func TestPixelValues(t *testing.T) {
	img, err := DecodeImage(testPNG(t, color.RGBA{R: 255, G: 0, B: 0, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	const size = 32
	pixels := PixelValues(ResizeRGBA(img, size), size)
	if len(pixels) != 3*size*size {
		t.Fatalf("expected %d values, got %d", 3*size*size, len(pixels))
	}
	// A solid red image has a constant, positive red channel after
	// normalization and a constant, negative green channel.
	plane := size * size
	if pixels[0] <= 0 {
		t.Errorf("red channel should normalize positive, got %f", pixels[0])
	}
	if pixels[plane] >= 0 {
		t.Errorf("green channel should normalize negative, got %f", pixels[plane])
	}
}
