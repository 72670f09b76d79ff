// Package testutil builds synthetic image datasets for tests.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// SolidImage returns a w×h image filled with c.
func SolidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// PNG encodes img.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// WriteDataset creates root/<class>/img_<n>.png for each class with
// perClass small images tinted per class, and returns root.
func WriteDataset(t testing.TB, root string, classes []string, perClass int) string {
	t.Helper()
	for ci, class := range classes {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for i := 0; i < perClass; i++ {
			tint := color.RGBA{
				R: uint8(40 + 80*ci),
				G: uint8(20 * i),
				B: uint8(200 - 60*ci),
				A: 255,
			}
			data := PNG(t, SolidImage(16+i, 12, tint))
			path := filepath.Join(dir, fmt.Sprintf("img_%d.png", i))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatalf("write image: %v", err)
			}
		}
	}
	return root
}
