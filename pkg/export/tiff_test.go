package export

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"solexrecon/internal/models"
)

func TestGray16Clamps(t *testing.T) {
	buf := models.NewBuffer(4, 1)
	copy(buf.Data, []float32{-12, 1234.4, 1234.6, 70000})

	img := Gray16(buf)
	want := []uint16{0, 1234, 1235, 65535}
	for x, w := range want {
		if got := img.Gray16At(x, 0).Y; got != w {
			t.Errorf("pixel %d = %d, want %d", x, got, w)
		}
	}
}

func TestWriteTIFF(t *testing.T) {
	buf := models.NewBuffer(20, 10)
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			buf.Set(x, y, float32(y*1000+x))
		}
	}
	img := &models.Image{Buffer: buf, PixelShift: 3}
	path := filepath.Join(t.TempDir(), "out", "sun.tif")

	if err := WriteTIFF(img, path); err != nil {
		t.Fatalf("WriteTIFF failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	gray, ok := decoded.(*image.Gray16)
	if !ok {
		t.Fatalf("decoded %T, want *image.Gray16", decoded)
	}
	if b := gray.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("decoded %dx%d, want 20x10", b.Dx(), b.Dy())
	}
	for _, p := range []image.Point{{0, 0}, {19, 0}, {7, 9}} {
		if got, want := gray.Gray16At(p.X, p.Y).Y, uint16(p.Y*1000+p.X); got != want {
			t.Errorf("pixel %v = %d, want %d", p, got, want)
		}
	}
}

func TestWriteTIFFErrors(t *testing.T) {
	if err := WriteTIFF(nil, filepath.Join(t.TempDir(), "x.tif")); err == nil {
		t.Error("expected an error for a nil image")
	}

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	img := &models.Image{Buffer: models.NewBuffer(1, 1)}
	if err := WriteTIFF(img, filepath.Join(blocker, "x.tif")); err == nil {
		t.Error("expected an error when the directory is a file")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		base string
		img  models.Image
		want string
	}{
		{"/data/2024-04-08/sun.ser", models.Image{PixelShift: 0}, "sun_shift+0_00.tif"},
		{"sun.ser", models.Image{PixelShift: -2.5}, "sun_shift-2_50.tif"},
		{"sun", models.Image{PixelShift: 3}, "sun_shift+3_00.tif"},
		{"sun.ser", models.Image{PixelShift: -6, Internal: true}, "sun_detection-6_00.tif"},
	}
	for _, tt := range tests {
		if got := FileName(tt.base, &tt.img); got != tt.want {
			t.Errorf("FileName(%q, %g) = %q, want %q", tt.base, tt.img.PixelShift, got, tt.want)
		}
	}
}
