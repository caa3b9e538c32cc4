package camera

import (
	"image"
	"testing"

	"classtrack/internal/recognizer"
)

func TestDownsample(t *testing.T) {
	img := testFrame() // 64x48

	small := Downsample(img, 4)
	if got := small.Bounds(); got != image.Rect(0, 0, 16, 12) {
		t.Errorf("Downsample(4) bounds = %v, want (0,0)-(16,12)", got)
	}

	if got := Downsample(img, 1); got != img {
		t.Error("Downsample(1) must return the input unchanged")
	}
	if got := Downsample(img, 0); got != img {
		t.Error("Downsample(0) must return the input unchanged")
	}
}

func TestAnnotateDrawsBoxes(t *testing.T) {
	img := testFrame()
	dets := []recognizer.Detection{
		{IdentityID: "id-1", Name: "Ada", Box: recognizer.Box{Left: 2, Top: 2, Right: 10, Bottom: 10}},
		{Box: recognizer.Box{Left: 20, Top: 2, Right: 28, Bottom: 10}},
	}

	out := Annotate(img, dets, 2)
	if out.Bounds() != img.Bounds() {
		t.Fatalf("annotated bounds = %v, want %v", out.Bounds(), img.Bounds())
	}

	// Box coordinates are scaled back up by the downsample factor.
	if got := out.RGBAAt(4, 4); got != recognizedColor {
		t.Errorf("recognized box edge = %v, want %v", got, recognizedColor)
	}
	if got := out.RGBAAt(40, 4); got != unknownColor {
		t.Errorf("unknown box edge = %v, want %v", got, unknownColor)
	}
}

func TestAnnotateSkipsOffFrameBoxes(t *testing.T) {
	img := testFrame()
	dets := []recognizer.Detection{
		{IdentityID: "id-1", Name: "Ada", Box: recognizer.Box{Left: 500, Top: 500, Right: 600, Bottom: 600}},
	}

	// Must not panic and must leave the frame intact.
	out := Annotate(img, dets, 1)
	want := img.(*image.RGBA)
	for i := range want.Pix {
		if out.Pix[i] != want.Pix[i] {
			t.Fatal("off-frame box modified the image")
		}
	}
}

func TestAnnotateNoDetections(t *testing.T) {
	img := testFrame()
	out := Annotate(img, nil, 4)
	if out.Bounds() != img.Bounds() {
		t.Errorf("bounds = %v, want %v", out.Bounds(), img.Bounds())
	}
}
