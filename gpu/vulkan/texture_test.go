// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"image"
	"image/color"
	"testing"

	"github.com/Sonic-DE/sonic-win/f32"
	vk "github.com/goki/vulkan"
)

func pt(x, y float32) f32.Point {
	return f32.Pt(x, y)
}

func feq(a, b float32) bool {
	d := a - b
	return d < 1e-4 && d > -1e-4
}

func TestAccessMasksForLayouts(t *testing.T) {
	// Supported layout pairs derive their access masks from the
	// source and destination layouts.
	tests := []struct {
		layout  vk.ImageLayout
		srcWant vk.AccessFlags
		dstWant vk.AccessFlags
	}{
		{vk.ImageLayoutUndefined, 0, 0},
		{
			vk.ImageLayoutTransferDstOptimal,
			vk.AccessFlags(vk.AccessTransferWriteBit),
			vk.AccessFlags(vk.AccessTransferWriteBit),
		},
		{
			vk.ImageLayoutTransferSrcOptimal,
			vk.AccessFlags(vk.AccessTransferReadBit),
			vk.AccessFlags(vk.AccessTransferReadBit),
		},
		{
			vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessFlags(vk.AccessShaderReadBit),
			vk.AccessFlags(vk.AccessShaderReadBit),
		},
		{
			vk.ImageLayoutColorAttachmentOptimal,
			vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		},
		{vk.ImageLayoutPresentSrc, 0, 0},
	}
	for _, tc := range tests {
		if got := srcAccessForLayout(tc.layout); got != tc.srcWant {
			t.Errorf("srcAccessForLayout(%d) = %#x, want %#x", tc.layout, got, tc.srcWant)
		}
		if got := dstAccessForLayout(tc.layout); got != tc.dstWant {
			t.Errorf("dstAccessForLayout(%d) = %#x, want %#x", tc.layout, got, tc.dstWant)
		}
	}
}

func TestHasAlphaChannel(t *testing.T) {
	withAlpha := []vk.Format{
		vk.FormatR8g8b8a8Unorm,
		vk.FormatB8g8r8a8Srgb,
		vk.FormatA2r10g10b10UnormPack32,
		vk.FormatR16g16b16a16Sfloat,
	}
	for _, format := range withAlpha {
		tex := &Texture{format: format}
		if !tex.HasAlphaChannel() {
			t.Errorf("format %d: no alpha reported", format)
		}
	}
	without := []vk.Format{
		vk.FormatR8Unorm,
		vk.FormatR8g8Unorm,
		vk.FormatR5g6b5UnormPack16,
		vk.FormatD32Sfloat,
	}
	for _, format := range without {
		tex := &Texture{format: format}
		if tex.HasAlphaChannel() {
			t.Errorf("format %d: alpha reported", format)
		}
	}
}

func TestTextureMatrixUnnormalized(t *testing.T) {
	tex := &Texture{size: image.Pt(512, 256), matrixDirty: true}
	m := tex.Matrix(CoordinateUnnormalized)

	// Pixel coordinates map to 0..1.
	corner := m.MapPoint(pt(512, 256))
	if !feq(corner.X, 1) || !feq(corner.Y, 1) {
		t.Errorf("corner maps to (%v, %v), want (1, 1)", corner.X, corner.Y)
	}
	mid := m.MapPoint(pt(256, 128))
	if !feq(mid.X, 0.5) || !feq(mid.Y, 0.5) {
		t.Errorf("midpoint maps to (%v, %v), want (0.5, 0.5)", mid.X, mid.Y)
	}
}

func TestTextureMatrixFlipY(t *testing.T) {
	tex := &Texture{size: image.Pt(100, 100), matrixDirty: true}
	tex.SetContentTransform(TransformFlipY)
	m := tex.Matrix(CoordinateNormalized)
	top := m.MapPoint(pt(0, 0))
	if !feq(top.Y, 1) {
		t.Errorf("flipped top maps to y=%v, want 1", top.Y)
	}
	bottom := m.MapPoint(pt(0, 1))
	if !feq(bottom.Y, 0) {
		t.Errorf("flipped bottom maps to y=%v, want 0", bottom.Y)
	}
}

func TestCurrentLayoutReportsRecordedLayout(t *testing.T) {
	// CurrentLayout reports the layout field that TransitionLayout
	// sets; no barrier is recorded here.
	tex := &Texture{layout: vk.ImageLayoutUndefined}
	tex.layout = vk.ImageLayoutShaderReadOnlyOptimal
	if tex.CurrentLayout() != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Error("layout not recorded")
	}
}

func TestToRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	rgba := toRGBA(src)
	if got := rgba.Bounds().Size(); got != image.Pt(2, 2) {
		t.Fatalf("converted size = %v", got)
	}
	if c := rgba.RGBAAt(0, 0); c.R != 255 || c.A != 255 {
		t.Errorf("converted pixel = %+v", c)
	}

	// An RGBA image at the origin passes through unconverted.
	direct := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if toRGBA(direct) != direct {
		t.Error("RGBA image was copied")
	}
}

func TestWrapExternalTexture(t *testing.T) {
	tex := WrapExternalTexture(vk.Image(1), vk.ImageView(2), vk.Sampler(3),
		vk.FormatB8g8r8a8Unorm, image.Pt(64, 32))
	if !tex.IsValid() {
		t.Fatal("wrapped texture is invalid")
	}
	if tex.Size() != image.Pt(64, 32) {
		t.Errorf("size = %v", tex.Size())
	}
	if tex.ownsImage {
		t.Error("wrapper claims image ownership")
	}
}
