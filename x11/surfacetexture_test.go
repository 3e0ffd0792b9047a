// SPDX-License-Identifier: Unlicense OR MIT

package x11

import (
	"image"
	"testing"
	"time"

	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
	vk "github.com/goki/vulkan"
)

func stubPlane() *vulkan.Texture {
	return vulkan.WrapExternalTexture(vk.Image(1), vk.ImageView(2), vk.Sampler(3),
		vk.FormatB8g8r8a8Srgb, image.Pt(8, 8))
}

func TestStagePixelsForcesAlpha(t *testing.T) {
	// X11 pixmaps may carry undefined alpha even at depth 32; every
	// staged pixel gets alpha 0xFF.
	texSize := image.Pt(2, 2)
	src := []byte{
		1, 2, 3, 0,
		4, 5, 6, 7,
		8, 9, 10, 0x80,
		11, 12, 13, 0,
	}
	dst := make([]byte, 2*2*4)
	stagePixels(dst, src, texSize, image.Rect(0, 0, 2, 2))

	for px := 0; px < 4; px++ {
		if dst[px*4+3] != 0xFF {
			t.Errorf("pixel %d alpha = %#x, want 0xFF", px, dst[px*4+3])
		}
	}
	if dst[0] != 1 || dst[1] != 2 || dst[2] != 3 {
		t.Errorf("pixel 0 color = %v", dst[:3])
	}
	if dst[12] != 11 || dst[13] != 12 || dst[14] != 13 {
		t.Errorf("pixel 3 color = %v", dst[12:15])
	}
}

func TestStagePixelsPartialRegion(t *testing.T) {
	// Partial damage lands at its offset with the full texture
	// stride.
	texSize := image.Pt(4, 4)
	src := []byte{
		100, 101, 102, 0,
		110, 111, 112, 0,
	}
	dst := make([]byte, 4*4*4)
	stagePixels(dst, src, texSize, image.Rect(1, 2, 3, 3))

	rowOff := 2*4*4 + 1*4
	if dst[rowOff] != 100 || dst[rowOff+4] != 110 {
		t.Errorf("staged row = %v", dst[rowOff:rowOff+8])
	}
	if dst[rowOff+3] != 0xFF || dst[rowOff+7] != 0xFF {
		t.Error("partial region alpha not forced")
	}
	// Pixels outside the region stay untouched.
	if dst[0] != 0 {
		t.Error("pixel outside region written")
	}
}

func TestSurfacePixmapValidity(t *testing.T) {
	var p *SurfacePixmap
	if p.IsValid() {
		t.Error("nil pixmap is valid")
	}
	p = &SurfacePixmap{}
	if p.IsValid() {
		t.Error("zero pixmap is valid")
	}
	p = &SurfacePixmap{ID: 42, Size: image.Pt(100, 100), Depth: 24}
	if !p.IsValid() {
		t.Error("valid pixmap reported invalid")
	}
}

func TestSurfaceTextureValidityMatchesPlanes(t *testing.T) {
	// The plane list is non-empty exactly when IsValid reports true.
	st := &SurfaceTexture{}
	if st.IsValid() {
		t.Error("empty plane list reports valid")
	}
	if st.Texture() != nil || st.Plane(0) != nil {
		t.Error("empty surface texture returned a plane")
	}
	st.planes = append(st.planes, stubPlane())
	if !st.IsValid() {
		t.Error("non-empty plane list reports invalid")
	}
	if st.PlaneCount() != 1 || st.IsMultiPlane() {
		t.Error("single-plane bookkeeping wrong")
	}
	st.planes = append(st.planes, stubPlane())
	if !st.IsMultiPlane() {
		t.Error("two planes not reported as multi-plane")
	}
}

func TestOutputFramePresented(t *testing.T) {
	var frame OutputFrame
	if frame.IsPresented() {
		t.Error("new frame reports presented")
	}
	now := time.Now()
	frame.Presented(now, PresentationVSync)
	if !frame.IsPresented() || frame.Mode() != PresentationVSync {
		t.Error("presentation record incomplete")
	}
	if !frame.PresentedAt().Equal(now) {
		t.Error("presentation timestamp lost")
	}
}
