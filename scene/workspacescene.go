// SPDX-License-Identifier: Unlicense OR MIT

package scene

import (
	"image"
	"image/draw"

	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
	vk "github.com/goki/vulkan"
)

// ShadowElement indexes the eight edge and corner images of a window
// shadow.
type ShadowElement int

const (
	ShadowElementTop ShadowElement = iota
	ShadowElementTopRight
	ShadowElementRight
	ShadowElementBottomRight
	ShadowElementBottom
	ShadowElementBottomLeft
	ShadowElementLeft
	ShadowElementTopLeft
	shadowElementCount
)

// Shadow holds the source images of a window shadow: either a single
// decoration-provided image or the eight edge/corner elements.
type Shadow struct {
	DecorationImage image.Image
	Elements        [shadowElementCount]image.Image
}

func elementSize(img image.Image) image.Point {
	if img == nil {
		return image.Point{}
	}
	return img.Bounds().Size()
}

// ShadowProvider uploads the shadow texture for shadow items. The
// eight elements are composed into a single atlas before upload.
type ShadowProvider struct {
	ctx     *vulkan.Context
	shadow  *Shadow
	texture *vulkan.Texture
}

// NewShadowProvider creates a provider for the given shadow.
func NewShadowProvider(ctx *vulkan.Context, shadow *Shadow) *ShadowProvider {
	return &ShadowProvider{ctx: ctx, shadow: shadow}
}

// Texture returns the backing texture, or nil before Update ran.
func (p *ShadowProvider) Texture() *vulkan.Texture { return p.texture }

// ComposeAtlas lays out the eight shadow elements into one image:
// corners at the corners, edges between them.
func (s *Shadow) ComposeAtlas() *image.RGBA {
	top := elementSize(s.Elements[ShadowElementTop])
	topRight := elementSize(s.Elements[ShadowElementTopRight])
	right := elementSize(s.Elements[ShadowElementRight])
	bottom := elementSize(s.Elements[ShadowElementBottom])
	bottomLeft := elementSize(s.Elements[ShadowElementBottomLeft])
	left := elementSize(s.Elements[ShadowElementLeft])
	topLeft := elementSize(s.Elements[ShadowElementTopLeft])
	bottomRight := elementSize(s.Elements[ShadowElementBottomRight])

	width := max3(topLeft.X, left.X, bottomLeft.X) +
		maxInt(top.X, bottom.X) +
		max3(topRight.X, right.X, bottomRight.X)
	height := max3(topLeft.Y, top.Y, topRight.Y) +
		maxInt(left.Y, right.Y) +
		max3(bottomLeft.Y, bottom.Y, bottomRight.Y)
	if width == 0 || height == 0 {
		return nil
	}

	innerTop := max3(topLeft.Y, top.Y, topRight.Y)
	innerLeft := max3(topLeft.X, left.X, bottomLeft.X)

	atlas := image.NewRGBA(image.Rect(0, 0, width, height))
	blit := func(el ShadowElement, at image.Point) {
		img := s.Elements[el]
		if img == nil {
			return
		}
		sz := img.Bounds().Size()
		draw.Draw(atlas, image.Rectangle{Min: at, Max: at.Add(sz)}, img, img.Bounds().Min, draw.Over)
	}

	blit(ShadowElementTopLeft, image.Pt(0, 0))
	blit(ShadowElementTop, image.Pt(innerLeft, 0))
	blit(ShadowElementTopRight, image.Pt(width-topRight.X, 0))
	blit(ShadowElementLeft, image.Pt(0, innerTop))
	blit(ShadowElementRight, image.Pt(width-right.X, innerTop))
	blit(ShadowElementBottomLeft, image.Pt(0, height-bottomLeft.Y))
	blit(ShadowElementBottom, image.Pt(innerLeft, height-bottom.Y))
	blit(ShadowElementBottomRight, image.Pt(width-bottomRight.X, height-bottomRight.Y))
	return atlas
}

// Update rebuilds the shadow texture from the current shadow images.
func (p *ShadowProvider) Update() {
	var src image.Image
	if p.shadow.DecorationImage != nil {
		src = p.shadow.DecorationImage
	} else if atlas := p.shadow.ComposeAtlas(); atlas != nil {
		src = atlas
	} else {
		return
	}

	if p.texture != nil {
		p.texture.Release()
		p.texture = nil
	}
	tex, err := vulkan.UploadTexture(p.ctx, src)
	if err != nil {
		return
	}
	tex.SetFilter(vk.FilterLinear)
	tex.SetWrapMode(vk.SamplerAddressModeClampToEdge)
	p.texture = tex
}

// Release drops the shadow texture.
func (p *ShadowProvider) Release() {
	if p.texture != nil {
		p.texture.Release()
		p.texture = nil
	}
}

// DecorationTextureRenderer uploads the rendered decoration image and
// exposes the backing texture for decoration items.
type DecorationTextureRenderer struct {
	ctx     *vulkan.Context
	texture *vulkan.Texture
	size    image.Point
}

// NewDecorationTextureRenderer creates an empty decoration renderer.
func NewDecorationTextureRenderer(ctx *vulkan.Context) *DecorationTextureRenderer {
	return &DecorationTextureRenderer{ctx: ctx}
}

// Texture returns the backing texture, or nil before the first
// update.
func (d *DecorationTextureRenderer) Texture() *vulkan.Texture { return d.texture }

// Update uploads the decoration image. The texture is reallocated
// when the size changes, otherwise the damaged region is updated in
// place.
func (d *DecorationTextureRenderer) Update(img image.Image, damage image.Rectangle) error {
	size := img.Bounds().Size()
	if d.texture == nil || size != d.size {
		if d.texture != nil {
			d.texture.Release()
			d.texture = nil
		}
		tex, err := vulkan.UploadTexture(d.ctx, img)
		if err != nil {
			return err
		}
		tex.SetWrapMode(vk.SamplerAddressModeClampToEdge)
		d.texture = tex
		d.size = size
		return nil
	}
	return d.texture.Update(img, damage)
}

// Release drops the decoration texture.
func (d *DecorationTextureRenderer) Release() {
	if d.texture != nil {
		d.texture.Release()
		d.texture = nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func max3(a, b, c int) int {
	return maxInt(maxInt(a, b), c)
}
