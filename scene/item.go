// SPDX-License-Identifier: Unlicense OR MIT

// Package scene models the compositor's window items and converts
// them into batched Vulkan draws. Items are tagged variants over a
// small shared header; the walker switches on the variant, so there
// is no virtual dispatch in the render hot path.
package scene

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/Sonic-DE/sonic-win/f32"
	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
	"golang.org/x/sys/unix"
)

// ItemKind tags the item variant.
type ItemKind int

const (
	// KindGroup is a plain grouping node with no own content.
	KindGroup ItemKind = iota
	// KindSurface is a client window surface.
	KindSurface
	// KindDecoration is a server-side window decoration.
	KindDecoration
	// KindShadow is a drop shadow behind a window.
	KindShadow
	// KindImage is a compositor-provided image, e.g. a cursor.
	KindImage
	// KindOutlinedBorder is an outline drawn without a texture.
	KindOutlinedBorder
)

// ColorDescription tags the color space of item content. Only sRGB
// passes through; color management beyond the tag is out of scope.
type ColorDescription int

const (
	ColorSRGB ColorDescription = iota
)

// BorderRadius holds the four corner radii of an item, in logical
// pixels.
type BorderRadius struct {
	TopLeft     float32
	TopRight    float32
	BottomRight float32
	BottomLeft  float32
}

// IsNull reports whether all radii are zero.
func (r BorderRadius) IsNull() bool {
	return r == BorderRadius{}
}

// Scaled returns the radii scaled by s.
func (r BorderRadius) Scaled(s float32) BorderRadius {
	return BorderRadius{
		TopLeft:     r.TopLeft * s,
		TopRight:    r.TopRight * s,
		BottomRight: r.BottomRight * s,
		BottomLeft:  r.BottomLeft * s,
	}
}

// Rounded returns the radii rounded to whole device pixels.
func (r BorderRadius) Rounded() BorderRadius {
	round := func(v float32) float32 { return float32(math.Round(float64(v))) }
	return BorderRadius{
		TopLeft:     round(r.TopLeft),
		TopRight:    round(r.TopRight),
		BottomRight: round(r.BottomRight),
		BottomLeft:  round(r.BottomLeft),
	}
}

// Vec4 packs the radii in top-left, top-right, bottom-right,
// bottom-left order.
func (r BorderRadius) Vec4() f32.Vec4 {
	return f32.Vec4{r.TopLeft, r.TopRight, r.BottomRight, r.BottomLeft}
}

// BorderOutline describes an outlined-border item: thickness in
// logical pixels and the outline color.
type BorderOutline struct {
	Thickness float32
	Color     color.NRGBA
}

// BufferReleasePoint is handed to a client-backed surface so the
// client learns when its buffer is no longer in use. Sync file
// descriptors attached here are owned by the release point until
// taken.
type BufferReleasePoint struct {
	fds []int
}

// AddReleaseFence attaches a duplicate of fd. The original stays with
// the caller.
func (p *BufferReleasePoint) AddReleaseFence(fd int) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return
	}
	unix.CloseOnExec(dup)
	p.fds = append(p.fds, dup)
}

// TakeFences returns the attached sync fds, transferring ownership to
// the caller.
func (p *BufferReleasePoint) TakeFences() []int {
	fds := p.fds
	p.fds = nil
	return fds
}

// FenceCount returns the number of attached sync fds.
func (p *BufferReleasePoint) FenceCount() int { return len(p.fds) }

// SurfaceTexture provides the GPU texture behind a client surface.
// Create imports lazily; it is a no-op when the cached pixmap and
// size still match.
type SurfaceTexture interface {
	Create() bool
	Update(region image.Rectangle)
	IsValid() bool
	Texture() *vulkan.Texture
}

// DecorationRenderer provides the backing texture of a decoration
// item.
type DecorationRenderer interface {
	Texture() *vulkan.Texture
}

// ShadowTextureProvider provides the backing texture of a shadow
// item.
type ShadowTextureProvider interface {
	Texture() *vulkan.Texture
}

// SurfaceItem is the payload of a client window surface.
type SurfaceItem struct {
	Texture      SurfaceTexture
	ReleasePoint *BufferReleasePoint
	HasAlpha     bool
}

// DecorationItem is the payload of a decoration item.
type DecorationItem struct {
	Renderer DecorationRenderer
}

// ShadowItem is the payload of a shadow item.
type ShadowItem struct {
	Provider ShadowTextureProvider
}

// ImageItem is the payload of an image item. The image uploads
// lazily on preprocess.
type ImageItem struct {
	Image   image.Image
	texture *vulkan.Texture
}

// Texture returns the uploaded texture, or nil before preprocess.
func (it *ImageItem) Texture() *vulkan.Texture { return it.texture }

// OutlinedBorderItem is the payload of an outlined-border item.
type OutlinedBorderItem struct {
	Outline BorderOutline
}

// QuadVertex is one corner of a window quad: position and texture
// coordinate in logical coordinates.
type QuadVertex struct {
	Pos f32.Point
	Tex f32.Point
}

// Quad is one textured quadrilateral of an item, corners in
// top-left, top-right, bottom-right, bottom-left order.
type Quad [4]QuadVertex

// RectQuad builds a quad covering rect with texture coordinates from
// texRect.
func RectQuad(rect, texRect f32.Rectangle) Quad {
	return Quad{
		{Pos: rect.Min, Tex: texRect.Min},
		{Pos: f32.Pt(rect.Max.X, rect.Min.Y), Tex: f32.Pt(texRect.Max.X, texRect.Min.Y)},
		{Pos: rect.Max, Tex: texRect.Max},
		{Pos: f32.Pt(rect.Min.X, rect.Max.Y), Tex: f32.Pt(texRect.Min.X, texRect.Max.Y)},
	}
}

// Item is one node of the scene graph: a shared header plus exactly
// one variant payload selected by Kind.
type Item struct {
	Kind ItemKind

	Position f32.Point
	Z        int
	Opacity  float32
	Visible  bool

	// Transform is the item-local transform in logical coordinates.
	Transform f32.Mat4

	// Rect is the item's content rectangle in logical coordinates.
	Rect f32.Rectangle

	BorderRadius BorderRadius

	ColorDescription ColorDescription

	Children []*Item

	// Quads overrides the geometry derived from Rect when non-empty.
	Quads []Quad

	Surface    *SurfaceItem
	Decoration *DecorationItem
	Shadow     *ShadowItem
	Image      *ImageItem
	Border     *OutlinedBorderItem
}

// NewItem returns an item of the given kind with neutral defaults.
func NewItem(kind ItemKind) *Item {
	return &Item{
		Kind:      kind,
		Opacity:   1,
		Visible:   true,
		Transform: f32.ID4(),
	}
}

// SortedChildren returns the children ordered by Z, stable for equal
// Z values.
func (it *Item) SortedChildren() []*Item {
	children := make([]*Item, len(it.Children))
	copy(children, it.Children)
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Z < children[j].Z
	})
	return children
}

// quads returns the item's geometry: explicit quads when set,
// otherwise one quad covering Rect with texture coordinates in
// pixels.
func (it *Item) quads() []Quad {
	if len(it.Quads) > 0 {
		return it.Quads
	}
	if it.Rect.Empty() {
		return nil
	}
	texRect := f32.Rectangle{Max: it.Rect.Size()}
	return []Quad{RectQuad(it.Rect, texRect)}
}

// Preprocess creates pixmaps and textures lazily. Building quads
// depends on this having run.
func (it *Item) Preprocess(ctx *vulkan.Context) {
	switch it.Kind {
	case KindSurface:
		if it.Surface != nil && it.Surface.Texture != nil {
			it.Surface.Texture.Create()
		}
	case KindImage:
		if it.Image != nil && it.Image.texture == nil && it.Image.Image != nil {
			tex, err := vulkan.UploadTexture(ctx, it.Image.Image)
			if err == nil {
				it.Image.texture = tex
			}
		}
	}
}
