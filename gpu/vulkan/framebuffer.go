// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"image"

	vk "github.com/goki/vulkan"
)

// Framebuffer binds a render pass to attachment views and a size.
// There is no layer support beyond layer 1. A framebuffer may own its
// color and depth textures when created through
// NewFramebufferWithTexture.
type Framebuffer struct {
	ctx        *Context
	handle     vk.Framebuffer
	renderPass *RenderPass
	size       image.Point

	colorTexture *Texture
	depthTexture *Texture
}

// NewFramebuffer creates a framebuffer over an externally owned color
// attachment view.
func NewFramebuffer(ctx *Context, rp *RenderPass, colorView vk.ImageView, size image.Point) (*Framebuffer, error) {
	fb := &Framebuffer{ctx: ctx, renderPass: rp, size: size}
	if err := fb.create([]vk.ImageView{colorView}); err != nil {
		return nil, err
	}
	return fb, nil
}

// NewFramebufferWithDepth creates a framebuffer over externally owned
// color and depth attachment views.
func NewFramebufferWithDepth(ctx *Context, rp *RenderPass, colorView, depthView vk.ImageView, size image.Point) (*Framebuffer, error) {
	fb := &Framebuffer{ctx: ctx, renderPass: rp, size: size}
	if err := fb.create([]vk.ImageView{colorView, depthView}); err != nil {
		return nil, err
	}
	return fb, nil
}

// NewFramebufferWithTexture creates a framebuffer owning its color
// texture, and a depth texture when the render pass has depth.
func NewFramebufferWithTexture(ctx *Context, rp *RenderPass, size image.Point, format vk.Format) (*Framebuffer, error) {
	fb := &Framebuffer{ctx: ctx, renderPass: rp, size: size}

	color, err := NewRenderTargetTexture(ctx, size, format)
	if err != nil {
		return nil, err
	}
	fb.colorTexture = color
	attachments := []vk.ImageView{color.View()}

	if rp.Config().HasDepth {
		depth, err := NewDepthStencilTexture(ctx, size)
		if err != nil {
			color.Release()
			return nil, err
		}
		fb.depthTexture = depth
		attachments = append(attachments, depth.View())
	}

	if err := fb.create(attachments); err != nil {
		fb.releaseTextures()
		return nil, err
	}
	return fb, nil
}

func (fb *Framebuffer) create(attachments []vk.ImageView) error {
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      fb.renderPass.Handle(),
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           uint32(fb.size.X),
		Height:          uint32(fb.size.Y),
		Layers:          1,
	}
	return vkErr("vkCreateFramebuffer",
		vk.CreateFramebuffer(fb.ctx.backend.Device(), &createInfo, nil, &fb.handle))
}

// Handle returns the framebuffer handle.
func (fb *Framebuffer) Handle() vk.Framebuffer { return fb.handle }

// Size returns the framebuffer size in pixels.
func (fb *Framebuffer) Size() image.Point { return fb.size }

// RenderPass returns the render pass the framebuffer was created for.
func (fb *Framebuffer) RenderPass() *RenderPass { return fb.renderPass }

// ColorTexture returns the owned color texture, or nil.
func (fb *Framebuffer) ColorTexture() *Texture { return fb.colorTexture }

// BeginRenderPass begins the render pass over the full framebuffer.
func (fb *Framebuffer) BeginRenderPass(cmd vk.CommandBuffer, clearValues []vk.ClearValue) {
	fb.renderPass.Begin(cmd, fb.handle, image.Rectangle{Max: fb.size}, clearValues)
}

// EndRenderPass ends the render pass.
func (fb *Framebuffer) EndRenderPass(cmd vk.CommandBuffer) {
	fb.renderPass.End(cmd)
}

// Bind pushes the framebuffer onto the context's framebuffer stack.
func (fb *Framebuffer) Bind() {
	fb.ctx.PushFramebuffer(fb)
}

// Unbind pops the framebuffer stack.
func (fb *Framebuffer) Unbind() {
	fb.ctx.PopFramebuffer()
}

// BlitFrom blits sourceRect of source's color texture into destRect
// of this framebuffer's color texture, transitioning both images
// through transfer layouts and back.
func (fb *Framebuffer) BlitFrom(cmd vk.CommandBuffer, source *Framebuffer,
	sourceRect, destRect image.Rectangle, filter vk.Filter) {

	if source == nil || source.colorTexture == nil || fb.colorTexture == nil {
		logOnce("blit without owned color textures")
		return
	}
	src := source.colorTexture
	dst := fb.colorTexture

	src.TransitionLayout(cmd, vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutTransferSrcOptimal,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit))
	dst.TransitionLayout(cmd, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	blit := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
	}
	blit.SrcOffsets[0] = vk.Offset3D{X: int32(sourceRect.Min.X), Y: int32(sourceRect.Min.Y)}
	blit.SrcOffsets[1] = vk.Offset3D{X: int32(sourceRect.Max.X), Y: int32(sourceRect.Max.Y), Z: 1}
	blit.DstOffsets[0] = vk.Offset3D{X: int32(destRect.Min.X), Y: int32(destRect.Min.Y)}
	blit.DstOffsets[1] = vk.Offset3D{X: int32(destRect.Max.X), Y: int32(destRect.Max.Y), Z: 1}

	vk.CmdBlitImage(cmd,
		src.Image(), vk.ImageLayoutTransferSrcOptimal,
		dst.Image(), vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, filter)

	src.TransitionLayout(cmd, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutColorAttachmentOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	dst.TransitionLayout(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
}

func (fb *Framebuffer) releaseTextures() {
	if fb.colorTexture != nil {
		fb.colorTexture.Release()
		fb.colorTexture = nil
	}
	if fb.depthTexture != nil {
		fb.depthTexture.Release()
		fb.depthTexture = nil
	}
}

// Release destroys the framebuffer and queues owned textures for
// deferred destruction.
func (fb *Framebuffer) Release() {
	if fb == nil {
		return
	}
	if fb.handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(fb.ctx.backend.Device(), fb.handle, nil)
		fb.handle = vk.NullFramebuffer
	}
	fb.releaseTextures()
}
