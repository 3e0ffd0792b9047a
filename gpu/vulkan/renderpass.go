// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"image"

	vk "github.com/goki/vulkan"
)

// RenderPassConfig describes attachment load/store behavior and
// layouts of a render pass.
type RenderPassConfig struct {
	ColorFormat   vk.Format
	ColorLoadOp   vk.AttachmentLoadOp
	ColorStoreOp  vk.AttachmentStoreOp
	InitialLayout vk.ImageLayout
	FinalLayout   vk.ImageLayout
	HasDepth      bool
	DepthFormat   vk.Format
}

// RenderPass wraps a VkRenderPass with a single subpass and an
// external dependency covering color attachment output (and early
// fragment tests when a depth attachment is present).
type RenderPass struct {
	ctx    *Context
	handle vk.RenderPass
	config RenderPassConfig
}

// NewPresentationRenderPass creates the render pass used for
// swapchain images: clear on load, store, final layout present-src.
func NewPresentationRenderPass(ctx *Context, colorFormat vk.Format) (*RenderPass, error) {
	return newRenderPass(ctx, RenderPassConfig{
		ColorFormat:   colorFormat,
		ColorLoadOp:   vk.AttachmentLoadOpClear,
		ColorStoreOp:  vk.AttachmentStoreOpStore,
		InitialLayout: vk.ImageLayoutUndefined,
		FinalLayout:   vk.ImageLayoutPresentSrc,
	})
}

// NewOffscreenRenderPass creates a render pass whose color attachment
// ends up shader-readable, optionally with a depth attachment.
func NewOffscreenRenderPass(ctx *Context, colorFormat vk.Format, withDepth bool) (*RenderPass, error) {
	config := RenderPassConfig{
		ColorFormat:   colorFormat,
		ColorLoadOp:   vk.AttachmentLoadOpClear,
		ColorStoreOp:  vk.AttachmentStoreOpStore,
		InitialLayout: vk.ImageLayoutUndefined,
		FinalLayout:   vk.ImageLayoutShaderReadOnlyOptimal,
		HasDepth:      withDepth,
	}
	if withDepth {
		config.DepthFormat = FindDepthFormat(ctx.backend)
		if config.DepthFormat == vk.FormatUndefined {
			config.HasDepth = false
		}
	}
	return newRenderPass(ctx, config)
}

func newRenderPass(ctx *Context, config RenderPassConfig) (*RenderPass, error) {
	rp := &RenderPass{ctx: ctx, config: config}

	attachments := []vk.AttachmentDescription{{
		Format:         config.ColorFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         config.ColorLoadOp,
		StoreOp:        config.ColorStoreOp,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  config.InitialLayout,
		FinalLayout:    config.FinalLayout,
	}}
	colorRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vk.AttachmentReference{colorRef},
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	if config.HasDepth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         config.DepthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		depthRef := vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		subpass.PDepthStencilAttachment = &depthRef

		dependency.SrcStageMask |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		dependency.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		dependency.DstAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	if err := vkErr("vkCreateRenderPass", vk.CreateRenderPass(ctx.backend.Device(), &createInfo, nil, &rp.handle)); err != nil {
		return nil, err
	}
	return rp, nil
}

// Handle returns the render pass handle.
func (rp *RenderPass) Handle() vk.RenderPass { return rp.handle }

// Config returns the configuration the pass was built from.
func (rp *RenderPass) Config() RenderPassConfig { return rp.config }

// Begin records vkCmdBeginRenderPass over the given area.
func (rp *RenderPass) Begin(cmd vk.CommandBuffer, framebuffer vk.Framebuffer,
	area image.Rectangle, clearValues []vk.ClearValue) {

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.handle,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: int32(area.Min.X), Y: int32(area.Min.Y)},
			Extent: vk.Extent2D{Width: uint32(area.Dx()), Height: uint32(area.Dy())},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd, &beginInfo, vk.SubpassContentsInline)
}

// End records vkCmdEndRenderPass.
func (rp *RenderPass) End(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
}

// Release destroys the render pass immediately. Render passes are
// only destroyed on swapchain teardown, after the device went idle.
func (rp *RenderPass) Release() {
	if rp == nil || rp.handle == vk.NullRenderPass {
		return
	}
	vk.DestroyRenderPass(rp.ctx.backend.Device(), rp.handle, nil)
	rp.handle = vk.NullRenderPass
}
