// SPDX-License-Identifier: Unlicense OR MIT

package scene

import (
	"fmt"
	"image"
	stdcolor "image/color"
	"log"
	"unsafe"

	"github.com/Sonic-DE/sonic-win/f32"
	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
	gunsafe "github.com/Sonic-DE/sonic-win/internal/unsafe"
	vk "github.com/goki/vulkan"
	"golang.org/x/sys/unix"
)

// Paint mask bits passed to RenderItem.
const (
	// PaintWindowTransformed marks a window painted with a transform;
	// the walker then clips with the hardware scissor.
	PaintWindowTransformed = 1 << 2
)

// uniformSlots is the number of per-draw uniform block slots in the
// renderer's ring buffer.
const uniformSlots = 1024

// Viewport describes one output's render area.
type Viewport struct {
	// Rect is the output rectangle in logical coordinates.
	Rect image.Rectangle
	// Scale is the logical-to-device pixel scale.
	Scale float32
	// Rotation is the output rotation in degrees, a multiple of 90.
	Rotation int
}

// DeviceSize returns the viewport size in device pixels.
func (v Viewport) DeviceSize() image.Point {
	sz := v.Rect.Size()
	return image.Pt(
		int(f32.Pt(float32(sz.X), float32(sz.Y)).Mul(v.Scale).Round().X),
		int(f32.Pt(float32(sz.X), float32(sz.Y)).Mul(v.Scale).Round().Y),
	)
}

// ProjectionMatrix maps device pixels onto clip space, including the
// per-output rotation.
func (v Viewport) ProjectionMatrix() f32.Mat4 {
	sz := v.DeviceSize()
	m := f32.Ortho(0, float32(sz.X), 0, float32(sz.Y))
	if v.Rotation%360 != 0 {
		m = f32.ID4().RotateZ(float32(v.Rotation)).Mul(m)
	}
	return m
}

// PaintData carries the per-window paint transform and opacity of the
// root item.
type PaintData struct {
	Opacity     float32
	Translation f32.Point
	ScaleX      float32
	ScaleY      float32
}

// NewPaintData returns neutral paint data.
func NewPaintData() PaintData {
	return PaintData{Opacity: 1, ScaleX: 1, ScaleY: 1}
}

// ToMatrix converts the paint data into the root window transform at
// the given device scale.
func (d PaintData) ToMatrix(deviceScale float32) f32.Mat4 {
	m := f32.ID4()
	if d.Translation != (f32.Point{}) {
		m = m.Translate(d.Translation.X*deviceScale, d.Translation.Y*deviceScale)
	}
	sx, sy := d.ScaleX, d.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	if sx != 1 || sy != 1 {
		m = m.Scale(sx, sy)
	}
	return m
}

// RenderNode is the per-frame, transient description of one draw
// call. Nodes live in the frame's RenderContext and are discarded at
// frame end.
type RenderNode struct {
	Traits   vulkan.ShaderTrait
	Texture  *vulkan.Texture
	Geometry []vulkan.Vertex2D

	Transform   f32.Mat4
	FirstVertex int
	VertexCount int

	Opacity  float32
	HasAlpha bool

	Box             f32.Vec4
	BorderRadius    f32.Vec4
	BorderThickness float32
	BorderColor     f32.Vec4

	ColorDescription ColorDescription
	ReleasePoint     *BufferReleasePoint
}

type cornerClip struct {
	box    f32.Rectangle
	radius BorderRadius
}

// RenderContext holds the per-frame stacks and node arena of one
// RenderItem call.
type RenderContext struct {
	nodes []RenderNode

	transformStack []f32.Mat4
	opacityStack   []float32
	cornerStack    []cornerClip

	projection    f32.Mat4
	rootTransform f32.Mat4

	clip             image.Rectangle
	hardwareClipping bool
	scale            float32
}

// StacksEmpty reports whether all traversal stacks have been popped.
func (rc *RenderContext) StacksEmpty() bool {
	return len(rc.transformStack) == 0 && len(rc.opacityStack) == 0 && len(rc.cornerStack) == 0
}

// Nodes returns the nodes built so far.
func (rc *RenderContext) Nodes() []RenderNode { return rc.nodes }

func (rc *RenderContext) pushTransform(m f32.Mat4) { rc.transformStack = append(rc.transformStack, m) }
func (rc *RenderContext) popTransform() {
	rc.transformStack = rc.transformStack[:len(rc.transformStack)-1]
}
func (rc *RenderContext) topTransform() f32.Mat4 {
	return rc.transformStack[len(rc.transformStack)-1]
}

func (rc *RenderContext) pushOpacity(o float32) { rc.opacityStack = append(rc.opacityStack, o) }
func (rc *RenderContext) popOpacity()           { rc.opacityStack = rc.opacityStack[:len(rc.opacityStack)-1] }
func (rc *RenderContext) topOpacity() float32 {
	return rc.opacityStack[len(rc.opacityStack)-1]
}

func (rc *RenderContext) pushCorner(c cornerClip) { rc.cornerStack = append(rc.cornerStack, c) }
func (rc *RenderContext) popCorner()              { rc.cornerStack = rc.cornerStack[:len(rc.cornerStack)-1] }
func (rc *RenderContext) topCorner() (cornerClip, bool) {
	if len(rc.cornerStack) == 0 {
		return cornerClip{}, false
	}
	return rc.cornerStack[len(rc.cornerStack)-1], true
}

// ItemRenderer walks the scene tree once per output per frame,
// builds render nodes and issues batched draws into a recorded
// command buffer.
type ItemRenderer struct {
	ctx *vulkan.Context

	uniformBuffer   *vulkan.Buffer
	uniformSlotSize int
	uniformSlot     int

	whiteTexture *vulkan.Texture

	frameNumber    uint64
	pendingOutputs int

	cmd         vk.CommandBuffer
	framebuffer *vulkan.Framebuffer
	syncInfo    vulkan.SyncInfo
	hasSync     bool
	projection  f32.Mat4
	scale       float32

	releasePoints map[*BufferReleasePoint]struct{}
}

// NewItemRenderer creates the walker, its per-draw uniform ring and
// the fallback texture bound for untextured draws.
func NewItemRenderer(ctx *vulkan.Context) (*ItemRenderer, error) {
	align := int(ctx.Backend().UniformOffsetAlignment())
	slotSize := (vulkan.UniformsSize + align - 1) &^ (align - 1)

	uniforms, err := vulkan.NewUniformBuffer(ctx, vk.DeviceSize(slotSize*uniformSlots))
	if err != nil {
		return nil, fmt.Errorf("scene: uniform ring: %w", err)
	}

	// Pipelines statically bind a sampled image at binding 0, so
	// untextured nodes sample an opaque white pixel instead.
	white, err := vulkan.UploadTexture(ctx, whitePixel())
	if err != nil {
		uniforms.Release()
		return nil, fmt.Errorf("scene: fallback texture: %w", err)
	}

	return &ItemRenderer{
		ctx:             ctx,
		uniformBuffer:   uniforms,
		uniformSlotSize: slotSize,
		whiteTexture:    white,
		releasePoints:   make(map[*BufferReleasePoint]struct{}),
	}, nil
}

func whitePixel() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, stdcolor.RGBA{R: 255, G: 255, B: 255, A: 255})
	return img
}

// Release frees the renderer's GPU resources.
func (r *ItemRenderer) Release() {
	if r.whiteTexture != nil {
		r.whiteTexture.Release()
		r.whiteTexture = nil
	}
	if r.uniformBuffer != nil {
		r.uniformBuffer.Release()
		r.uniformBuffer = nil
	}
}

// FrameNumber returns the monotonic frame counter.
func (r *ItemRenderer) FrameNumber() uint64 { return r.frameNumber }

// PendingOutputs returns how many outputs have begun but not ended a
// frame. Outputs serialize through the render thread; the counter
// only gates pool maintenance.
func (r *ItemRenderer) PendingOutputs() int { return r.pendingOutputs }

// BeginFrame makes the context current, allocates and begins the
// frame's command buffer, begins the render pass, and binds the
// y-flipped viewport and a full scissor.
func (r *ItemRenderer) BeginFrame(target *vulkan.RenderTarget, viewport Viewport) error {
	if !r.ctx.MakeCurrent() {
		return fmt.Errorf("scene: context not valid")
	}

	r.frameNumber++
	if r.pendingOutputs == 0 {
		// Frame boundary: drop resources whose fences signaled and
		// rewind the streaming arena.
		r.ctx.CleanupPendingResources()
		r.ctx.StreamingBuffer().BeginFrame()
		r.uniformSlot = 0
	}
	r.pendingOutputs++

	cmd, err := r.ctx.AllocateCommandBuffer()
	if err != nil {
		r.pendingOutputs--
		return err
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(cmd, &beginInfo); res != vk.Success {
		r.ctx.FreeCommandBuffer(cmd)
		r.pendingOutputs--
		return vk.Error(res)
	}
	r.cmd = cmd

	r.framebuffer = target.Framebuffer()
	r.hasSync = target.HasSyncInfo()
	if r.hasSync {
		r.syncInfo = target.SyncInfo()
	} else {
		r.syncInfo = vulkan.SyncInfo{}
	}

	r.projection = viewport.ProjectionMatrix()
	r.scale = viewport.Scale
	if r.scale == 0 {
		r.scale = 1
	}

	size := viewport.DeviceSize()
	if r.framebuffer != nil {
		size = r.framebuffer.Size()

		// Clear to transparent black; depth clears to 1.0.
		count := 1
		if r.framebuffer.RenderPass().Config().HasDepth {
			count = 2
		}
		clearValues := make([]vk.ClearValue, count)
		clearValues[0].SetColor([]float32{0, 0, 0, 0})
		if count == 2 {
			clearValues[1].SetDepthStencil(1, 0)
		}
		r.framebuffer.BeginRenderPass(r.cmd, clearValues)
	}

	// Negative-height viewport so shaders see y-down clip space while
	// logical coordinates stay y-up.
	vkViewport := vk.Viewport{
		X:        0,
		Y:        float32(size.Y),
		Width:    float32(size.X),
		Height:   -float32(size.Y),
		MinDepth: 0,
		MaxDepth: 1,
	}
	vk.CmdSetViewport(r.cmd, 0, 1, []vk.Viewport{vkViewport})

	scissor := vk.Rect2D{
		Extent: vk.Extent2D{Width: uint32(size.X), Height: uint32(size.Y)},
	}
	vk.CmdSetScissor(r.cmd, 0, 1, []vk.Rect2D{scissor})

	return nil
}

// RenderItem recursively builds render nodes for item and issues the
// batched draws.
func (r *ItemRenderer) RenderItem(item *Item, mask int, region image.Rectangle, data PaintData) {
	if r.cmd == nil {
		log.Print("scene: RenderItem without an active command buffer")
		return
	}

	scale := r.targetScale()
	if scale == 0 {
		scale = 1
	}
	rc := &RenderContext{
		projection:       r.projection,
		rootTransform:    data.ToMatrix(scale),
		clip:             region,
		hardwareClipping: mask&PaintWindowTransformed != 0,
		scale:            scale,
	}

	rc.pushTransform(f32.ID4())
	rc.pushOpacity(data.Opacity)

	r.createRenderNode(item, rc)

	if rc.hardwareClipping && !region.Empty() {
		scissor := vk.Rect2D{
			Offset: vk.Offset2D{X: int32(region.Min.X), Y: int32(region.Min.Y)},
			Extent: vk.Extent2D{Width: uint32(region.Dx()), Height: uint32(region.Dy())},
		}
		vk.CmdSetScissor(r.cmd, 0, 1, []vk.Rect2D{scissor})
	}

	r.renderNodes(rc)

	rc.popTransform()
	rc.popOpacity()
}

// targetScale is the device scale of the current frame, recorded by
// BeginFrame.
func (r *ItemRenderer) targetScale() float32 { return r.scale }

// BuildNodes walks item without recording any GPU commands and
// returns the populated render context. Used by tests and offscreen
// passes that only need the node list.
func (r *ItemRenderer) BuildNodes(item *Item, region image.Rectangle, data PaintData, scale float32, projection f32.Mat4) *RenderContext {
	rc := &RenderContext{
		projection:    projection,
		rootTransform: data.ToMatrix(scale),
		clip:          region,
		scale:         scale,
	}
	rc.pushTransform(f32.ID4())
	rc.pushOpacity(data.Opacity)
	r.createRenderNode(item, rc)
	rc.popTransform()
	rc.popOpacity()
	return rc
}

// modulate returns the premultiplied modulation color for the given
// opacity and brightness.
func modulate(opacity, brightness float32) f32.Vec4 {
	rgb := opacity * brightness
	return f32.Vec4{rgb, rgb, rgb, opacity}
}

// buildGeometry converts window quads into a triangle list at the
// device-pixel-snapped scale. Texture coordinates stay in source
// pixels until applyTexcoordMatrix normalizes them.
func buildGeometry(quads []Quad, scale float32) []vulkan.Vertex2D {
	geometry := make([]vulkan.Vertex2D, 0, len(quads)*6)
	for _, q := range quads {
		v := [4]vulkan.Vertex2D{}
		for i, qv := range q {
			v[i] = vulkan.Vertex2D{
				Position: qv.Pos.Mul(scale).Round().Vec2(),
				Texcoord: qv.Tex.Vec2(),
			}
		}
		geometry = append(geometry, v[0], v[1], v[2], v[2], v[3], v[0])
	}
	return geometry
}

// applyTexcoordMatrix multiplies every texture coordinate by m on the
// CPU so the shader's texture matrix can stay identity.
func applyTexcoordMatrix(geometry []vulkan.Vertex2D, m f32.Mat4) {
	for i := range geometry {
		p := m.MapPoint(f32.Pt(geometry[i].Texcoord[0], geometry[i].Texcoord[1]))
		geometry[i].Texcoord = p.Vec2()
	}
}

func (r *ItemRenderer) createRenderNode(item *Item, rc *RenderContext) {
	children := item.SortedChildren()
	scale := rc.scale

	// Device-pixel-snapped translation; the root transform applies
	// only at stack depth one. Item-local transforms run in logical
	// coordinates.
	matrix := f32.ID4().Translate(
		item.Position.Mul(scale).Round().X,
		item.Position.Mul(scale).Round().Y,
	)
	if len(rc.transformStack) == 1 {
		matrix = matrix.Mul(rc.rootTransform)
	}
	if !item.Transform.IsIdentity() {
		matrix = matrix.Scale(scale, scale).Mul(item.Transform).Scale(1/scale, 1/scale)
	}

	rc.pushTransform(rc.topTransform().Mul(matrix))
	rc.pushOpacity(rc.topOpacity() * item.Opacity)

	childIndex := 0
	for ; childIndex < len(children); childIndex++ {
		child := children[childIndex]
		if child.Z >= 0 {
			break
		}
		if child.Visible {
			r.createRenderNode(child, rc)
		}
	}

	pushedCorner := false
	if radius := item.BorderRadius; !radius.IsNull() {
		rc.pushCorner(cornerClip{
			box:    item.Rect.Scale(scale).Snap(),
			radius: radius.Scaled(scale).Rounded(),
		})
		pushedCorner = true
	} else if top, ok := rc.topCorner(); ok {
		rc.pushCorner(cornerClip{
			box:    matrix.Invert().MapRect(top.box),
			radius: top.radius,
		})
		pushedCorner = true
	}

	item.Preprocess(r.ctx)

	geometry := buildGeometry(item.quads(), scale)

	switch item.Kind {
	case KindSurface:
		r.surfaceNode(item, rc, geometry)
	case KindDecoration:
		if item.Decoration != nil && item.Decoration.Renderer != nil {
			r.texturedNode(item, rc, geometry, item.Decoration.Renderer.Texture(), nil, true)
		}
	case KindShadow:
		if item.Shadow != nil && item.Shadow.Provider != nil {
			r.texturedNode(item, rc, geometry, item.Shadow.Provider.Texture(), nil, true)
		}
	case KindImage:
		if item.Image != nil {
			r.texturedNode(item, rc, geometry, item.Image.Texture(), nil, true)
		}
	case KindOutlinedBorder:
		r.borderNode(item, rc, geometry)
	}

	for ; childIndex < len(children); childIndex++ {
		child := children[childIndex]
		if child.Visible {
			r.createRenderNode(child, rc)
		}
	}

	rc.popTransform()
	rc.popOpacity()
	if pushedCorner {
		rc.popCorner()
	}
}

// surfaceNode emits the node of a client surface. An item that would
// need a texture but has none is skipped, never emitted: a node
// without a bound texture would trip the validator since MAP_TEXTURE
// pipelines statically use descriptor set 0.
func (r *ItemRenderer) surfaceNode(item *Item, rc *RenderContext, geometry []vulkan.Vertex2D) {
	surface := item.Surface
	if surface == nil || surface.Texture == nil || len(geometry) == 0 {
		return
	}
	st := surface.Texture
	if !st.IsValid() {
		return
	}
	tex := st.Texture()
	if tex == nil || !tex.IsValid() {
		return
	}

	applyTexcoordMatrix(geometry, tex.Matrix(vulkan.CoordinateUnnormalized))

	node := RenderNode{
		Traits:           vulkan.TraitMapTexture,
		Texture:          tex,
		Geometry:         geometry,
		Transform:        rc.topTransform(),
		VertexCount:      len(geometry),
		Opacity:          rc.topOpacity(),
		HasAlpha:         surface.HasAlpha,
		ColorDescription: item.ColorDescription,
		ReleasePoint:     surface.ReleasePoint,
	}
	if node.ReleasePoint != nil {
		r.releasePoints[node.ReleasePoint] = struct{}{}
	}
	if top, ok := rc.topCorner(); ok && !top.radius.IsNull() {
		node.Traits |= vulkan.TraitRoundedCorners
		node.HasAlpha = true
		node.Box = f32.Vec4{
			top.box.Min.X + top.box.Dx()*0.5,
			top.box.Min.Y + top.box.Dy()*0.5,
			top.box.Dx() * 0.5,
			top.box.Dy() * 0.5,
		}
		node.BorderRadius = top.radius.Vec4()
	}
	if node.Opacity < 1 {
		node.Traits |= vulkan.TraitModulate
	}
	rc.nodes = append(rc.nodes, node)
}

// texturedNode emits a plain MAP_TEXTURE node for decorations,
// shadows and images. Missing textures skip the node.
func (r *ItemRenderer) texturedNode(item *Item, rc *RenderContext, geometry []vulkan.Vertex2D,
	tex *vulkan.Texture, release *BufferReleasePoint, hasAlpha bool) {

	if tex == nil || !tex.IsValid() || len(geometry) == 0 {
		return
	}
	applyTexcoordMatrix(geometry, tex.Matrix(vulkan.CoordinateUnnormalized))

	node := RenderNode{
		Traits:           vulkan.TraitMapTexture,
		Texture:          tex,
		Geometry:         geometry,
		Transform:        rc.topTransform(),
		VertexCount:      len(geometry),
		Opacity:          rc.topOpacity(),
		HasAlpha:         hasAlpha,
		ColorDescription: item.ColorDescription,
		ReleasePoint:     release,
	}
	if node.Opacity < 1 {
		node.Traits |= vulkan.TraitModulate
	}
	rc.nodes = append(rc.nodes, node)
}

// borderNode emits a BORDER node: outer rect in Box, inner rect in
// BorderRadius, color in BorderColor. No texture is required.
func (r *ItemRenderer) borderNode(item *Item, rc *RenderContext, geometry []vulkan.Vertex2D) {
	if item.Border == nil || len(geometry) == 0 {
		return
	}
	outline := item.Border.Outline
	scale := rc.scale
	thickness := f32.Pt(outline.Thickness, 0).Mul(scale).Round().X
	outer := item.Rect.Scale(scale).Snap()
	inner := f32.Rectangle{
		Min: outer.Min.Add(f32.Pt(thickness, thickness)),
		Max: outer.Max.Sub(f32.Pt(thickness, thickness)),
	}

	node := RenderNode{
		Traits:          vulkan.TraitBorder,
		Geometry:        geometry,
		Transform:       rc.topTransform(),
		VertexCount:     len(geometry),
		Opacity:         rc.topOpacity(),
		HasAlpha:        true,
		Box:             f32.Vec4{outer.Min.X, outer.Min.Y, outer.Dx(), outer.Dy()},
		BorderRadius:    f32.Vec4{inner.Min.X, inner.Min.Y, inner.Dx(), inner.Dy()},
		BorderThickness: thickness,
		BorderColor: f32.Vec4{
			float32(outline.Color.R) / 255,
			float32(outline.Color.G) / 255,
			float32(outline.Color.B) / 255,
			float32(outline.Color.A) / 255,
		},
	}
	if node.Opacity < 1 {
		node.Traits |= vulkan.TraitModulate
	}
	rc.nodes = append(rc.nodes, node)
}

// renderNodes batches all node geometry into the streaming arena,
// binds the arena once, and issues one draw per node with push
// constants and a freshly allocated descriptor set.
func (r *ItemRenderer) renderNodes(rc *RenderContext) {
	if len(rc.nodes) == 0 {
		return
	}

	streaming := r.ctx.StreamingBuffer()

	totalBytes := 0
	for i := range rc.nodes {
		totalBytes += len(rc.nodes[i].Geometry) * vulkan.Vertex2DStride
	}
	offset, ok := streaming.Allocate(vk.DeviceSize(totalBytes), vulkan.Vertex2DStride)
	if !ok {
		// The arena is exhausted for this frame; drop the nodes.
		return
	}

	mapped := streaming.Mapped()[offset:]
	baseVertex := int(offset) / vulkan.Vertex2DStride
	written := 0
	for i := range rc.nodes {
		node := &rc.nodes[i]
		node.FirstVertex = baseVertex + written
		n := copy(mapped[written*vulkan.Vertex2DStride:], gunsafe.BytesView(node.Geometry))
		written += n / vulkan.Vertex2DStride
	}
	streaming.Flush(offset, vk.DeviceSize(totalBytes))

	vk.CmdBindVertexBuffers(r.cmd, 0, 1,
		[]vk.Buffer{streaming.Handle()}, []vk.DeviceSize{0})

	var current *vulkan.Pipeline
	pm := r.ctx.PipelineManager()

	for i := range rc.nodes {
		node := &rc.nodes[i]
		if node.VertexCount == 0 {
			continue
		}

		pipeline := pm.Pipeline(node.Traits)
		if pipeline == nil || !pipeline.IsValid() {
			continue
		}
		if pipeline != current {
			pipeline.Bind(r.cmd)
			current = pipeline
		}

		// Texcoords were pre-multiplied on the CPU, so the shader's
		// texture matrix stays identity.
		pc := vulkan.PushConstants{
			MVP:           rc.projection.Mul(node.Transform),
			TextureMatrix: f32.ID4(),
		}
		vk.CmdPushConstants(r.cmd, pipeline.Layout(),
			vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
			0, uint32(unsafe.Sizeof(pc)), unsafe.Pointer(&pc))

		tex := node.Texture
		if tex == nil || !tex.IsValid() {
			if node.Traits&vulkan.TraitMapTexture != 0 {
				// Should have been skipped at build time.
				continue
			}
			tex = r.whiteTexture
		}

		uniforms := vulkan.Uniforms{
			UniformColor:    modulate(node.Opacity, 1),
			Opacity:         node.Opacity,
			Brightness:      1,
			Saturation:      1,
			GeometryBox:     node.Box,
			BorderRadius:    node.BorderRadius,
			BorderThickness: node.BorderThickness,
			BorderColor:     node.BorderColor,
		}
		slot := r.uniformSlot % uniformSlots
		r.uniformSlot++
		uniformOffset := vk.DeviceSize(slot * r.uniformSlotSize)
		copy(r.uniformBuffer.Mapped()[uniformOffset:], gunsafe.StructView(&uniforms))
		r.uniformBuffer.Flush(uniformOffset, vk.DeviceSize(vulkan.UniformsSize))

		set, err := r.ctx.AllocateDescriptorSet(pipeline.DescriptorSetLayout())
		if err != nil {
			logSceneOnce("descriptor set allocation failed: %v", err)
			continue
		}

		imageInfo := vk.DescriptorImageInfo{
			Sampler:     tex.Sampler(),
			ImageView:   tex.View(),
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}
		bufferInfo := vk.DescriptorBufferInfo{
			Buffer: r.uniformBuffer.Handle(),
			Offset: uniformOffset,
			Range:  vk.DeviceSize(vulkan.UniformsSize),
		}
		writes := []vk.WriteDescriptorSet{
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
				DstBinding:      0,
				DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				PImageInfo:      []vk.DescriptorImageInfo{imageInfo},
			},
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
				DstBinding:      1,
				DescriptorType:  vk.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
			},
		}
		vk.UpdateDescriptorSets(r.ctx.Backend().Device(), uint32(len(writes)), writes, 0, nil)
		vk.CmdBindDescriptorSets(r.cmd, vk.PipelineBindPointGraphics,
			pipeline.Layout(), 0, 1, []vk.DescriptorSet{set}, 0, nil)

		vk.CmdDraw(r.cmd, uint32(node.VertexCount), 1, uint32(node.FirstVertex), 0)
	}
}

// EndFrame ends the render pass and the command buffer, submits with
// GPU-GPU semaphore sync when the target carried a SyncInfo, and
// delivers release-point sync fds.
func (r *ItemRenderer) EndFrame() error {
	if r.cmd == nil {
		return fmt.Errorf("scene: EndFrame without BeginFrame")
	}
	defer func() {
		r.cmd = nil
		r.framebuffer = nil
		r.syncInfo = vulkan.SyncInfo{}
		r.hasSync = false
		if r.pendingOutputs > 0 {
			r.pendingOutputs--
		}
	}()

	if r.framebuffer != nil {
		r.framebuffer.EndRenderPass(r.cmd)
	}
	if err := vk.Error(vk.EndCommandBuffer(r.cmd)); err != nil {
		return err
	}

	r.ctx.StreamingBuffer().EndFrame()

	queue := r.ctx.Backend().GraphicsQueue()
	dev := r.ctx.Backend().Device()
	cmd := r.cmd

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}

	if r.hasSync && r.syncInfo.HasSemaphores() {
		waitSems := []vk.Semaphore{r.syncInfo.ImageAvailable}
		waitStages := []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
		signalSems := []vk.Semaphore{r.syncInfo.RenderFinished}
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = waitSems
		submitInfo.PWaitDstStageMask = waitStages
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = signalSems

		fence := r.syncInfo.InFlight
		if fence == vk.NullFence {
			fence = r.ctx.GetOrCreateFence()
			fences := []vk.Fence{fence}
			vk.ResetFences(dev, 1, fences)
		}

		if err := vk.Error(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence)); err != nil {
			return fmt.Errorf("scene: frame submit: %w", err)
		}
		r.ctx.NoteFrameFence(fence)
		r.ctx.DeferDestroy(fence, func() { r.ctx.FreeCommandBuffer(cmd) })

		// No CPU wait on the fast path: render waits on the acquire
		// semaphore, present waits on render-finished, and the fence
		// is waited on at the start of the next frame.
		if len(r.releasePoints) > 0 && r.ctx.SupportsExternalFenceFd() {
			r.signalReleasePoints(signalSems)
		}
		r.clearReleasePoints()
		return nil
	}

	// Offscreen render: prefer the exportable-fence fast path for
	// release points, otherwise block on the context fence.
	if len(r.releasePoints) > 0 && r.ctx.SupportsExternalFenceFd() {
		if fence := r.ctx.CreateExportableFence(); fence != vk.NullFence {
			if err := vk.Error(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence)); err == nil {
				if fd, err := r.ctx.ExportFenceToSyncFd(fence); err == nil {
					r.deliverReleaseFd(fd)
				} else {
					fences := []vk.Fence{fence}
					vk.WaitForFences(dev, 1, fences, vk.True, vk.MaxUint64)
				}
				r.clearReleasePoints()
				r.ctx.NoteFrameFence(vk.NullFence)
				// The command buffer and the one-shot fence stay
				// alive until the GPU is done with them.
				ctx := r.ctx
				r.ctx.DeferDestroy(fence, func() {
					ctx.FreeCommandBuffer(cmd)
					vk.DestroyFence(dev, fence, nil)
				})
				return nil
			}
			vk.DestroyFence(dev, fence, nil)
		}
	}

	fence := r.ctx.GetOrCreateFence()
	fences := []vk.Fence{fence}
	vk.ResetFences(dev, 1, fences)
	if err := vk.Error(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence)); err != nil {
		return fmt.Errorf("scene: frame submit: %w", err)
	}
	vk.WaitForFences(dev, 1, fences, vk.True, vk.MaxUint64)
	r.ctx.NoteFrameFence(vk.NullFence)
	r.ctx.FreeCommandBuffer(cmd)
	r.clearReleasePoints()
	return nil
}

// signalReleasePoints submits a tiny follow-up job that waits on the
// render-finished semaphore and signals a one-shot exportable fence,
// exports it to a sync fd, and attaches the fd to every collected
// release point.
func (r *ItemRenderer) signalReleasePoints(renderFinished []vk.Semaphore) {
	fence := r.ctx.CreateExportableFence()
	if fence == vk.NullFence {
		return
	}
	dev := r.ctx.Backend().Device()
	defer vk.DestroyFence(dev, fence, nil)

	waitStages := []vk.PipelineStageFlags{
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
	}
	syncSubmit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    renderFinished,
		PWaitDstStageMask:  waitStages,
	}
	if res := vk.QueueSubmit(r.ctx.Backend().GraphicsQueue(), 1, []vk.SubmitInfo{syncSubmit}, fence); res != vk.Success {
		return
	}
	fd, err := r.ctx.ExportFenceToSyncFd(fence)
	if err != nil {
		return
	}
	r.deliverReleaseFd(fd)
}

func (r *ItemRenderer) deliverReleaseFd(fd int) {
	for point := range r.releasePoints {
		point.AddReleaseFence(fd)
	}
	unix.Close(fd)
}

func (r *ItemRenderer) clearReleasePoints() {
	for point := range r.releasePoints {
		delete(r.releasePoints, point)
	}
}

var loggedScene = map[string]bool{}

func logSceneOnce(format string, args ...any) {
	if !loggedScene[format] {
		loggedScene[format] = true
		log.Printf("scene: "+format, args...)
	}
}
