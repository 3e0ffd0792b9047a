// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"log"
	"unsafe"

	"gioui.org/shader"
	"github.com/Sonic-DE/sonic-win/f32"
	gunsafe "github.com/Sonic-DE/sonic-win/internal/unsafe"
	vk "github.com/goki/vulkan"
)

// ShaderTrait is a feature bit controlling fragment shader
// specialization. The same SPIR-V binary serves every combination.
type ShaderTrait uint32

const (
	TraitMapTexture ShaderTrait = 1 << iota
	TraitUniformColor
	TraitModulate
	TraitAdjustSaturation
	TraitTransformColorspace
	TraitRoundedCorners
	TraitBorder
)

const traitCount = 7

// PushConstants is the 128-byte block shared by both shader stages:
// a column-major MVP matrix followed by a column-major texture
// matrix.
type PushConstants struct {
	MVP           f32.Mat4
	TextureMatrix f32.Mat4
}

// Uniforms is the per-draw std140 uniform block read by the fragment
// shader.
type Uniforms struct {
	UniformColor f32.Vec4

	Opacity    float32
	Brightness float32
	Saturation float32
	_          float32

	PrimaryBrightness [3]float32
	_                 float32

	GeometryBox  f32.Vec4
	BorderRadius f32.Vec4

	BorderThickness float32
	_               [3]float32

	BorderColor f32.Vec4

	SourceTransferFunction int32
	_                      [3]int32
	SourceTransferParams   [2]float32
	_                      [2]float32
	DestTransferFunction   int32
	_                      [3]int32
	DestTransferParams     [2]float32
	_                      [2]float32

	ColorimetryTransform f32.Mat4

	SourceReferenceLuminance float32
	MaxTonemappingLuminance  float32
	DestReferenceLuminance   float32
	MaxDestLuminance         float32

	DestToLMS f32.Mat4
	LMSToDest f32.Mat4
}

// UniformsSize is the byte size of the per-draw uniform block.
const UniformsSize = int(unsafe.Sizeof(Uniforms{}))

// specializationData expands the trait bitset into the seven VkBool32
// specialization constants with IDs 0..6.
func specializationData(traits ShaderTrait) [traitCount]vk.Bool32 {
	order := [traitCount]ShaderTrait{
		TraitMapTexture,
		TraitUniformColor,
		TraitModulate,
		TraitAdjustSaturation,
		TraitTransformColorspace,
		TraitRoundedCorners,
		TraitBorder,
	}
	var data [traitCount]vk.Bool32
	for i, bit := range order {
		if traits&bit != 0 {
			data[i] = vk.True
		}
	}
	return data
}

// fallbackTraits collapses a trait set onto the subset that every
// driver-built pipeline supports.
func fallbackTraits(traits ShaderTrait) ShaderTrait {
	return traits & (TraitMapTexture | TraitUniformColor)
}

// Pipeline is one cached graphics pipeline together with its layout
// and descriptor set layout (binding 0: combined image sampler,
// binding 1: uniform buffer, both fragment stage).
type Pipeline struct {
	ctx                 *Context
	pipeline            vk.Pipeline
	layout              vk.PipelineLayout
	descriptorSetLayout vk.DescriptorSetLayout
	traits              ShaderTrait
}

// IsValid reports whether the pipeline holds a live handle.
func (p *Pipeline) IsValid() bool { return p != nil && p.pipeline != vk.NullPipeline }

// Handle returns the pipeline handle.
func (p *Pipeline) Handle() vk.Pipeline { return p.pipeline }

// Layout returns the pipeline layout.
func (p *Pipeline) Layout() vk.PipelineLayout { return p.layout }

// DescriptorSetLayout returns the descriptor set layout.
func (p *Pipeline) DescriptorSetLayout() vk.DescriptorSetLayout { return p.descriptorSetLayout }

// Traits returns the trait set the pipeline was built with. For a
// fallback pipeline this is the collapsed set, not the requested one.
func (p *Pipeline) Traits() ShaderTrait { return p.traits }

// Bind records a bind of this pipeline.
func (p *Pipeline) Bind(cmd vk.CommandBuffer) {
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, p.pipeline)
}

func (p *Pipeline) release() {
	dev := p.ctx.backend.Device()
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(dev, p.pipeline, nil)
		p.pipeline = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, p.layout, nil)
		p.layout = vk.NullPipelineLayout
	}
	if p.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, p.descriptorSetLayout, nil)
		p.descriptorSetLayout = vk.NullDescriptorSetLayout
	}
}

func newPipeline(ctx *Context, renderPass vk.RenderPass, traits ShaderTrait,
	vert, frag shader.Sources) (*Pipeline, error) {

	p := &Pipeline{ctx: ctx, traits: traits}
	dev := ctx.backend.Device()

	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if err := vkErr("vkCreateDescriptorSetLayout",
		vk.CreateDescriptorSetLayout(dev, &layoutInfo, nil, &p.descriptorSetLayout)); err != nil {
		return nil, err
	}

	pushRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		Offset:     0,
		Size:       uint32(unsafe.Sizeof(PushConstants{})),
	}
	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{p.descriptorSetLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushRange},
	}
	if err := vkErr("vkCreatePipelineLayout",
		vk.CreatePipelineLayout(dev, &pipelineLayoutInfo, nil, &p.layout)); err != nil {
		p.release()
		return nil, err
	}

	vertModule, err := newShaderModule(ctx, []byte(vert.SPIRV))
	if err != nil {
		p.release()
		return nil, err
	}
	defer vk.DestroyShaderModule(dev, vertModule, nil)
	fragModule, err := newShaderModule(ctx, []byte(frag.SPIRV))
	if err != nil {
		p.release()
		return nil, err
	}
	defer vk.DestroyShaderModule(dev, fragModule, nil)

	specData := specializationData(traits)
	specEntries := make([]vk.SpecializationMapEntry, traitCount)
	for i := range specEntries {
		specEntries[i] = vk.SpecializationMapEntry{
			ConstantID: uint32(i),
			Offset:     uint32(i * 4),
			Size:       4,
		}
	}
	specInfo := []vk.SpecializationInfo{{
		MapEntryCount: traitCount,
		PMapEntries:   specEntries,
		DataSize:      traitCount * 4,
		PData:         unsafe.Pointer(&specData[0]),
	}}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertModule,
			PName:  "main\x00",
		},
		{
			SType:               vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:               vk.ShaderStageFragmentBit,
			Module:              fragModule,
			PName:               "main\x00",
			PSpecializationInfo: specInfo,
		},
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{Vertex2DBindingDescription()},
		VertexAttributeDescriptionCount: 2,
		PVertexAttributeDescriptions:    Vertex2DAttributeDescriptions(),
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
	}

	// Premultiplied alpha.
	blendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		BlendEnable:         vk.True,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
	}
	blending := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blendAttachment},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &blending,
		PDynamicState:       &dynamicState,
		Layout:              p.layout,
		RenderPass:          renderPass,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(dev, vk.PipelineCache(vk.NullHandle), 1,
		[]vk.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines)
	if err := vkErr("vkCreateGraphicsPipelines", res); err != nil {
		p.release()
		return nil, err
	}
	p.pipeline = pipelines[0]
	return p, nil
}

func newShaderModule(ctx *Context, spirv []byte) (vk.ShaderModule, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(spirv)),
		PCode:    gunsafe.Uint32View(spirv),
	}
	var module vk.ShaderModule
	err := vkErr("vkCreateShaderModule", vk.CreateShaderModule(ctx.backend.Device(), &createInfo, nil, &module))
	return module, err
}

// PipelineManager caches graphics pipelines keyed by shader traits.
// Vulkan pipelines are tied to a render-pass compatibility class;
// changing the render pass flushes the entire cache.
type PipelineManager struct {
	ctx        *Context
	renderPass vk.RenderPass
	pipelines  map[ShaderTrait]*Pipeline

	vertSources shader.Sources
	fragSources shader.Sources
	loaded      bool
}

// NewPipelineManager creates the manager and loads the SPIR-V blobs.
// Missing shaders are not fatal here; pipeline requests fail until
// they are found.
func NewPipelineManager(ctx *Context) *PipelineManager {
	m := &PipelineManager{
		ctx:       ctx,
		pipelines: make(map[ShaderTrait]*Pipeline),
	}
	if err := m.LoadShaders(); err != nil {
		log.Printf("vulkan: %v", err)
	}
	return m
}

// ShadersLoaded reports whether both SPIR-V blobs were found.
func (m *PipelineManager) ShadersLoaded() bool { return m.loaded }

// RenderPass returns the render pass pipelines are currently built
// for.
func (m *PipelineManager) RenderPass() vk.RenderPass { return m.renderPass }

// SetRenderPass switches the target render pass, clearing the cache
// when it changes.
func (m *PipelineManager) SetRenderPass(rp vk.RenderPass) {
	if m.renderPass != rp {
		m.ClearCache()
		m.renderPass = rp
	}
}

// Pipeline returns the cached pipeline for the trait set, creating it
// on a miss. If creation fails, a fallback pipeline with
// traits&(MapTexture|UniformColor) is built and stored under the
// originally requested key so later requests short-circuit. Returns
// nil when no pipeline could be built; no draw may use a nil result.
func (m *PipelineManager) Pipeline(traits ShaderTrait) *Pipeline {
	if m.renderPass == vk.NullRenderPass {
		logOnce("pipeline requested without a render pass")
		return nil
	}
	if !m.loaded {
		logOnce("pipeline requested before shaders were loaded")
		return nil
	}
	if p, ok := m.pipelines[traits]; ok {
		return p
	}

	p, err := newPipeline(m.ctx, m.renderPass, traits, m.vertSources, m.fragSources)
	if err != nil {
		log.Printf("vulkan: pipeline for traits %#x: %v", uint32(traits), err)
		fallback := fallbackTraits(traits)
		if fallback != traits {
			if p, err = newPipeline(m.ctx, m.renderPass, fallback, m.vertSources, m.fragSources); err != nil {
				log.Printf("vulkan: fallback pipeline for traits %#x: %v", uint32(fallback), err)
				return nil
			}
		} else {
			return nil
		}
	}
	m.pipelines[traits] = p
	return p
}

// ClearCache destroys all cached pipelines.
func (m *PipelineManager) ClearCache() {
	for _, p := range m.pipelines {
		p.release()
	}
	m.pipelines = make(map[ShaderTrait]*Pipeline)
}
