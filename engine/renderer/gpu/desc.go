package gpu

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type ImageDesc struct {
	Name   string
	Format Format
	Width  uint32
	Height uint32
	// Array layers. Cube images use 6 layers per cube.
	Layers uint32
	Usage  ImageUsage
	// View type used when the image is sampled.
	ViewType ImageViewType
}

type SamplerDesc struct {
	MinFilter     Filter
	MagFilter     Filter
	AddressMode   AddressMode
	BorderColor   BorderColor
	MaxAnisotropy float32
	// Depth comparison sampling, used for hardware PCF on shadow maps.
	Compare   bool
	CompareOp CompareOp
}

type BufferDesc struct {
	Name  string
	Size  uint64
	Usage BufferUsage
	// Host visible buffers are persistently mapped and writable through Buffer.Write.
	HostVisible bool
}

type AttachmentDesc struct {
	Format        Format
	LoadOp        LoadOp
	StoreOp       StoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

type AttachmentRef struct {
	Attachment uint32
	Layout     ImageLayout
}

type SubpassDesc struct {
	Colors []AttachmentRef
	Inputs []AttachmentRef
	Depth  *AttachmentRef
}

type SubpassDependency struct {
	SrcSubpass uint32
	DstSubpass uint32
	SrcStage   PipelineStage
	DstStage   PipelineStage
	SrcAccess  Access
	DstAccess  Access
	Flags      DependencyFlags
}

type RenderPassDesc struct {
	Name         string
	Attachments  []AttachmentDesc
	Subpasses    []SubpassDesc
	Dependencies []SubpassDependency
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorSetLayoutDesc struct {
	Bindings []DescriptorBinding
	// Push layouts are never allocated as persistent sets; they are written per draw
	// with CommandBuffer.PushDescriptors.
	Push bool
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type PipelineLayoutDesc struct {
	SetLayouts    []DescriptorSetLayout
	PushConstants []PushConstantRange
}

type ShaderStageDesc struct {
	Stage  ShaderStage
	Module ShaderModule
}

type VertexBinding struct {
	Binding uint32
	Stride  uint32
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type BlendState struct {
	Enable bool
	// Additive blending instead of premultiplied-less alpha blending.
	Additive bool
}

type GraphicsPipelineDesc struct {
	Name             string
	Layout           PipelineLayout
	RenderPass       RenderPass
	Subpass          uint32
	Stages           []ShaderStageDesc
	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute
	Topology         PrimitiveTopology
	CullMode         CullMode
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     CompareOp
	DepthBias        bool
	// One entry per color attachment of the subpass.
	Blend []BlendState
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepth(depth float32) ClearValue {
	return ClearValue{Depth: depth}
}

type ImageBinding struct {
	View    ImageView
	Sampler Sampler
	Layout  ImageLayout
}

type BufferBinding struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

// DescriptorWrite fills one binding of a push descriptor set.
type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Images  []ImageBinding
	Buffers []BufferBinding
}

type SubmitInfo struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	WaitStage     PipelineStage
	Signal        Semaphore
	Fence         Fence
}

type Limits struct {
	MaxPushConstantsSize            uint32
	MinUniformBufferOffsetAlignment uint64
	MaxImageDimension2D             uint32
}
