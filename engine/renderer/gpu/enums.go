package gpu

// Enum values match their Vulkan counterparts so a backend can convert with a plain cast.

type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR16G16B16A16Sfloat Format = 97
	FormatR32Sfloat          Format = 100
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Uint   Format = 107
	FormatR32G32B32A32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

// IsDepth reports whether f is a depth or depth/stencil format.
func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

// HasStencil reports whether f carries a stencil aspect.
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

type ImageLayout int32

const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutDepthStencilReadOnlyOptimal   ImageLayout = 4
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe             PipelineStage = 0x00000001
	PipelineStageVertexInput           PipelineStage = 0x00000004
	PipelineStageVertexShader          PipelineStage = 0x00000008
	PipelineStageGeometryShader        PipelineStage = 0x00000040
	PipelineStageFragmentShader        PipelineStage = 0x00000080
	PipelineStageEarlyFragmentTests    PipelineStage = 0x00000100
	PipelineStageLateFragmentTests     PipelineStage = 0x00000200
	PipelineStageColorAttachmentOutput PipelineStage = 0x00000400
	PipelineStageTransfer              PipelineStage = 0x00001000
	PipelineStageBottomOfPipe          PipelineStage = 0x00002000
	PipelineStageAllGraphics           PipelineStage = 0x00008000
	PipelineStageAllCommands           PipelineStage = 0x00010000
)

type Access uint32

const (
	AccessNone                        Access = 0
	AccessIndexRead                   Access = 0x00000002
	AccessVertexAttributeRead         Access = 0x00000004
	AccessUniformRead                 Access = 0x00000008
	AccessInputAttachmentRead         Access = 0x00000010
	AccessShaderRead                  Access = 0x00000020
	AccessShaderWrite                 Access = 0x00000040
	AccessColorAttachmentRead         Access = 0x00000080
	AccessColorAttachmentWrite        Access = 0x00000100
	AccessDepthStencilAttachmentRead  Access = 0x00000200
	AccessDepthStencilAttachmentWrite Access = 0x00000400
	AccessTransferRead                Access = 0x00000800
	AccessTransferWrite               Access = 0x00001000
	AccessMemoryRead                  Access = 0x00008000
	AccessMemoryWrite                 Access = 0x00010000
)

type DependencyFlags uint32

const DependencyByRegion DependencyFlags = 0x00000001

// SubpassExternal refers to commands outside the render pass in a dependency.
const SubpassExternal = ^uint32(0)

type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x00000001
	ImageUsageTransferDst            ImageUsage = 0x00000002
	ImageUsageSampled                ImageUsage = 0x00000004
	ImageUsageStorage                ImageUsage = 0x00000008
	ImageUsageColorAttachment        ImageUsage = 0x00000010
	ImageUsageDepthStencilAttachment ImageUsage = 0x00000020
	ImageUsageTransientAttachment    ImageUsage = 0x00000040
	ImageUsageInputAttachment        ImageUsage = 0x00000080
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 0x00000001
	BufferUsageTransferDst BufferUsage = 0x00000002
	BufferUsageUniform     BufferUsage = 0x00000010
	BufferUsageStorage     BufferUsage = 0x00000020
	BufferUsageIndex       BufferUsage = 0x00000040
	BufferUsageVertex      BufferUsage = 0x00000080
)

type LoadOp int32

const (
	LoadOpLoad     LoadOp = 0
	LoadOpClear    LoadOp = 1
	LoadOpDontCare LoadOp = 2
)

type StoreOp int32

const (
	StoreOpStore    StoreOp = 0
	StoreOpDontCare StoreOp = 1
)

type DescriptorType int32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
	DescriptorTypeInputAttachment      DescriptorType = 10
)

type CompareOp int32

const (
	CompareOpNever          CompareOp = 0
	CompareOpLess           CompareOp = 1
	CompareOpEqual          CompareOp = 2
	CompareOpLessOrEqual    CompareOp = 3
	CompareOpGreater        CompareOp = 4
	CompareOpNotEqual       CompareOp = 5
	CompareOpGreaterOrEqual CompareOp = 6
	CompareOpAlways         CompareOp = 7
)

type ImageViewType int32

const (
	ImageViewType2D      ImageViewType = 1
	ImageViewTypeCube    ImageViewType = 3
	ImageViewType2DArray ImageViewType = 5
)

type ShaderStage uint32

const (
	ShaderStageVertex      ShaderStage = 0x00000001
	ShaderStageGeometry    ShaderStage = 0x00000008
	ShaderStageFragment    ShaderStage = 0x00000010
	ShaderStageAllGraphics ShaderStage = 0x0000001F
)

type CullMode uint32

const (
	CullModeNone         CullMode = 0
	CullModeFront        CullMode = 1
	CullModeBack         CullMode = 2
	CullModeFrontAndBack CullMode = 3
)

type PrimitiveTopology int32

const (
	PrimitiveTopologyPointList    PrimitiveTopology = 0
	PrimitiveTopologyLineList     PrimitiveTopology = 1
	PrimitiveTopologyTriangleList PrimitiveTopology = 3
)

type Filter int32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

type AddressMode int32

const (
	AddressModeRepeat        AddressMode = 0
	AddressModeClampToEdge   AddressMode = 2
	AddressModeClampToBorder AddressMode = 3
)

type BorderColor int32

const (
	BorderColorFloatTransparentBlack BorderColor = 0
	BorderColorFloatOpaqueBlack      BorderColor = 2
	BorderColorFloatOpaqueWhite      BorderColor = 4
)

type IndexType int32

const (
	IndexTypeUint16 IndexType = 0
	IndexTypeUint32 IndexType = 1
)

type PresentMode int32

const (
	PresentModeImmediate PresentMode = 0
	PresentModeMailbox   PresentMode = 1
	PresentModeFifo      PresentMode = 2
)

// SwapchainStatus classifies the non-fatal outcome of acquire and present.
type SwapchainStatus int

const (
	SwapchainOK SwapchainStatus = iota
	// The swapchain still works but no longer matches the surface exactly.
	SwapchainSuboptimal
	// The swapchain can no longer be used and must be recreated.
	SwapchainOutOfDate
)

func (s SwapchainStatus) String() string {
	switch s {
	case SwapchainOK:
		return "ok"
	case SwapchainSuboptimal:
		return "suboptimal"
	case SwapchainOutOfDate:
		return "out-of-date"
	default:
		return "unknown"
	}
}
