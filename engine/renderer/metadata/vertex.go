package metadata

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

const (
	StaticVertexStride  = 48
	SkinnedVertexStride = 80
	DebugVertexStride   = 28
)

type StaticVertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	UV       mgl32.Vec2
	Tangent  mgl32.Vec4
}

type SkinnedVertex struct {
	StaticVertex
	Joints  [4]uint32
	Weights mgl32.Vec4
}

type DebugVertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec4
}

func StaticVertexLayout() ([]gpu.VertexBinding, []gpu.VertexAttribute) {
	return []gpu.VertexBinding{{Binding: 0, Stride: StaticVertexStride}}, []gpu.VertexAttribute{
		{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
		{Location: 1, Format: gpu.FormatR32G32B32Sfloat, Offset: 12},
		{Location: 2, Format: gpu.FormatR32G32Sfloat, Offset: 24},
		{Location: 3, Format: gpu.FormatR32G32B32A32Sfloat, Offset: 32},
	}
}

func SkinnedVertexLayout() ([]gpu.VertexBinding, []gpu.VertexAttribute) {
	_, attrs := StaticVertexLayout()
	attrs = append(attrs,
		gpu.VertexAttribute{Location: 4, Format: gpu.FormatR32G32B32A32Uint, Offset: 48},
		gpu.VertexAttribute{Location: 5, Format: gpu.FormatR32G32B32A32Sfloat, Offset: 64},
	)
	return []gpu.VertexBinding{{Binding: 0, Stride: SkinnedVertexStride}}, attrs
}

// PositionOnlyLayout reads just the position of a StaticVertex or SkinnedVertex stream.
func PositionOnlyLayout(stride uint32) ([]gpu.VertexBinding, []gpu.VertexAttribute) {
	return []gpu.VertexBinding{{Binding: 0, Stride: stride}}, []gpu.VertexAttribute{
		{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
	}
}

func DebugVertexLayout() ([]gpu.VertexBinding, []gpu.VertexAttribute) {
	return []gpu.VertexBinding{{Binding: 0, Stride: DebugVertexStride}}, []gpu.VertexAttribute{
		{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
		{Location: 1, Format: gpu.FormatR32G32B32A32Sfloat, Offset: 12},
	}
}

// SkinnedPositionLayout reads the position, joints and weights of a SkinnedVertex stream.
func SkinnedPositionLayout() ([]gpu.VertexBinding, []gpu.VertexAttribute) {
	return []gpu.VertexBinding{{Binding: 0, Stride: SkinnedVertexStride}}, []gpu.VertexAttribute{
		{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
		{Location: 1, Format: gpu.FormatR32G32B32A32Uint, Offset: 48},
		{Location: 2, Format: gpu.FormatR32G32B32A32Sfloat, Offset: 64},
	}
}
