package metadata

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type RenderDataKind uint8

const (
	RenderDataStaticMesh RenderDataKind = iota
	RenderDataSkeletalMesh
	RenderDataLighting
	RenderDataSkybox
	RenderDataBillboard
	RenderDataPostProcess
	RenderDataDebugLines
)

func (k RenderDataKind) String() string {
	switch k {
	case RenderDataStaticMesh:
		return "static_mesh"
	case RenderDataSkeletalMesh:
		return "skeletal_mesh"
	case RenderDataLighting:
		return "lighting"
	case RenderDataSkybox:
		return "skybox"
	case RenderDataBillboard:
		return "billboard"
	case RenderDataPostProcess:
		return "post_process"
	case RenderDataDebugLines:
		return "debug_lines"
	default:
		return "unknown"
	}
}

// RenderData is one entry of the per-frame draw list handed over by the scene.
// Entries are only valid for the frame they were submitted with.
type RenderData interface {
	Kind() RenderDataKind
}

// Mesh references GPU geometry owned by the scene.
type Mesh struct {
	Vertices   gpu.Buffer
	Indices    gpu.Buffer
	IndexType  gpu.IndexType
	IndexCount uint32
	// Used when Indices is nil.
	VertexCount uint32
}

type StaticMesh struct {
	Mesh        Mesh
	Material    Material
	Transform   mgl32.Mat4
	CastShadows bool
}

func (StaticMesh) Kind() RenderDataKind { return RenderDataStaticMesh }

type SkeletalMesh struct {
	Mesh      Mesh
	Material  Material
	Transform mgl32.Mat4
	// Storage buffer of JointCount column-major joint matrices.
	Joints      gpu.Buffer
	JointCount  uint32
	CastShadows bool
}

func (SkeletalMesh) Kind() RenderDataKind { return RenderDataSkeletalMesh }

type Skybox struct {
	Cubemap   gpu.ImageView
	Sampler   gpu.Sampler
	Intensity float32
}

func (Skybox) Kind() RenderDataKind { return RenderDataSkybox }

type Billboard struct {
	Position mgl32.Vec3
	Size     mgl32.Vec2
	Color    mgl32.Vec4
	// Optional. A white placeholder is used when nil.
	Texture gpu.ImageView
}

func (Billboard) Kind() RenderDataKind { return RenderDataBillboard }

type PostProcess struct {
	Exposure float32
	Gamma    float32
}

func (PostProcess) Kind() RenderDataKind { return RenderDataPostProcess }

func DefaultPostProcess() PostProcess {
	return PostProcess{Exposure: 1.0, Gamma: 2.2}
}

// DebugLines is a line list of DebugVertex values.
type DebugLines struct {
	Vertices    gpu.Buffer
	VertexCount uint32
	Transform   mgl32.Mat4
}

func (DebugLines) Kind() RenderDataKind { return RenderDataDebugLines }

// FrameData is the scene's contribution to one frame.
type FrameData struct {
	Camera    *Camera
	Items     []RenderData
	DeltaTime float64
}

// Filter returns the items of type T in submission order.
func Filter[T RenderData](items []RenderData) []T {
	var out []T
	for _, it := range items {
		if v, ok := it.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// First returns the first item of type T.
func First[T RenderData](items []RenderData) (T, bool) {
	for _, it := range items {
		if v, ok := it.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
