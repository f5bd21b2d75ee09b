package metadata

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type DirectionalLight struct {
	// Direction the light travels in, world space.
	Direction   mgl32.Vec3
	Color       mgl32.Vec3
	Intensity   float32
	CastShadows bool
}

type PointLight struct {
	Position    mgl32.Vec3
	Color       mgl32.Vec3
	Intensity   float32
	Range       float32
	CastShadows bool
}

type SpotLight struct {
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32
	Range     float32
	// Cone half angles in radians.
	InnerCone   float32
	OuterCone   float32
	CastShadows bool
}

// ImageBasedLighting holds prefiltered environment maps. Any nil view is replaced by a placeholder.
type ImageBasedLighting struct {
	Irradiance  gpu.ImageView
	Prefiltered gpu.ImageView
	BRDFLUT     gpu.ImageView
}

type Lighting struct {
	Directional *DirectionalLight
	Points      []PointLight
	Spots       []SpotLight
	Ambient     mgl32.Vec3
	IBL         *ImageBasedLighting
}

func (Lighting) Kind() RenderDataKind { return RenderDataLighting }

// Light capacities of one frame. Lights past these counts are ignored.
const (
	MaxPointLights = 16
	MaxSpotLights  = 8
)
