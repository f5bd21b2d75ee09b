package metadata

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// MaterialConstantsSize is the size of the material push constant block.
const MaterialConstantsSize = 48

// MaterialConstants is pushed per draw right after the model matrix.
type MaterialConstants struct {
	BaseColorFactor mgl32.Vec4
	// xyz emissive color, w emissive strength.
	EmissiveFactor mgl32.Vec4
	Metallic       float32
	Roughness      float32
	Occlusion      float32
	AlphaCutoff    float32
}

func DefaultMaterialConstants() MaterialConstants {
	return MaterialConstants{
		BaseColorFactor: mgl32.Vec4{1, 1, 1, 1},
		EmissiveFactor:  mgl32.Vec4{0, 0, 0, 0},
		Metallic:        0,
		Roughness:       1,
		Occlusion:       1,
		AlphaCutoff:     0.5,
	}
}

// Material textures are optional; the renderer binds placeholders for nil views.
type Material struct {
	Constants         MaterialConstants
	BaseColor         gpu.ImageView
	Normal            gpu.ImageView
	MetallicRoughness gpu.ImageView
	Emissive          gpu.ImageView
	Occlusion         gpu.ImageView
	// Translucent materials are drawn in the forward subpass with blending.
	Translucent bool
}
