package testbed

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	elapsed float64
	width   uint32
	height  uint32

	cube   metadata.Mesh
	floor  metadata.Mesh
	axes   gpu.Buffer
	owned  []gpu.Buffer
	sun    metadata.DirectionalLight
	points []metadata.PointLight
	spot   metadata.SpotLight
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(device gpu.Device, r *renderer.Renderer) error {
	core.LogInfo("initializing testbed scene...")
	s := g.state()

	vertices, indices := cubeGeometry()
	cube, err := g.uploadMesh(device, "cube", vertices, indices)
	if err != nil {
		return err
	}
	s.cube = cube

	vertices, indices = planeGeometry(20)
	floor, err := g.uploadMesh(device, "floor", vertices, indices)
	if err != nil {
		return err
	}
	s.floor = floor

	axes := axisLines(2)
	s.axes, err = g.upload(device, "axes", gpu.BufferUsageVertex, gpu.SliceBytes(axes))
	if err != nil {
		return err
	}

	s.sun = metadata.DirectionalLight{
		Direction:   mgl32.Vec3{-0.4, -1, -0.3}.Normalize(),
		Color:       mgl32.Vec3{1, 0.95, 0.85},
		Intensity:   2.5,
		CastShadows: true,
	}
	s.points = []metadata.PointLight{
		{Color: mgl32.Vec3{1, 0.3, 0.2}, Intensity: 8, Range: 8, CastShadows: true},
		{Color: mgl32.Vec3{0.2, 0.5, 1}, Intensity: 8, Range: 8},
	}
	s.spot = metadata.SpotLight{
		Position:    mgl32.Vec3{0, 6, 4},
		Direction:   mgl32.Vec3{0, -1, -0.6}.Normalize(),
		Color:       mgl32.Vec3{1, 1, 1},
		Intensity:   20,
		Range:       15,
		InnerCone:   mgl32.DegToRad(15),
		OuterCone:   mgl32.DegToRad(25),
		CastShadows: true,
	}
	return nil
}

func (g *TestGame) upload(device gpu.Device, name string, usage gpu.BufferUsage, data []byte) (gpu.Buffer, error) {
	buf, err := device.NewBuffer(gpu.BufferDesc{
		Name:        name,
		Size:        uint64(len(data)),
		Usage:       usage,
		HostVisible: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer `%s`: %w", name, err)
	}
	if err := buf.Write(0, data); err != nil {
		buf.Destroy()
		return nil, fmt.Errorf("failed to upload buffer `%s`: %w", name, err)
	}
	s := g.state()
	s.owned = append(s.owned, buf)
	return buf, nil
}

func (g *TestGame) uploadMesh(device gpu.Device, name string, vertices []metadata.StaticVertex, indices []uint32) (metadata.Mesh, error) {
	vb, err := g.upload(device, name+"_vertices", gpu.BufferUsageVertex, gpu.SliceBytes(vertices))
	if err != nil {
		return metadata.Mesh{}, err
	}
	ib, err := g.upload(device, name+"_indices", gpu.BufferUsageIndex, gpu.SliceBytes(indices))
	if err != nil {
		return metadata.Mesh{}, err
	}
	return metadata.Mesh{
		Vertices:   vb,
		Indices:    ib,
		IndexType:  gpu.IndexTypeUint32,
		IndexCount: uint32(len(indices)),
	}, nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.elapsed += deltaTime

	t := float32(s.elapsed)
	for i := range s.points {
		angle := t*0.8 + float32(i)*math32.Pi
		s.points[i].Position = mgl32.Vec3{4 * math32.Cos(angle), 1.5, 4 * math32.Sin(angle)}
	}
	return nil
}

func (g *TestGame) Render(frame *metadata.FrameData, deltaTime float64) error {
	s := g.state()
	t := float32(s.elapsed)

	frame.Camera.LookAt(mgl32.Vec3{6 * math32.Sin(t*0.1), 4, 6 * math32.Cos(t*0.1)}, mgl32.Vec3{0, 0.5, 0})

	floorMaterial := metadata.Material{Constants: metadata.DefaultMaterialConstants()}
	floorMaterial.Constants.BaseColorFactor = mgl32.Vec4{0.6, 0.6, 0.6, 1}
	frame.Items = append(frame.Items, metadata.StaticMesh{
		Mesh:        s.floor,
		Material:    floorMaterial,
		Transform:   mgl32.Ident4(),
		CastShadows: false,
	})

	cubeMaterial := metadata.Material{Constants: metadata.DefaultMaterialConstants()}
	cubeMaterial.Constants.BaseColorFactor = mgl32.Vec4{0.9, 0.7, 0.3, 1}
	cubeMaterial.Constants.Metallic = 0.2
	cubeMaterial.Constants.Roughness = 0.5
	spin := mgl32.HomogRotate3DY(t * 0.7).Mul4(mgl32.HomogRotate3DX(t * 0.3))
	frame.Items = append(frame.Items, metadata.StaticMesh{
		Mesh:        s.cube,
		Material:    cubeMaterial,
		Transform:   mgl32.Translate3D(0, 1, 0).Mul4(spin),
		CastShadows: true,
	})

	sun := s.sun
	frame.Items = append(frame.Items, metadata.Lighting{
		Directional: &sun,
		Points:      append([]metadata.PointLight(nil), s.points...),
		Spots:       []metadata.SpotLight{s.spot},
		Ambient:     mgl32.Vec3{0.03, 0.03, 0.04},
	})

	for _, p := range s.points {
		frame.Items = append(frame.Items, metadata.Billboard{
			Position: p.Position,
			Size:     mgl32.Vec2{0.25, 0.25},
			Color:    p.Color.Vec4(1),
		})
	}

	frame.Items = append(frame.Items, metadata.DebugLines{
		Vertices:    s.axes,
		VertexCount: 6,
		Transform:   mgl32.Ident4(),
	})
	frame.Items = append(frame.Items, metadata.DefaultPostProcess())
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	s := g.state()
	for _, b := range s.owned {
		b.Destroy()
	}
	s.owned = nil
	return nil
}
