//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

const shaderDir = "assets/shaders"

var shaderStages = []string{"*.vert", "*.frag", "*.geom"}

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders to <name>.spv with glslc.
func (Build) Shaders() error {
	for _, pattern := range shaderStages {
		sources, err := filepath.Glob(filepath.Join(shaderDir, pattern))
		if err != nil {
			return err
		}
		for _, src := range sources {
			out := src + ".spv"
			stale, err := target.Path(out, src)
			if err != nil {
				return err
			}
			if !stale {
				continue
			}
			if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", src, "-o", out), withStream()); err != nil {
				return fmt.Errorf("failed to compile %s: %w", src, err)
			}
		}
	}
	return nil
}

// Builds the testbed binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/umbra", "."), withStream())
	return err
}
