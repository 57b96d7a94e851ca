//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

var shaderSources = map[string]bool{
	".vert": true,
	".frag": true,
	".comp": true,
	".geom": true,
	".tesc": true,
	".tese": true,
}

// Compiles every GLSL stage under assets/shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	return filepath.Walk(shaderDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || !shaderSources[filepath.Ext(path)] {
			return nil
		}
		out := path + ".spv"
		if upToDate(path, out) {
			return nil
		}
		_, err = executeCmd("glslc", withArgs(path, "-o", out), withStream())
		return err
	})
}

// Builds the player binary into bin/.
func (Build) Player() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "prism"), "."), withStream())
	return err
}

func upToDate(src, dst string) bool {
	s, err := os.Stat(src)
	if err != nil {
		return false
	}
	d, err := os.Stat(dst)
	if err != nil {
		return false
	}
	return d.ModTime().After(s.ModTime())
}
