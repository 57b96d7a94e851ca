//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the player with prism.toml.
func (Run) Player() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run player...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "prism.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the player on the null backend, no GPU required.
func (Run) Headless() error {
	_, err := executeCmd("go", withArgs("run", ".", "-config", "prism.toml", "-backend", "empty", "-frames", "120"), withStream())
	return err
}
