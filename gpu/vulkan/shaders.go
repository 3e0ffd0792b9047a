// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gioui.org/shader"
)

// Shader blob file names, produced at build time by glslc.
const (
	vertShaderFile = "basic.vert.spv"
	fragShaderFile = "main.frag.spv"
)

// shaderSearchPaths lists the directories probed for the SPIR-V
// blobs, in order. The first directory containing both blobs wins.
func shaderSearchPaths() []string {
	var paths []string
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(dir, "shaders", "vulkan"),
			filepath.Join(dir, "..", "shaders", "vulkan"),
		)
	}
	if xdg := os.Getenv("XDG_DATA_DIRS"); xdg != "" {
		for _, dir := range strings.Split(xdg, ":") {
			if dir == "" {
				continue
			}
			paths = append(paths, filepath.Join(dir, "sonic", "shaders", "vulkan"))
		}
	}
	paths = append(paths,
		"/usr/share/sonic/shaders/vulkan",
		"/usr/local/share/sonic/shaders/vulkan",
	)
	return paths
}

func findShaderDir(paths []string) (string, bool) {
	for _, dir := range paths {
		v := filepath.Join(dir, vertShaderFile)
		f := filepath.Join(dir, fragShaderFile)
		if fileExists(v) && fileExists(f) {
			return dir, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// LoadShaders probes the well-known data directories for the two
// SPIR-V blobs and wraps them in shader sources describing the
// streaming vertex layout.
func (m *PipelineManager) LoadShaders() error {
	dir, ok := findShaderDir(shaderSearchPaths())
	if !ok {
		m.loaded = false
		return fmt.Errorf("vulkan: %w: no directory with %s and %s",
			ErrShadersNotLoaded, vertShaderFile, fragShaderFile)
	}

	vert, err := os.ReadFile(filepath.Join(dir, vertShaderFile))
	if err != nil {
		return fmt.Errorf("vulkan: reading vertex shader: %w", err)
	}
	frag, err := os.ReadFile(filepath.Join(dir, fragShaderFile))
	if err != nil {
		return fmt.Errorf("vulkan: reading fragment shader: %w", err)
	}
	if len(vert) == 0 || len(frag) == 0 {
		return fmt.Errorf("vulkan: %w: empty shader blob in %s", ErrShadersNotLoaded, dir)
	}

	m.vertSources = shader.Sources{
		Name: vertShaderFile,
		Inputs: []shader.InputLocation{
			{Name: "position", Location: 0, Type: shader.DataTypeFloat, Size: 2},
			{Name: "texcoord", Location: 1, Type: shader.DataTypeFloat, Size: 2},
		},
		SPIRV: string(vert),
	}
	m.fragSources = shader.Sources{
		Name:  fragShaderFile,
		SPIRV: string(frag),
	}
	m.loaded = true
	return nil
}
