// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"os"
	"path/filepath"
	"testing"
)

func writeShaderPair(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{vertShaderFile, fragShaderFile} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0x03, 0x02, 0x23, 0x07}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFindShaderDirFirstMatchWins(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nowhere")
	first := filepath.Join(t.TempDir(), "first")
	second := filepath.Join(t.TempDir(), "second")
	writeShaderPair(t, first)
	writeShaderPair(t, second)

	dir, ok := findShaderDir([]string{missing, first, second})
	if !ok || dir != first {
		t.Errorf("findShaderDir = %q, %v; want %q", dir, ok, first)
	}
}

func TestFindShaderDirRequiresBothBlobs(t *testing.T) {
	partial := t.TempDir()
	if err := os.WriteFile(filepath.Join(partial, vertShaderFile), []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := findShaderDir([]string{partial}); ok {
		t.Error("directory with only the vertex shader accepted")
	}
	if _, ok := findShaderDir(nil); ok {
		t.Error("empty path list produced a match")
	}
}

func TestShaderSearchPathsIncludeSystemDirs(t *testing.T) {
	t.Setenv("XDG_DATA_DIRS", "/opt/data:/var/data")
	paths := shaderSearchPaths()

	want := []string{
		"/opt/data/sonic/shaders/vulkan",
		"/var/data/sonic/shaders/vulkan",
		"/usr/share/sonic/shaders/vulkan",
		"/usr/local/share/sonic/shaders/vulkan",
	}
	for _, w := range want {
		found := false
		for _, p := range paths {
			if p == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("path %q missing from %v", w, paths)
		}
	}
	// XDG directories are probed before the hard-coded system paths.
	var xdgIdx, sysIdx int
	for i, p := range paths {
		switch p {
		case "/opt/data/sonic/shaders/vulkan":
			xdgIdx = i
		case "/usr/share/sonic/shaders/vulkan":
			sysIdx = i
		}
	}
	if xdgIdx > sysIdx {
		t.Error("XDG data dirs probed after system paths")
	}
}
