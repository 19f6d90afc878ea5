package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryName(t *testing.T) {
	assert.Equal(t, "libonnxruntime.so.1.20.0", libraryName("linux"))
	assert.Equal(t, "libonnxruntime.1.20.0.dylib", libraryName("darwin"))
	assert.Equal(t, "onnxruntime.dll", libraryName("windows"))
}

func TestResolveLibrary(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "best.onnx")

	got, err := resolveLibrary("", model)
	require.NoError(t, err)
	assert.Equal(t, libraryName(runtime.GOOS), got, "falls back to the loader search path")

	bundled := filepath.Join(dir, "lib", libraryName(runtime.GOOS))
	require.NoError(t, os.MkdirAll(filepath.Dir(bundled), 0o755))
	require.NoError(t, os.WriteFile(bundled, nil, 0o644))
	got, err = resolveLibrary("", model)
	require.NoError(t, err)
	assert.Equal(t, bundled, got)

	got, err = resolveLibrary(bundled, "")
	require.NoError(t, err)
	assert.Equal(t, bundled, got)

	_, err = resolveLibrary(filepath.Join(dir, "missing.so"), model)
	assert.ErrorContains(t, err, "onnxruntime library not found")
}

func TestCheckModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "best.onnx")

	_, err := checkModel(model)
	assert.ErrorContains(t, err, "model file not found")

	require.NoError(t, os.WriteFile(model, []byte("onnx"), 0o644))
	got, err := checkModel(model)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, model, got)
}

func TestLoadRegistry(t *testing.T) {
	reg, err := loadRegistry("")
	require.NoError(t, err)
	assert.Len(t, reg.Names(), 3)

	_, err = loadRegistry(filepath.Join(t.TempDir(), "registry.json"))
	assert.Error(t, err)
}

func TestModelLabels(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	reg, err := loadRegistry("")
	require.NoError(t, err)

	labels, err := modelLabels("", reg)
	require.NoError(t, err)
	assert.Equal(t, reg.Labels(), labels)
	assert.Contains(t, buf.String(), "LABELS_PATH not set")

	buf.Reset()
	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("Tin\nWood\n"), 0o644))
	labels, err = modelLabels(path, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tin", "Wood"}, labels)
	assert.Empty(t, buf.String())

	_, err = modelLabels(filepath.Join(t.TempDir(), "missing.txt"), reg)
	assert.Error(t, err)
}
