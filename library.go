package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const onnxRuntimeVersion = "1.20.0"

// libraryName is the ONNX Runtime shared library file name for goos.
func libraryName(goos string) string {
	switch goos {
	case "darwin":
		return "libonnxruntime." + onnxRuntimeVersion + ".dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so." + onnxRuntimeVersion
	}
}

// resolveLibrary returns the shared library to load. An explicit path must
// exist; otherwise lib/<platform name> next to the model is tried, then the
// bare platform name so the system loader can search its own paths.
func resolveLibrary(explicit, modelPath string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("onnxruntime library not found: %w", err)
		}
		return filepath.Clean(explicit), nil
	}

	name := libraryName(runtime.GOOS)
	candidate := filepath.Join(filepath.Dir(modelPath), "lib", name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return name, nil
}

// checkModel validates the model path before any session is created.
func checkModel(modelPath string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(modelPath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for model: %w", err)
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return "", fmt.Errorf("model file not found: %s", abs)
	}
	return abs, nil
}
