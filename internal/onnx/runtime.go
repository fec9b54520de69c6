// Package onnx wraps ONNX Runtime setup shared by the neural engines:
// shared library discovery, environment initialization, session creation and
// image tensor layout.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

// LibraryPathEnv overrides shared library discovery.
const LibraryPathEnv = "ONNXRUNTIME_LIB"

var initMu sync.Mutex

// libraryName returns the shared library filename for goos.
func libraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// candidateLibraryPaths lists where the shared library is looked for, most
// specific first. GPU builds are preferred when useGPU is set.
func candidateLibraryPaths(useGPU bool, root, libName string) []string {
	var paths []string
	if env := os.Getenv(LibraryPathEnv); env != "" {
		paths = append(paths, env)
	}
	if useGPU {
		paths = append(paths, "/opt/onnxruntime/gpu/lib/"+libName)
		if root != "" {
			paths = append(paths, filepath.Join(root, "onnxruntime", "gpu", "lib", libName))
		}
	}
	paths = append(paths,
		"/usr/local/lib/"+libName,
		"/usr/lib/"+libName,
		"/opt/onnxruntime/cpu/lib/"+libName,
	)
	if root != "" {
		paths = append(paths, filepath.Join(root, "onnxruntime", "lib", libName))
	}
	return paths
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// SetLibraryPath points onnxruntime_go at the first shared library found.
func SetLibraryPath(useGPU bool) error {
	libName, err := libraryName(runtime.GOOS)
	if err != nil {
		return err
	}
	for _, p := range candidateLibraryPaths(useGPU, findProjectRoot(), libName) {
		if _, err := os.Stat(p); err == nil {
			onnxruntime_go.SetSharedLibraryPath(p)
			slog.Debug("using ONNX Runtime library", "path", p)
			return nil
		}
	}
	return fmt.Errorf("ONNX Runtime library %s not found (set %s)", libName, LibraryPathEnv)
}

// Init initializes the process-wide ONNX Runtime environment once.
func Init(useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	if err := SetLibraryPath(useGPU); err != nil {
		return fmt.Errorf("failed to set ONNX Runtime library path: %w", err)
	}
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// Shutdown releases the ONNX Runtime environment.
func Shutdown() {
	initMu.Lock()
	defer initMu.Unlock()
	if onnxruntime_go.IsInitialized() {
		if err := onnxruntime_go.DestroyEnvironment(); err != nil {
			slog.Warn("failed to destroy ONNX Runtime environment", "error", err)
		}
	}
}

// SessionConfig describes one model session.
type SessionConfig struct {
	ModelPath  string
	Inputs     []string
	Outputs    []string
	NumThreads int
	GPU        GPUConfig
}

// NewSession creates a dynamic session for the configured model.
func NewSession(cfg SessionConfig) (*onnxruntime_go.DynamicAdvancedSession, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if err := Init(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs := cfg.Inputs, cfg.Outputs
	if len(inputs) == 0 || len(outputs) == 0 {
		ins, outs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read model info: %w", err)
		}
		if len(inputs) == 0 {
			for _, in := range ins {
				inputs = append(inputs, in.Name)
			}
		}
		if len(outputs) == 0 {
			for _, out := range outs {
				outputs = append(outputs, out.Name)
			}
		}
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	if err := ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	slog.Debug("ONNX session created", "model", cfg.ModelPath, "inputs", inputs, "outputs", outputs)
	return session, nil
}

// DestroyValues releases runtime values, ignoring nil entries.
func DestroyValues(values ...onnxruntime_go.Value) {
	for _, v := range values {
		if v == nil {
			continue
		}
		if err := v.Destroy(); err != nil {
			slog.Warn("failed to destroy tensor", "error", err)
		}
	}
}
