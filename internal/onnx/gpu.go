package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig holds configuration for CUDA acceleration.
type GPUConfig struct {
	UseGPU      bool   // Enable GPU acceleration
	DeviceID    int    // CUDA device ID
	GPUMemLimit uint64 // GPU memory limit in bytes (0 = unlimited)
}

// DefaultGPUConfig returns a CPU-only configuration.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{UseGPU: false, DeviceID: 0}
}

// ValidateGPUConfig checks if the GPU configuration is valid.
func ValidateGPUConfig(config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	if config.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", config.DeviceID)
	}
	return nil
}

// cudaSettings renders the provider option map for a GPU configuration.
func cudaSettings(config GPUConfig) map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(config.DeviceID),
		"arena_extend_strategy":     "kNextPowerOfTwo",
		"cudnn_conv_algo_search":    "DEFAULT",
		"do_copy_in_default_stream": "1",
	}
	if config.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(config.GPUMemLimit, 10)
	}
	return settings
}

// ConfigureSessionForGPU appends the CUDA execution provider when requested.
func ConfigureSessionForGPU(sessionOptions *onnxruntime_go.SessionOptions, config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}

	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if destroyErr := cudaOpts.Destroy(); destroyErr != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", destroyErr)
		}
	}()

	if err := cudaOpts.Update(cudaSettings(config)); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := sessionOptions.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
