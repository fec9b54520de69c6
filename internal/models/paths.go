// Package models resolves model, dictionary and corpus file locations.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	// DetectionEAST is the EAST text detector exported to ONNX.
	DetectionEAST = "frozen_east_text_detection.onnx"

	// Recognition models. The mobile model backs the guided engine and the
	// server model the secondary engine.
	RecognitionMobile = "PP-OCRv5_mobile_rec.onnx"
	RecognitionServer = "PP-OCRv5_server_rec.onnx"

	// Dictionary files.
	DictionaryPPOCRKeysV1 = "ppocr_keys_v1.txt"

	// CorpusWordFrequencies is the word frequency table used for corpus scoring.
	CorpusWordFrequencies = "word_frequencies.json"
)

// Model type directories.
const (
	TypeDetection    = "detection"
	TypeRecognition  = "recognition"
	TypeDictionaries = "dictionaries"
	TypeCorpus       = "corpus"
)

// Recognition variants.
const (
	VariantMobile = "mobile"
	VariantServer = "server"
)

// DefaultModelsDir is the models directory relative to the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "OCRCASCADE_MODELS_DIR"

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo describes a known model file.
type ModelInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Variant     string `json:"variant,omitempty"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers modelsDir/<type>[/<variant>]/<filename> and falls
// back to a flat modelsDir/<filename> layout.
func ResolveModelPath(modelsDir, modelType, variant, filename string) string {
	baseDir := GetModelsDir(modelsDir)

	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if variant != "" && modelType == TypeRecognition {
			organized = filepath.Join(baseDir, modelType, variant, filename)
		}
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetDetectionModelPath returns the EAST detector path.
func GetDetectionModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, "", DetectionEAST)
}

// GetRecognitionModelPath returns the recognizer model for a variant.
func GetRecognitionModelPath(modelsDir string, useServer bool) string {
	if useServer {
		return ResolveModelPath(modelsDir, TypeRecognition, VariantServer, RecognitionServer)
	}
	return ResolveModelPath(modelsDir, TypeRecognition, VariantMobile, RecognitionMobile)
}

// GetDictionaryPath returns the path for a dictionary file.
func GetDictionaryPath(modelsDir, filename string) string {
	if filename == "" {
		filename = DictionaryPPOCRKeysV1
	}
	return ResolveModelPath(modelsDir, TypeDictionaries, "", filename)
}

// GetCorpusPath returns the word frequency table path.
func GetCorpusPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeCorpus, "", CorpusWordFrequencies)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the known model files.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "east-detection",
			Type:        TypeDetection,
			Description: "EAST text region detector",
			Filename:    DetectionEAST,
		},
		{
			Name:        "mobile-recognition",
			Type:        TypeRecognition,
			Variant:     VariantMobile,
			Description: "Guided text line recognizer",
			Filename:    RecognitionMobile,
		},
		{
			Name:        "server-recognition",
			Type:        TypeRecognition,
			Variant:     VariantServer,
			Description: "Secondary text line recognizer",
			Filename:    RecognitionServer,
		},
		{
			Name:        "ppocr-keys-v1",
			Type:        TypeDictionaries,
			Description: "PP-OCR character dictionary v1",
			Filename:    DictionaryPPOCRKeysV1,
		},
		{
			Name:        "word-frequencies",
			Type:        TypeCorpus,
			Description: "Word frequency table for corpus scoring",
			Filename:    CorpusWordFrequencies,
		},
	}
}
