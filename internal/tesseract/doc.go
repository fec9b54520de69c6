// Package tesseract provides the baseline recognition engine backed by the
// Tesseract OCR library through gosseract.
//
// The default build links no native backend so the module compiles without
// CGO or libtesseract. Enable the gosseract-backed engine with the build tag
// `tesseract`:
//
//	go build -tags=tesseract ./...
//
// Without the tag every recognition call fails with engine.ErrNoBackend,
// which the pipeline treats like any other engine failure.
package tesseract
