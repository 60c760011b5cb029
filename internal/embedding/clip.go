//go:build cgo
// +build cgo

// Package embedding provides ONNX-based CLIP image embedding (requires CGO
// and the onnxruntime library).
package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/patchdb/patchdb/internal/vector"
)

// CLIPEmbedder runs a CLIP image encoder exported to ONNX. It requires CGO
// and the onnxruntime shared library. The session and its tensors are
// pre-allocated once and guarded by a mutex; inference mutates no other
// shared state, so one embedder serves all requests.
type CLIPEmbedder struct {
	session      *ort.AdvancedSession
	dimensions   int
	imageSize    int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewCLIPEmbedder creates a CLIP embedder from an ONNX model file.
// InitializeEnvironment is called if not already done.
func NewCLIPEmbedder(modelPath string, dimensions, imageSize int) (*CLIPEmbedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputData := make([]float32, 3*imageSize*imageSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(imageSize), int64(imageSize)), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &CLIPEmbedder{
		session:      session,
		dimensions:   dimensions,
		imageSize:    imageSize,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed decodes, preprocesses, and encodes the image, returning a unit-norm
// embedding.
func (e *CLIPEmbedder) Embed(ctx context.Context, imageBytes []byte) ([]float32, error) {
	img, err := DecodeImage(imageBytes)
	if err != nil {
		return nil, err
	}
	pixels := PixelValues(ResizeRGBA(img, e.imageSize), e.imageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.inputTensor.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	emb := make([]float32, e.dimensions)
	copy(emb, e.outputTensor.GetData())
	vector.Normalize(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *CLIPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return nil
}
