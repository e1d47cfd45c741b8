//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/vector"
)

// ONNXBackend runs a local sentence-embedding model with ONNX Runtime. It
// requires CGO and the onnxruntime shared library, and only embeds text.
type ONNXBackend struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	// Tensors are allocated once; Embed overwrites inputs and reads the output.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXBackend loads the model at modelPath.
func NewONNXBackend(modelPath string, dimensions, maxTokens int) (*ONNXBackend, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tokenizer := &SimpleTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tokenizer.Tokenize("", maxTokens)
	maxTokens = len(inputIDs)
	shape := ort.NewShape(1, int64(maxTokens))

	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		inputIDsTensor.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		tokenTypeIDsTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		tokenTypeIDsTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXBackend{
		session:             session,
		dimensions:          dimensions,
		maxTokens:           maxTokens,
		tokenizer:           tokenizer,
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		tokenTypeIDsTensor:  tokenTypeIDsTensor,
		outputTensor:        outputTensor,
	}, nil
}

// Name implements Backend.
func (b *ONNXBackend) Name() string { return "onnx" }

// Embed implements Backend. Inference is serialized on the shared tensors.
func (b *ONNXBackend) Embed(ctx context.Context, modality models.Modality, payload []byte) ([]float32, error) {
	if modality != models.ModalityText {
		return nil, fmt.Errorf("onnx: %w: %s", ErrUnsupportedModality, modality)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	inputIDs, attentionMask, tokenTypeIDs := b.tokenizer.Tokenize(string(payload), b.maxTokens)
	copy(b.inputIDsTensor.GetData(), inputIDs)
	copy(b.attentionMaskTensor.GetData(), attentionMask)
	copy(b.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	embedding := make([]float32, b.dimensions)
	copy(embedding, b.outputTensor.GetData())
	vector.NormalizeInPlace(embedding)
	return embedding, nil
}

// Close destroys the session and tensors.
func (b *ONNXBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.session != nil {
		err = b.session.Destroy()
		b.session = nil
	}
	for _, t := range []interface{ Destroy() error }{b.inputIDsTensor, b.attentionMaskTensor, b.tokenTypeIDsTensor, b.outputTensor} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	b.inputIDsTensor, b.attentionMaskTensor, b.tokenTypeIDsTensor, b.outputTensor = nil, nil, nil, nil
	return err
}
