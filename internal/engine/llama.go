//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = true

type llamaEngine struct{}

// NewLlama returns the llama.cpp-backed engine.
func NewLlama() Engine { return llamaEngine{} }

func (llamaEngine) Name() string { return "llama.cpp" }

func (llamaEngine) Load(spec LoadSpec) (Handle, error) {
	if strings.TrimSpace(spec.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(spec.ContextSize),
	}
	for _, p := range spec.AdapterPaths {
		mo = append(mo, llama.SetLoraAdapter(p))
	}
	m, err := llama.New(spec.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaHandle{model: m, threads: spec.Threads}, nil
}

// llamaHandle owns one loaded model. go-llama.cpp's token callback is global
// per model, so generations serialize behind mu.
type llamaHandle struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
}

func (h *llamaHandle) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (Final, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return Final{}, errors.New("llama model not initialized")
	}
	params = params.Normalize()

	completionTokens := 0
	h.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onToken(tok); err != nil {
			return false
		}
		completionTokens++
		return true
	})

	text, err := h.model.Predict(prompt, predictOptions(params, h.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return Final{
				Content:      text,
				Usage:        Usage{CompletionTokens: completionTokens, TotalTokens: completionTokens},
				FinishReason: FinishCancelled,
			}, ctx.Err()
		}
		return Final{FinishReason: FinishError}, err
	}

	reason := FinishStop
	if completionTokens >= params.MaxTokens {
		reason = FinishLength
	}
	return Final{
		Content:      text,
		Usage:        Usage{CompletionTokens: completionTokens, TotalTokens: completionTokens},
		FinishReason: reason,
	}, nil
}

func (h *llamaHandle) Embed(ctx context.Context, input string) ([]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.model.Embeddings(input)
}

func (h *llamaHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}

func predictOptions(p Params, threads int) []llama.PredictOption {
	if threads < 1 {
		threads = 1
	}
	po := []llama.PredictOption{
		llama.SetTokens(p.MaxTokens),
		llama.SetThreads(threads),
		llama.SetTopP(p.TopP),
		llama.SetTopK(p.TopK),
		llama.SetTemperature(p.Temperature),
		llama.SetPenalty(p.RepeatPenalty),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
