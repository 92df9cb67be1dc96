// Package engine abstracts the inference runtime. The scheduler and workers
// only see the Engine/Handle interfaces; concrete backends (llama.cpp behind
// the 'llama' build tag, a deterministic sim for development) live in their
// own files.
package engine

import "context"

// Engine loads model weights into memory and hands back a Handle.
type Engine interface {
	// Load loads the weights described by spec. The returned Handle owns the
	// backing memory until Close.
	Load(spec LoadSpec) (Handle, error)
	// Name identifies the backend for logs and status reporting.
	Name() string
}

// Handle is one resident model instance. A Handle is owned by exactly one
// worker at a time; callers must not share it across concurrent generations.
type Handle interface {
	// Generate streams tokens for prompt, invoking onToken per token. It
	// returns when generation finishes, onToken returns an error, or ctx is
	// cancelled at a token boundary.
	Generate(ctx context.Context, prompt string, params Params, onToken func(token string) error) (Final, error)
	// Embed computes an embedding vector for input.
	Embed(ctx context.Context, input string) ([]float32, error)
	// Close releases the model memory.
	Close() error
}

// Tokenizer is an optional Handle capability; backends that expose their
// vocabulary implement it.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// TokenizerFor reports the Handle's tokenizer when the backend provides one.
func TokenizerFor(h Handle) (Tokenizer, bool) {
	t, ok := h.(Tokenizer)
	return t, ok
}

// LoadSpec describes what to load.
type LoadSpec struct {
	ModelPath    string
	AdapterPaths []string
	ContextSize  int
	Threads      int
}

// Sampling defaults applied when a request leaves a knob unset.
const (
	DefaultTemperature   float32 = 0.7
	DefaultTopP          float32 = 0.9
	DefaultTopK                  = 40
	DefaultRepeatPenalty float32 = 1.1
	DefaultMaxTokens             = 512
)

// Params are per-request sampling parameters.
type Params struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// Normalize fills zero-valued knobs with the defaults above.
func (p Params) Normalize() Params {
	if p.Temperature <= 0 {
		p.Temperature = DefaultTemperature
	}
	if p.TopP <= 0 {
		p.TopP = DefaultTopP
	}
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.RepeatPenalty <= 0 {
		p.RepeatPenalty = DefaultRepeatPenalty
	}
	return p
}

// Finish reasons reported in Final and on the wire.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishCancelled = "cancelled"
	FinishError     = "error"
)

// Usage is token accounting for one generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Final summarizes a generation after streaming completes.
type Final struct {
	Content      string
	Usage        Usage
	FinishReason string
}
