//go:build !llama

package engine

// No-CGO stub compiled when the 'llama' build tag is absent, keeping default
// builds and CI CGO-free. Load fails fast instead of mocking inference; the
// sim engine exists for that.

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = false

type llamaEngine struct{}

// NewLlama returns the llama.cpp-backed engine.
func NewLlama() Engine { return llamaEngine{} }

func (llamaEngine) Name() string { return "llama.cpp" }

func (llamaEngine) Load(spec LoadSpec) (Handle, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
