package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// Sim is a deterministic in-process engine for development and tests. It
// "generates" by echoing the prompt's words back one token at a time, so
// output depends only on input and params.
type Sim struct {
	// TokenDelay inserts a pause before each token, letting tests interleave
	// cancellation with a generation in flight.
	TokenDelay time.Duration

	mu       sync.Mutex
	loadErr  error
	genFails int
	genErr   error
}

// NewSim returns a fresh sim engine.
func NewSim() *Sim { return &Sim{} }

func (s *Sim) Name() string { return "sim" }

// FailLoads makes subsequent Load calls fail with err until cleared with nil.
func (s *Sim) FailLoads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// FailGenerations makes the next n Generate calls fail with err.
func (s *Sim) FailGenerations(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genFails = n
	s.genErr = err
}

func (s *Sim) takeGenFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.genFails > 0 {
		s.genFails--
		return s.genErr
	}
	return nil
}

func (s *Sim) Load(spec LoadSpec) (Handle, error) {
	s.mu.Lock()
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.ModelPath) == "" {
		return nil, fmt.Errorf("model path is empty")
	}
	return &simHandle{eng: s, spec: spec}, nil
}

type simHandle struct {
	eng    *Sim
	spec   LoadSpec
	mu     sync.Mutex
	closed bool
}

func (h *simHandle) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (Final, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return Final{FinishReason: FinishError}, fmt.Errorf("handle closed")
	}
	if err := h.eng.takeGenFailure(); err != nil {
		return Final{FinishReason: FinishError}, err
	}
	params = params.Normalize()

	words := strings.Fields(prompt)
	if len(words) == 0 {
		words = []string{"ok"}
	}

	var sb strings.Builder
	reason := FinishStop
	emitted := 0
loop:
	for i := 0; i < len(words); i++ {
		if emitted >= params.MaxTokens {
			reason = FinishLength
			break
		}
		if h.eng.TokenDelay > 0 {
			select {
			case <-time.After(h.eng.TokenDelay):
			case <-ctx.Done():
				reason = FinishCancelled
				break loop
			}
		}
		select {
		case <-ctx.Done():
			reason = FinishCancelled
			break loop
		default:
		}
		tok := words[i]
		if emitted > 0 {
			tok = " " + tok
		}
		for _, stop := range params.Stop {
			if strings.TrimSpace(tok) == stop {
				break loop
			}
		}
		if err := onToken(tok); err != nil {
			return Final{FinishReason: FinishError}, err
		}
		sb.WriteString(tok)
		emitted++
	}

	final := Final{
		Content: sb.String(),
		Usage: Usage{
			PromptTokens:     len(words),
			CompletionTokens: emitted,
			TotalTokens:      len(words) + emitted,
		},
		FinishReason: reason,
	}
	if reason == FinishCancelled {
		return final, ctx.Err()
	}
	return final, nil
}

// Embed maps input to a fixed 8-dim vector derived from an FNV hash, so
// identical inputs embed identically across runs.
func (h *simHandle) Embed(ctx context.Context, input string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(input))
	seed := hash.Sum64()
	vec := make([]float32, 8)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(1<<31) - 0.5
	}
	return vec, nil
}

// Encode maps text to rune codepoints, making the sim tokenizer trivially
// reversible.
func (h *simHandle) Encode(text string) []int {
	runes := []rune(text)
	out := make([]int, len(runes))
	for i, r := range runes {
		out[i] = int(r)
	}
	return out
}

func (h *simHandle) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

func (h *simHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
