package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mlxd/internal/common/fsutil"
)

// ScanDir walks dir (non-recursive) for model weight files and registers any
// that the registry does not already know about. The identifier is the bare
// filename without extension; already-registered identifiers are skipped, so
// repeated scans are idempotent. Returns the number of newly registered
// models.
func (r *Registry) ScanDir(dir string) (int, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return 0, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return 0, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return 0, fmt.Errorf("read models dir: %w", err)
	}

	added := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		format, ok := formatForFile(name)
		if !ok {
			continue
		}
		identifier := strings.TrimSuffix(name, filepath.Ext(name))
		if _, exists := r.GetModelByIdentifier(identifier); exists {
			continue
		}

		path := filepath.Join(abs, name)
		fi, err := e.Info()
		if err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("stat failed, skipping")
			continue
		}
		// Hashing large weight files is slow; do it once at registration
		// and persist the digest.
		sum, err := fsutil.Sha256File(path)
		if err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("checksum failed, skipping")
			continue
		}

		info := ModelInfo{
			Name:         identifier,
			Identifier:   identifier,
			Architecture: guessArchitecture(identifier),
			FilePath:     path,
			Format:       format,
			FileSize:     fi.Size(),
			SHA256:       sum,
			Quantization: guessQuantization(identifier),
		}
		if _, err := r.RegisterModel(info); err != nil {
			if IsDuplicateIdentifier(err) {
				continue
			}
			return added, err
		}
		added++
	}
	if added > 0 {
		r.log.Info().Int("added", added).Str("dir", abs).Msg("directory scan registered models")
	}
	return added, nil
}

func formatForFile(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gguf":
		return FormatGGUF, true
	case ".safetensors":
		return FormatSafetensors, true
	}
	return FormatUnknown, false
}

// guessArchitecture infers the family from naming conventions like
// "llama-3.1-8b-q4_k_m". Pure heuristic; metadata updates can correct it.
func guessArchitecture(identifier string) Architecture {
	lower := strings.ToLower(identifier)
	for _, a := range []Architecture{ArchMixtral, ArchMistral, ArchLlama, ArchGemma, ArchPhi, ArchQwen} {
		if strings.Contains(lower, string(a)) {
			return a
		}
	}
	return ArchUnknown
}

func guessQuantization(identifier string) Quantization {
	upper := strings.ToUpper(identifier)
	for _, q := range []Quantization{
		QuantIQ2XXS, QuantIQ2XS, QuantIQ3XXS,
		QuantQ2_K, QuantQ3_K, QuantQ4_K, QuantQ5_K, QuantQ6_K, QuantQ8_K,
		QuantQ4_0, QuantQ4_1, QuantQ5_0, QuantQ5_1, QuantQ8_0,
	} {
		if strings.Contains(upper, string(q)) {
			return q
		}
	}
	return QuantNone
}
