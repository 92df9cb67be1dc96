package registry

// Enum-valued fields are persisted as canonical strings. Unrecognized values
// read back as the Unknown/None sentinel instead of failing deserialization,
// so databases written by newer or older builds stay readable.

// Architecture is a model architecture family.
type Architecture string

const (
	ArchLlama   Architecture = "llama"
	ArchMistral Architecture = "mistral"
	ArchMixtral Architecture = "mixtral"
	ArchGemma   Architecture = "gemma"
	ArchPhi     Architecture = "phi"
	ArchQwen    Architecture = "qwen"
	ArchUnknown Architecture = "unknown"
)

// ParseArchitecture maps a stored string to an Architecture, falling back to
// ArchUnknown for unrecognized values.
func ParseArchitecture(s string) Architecture {
	switch Architecture(s) {
	case ArchLlama, ArchMistral, ArchMixtral, ArchGemma, ArchPhi, ArchQwen:
		return Architecture(s)
	}
	return ArchUnknown
}

// Format is an on-disk weight file format.
type Format string

const (
	FormatGGUF        Format = "gguf"
	FormatSafetensors Format = "safetensors"
	FormatMLX         Format = "mlx"
	FormatUnknown     Format = "unknown"
)

// ParseFormat maps a stored string to a Format, falling back to FormatUnknown.
func ParseFormat(s string) Format {
	switch Format(s) {
	case FormatGGUF, FormatSafetensors, FormatMLX:
		return Format(s)
	}
	return FormatUnknown
}

// Quantization is a reduced-precision weight encoding.
type Quantization string

const (
	QuantNone   Quantization = "none"
	QuantQ4_0   Quantization = "Q4_0"
	QuantQ4_1   Quantization = "Q4_1"
	QuantQ5_0   Quantization = "Q5_0"
	QuantQ5_1   Quantization = "Q5_1"
	QuantQ8_0   Quantization = "Q8_0"
	QuantQ2_K   Quantization = "Q2_K"
	QuantQ3_K   Quantization = "Q3_K"
	QuantQ4_K   Quantization = "Q4_K"
	QuantQ5_K   Quantization = "Q5_K"
	QuantQ6_K   Quantization = "Q6_K"
	QuantQ8_K   Quantization = "Q8_K"
	QuantIQ2XXS Quantization = "IQ2_XXS"
	QuantIQ2XS  Quantization = "IQ2_XS"
	QuantIQ3XXS Quantization = "IQ3_XXS"
	QuantMixed  Quantization = "mixed"
)

// ParseQuantization maps a stored string to a Quantization, falling back to
// QuantNone.
func ParseQuantization(s string) Quantization {
	switch Quantization(s) {
	case QuantQ4_0, QuantQ4_1, QuantQ5_0, QuantQ5_1, QuantQ8_0,
		QuantQ2_K, QuantQ3_K, QuantQ4_K, QuantQ5_K, QuantQ6_K, QuantQ8_K,
		QuantIQ2XXS, QuantIQ2XS, QuantIQ3XXS, QuantMixed:
		return Quantization(s)
	}
	return QuantNone
}

// ModelInfo is the registry's record for one model.
//
// Identifier is immutable and unique across non-deleted rows. SHA256 is fixed
// at registration and never recomputed implicitly. Tags is write-only
// convenience for RegisterModel; reads go through GetTags.
type ModelInfo struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Identifier   string       `json:"identifier"`
	Architecture Architecture `json:"architecture"`

	FilePath string `json:"file_path"`
	Format   Format `json:"format"`
	FileSize int64  `json:"file_size"`
	SHA256   string `json:"sha256,omitempty"`

	ParamCount       int64 `json:"param_count,omitempty"`
	ContextLength    int   `json:"context_length,omitempty"`
	HiddenSize       int   `json:"hidden_size,omitempty"`
	NumLayers        int   `json:"num_layers,omitempty"`
	NumHeads         int   `json:"num_heads,omitempty"`
	NumKVHeads       int   `json:"num_kv_heads,omitempty"`
	IntermediateSize int   `json:"intermediate_size,omitempty"`
	VocabSize        int   `json:"vocab_size,omitempty"`

	Quantization Quantization `json:"quantization"`
	QuantDetails string       `json:"quant_details,omitempty"`

	TokenizerType string `json:"tokenizer_type,omitempty"`
	TokenizerPath string `json:"tokenizer_path,omitempty"`

	RopeFreqBase    float64 `json:"rope_freq_base,omitempty"`
	RopeScale       float64 `json:"rope_scale,omitempty"`
	RopeScalingType string  `json:"rope_scaling_type,omitempty"`

	Description string            `json:"description,omitempty"`
	License     string            `json:"license,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`

	IsLoaded bool  `json:"is_loaded"`
	LastUsed int64 `json:"last_used_unix"`
	Created  int64 `json:"created_unix"`

	ChatTemplate string `json:"chat_template,omitempty"`
}

// AdapterInfo is a LoRA-style delta keyed to one base model.
type AdapterInfo struct {
	ID            int64    `json:"id"`
	BaseModelID   int64    `json:"base_model_id"`
	Name          string   `json:"name"`
	Identifier    string   `json:"identifier"`
	FilePath      string   `json:"file_path"`
	AdapterType   string   `json:"adapter_type"`
	Rank          int      `json:"rank"`
	Scale         float64  `json:"scale"`
	TargetModules []string `json:"target_modules,omitempty"`
	Created       int64    `json:"created_unix"`
}

// OrderBy selects the ordering of ListModels results. Only whitelisted
// values produce SQL; anything else falls back to OrderByLastUsed.
type OrderBy string

const (
	OrderByLastUsed OrderBy = "last_used"
	OrderByName     OrderBy = "name"
	OrderByCreated  OrderBy = "created"
	OrderBySize     OrderBy = "size"
)

func (o OrderBy) sql() string {
	switch o {
	case OrderByName:
		return "name ASC"
	case OrderByCreated:
		return "created_timestamp DESC"
	case OrderBySize:
		return "file_size DESC"
	default:
		return "last_used_timestamp DESC"
	}
}

// QueryOptions filters and pages ListModels. All filters combine with AND;
// RequiredTags demands every key/value pair be present on the model.
type QueryOptions struct {
	Architecture *Architecture
	Format       *Format
	Quantization *Quantization
	SearchTerm   string
	RequiredTags map[string]string
	Limit        int
	Offset       int
	OrderBy      OrderBy
}

// Stats are aggregate registry counters, computed by query on demand.
type Stats struct {
	TotalModels   int64 `json:"total_models"`
	LoadedModels  int64 `json:"loaded_models"`
	TotalAdapters int64 `json:"total_adapters"`
	DiskBytes     int64 `json:"disk_bytes"`
}
