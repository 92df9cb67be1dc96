package types

// Ollama-compatible wire types. Streaming endpoints emit newline-delimited
// JSON objects; the last object carries done=true plus timing counters.

// GenerateRequest is the POST /api/generate payload.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  *bool          `json:"stream,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResponse is one NDJSON record of /api/generate.
type GenerateResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"`
}

// OllamaChatRequest is the POST /api/chat payload.
type OllamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []ChatMessage  `json:"messages"`
	Stream   *bool          `json:"stream,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// OllamaChatResponse is one NDJSON record of /api/chat.
type OllamaChatResponse struct {
	Model           string      `json:"model"`
	CreatedAt       string      `json:"created_at"`
	Message         ChatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
	TotalDuration   int64       `json:"total_duration,omitempty"`
	EvalDuration    int64       `json:"eval_duration,omitempty"`
}

// OllamaEmbeddingRequest is the POST /api/embeddings payload.
type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// OllamaEmbeddingResponse is the POST /api/embeddings body.
type OllamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ModelDetails is the nested details block of /api/tags and /api/ps entries.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// TagModel is one entry of GET /api/tags.
type TagModel struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// TagsResponse is the GET /api/tags body.
type TagsResponse struct {
	Models []TagModel `json:"models"`
}

// PsModel is one entry of GET /api/ps (a loaded model).
type PsModel struct {
	Name      string       `json:"name"`
	Model     string       `json:"model"`
	Size      int64        `json:"size"`
	Digest    string       `json:"digest"`
	Details   ModelDetails `json:"details"`
	ExpiresAt string       `json:"expires_at,omitempty"`
	SizeVRAM  int64        `json:"size_vram,omitempty"`
}

// PsResponse is the GET /api/ps body.
type PsResponse struct {
	Models []PsModel `json:"models"`
}

// ShowRequest is the POST /api/show payload.
type ShowRequest struct {
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
}

// ShowResponse is the POST /api/show body.
type ShowResponse struct {
	License    string            `json:"license,omitempty"`
	Template   string            `json:"template,omitempty"`
	Details    ModelDetails      `json:"details"`
	ModelInfo  map[string]any    `json:"model_info,omitempty"`
	Parameters string            `json:"parameters,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// DeleteRequest is the DELETE /api/delete payload.
type DeleteRequest struct {
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
}
