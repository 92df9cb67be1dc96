package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mlxd/internal/engine"
	"mlxd/internal/registry"
	"mlxd/internal/scheduler"
	"mlxd/pkg/types"
)

// createdAt formats timestamps the way Ollama does.
func createdAt(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func modelDetails(m registry.ModelInfo) types.ModelDetails {
	family := string(m.Architecture)
	quant := string(m.Quantization)
	if quant == string(registry.QuantNone) {
		quant = ""
	}
	return types.ModelDetails{
		Format:            string(m.Format),
		Family:            family,
		Families:          []string{family},
		ParameterSize:     parameterSize(m.ParamCount),
		QuantizationLevel: quant,
	}
}

// parameterSize renders a parameter count as Ollama's "X.XB" form.
func parameterSize(count int64) string {
	if count <= 0 {
		return ""
	}
	switch {
	case count >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(count)/1e9)
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(count)/1e6)
	}
	return fmt.Sprintf("%d", count)
}

func digest(m registry.ModelInfo) string {
	if m.SHA256 == "" {
		return ""
	}
	return "sha256:" + m.SHA256
}

func (s *server) handleTags(w http.ResponseWriter, r *http.Request) {
	models, err := s.svc.ListModels(registry.QueryOptions{OrderBy: registry.OrderByName, Limit: 1000})
	if err != nil {
		writeServiceError(w, err, false)
		return
	}
	resp := types.TagsResponse{Models: []types.TagModel{}}
	for _, m := range models {
		resp.Models = append(resp.Models, types.TagModel{
			Name:       m.Identifier + ":latest",
			Model:      m.Identifier + ":latest",
			ModifiedAt: createdAt(time.Unix(m.Created, 0)),
			Size:       m.FileSize,
			Digest:     digest(m),
			Details:    modelDetails(m),
		})
	}
	writeJSON(w, resp)
}

func (s *server) handlePs(w http.ResponseWriter, r *http.Request) {
	resp := types.PsResponse{Models: []types.PsModel{}}
	for _, st := range s.svc.Workers() {
		if st.Model == nil {
			continue
		}
		m := *st.Model
		resp.Models = append(resp.Models, types.PsModel{
			Name:    m.Identifier + ":latest",
			Model:   m.Identifier + ":latest",
			Size:    m.FileSize,
			Digest:  digest(m),
			Details: modelDetails(m),
		})
	}
	writeJSON(w, resp)
}

// paramsFromOptions maps an Ollama options block onto engine params.
func paramsFromOptions(options map[string]any) engine.Params {
	var p engine.Params
	num := func(key string) (float64, bool) {
		v, ok := options[key]
		if !ok {
			return 0, false
		}
		f, ok := v.(float64)
		return f, ok
	}
	if v, ok := num("temperature"); ok {
		p.Temperature = float32(v)
	}
	if v, ok := num("top_p"); ok {
		p.TopP = float32(v)
	}
	if v, ok := num("top_k"); ok {
		p.TopK = int(v)
	}
	if v, ok := num("num_predict"); ok {
		p.MaxTokens = int(v)
	}
	if v, ok := num("repeat_penalty"); ok {
		p.RepeatPenalty = float32(v)
	}
	if v, ok := num("seed"); ok {
		p.Seed = int(v)
	}
	if v, ok := options["stop"]; ok {
		switch stop := v.(type) {
		case string:
			p.Stop = []string{stop}
		case []any:
			for _, s := range stop {
				if str, ok := s.(string); ok {
					p.Stop = append(p.Stop, str)
				}
			}
		}
	}
	return p
}

// ndjson streams newline-delimited JSON records, flushing after each.
type ndjsonWriter struct {
	w     http.ResponseWriter
	enc   *json.Encoder
	flush func()
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	return &ndjsonWriter{w: w, enc: json.NewEncoder(w), flush: flush}
}

func (n *ndjsonWriter) send(v any) error {
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	n.flush()
	return nil
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	model := requestModel(req.Model)
	if model == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	if req.Model == "" {
		req.Model = model
	}

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}
	job := scheduler.Job{
		RequestID: middlewareRequestID(r),
		Model:     model,
		Prompt:    prompt,
		Params:    paramsFromOptions(req.Options),
	}
	// Ollama streams unless stream=false is explicit.
	stream := req.Stream == nil || *req.Stream
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	if !stream {
		res, err := s.svc.Generate(ctx, job)
		if err != nil {
			writeServiceError(w, err, false)
			return
		}
		writeJSON(w, generateRecord(req.Model, res.Content, true, res))
		return
	}

	out := newNDJSONWriter(w)
	job.OnToken = func(tok string) error {
		return out.send(types.GenerateResponse{
			Model:     req.Model,
			CreatedAt: createdAt(time.Now()),
			Response:  tok,
		})
	}
	res, err := s.svc.Generate(ctx, job)
	if err != nil && res.Content == "" && statusForError(err) != 499 {
		_ = out.send(map[string]any{"error": err.Error(), "done": true})
		return
	}
	_ = out.send(generateRecord(req.Model, "", true, res))
}

func generateRecord(model, content string, done bool, res scheduler.Result) types.GenerateResponse {
	return types.GenerateResponse{
		Model:           model,
		CreatedAt:       createdAt(time.Now()),
		Response:        content,
		Done:            done,
		DoneReason:      res.FinishReason,
		PromptEvalCount: res.Usage.PromptTokens,
		EvalCount:       res.Usage.CompletionTokens,
		TotalDuration:   res.TotalDuration.Nanoseconds(),
		EvalDuration:    res.EvalDuration.Nanoseconds(),
	}
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.OllamaChatRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	model := requestModel(req.Model)
	if model == "" || len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "model and messages are required")
		return
	}
	if req.Model == "" {
		req.Model = model
	}

	job := scheduler.Job{
		RequestID: middlewareRequestID(r),
		Model:     model,
		Prompt:    renderPrompt(req.Messages),
		Params:    paramsFromOptions(req.Options),
	}
	stream := req.Stream == nil || *req.Stream
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	if !stream {
		res, err := s.svc.Generate(ctx, job)
		if err != nil {
			writeServiceError(w, err, false)
			return
		}
		writeJSON(w, chatRecord(req.Model, res.Content, true, res))
		return
	}

	out := newNDJSONWriter(w)
	job.OnToken = func(tok string) error {
		return out.send(types.OllamaChatResponse{
			Model:     req.Model,
			CreatedAt: createdAt(time.Now()),
			Message:   types.ChatMessage{Role: "assistant", Content: tok},
		})
	}
	res, err := s.svc.Generate(ctx, job)
	if err != nil && res.Content == "" && statusForError(err) != 499 {
		_ = out.send(map[string]any{"error": err.Error(), "done": true})
		return
	}
	_ = out.send(chatRecord(req.Model, "", true, res))
}

func chatRecord(model, content string, done bool, res scheduler.Result) types.OllamaChatResponse {
	return types.OllamaChatResponse{
		Model:           model,
		CreatedAt:       createdAt(time.Now()),
		Message:         types.ChatMessage{Role: "assistant", Content: content},
		Done:            done,
		DoneReason:      res.FinishReason,
		PromptEvalCount: res.Usage.PromptTokens,
		EvalCount:       res.Usage.CompletionTokens,
		TotalDuration:   res.TotalDuration.Nanoseconds(),
		EvalDuration:    res.EvalDuration.Nanoseconds(),
	}
}

func (s *server) handleShow(w http.ResponseWriter, r *http.Request) {
	var req types.ShowRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	name := req.Model
	if name == "" {
		name = req.Name
	}
	name = normalizeModelName(name)
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	m, ok := s.svc.GetModelByIdentifier(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "model not found: "+name)
		return
	}
	tags, err := s.svc.GetTags(m.ID)
	if err != nil {
		writeServiceError(w, err, false)
		return
	}

	info := map[string]any{
		"general.architecture":    string(m.Architecture),
		"general.parameter_count": m.ParamCount,
		"general.file_type":       string(m.Format),
	}
	if m.ContextLength > 0 {
		info["context_length"] = m.ContextLength
	}
	if m.NumLayers > 0 {
		info["block_count"] = m.NumLayers
	}
	if m.NumHeads > 0 {
		info["attention.head_count"] = m.NumHeads
	}
	if m.NumKVHeads > 0 {
		info["attention.head_count_kv"] = m.NumKVHeads
	}
	if m.VocabSize > 0 {
		info["vocab_size"] = m.VocabSize
	}
	writeJSON(w, types.ShowResponse{
		License:   m.License,
		Template:  m.ChatTemplate,
		Details:   modelDetails(m),
		ModelInfo: info,
		Tags:      tags,
	})
}

func (s *server) handleOllamaEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req types.OllamaEmbeddingRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	model := requestModel(req.Model)
	if model == "" || req.Prompt == "" {
		writeJSONError(w, http.StatusBadRequest, "model and prompt are required")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	vec, _, err := s.svc.Embed(ctx, model, req.Prompt)
	if err != nil {
		writeServiceError(w, err, false)
		return
	}
	writeJSON(w, types.OllamaEmbeddingResponse{Embedding: vec})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req types.DeleteRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	name := req.Model
	if name == "" {
		name = req.Name
	}
	name = normalizeModelName(name)
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	if err := s.svc.RemoveModel(name, false); err != nil {
		writeServiceError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusOK)
}
