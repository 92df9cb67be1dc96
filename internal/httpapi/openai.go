package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mlxd/internal/engine"
	"mlxd/internal/registry"
	"mlxd/internal/scheduler"
	"mlxd/pkg/types"
)

func toOpenAIModel(m registry.ModelInfo) types.OpenAIModel {
	return types.OpenAIModel{
		ID:      m.Identifier,
		Object:  "model",
		Created: m.Created,
		OwnedBy: "library",
	}
}

func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.svc.ListModels(registry.QueryOptions{OrderBy: registry.OrderByName, Limit: 1000})
	if err != nil {
		writeServiceError(w, err, true)
		return
	}
	list := types.OpenAIModelList{Object: "list", Data: []types.OpenAIModel{}}
	for _, m := range models {
		list.Data = append(list.Data, toOpenAIModel(m))
	}
	writeJSON(w, list)
}

func (s *server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := normalizeModelName(chi.URLParam(r, "id"))
	m, ok := s.svc.GetModelByIdentifier(id)
	if !ok {
		writeOpenAIError(w, http.StatusNotFound, "model not found: "+id)
		return
	}
	writeJSON(w, toOpenAIModel(m))
}

// paramsFromOpenAI maps the optional OpenAI sampling fields onto engine
// params; unset fields stay zero and pick up engine defaults.
func paramsFromOpenAI(temperature, topP *float64, maxTokens *int, stop []string) engine.Params {
	var p engine.Params
	if temperature != nil {
		p.Temperature = float32(*temperature)
	}
	if topP != nil {
		p.TopP = float32(*topP)
	}
	if maxTokens != nil {
		p.MaxTokens = *maxTokens
	}
	p.Stop = stop
	return p
}

// renderPrompt flattens a chat transcript into a single prompt, closing with
// the assistant turn marker so generation continues the conversation.
func renderPrompt(messages []types.ChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("assistant:")
	return sb.String()
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatCompletionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	model := requestModel(req.Model)
	if model == "" {
		writeOpenAIError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = model
	}

	job := scheduler.Job{
		RequestID: middlewareRequestID(r),
		Model:     model,
		Prompt:    renderPrompt(req.Messages),
		Params:    paramsFromOpenAI(req.Temperature, req.TopP, req.MaxTokens, req.Stop),
	}
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	if !req.Stream {
		res, err := s.svc.Generate(ctx, job)
		if err != nil {
			writeServiceError(w, err, true)
			return
		}
		writeJSON(w, types.ChatCompletionResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: created,
			Model:   req.Model,
			Choices: []types.ChatCompletionChoice{{
				Message:      types.ChatMessage{Role: "assistant", Content: res.Content},
				FinishReason: res.FinishReason,
			}},
			Usage: toUsage(res.Usage),
		})
		return
	}

	sse := newSSEWriter(w)
	chunk := func(delta types.ChatDelta, finish *string) types.ChatCompletionChunk {
		return types.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []types.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}
	if err := sse.send(chunk(types.ChatDelta{Role: "assistant"}, nil)); err != nil {
		return
	}
	job.OnToken = func(tok string) error {
		return sse.send(chunk(types.ChatDelta{Content: tok}, nil))
	}
	res, err := s.svc.Generate(ctx, job)
	if err != nil && res.Content == "" && statusForError(err) != 499 {
		// Nothing streamed yet; report the failure as an error event rather
		// than a silently empty stream.
		_ = sse.send(types.OpenAIErrorResponse{Error: types.OpenAIError{
			Message: err.Error(),
			Type:    openAIErrorType(statusForError(err)),
		}})
		sse.done()
		return
	}
	finish := res.FinishReason
	if finish == "" {
		finish = engine.FinishStop
	}
	_ = sse.send(chunk(types.ChatDelta{}, &finish))
	sse.done()
}

func (s *server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	model := requestModel(req.Model)
	if model == "" || strings.TrimSpace(req.Prompt) == "" {
		writeOpenAIError(w, http.StatusBadRequest, "model and prompt are required")
		return
	}
	if req.Model == "" {
		req.Model = model
	}

	job := scheduler.Job{
		RequestID: middlewareRequestID(r),
		Model:     model,
		Prompt:    req.Prompt,
		Params:    paramsFromOpenAI(req.Temperature, req.TopP, req.MaxTokens, req.Stop),
	}
	id := "cmpl-" + uuid.NewString()
	created := time.Now().Unix()
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	if !req.Stream {
		res, err := s.svc.Generate(ctx, job)
		if err != nil {
			writeServiceError(w, err, true)
			return
		}
		writeJSON(w, types.CompletionResponse{
			ID:      id,
			Object:  "text_completion",
			Created: created,
			Model:   req.Model,
			Choices: []types.CompletionChoice{{Text: res.Content, FinishReason: res.FinishReason}},
			Usage:   toUsage(res.Usage),
		})
		return
	}

	sse := newSSEWriter(w)
	chunk := func(text, finish string) types.CompletionResponse {
		c := types.CompletionResponse{
			ID:      id,
			Object:  "text_completion",
			Created: created,
			Model:   req.Model,
			Choices: []types.CompletionChoice{{Text: text, FinishReason: finish}},
		}
		return c
	}
	job.OnToken = func(tok string) error {
		return sse.send(chunk(tok, ""))
	}
	res, err := s.svc.Generate(ctx, job)
	if err != nil && res.Content == "" && statusForError(err) != 499 {
		_ = sse.send(types.OpenAIErrorResponse{Error: types.OpenAIError{
			Message: err.Error(),
			Type:    openAIErrorType(statusForError(err)),
		}})
		sse.done()
		return
	}
	finish := res.FinishReason
	if finish == "" {
		finish = engine.FinishStop
	}
	_ = sse.send(chunk("", finish))
	sse.done()
}

func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	model := requestModel(req.Model)
	if model == "" || len(req.Input) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "model and input are required")
		return
	}
	if req.Model == "" {
		req.Model = model
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	resp := types.EmbeddingResponse{Object: "list", Model: req.Model, Data: []types.EmbeddingObject{}}
	for i, input := range req.Input {
		vec, _, err := s.svc.Embed(ctx, model, input)
		if err != nil {
			writeServiceError(w, err, true)
			return
		}
		resp.Data = append(resp.Data, types.EmbeddingObject{Object: "embedding", Index: i, Embedding: vec})
	}
	writeJSON(w, resp)
}

func toUsage(u engine.Usage) types.Usage {
	return types.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
