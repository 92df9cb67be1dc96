package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"mlxd/internal/scheduler"
	"mlxd/pkg/types"
)

func TestListModelsBothSurfaces(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf", "beta.gguf")
	srv, _ := newServerForDir(t, dir, scheduler.Config{})

	resp, body := httpGet(t, srv.URL+"/v1/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/v1/models status: %d", resp.StatusCode)
	}
	var list types.OpenAIModelList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 2 {
		t.Fatalf("models: %+v", list.Data)
	}

	resp, body = httpGet(t, srv.URL+"/api/tags")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/tags status: %d", resp.StatusCode)
	}
	var tags types.TagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tags.Models) != 2 || !strings.HasSuffix(tags.Models[0].Name, ":latest") {
		t.Fatalf("tags: %+v", tags.Models)
	}
}

func TestChatCompletionRoundTrip(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newServerForDir(t, dir, scheduler.Config{})

	payload, _ := json.Marshal(types.ChatCompletionRequest{
		Model:    "alpha",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi there"}},
	})
	resp, body := httpPostJSON(t, srv.URL+"/v1/chat/completions", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d body=%s", resp.StatusCode, body)
	}
	var out types.ChatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content == "" {
		t.Fatalf("choices: %+v", out.Choices)
	}
	if out.Choices[0].FinishReason != "stop" || out.Usage.TotalTokens == 0 {
		t.Fatalf("finish=%q usage=%+v", out.Choices[0].FinishReason, out.Usage)
	}
}

func TestGenerateStreamRoundTrip(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newServerForDir(t, dir, scheduler.Config{})

	payload, _ := json.Marshal(types.GenerateRequest{Model: "alpha:latest", Prompt: "hello world"})
	resp, body := httpPostJSON(t, srv.URL+"/api/generate", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d body=%s", resp.StatusCode, body)
	}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected streamed records, got %q", body)
	}
	var acc strings.Builder
	var final types.GenerateResponse
	for i, line := range lines {
		var rec types.GenerateResponse
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		acc.WriteString(rec.Response)
		if i == len(lines)-1 {
			final = rec
		} else if rec.Done {
			t.Fatalf("premature done at line %d", i)
		}
	}
	if acc.String() != "hello world" {
		t.Fatalf("streamed content: %q", acc.String())
	}
	if !final.Done || final.DoneReason != "stop" || final.EvalCount != 2 || final.PromptEvalCount != 2 {
		t.Fatalf("final record: %+v", final)
	}
}

func TestUnknownModelIs404(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newServerForDir(t, dir, scheduler.Config{})

	off := false
	payload, _ := json.Marshal(types.GenerateRequest{Model: "missing", Prompt: "hi", Stream: &off})
	resp, body := httpPostJSON(t, srv.URL+"/api/generate", payload)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d body=%s", resp.StatusCode, body)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Code != http.StatusNotFound {
		t.Fatalf("error payload: %s", body)
	}
}

func TestDeleteModel(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf", "beta.gguf")
	srv, _ := newServerForDir(t, dir, scheduler.Config{})

	payload, _ := json.Marshal(types.DeleteRequest{Name: "beta:latest"})
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/delete", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %d", resp.StatusCode)
	}

	_, body := httpGet(t, srv.URL+"/api/tags")
	var tags types.TagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tags.Models) != 1 || tags.Models[0].Name != "alpha:latest" {
		t.Fatalf("tags after delete: %+v", tags.Models)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newServerForDir(t, dir, scheduler.Config{Workers: 2})

	resp, body := httpGet(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}
	var health types.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || !health.RegistryOK || len(health.Workers) != 2 {
		t.Fatalf("health: %+v", health)
	}

	resp, body = httpGet(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "mlxd_http_requests_total") {
		t.Fatalf("prometheus exposition missing http counters")
	}
}

func TestEmbeddingsRoundTrip(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newServerForDir(t, dir, scheduler.Config{})

	payload, _ := json.Marshal(types.OllamaEmbeddingRequest{Model: "alpha", Prompt: "hi"})
	resp, body := httpPostJSON(t, srv.URL+"/api/embeddings", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d body=%s", resp.StatusCode, body)
	}
	var out types.OllamaEmbeddingResponse
	if err := json.Unmarshal(body, &out); err != nil || len(out.Embedding) == 0 {
		t.Fatalf("embedding payload: %s", body)
	}
}
