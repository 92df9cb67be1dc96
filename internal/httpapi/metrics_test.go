package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRoutePatternOrPathFallsBackToURL(t *testing.T) {
	r := httptest.NewRequest("GET", "/no/chi/context", nil)
	if got := routePatternOrPath(r); got != "/no/chi/context" {
		t.Fatalf("fallback path: %q", got)
	}
}

func TestIncrementBackpressureEmptyReason(t *testing.T) {
	// Must not panic; empty reason maps to a stable label.
	IncrementBackpressure("")
	IncrementBackpressure("queue_full")
}

func TestResponseTrackerRecordsWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	rt := &responseTracker{ResponseWriter: rec, status: http.StatusOK}

	if !rt.firstByte.IsZero() {
		t.Fatal("first byte stamped before any write")
	}
	rt.WriteHeader(http.StatusAccepted)
	if _, err := rt.Write([]byte("data: chunk\n\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := rt.Write([]byte("data: [DONE]\n\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if rt.status != http.StatusAccepted {
		t.Fatalf("status: %d", rt.status)
	}
	if want := int64(len("data: chunk\n\n") + len("data: [DONE]\n\n")); rt.bytes != want {
		t.Fatalf("bytes: %d, want %d", rt.bytes, want)
	}
	if rt.firstByte.IsZero() || time.Since(rt.firstByte) < 0 {
		t.Fatalf("first byte stamp: %v", rt.firstByte)
	}
}

func TestResponseTrackerForwardsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	rt := &responseTracker{ResponseWriter: rec, status: http.StatusOK}

	// Streaming handlers assert http.Flusher on the writer they are handed;
	// the tracker must not hide it.
	f, ok := interface{}(rt).(http.Flusher)
	if !ok {
		t.Fatal("tracker does not expose Flush")
	}
	f.Flush()
	if !rec.Flushed {
		t.Fatal("flush not forwarded to the underlying writer")
	}
}
