package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStandaloneHandlerRoutesToVirtualPort(t *testing.T) {
	b := New("http://host")
	b.RegisterServer(9000, func(req Request) (Response, error) {
		return Response{StatusCode: 201, Headers: map[string]string{"x-test": "1"}, Body: []byte("ok")}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/__virtual__/9000/foo?bar=1", nil)
	rec := httptest.NewRecorder()
	b.StandaloneHandler().ServeHTTP(rec, req)

	if rec.Code != 201 {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("x-test") != "1" {
		t.Fatalf("header not forwarded: %v", rec.Header())
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q, want ok", rec.Body.String())
	}
}

func TestStandaloneHandlerUnregisteredPortIs503(t *testing.T) {
	b := New("http://host")
	req := httptest.NewRequest(http.MethodGet, "/__virtual__/9999/", nil)
	rec := httptest.NewRecorder()
	b.StandaloneHandler().ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStandaloneHandlerSetsCorsHeader(t *testing.T) {
	b := New("http://host")
	b.RegisterServer(9000, func(req Request) (Response, error) {
		return Response{StatusCode: 200}, nil
	})
	req := httptest.NewRequest(http.MethodGet, "/__virtual__/9000/", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	b.StandaloneHandler().ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS header to be set, got %v", rec.Header())
	}
}

func TestSniffConditionDetectsBrowser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	if got := SniffCondition(req); got != ConditionBrowser {
		t.Fatalf("condition = %v, want browser", got)
	}
}

func TestSniffConditionDefaultsToNode(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "node")
	if got := SniffCondition(req); got != ConditionNode {
		t.Fatalf("condition = %v, want node", got)
	}
}

func TestBadVirtualPortIsBadRequest(t *testing.T) {
	b := New("http://host")
	req := httptest.NewRequest(http.MethodGet, "/__virtual__/notaport/", nil)
	rec := httptest.NewRecorder()
	b.StandaloneHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "notaport") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
