package analyzer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ndjsonHandler(t *testing.T, lines ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}
}

func TestAnalyzeStreamsProgressAndResult(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(t,
		`{"type":"progress","message":"Scanning files"}`,
		`{"type":"progress","message":"Checking dependencies"}`,
		`{"type":"result","analysis":{"slug":"sample","vulnerability":{"level":"low"},"dependencies":[{"manager":"brew","formula":"jq","binaries":["jq"]}]}}`,
	))
	defer srv.Close()

	var progress []string
	a, err := New(srv.URL).Analyze(context.Background(), "sample", "clawhub", func(msg string) {
		progress = append(progress, msg)
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(progress) != 2 {
		t.Errorf("progress = %v", progress)
	}
	if a.Vulnerability == nil || a.Vulnerability.Level != "low" {
		t.Errorf("vulnerability = %+v", a.Vulnerability)
	}
	if len(a.Dependencies) != 1 || a.Dependencies[0].Formula != "jq" {
		t.Errorf("dependencies = %+v", a.Dependencies)
	}
	if a.AnalyzedAt.IsZero() {
		t.Error("AnalyzedAt not stamped")
	}
}

func TestAnalyzeErrorLine(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(t,
		`{"type":"progress","message":"Scanning"}`,
		`{"type":"error","error":"bundle too large"}`,
	))
	defer srv.Close()

	_, err := New(srv.URL).Analyze(context.Background(), "sample", "clawhub", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAnalyzeTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(t, `{"type":"progress","message":"Scanning"}`))
	defer srv.Close()

	_, err := New(srv.URL).Analyze(context.Background(), "sample", "clawhub", nil)
	if err == nil {
		t.Fatal("expected error for stream without result")
	}
}

func TestAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Analyze(context.Background(), "sample", "clawhub", nil)
	if err == nil {
		t.Fatal("expected error for 5xx")
	}
}

func TestVulnerabilityCritical(t *testing.T) {
	if (&Vulnerability{Level: "high"}).Critical() {
		t.Error("high should not be critical")
	}
	if !(&Vulnerability{Level: "critical"}).Critical() {
		t.Error("critical not detected")
	}
	var v *Vulnerability
	if v.Critical() {
		t.Error("nil vulnerability should not be critical")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCache(t.TempDir())
	a := &Analysis{Slug: "sample", Vulnerability: &Vulnerability{Level: "medium"}}
	if err := cache.Store(a); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := cache.Load("sample")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Vulnerability.Level != "medium" {
		t.Errorf("level = %q", got.Vulnerability.Level)
	}
	if _, err := cache.Load("ghost"); err == nil {
		t.Error("expected error for unknown slug")
	}
}
