package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestAnalysisClient_PrimaryPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"the statement is broadly accurate"}`))
	}))
	defer srv.Close()

	c := NewAnalysisClient(AnalysisOptions{PrimaryURL: srv.URL}, testBreaker(), zerolog.Nop())
	res, err := c.Analyze(context.Background(), AnalysisRequest{Kind: AnalysisFactCheck, Statement: "water boils at 100C"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Source != SourcePrimary {
		t.Errorf("Expected primary source tag, got %s", res.Source)
	}
	if res.Text != "the statement is broadly accurate" {
		t.Errorf("Unexpected result text: %q", res.Text)
	}
}

func TestAnalysisClient_FallbackTagged(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"fallback answer"}`))
	}))
	defer fallback.Close()

	c := NewAnalysisClient(AnalysisOptions{PrimaryURL: primary.URL, FallbackURL: fallback.URL}, testBreaker(), zerolog.Nop())
	res, err := c.Analyze(context.Background(), AnalysisRequest{Kind: AnalysisTermExplanation, Term: "cloture"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Source != SourceFallback {
		t.Errorf("Expected fallback source tag, got %s", res.Source)
	}
}

func TestAnalysisClient_MockTagged(t *testing.T) {
	c := NewAnalysisClient(AnalysisOptions{AllowMock: true}, testBreaker(), zerolog.Nop())
	res, err := c.Analyze(context.Background(), AnalysisRequest{
		Kind: AnalysisRebuttal, UserClaim: "A", OpponentClaim: "B",
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Source != SourceMock {
		t.Errorf("Expected mock source tag, got %s", res.Source)
	}
	if res.Text == "" {
		t.Error("Expected non-empty mock response")
	}
}

func TestAnalysisClient_NilBreakerCallsDirectly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"unguarded answer"}`))
	}))
	defer srv.Close()

	c := NewAnalysisClient(AnalysisOptions{PrimaryURL: srv.URL}, nil, zerolog.Nop())
	res, err := c.Analyze(context.Background(), AnalysisRequest{Kind: AnalysisFactCheck, Statement: "x"})
	if err != nil {
		t.Fatalf("Analyze without breaker failed: %v", err)
	}
	if res.Text != "unguarded answer" {
		t.Errorf("Unexpected result text: %q", res.Text)
	}
}

func TestAnalysisClient_OutageSurfacesError(t *testing.T) {
	c := NewAnalysisClient(AnalysisOptions{PrimaryURL: "http://127.0.0.1:1"}, testBreaker(), zerolog.Nop())
	if _, err := c.Analyze(context.Background(), AnalysisRequest{Kind: AnalysisFactCheck, Statement: "x"}); err == nil {
		t.Error("Expected error when the only endpoint is down and mock is disallowed")
	}
}

func TestAnalysisClient_ValidatesKindFields(t *testing.T) {
	c := NewAnalysisClient(AnalysisOptions{AllowMock: true}, testBreaker(), zerolog.Nop())

	cases := []AnalysisRequest{
		{Kind: AnalysisFactCheck},
		{Kind: AnalysisRebuttal, UserClaim: "only one side"},
		{Kind: AnalysisTermExplanation},
		{Kind: "sentiment"},
	}
	for _, req := range cases {
		if _, err := c.Analyze(context.Background(), req); err == nil {
			t.Errorf("Expected validation error for %+v", req)
		}
	}
}

func TestAnalysisClient_Available(t *testing.T) {
	if NewAnalysisClient(AnalysisOptions{}, testBreaker(), zerolog.Nop()).Available() {
		t.Error("Expected unavailable with no endpoints and no mock")
	}
	if !NewAnalysisClient(AnalysisOptions{AllowMock: true}, testBreaker(), zerolog.Nop()).Available() {
		t.Error("Expected available in mock mode")
	}
}
