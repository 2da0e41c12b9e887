package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/rs/zerolog"
)

// AnalysisKind selects the analysis performed on a transcript line.
type AnalysisKind string

const (
	AnalysisFactCheck       AnalysisKind = "fact-check"
	AnalysisRebuttal        AnalysisKind = "rebuttal"
	AnalysisTermExplanation AnalysisKind = "term-explanation"
)

// AnalysisRequest carries the kind plus its kind-specific fields.
type AnalysisRequest struct {
	Kind AnalysisKind `json:"kind"`

	// Fact-check: the statement to verify
	Statement string `json:"statement,omitempty"`

	// Rebuttal: the two opposing claims
	UserClaim     string `json:"userClaim,omitempty"`
	OpponentClaim string `json:"opponentClaim,omitempty"`

	// Term explanation: the term and surrounding context
	Term    string `json:"term,omitempty"`
	Context string `json:"context,omitempty"`
}

// Validate checks the kind-specific required fields.
func (r AnalysisRequest) Validate() error {
	switch r.Kind {
	case AnalysisFactCheck:
		if r.Statement == "" {
			return fmt.Errorf("fact-check requires a statement")
		}
	case AnalysisRebuttal:
		if r.UserClaim == "" || r.OpponentClaim == "" {
			return fmt.Errorf("rebuttal requires both claims")
		}
	case AnalysisTermExplanation:
		if r.Term == "" {
			return fmt.Errorf("term explanation requires a term")
		}
	default:
		return fmt.Errorf("unknown analysis kind %q", r.Kind)
	}
	return nil
}

// AnalysisResult is the free-text result tagged with the path that produced
// it, so callers never infer "was this mocked" from the text itself.
type AnalysisResult struct {
	Text   string       `json:"text"`
	Source ResultSource `json:"source"`
}

// AnalysisOptions configure the client's provider chain.
type AnalysisOptions struct {
	PrimaryURL  string
	FallbackURL string
	AllowMock   bool
}

// AnalysisClient calls the text analysis service: primary endpoint first,
// fallback on retryable failure, canned mock responses when allowed and
// nothing else is reachable.
type AnalysisClient struct {
	opts       AnalysisOptions
	httpClient *http.Client
	breaker    *supervisor.CircuitBreaker
	logger     zerolog.Logger
}

// NewAnalysisClient creates the analysis client.
func NewAnalysisClient(opts AnalysisOptions, breaker *supervisor.CircuitBreaker, logger zerolog.Logger) *AnalysisClient {
	return &AnalysisClient{
		opts:       opts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
		logger:     logger.With().Str("provider", "analysis").Logger(),
	}
}

// Available reports whether any analysis path is configured, so callers can
// disable the action instead of offering a button that always errors.
func (c *AnalysisClient) Available() bool {
	return c.opts.PrimaryURL != "" || c.opts.FallbackURL != "" || c.opts.AllowMock
}

// Analyze runs one stateless analysis request through the provider chain.
func (c *AnalysisClient) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return AnalysisResult{}, err
	}

	var lastErr error
	if c.opts.PrimaryURL != "" {
		text, err := c.post(ctx, c.opts.PrimaryURL, req)
		if err == nil {
			return AnalysisResult{Text: text, Source: SourcePrimary}, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("Primary analysis endpoint failed")
	}
	if c.opts.FallbackURL != "" {
		text, err := c.post(ctx, c.opts.FallbackURL, req)
		if err == nil {
			return AnalysisResult{Text: text, Source: SourceFallback}, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("Fallback analysis endpoint failed")
	}
	if c.opts.AllowMock {
		return AnalysisResult{Text: mockAnalysis(req), Source: SourceMock}, nil
	}

	if lastErr == nil {
		lastErr = supervisor.E(supervisor.KindServiceUnavailable, "no analysis endpoint configured")
	}
	return AnalysisResult{}, lastErr
}

// guarded routes a call through the circuit breaker when one is configured.
func (c *AnalysisClient) guarded(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Call(fn)
}

type analysisEnvelope struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c *AnalysisClient) post(ctx context.Context, url string, req AnalysisRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var text string
	callErr := c.guarded(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return supervisor.Wrap(supervisor.KindNetwork, "analysis request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return supervisor.E(supervisor.KindServiceUnavailable,
				fmt.Sprintf("analysis service returned HTTP %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return supervisor.E(supervisor.KindUploadRejected,
				fmt.Sprintf("analysis service rejected request with HTTP %d", resp.StatusCode))
		}

		var envelope analysisEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return supervisor.Wrap(supervisor.KindParse, "malformed analysis response", err)
		}
		if envelope.Error != "" {
			return supervisor.E(supervisor.KindUploadRejected, envelope.Error)
		}
		text = envelope.Result
		return nil
	})
	observability.RecordProviderRequest("analysis", callErr, time.Since(start))
	return text, callErr
}

func mockAnalysis(req AnalysisRequest) string {
	switch req.Kind {
	case AnalysisFactCheck:
		return fmt.Sprintf("Unable to verify the statement %q against live sources right now.", req.Statement)
	case AnalysisRebuttal:
		return fmt.Sprintf("Consider asking for the evidence behind %q before conceding the point.", req.OpponentClaim)
	case AnalysisTermExplanation:
		return fmt.Sprintf("%q: no definition service is reachable; try again once connectivity is restored.", req.Term)
	}
	return ""
}
