package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode"

	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/rs/zerolog"
)

// Token is one segmented word with its reading and part of speech.
type Token struct {
	Surface   string `json:"surface"`
	Reading   string `json:"reading,omitempty"`
	Pos       string `json:"pos,omitempty"`
	BaseForm  string `json:"baseForm,omitempty"`
	IsContent bool   `json:"isContent"`
}

// Tokenization is a segmented text tagged with the path that produced it.
type Tokenization struct {
	Words  []Token      `json:"words"`
	Source ResultSource `json:"source"`
}

// TokenizerService segments transcript text into words via the remote
// tokenizer, degrading to a simple local split when the service is
// unavailable. It is constructed once and injected; the construction cost
// and failure mode are explicit rather than hidden in package state.
type TokenizerService struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTokenizerService creates the tokenizer client. An empty URL yields a
// service that always segments locally.
func NewTokenizerService(url string, logger zerolog.Logger) *TokenizerService {
	return &TokenizerService{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("provider", "tokenizer").Logger(),
	}
}

type tokenizeRequest struct {
	Text string `json:"text"`
}

type tokenizeResponse struct {
	Words []Token `json:"words"`
}

// Tokenize segments text. Remote failure is never surfaced to the caller:
// the local fallback segmentation is returned instead, tagged SourceLocal.
func (s *TokenizerService) Tokenize(ctx context.Context, text string) Tokenization {
	if s.url == "" {
		return Tokenization{Words: localSegment(text), Source: SourceLocal}
	}

	start := time.Now()
	words, err := s.remote(ctx, text)
	observability.RecordProviderRequest("tokenizer", err, time.Since(start))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Tokenizer unavailable, using local segmentation")
		return Tokenization{Words: localSegment(text), Source: SourceLocal}
	}
	return Tokenization{Words: words, Source: SourcePrimary}
}

func (s *TokenizerService) remote(ctx context.Context, text string) ([]Token, error) {
	payload, err := json.Marshal(tokenizeRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &tokenizerStatusError{status: resp.StatusCode}
	}

	var out tokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Words, nil
}

type tokenizerStatusError struct{ status int }

func (e *tokenizerStatusError) Error() string {
	return "tokenizer returned HTTP " + http.StatusText(e.status)
}

// localSegment splits on whitespace and punctuation boundaries. Punctuation
// runs are kept as non-content tokens so the caller can still reconstruct
// the line.
func localSegment(text string) []Token {
	var tokens []Token
	var run []rune
	runPunct := false

	flush := func() {
		if len(run) == 0 {
			return
		}
		surface := string(run)
		tokens = append(tokens, Token{Surface: surface, BaseForm: surface, IsContent: !runPunct})
		run = run[:0]
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !runPunct {
				flush()
				runPunct = true
			}
			run = append(run, r)
		default:
			if runPunct {
				flush()
				runPunct = false
			}
			run = append(run, r)
		}
	}
	flush()
	return tokens
}
