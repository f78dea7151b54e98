package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/link"
	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/normalize"
)

// OpenAIMatcher implements the semantic matching port on the same inference
// service as the extraction adapter. Confidence returned here is semantic
// fit only; rerank applies lexical evidence separately.
type OpenAIMatcher struct {
	client  *openai.Client
	cfg     model.AdapterConfig
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewOpenAIMatcher creates the matcher.
func NewOpenAIMatcher(cfg model.AdapterConfig, log *logger.Logger) (*OpenAIMatcher, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai matcher: API key is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &OpenAIMatcher{
		client:  openai.NewClientWithConfig(clientConfig),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}, nil
}

// Name identifies the matcher.
func (m *OpenAIMatcher) Name() string {
	return "openai"
}

const matcherPrompt = `You link an extracted statement to canonical concepts.
Given a statement and a concept list, return ONLY a JSON object:
{"matches": [{"concept": "<concept name exactly as listed>",
              "confidence": <0..1 semantic fit only, ignore wording overlap>,
              "rationale": "<one short sentence>"}]}
Return an empty matches array when no listed concept genuinely covers the
statement's subject. Never invent concepts not in the list.`

type wireMatch struct {
	Concept    string  `json:"concept"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type wireMatches struct {
	Matches []wireMatch `json:"matches"`
}

// MatchConcepts scores the candidate against the snapshot via one inference
// call. Errors wrap model.ErrAdapterFailure; the linking engine degrades
// them to overflow routing.
func (m *OpenAIMatcher) MatchConcepts(ctx context.Context, cand *model.RawCandidate, snap *catalog.Snapshot) ([]link.Match, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate wait: %v", model.ErrAdapterFailure, err)
	}

	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	modelName := m.cfg.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	var b strings.Builder
	b.WriteString("Concepts:\n")
	for i := range snap.Concepts {
		fmt.Fprintf(&b, "- %s\n", snap.Concepts[i].Name)
	}
	fmt.Fprintf(&b, "\nStatement (subject %q):\n%s\n", cand.SubjectText, cand.Text)

	resp, err := m.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: matcherPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		MaxTokens:   500,
		Temperature: 0.0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", model.ErrAdapterFailure, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", model.ErrAdapterFailure)
	}

	var wire wireMatches
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed matcher response: %v", model.ErrAdapterFailure, err)
	}

	out := make([]link.Match, 0, len(wire.Matches))
	for _, w := range wire.Matches {
		name := strings.TrimSpace(w.Concept)
		if name == "" {
			continue
		}
		out = append(out, link.Match{
			// Engine resolves the key against the snapshot and drops
			// anything the model invented.
			ConceptKey: normalize.Key(name),
			Confidence: clamp01(w.Confidence),
			Rationale:  w.Rationale,
		})
	}
	return out, nil
}
