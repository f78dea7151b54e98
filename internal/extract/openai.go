package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
)

// OpenAIAdapter implements the extraction port on OpenAI's Chat Completions
// API. Calls are rate limited and memoized; any transport or parse failure
// is reported as model.ErrAdapterFailure so the batch can proceed.
type OpenAIAdapter struct {
	client  *openai.Client
	cfg     model.AdapterConfig
	limiter *rate.Limiter
	cache   *gocache.Cache
	log     *logger.Logger
}

// NewOpenAIAdapter creates the adapter. An API key is required.
func NewOpenAIAdapter(cfg model.AdapterConfig, log *logger.Logger) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai adapter: API key is required")
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

	a := &OpenAIAdapter{
		client:  openai.NewClientWithConfig(clientConfig),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
	if cfg.CacheEnabled {
		ttl := cfg.CacheTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		a.cache = gocache.New(ttl, 2*ttl)
	}
	return a, nil
}

// Name returns the adapter name.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Extract runs one inference call for the unit against the catalog snapshot.
func (a *OpenAIAdapter) Extract(ctx context.Context, unit Unit, snap *catalog.Snapshot) ([]model.RawCandidate, error) {
	key := CacheKey(unit, snap.Version)
	if a.cache != nil {
		if raw, found := a.cache.Get(key); found {
			return a.parse(raw.(string), unit)
		}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate wait: %v", model.ErrAdapterFailure, err)
	}

	timeout := a.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	modelName := a.cfg.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	maxTokens := a.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}

	req := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(unit, snap),
			},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := a.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", model.ErrAdapterFailure, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", model.ErrAdapterFailure)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	candidates, err := a.parse(content, unit)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Set(key, content, gocache.DefaultExpiration)
	}
	return candidates, nil
}

// systemPrompt fixes the extraction contract: closed vocabulary, spans,
// flags, and an alternate-type hypothesis for ambiguous relations.
const systemPrompt = `You extract structured knowledge candidates from text.
Return ONLY a JSON object of the form {"candidates": [...]}. Each candidate:
{"kind": "assertion"|"relation"|"claim",
 "text": "<verbatim span>", "start": <byte offset>, "end": <byte offset>,
 "subject": "<subject surface form>", "object": "<object surface form, relations only>",
 "relation": "requires"|"enables"|"part_of"|"uses"|"excludes"|"related_to",
 "alt_relation": "<second-best relation type or empty>", "alt_confidence": <0..1>,
 "attribute": "<attribute name, claims only>", "value": "<claimed value, claims only>",
 "scope": "<qualifying context such as region/edition/environment, or empty>",
 "confidence": <0..1>, "negated": <bool>, "hedged": <bool>, "conditional": <bool>}
Use "related_to" only when no specific relation type fits. Do not invent
relation types outside the list. Do not paraphrase spans.`

// buildPrompt renders the unit plus a compact concept inventory so the model
// can reuse catalog surface forms for subjects and objects.
func buildPrompt(unit Unit, snap *catalog.Snapshot) string {
	var b strings.Builder
	b.WriteString("Known concepts (use these names when they fit):\n")
	const maxListed = 200
	for i := range snap.Concepts {
		if i >= maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(snap.Concepts)-maxListed)
			break
		}
		fmt.Fprintf(&b, "- %s\n", snap.Concepts[i].Name)
	}
	if snap.Empty() {
		b.WriteString("(none yet)\n")
	}
	fmt.Fprintf(&b, "\nText unit (document %s, unit %d):\n%s\n", unit.DocumentID, unit.Index, unit.Text)
	return b.String()
}

// wireCandidate is the adapter's JSON response shape.
type wireCandidate struct {
	Kind          string  `json:"kind"`
	Text          string  `json:"text"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Subject       string  `json:"subject"`
	Object        string  `json:"object"`
	Relation      string  `json:"relation"`
	AltRelation   string  `json:"alt_relation"`
	AltConfidence float64 `json:"alt_confidence"`
	Attribute     string  `json:"attribute"`
	Value         string  `json:"value"`
	Scope         string  `json:"scope"`
	Confidence    float64 `json:"confidence"`
	Negated       bool    `json:"negated"`
	Hedged        bool    `json:"hedged"`
	Conditional   bool    `json:"conditional"`
}

type wireResponse struct {
	Candidates []wireCandidate `json:"candidates"`
}

// parse validates the adapter response. Individually malformed candidates
// are dropped with a log line; a response that is not JSON at all is an
// adapter failure.
func (a *OpenAIAdapter) parse(content string, unit Unit) ([]model.RawCandidate, error) {
	var wire wireResponse
	if err := json.Unmarshal([]byte(stripFences(content)), &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", model.ErrAdapterFailure, err)
	}

	out := make([]model.RawCandidate, 0, len(wire.Candidates))
	for _, w := range wire.Candidates {
		kind := model.CandidateKind(w.Kind)
		switch kind {
		case model.KindAssertion, model.KindRelation, model.KindClaim:
		default:
			a.log.Debug("adapter candidate dropped: unknown kind", "kind", w.Kind, "doc", unit.DocumentID)
			continue
		}
		if strings.TrimSpace(w.Text) == "" || strings.TrimSpace(w.Subject) == "" {
			a.log.Debug("adapter candidate dropped: empty text or subject", "doc", unit.DocumentID)
			continue
		}

		rel := model.RelationType(w.Relation)
		if kind == model.KindRelation {
			if strings.TrimSpace(w.Object) == "" {
				a.log.Debug("adapter candidate dropped: relation without object", "doc", unit.DocumentID)
				continue
			}
			// Out-of-vocabulary relation types collapse to the weak
			// fallback rather than entering the pipeline unvetted.
			if !model.KnownRelation(rel) {
				rel = model.RelationRelatedTo
			}
		} else {
			rel = ""
		}
		altRel := model.RelationType(w.AltRelation)
		if kind != model.KindRelation || !model.KnownRelation(altRel) || altRel == rel {
			altRel = ""
		}

		out = append(out, model.RawCandidate{
			ID:            uuid.New(),
			Kind:          kind,
			Text:          w.Text,
			Language:      unit.Language,
			SubjectText:   w.Subject,
			ObjectText:    w.Object,
			Relation:      rel,
			AltRelation:   altRel,
			AltConfidence: clamp01(w.AltConfidence),
			Attribute:     w.Attribute,
			Value:         w.Value,
			Scope:         w.Scope,
			Confidence:    clamp01(w.Confidence),
			Negated:       w.Negated,
			Hedged:        w.Hedged,
			Conditional:   w.Conditional,
			Provenance: model.Provenance{
				DocumentID: unit.DocumentID,
				Source:     unit.Source,
				Start:      w.Start,
				End:        w.End,
				Excerpt:    w.Text,
				Sentence:   unit.Index,
			},
		})
	}
	return out, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
