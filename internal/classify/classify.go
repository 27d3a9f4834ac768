// Package classify assigns a topic label to each incoming query through a
// three-stage cascade: deterministic pattern match, embedding similarity
// against canonical exemplars, then a model call as the terminal fallback.
// Cheaper stages run first; the first confident stage wins. Classification
// never fails hard: if every stage degrades, the result is a lowest-confidence
// general guess.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dativo-io/superadvisor/internal/llm"
	saotel "github.com/dativo-io/superadvisor/internal/otel"
)

var tracer = saotel.Tracer("github.com/dativo-io/superadvisor/internal/classify")

// Method identifies which cascade stage produced a result.
const (
	MethodPattern   = "pattern"
	MethodEmbedding = "embedding"
	MethodModel     = "model"
)

const (
	// patternConfidence is the fixed confidence assigned to an unambiguous
	// pattern hit.
	patternConfidence = 0.95
	// fallbackConfidence is the floor applied when the model stage degrades
	// or reports an implausibly low score.
	fallbackConfidence = 0.30
)

// Result is the classification outcome for one query. Immutable once
// produced.
type Result struct {
	Topic      string  `json:"topic"`
	OffTopic   bool    `json:"off_topic"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	CostUSD    float64 `json:"cost_usd"`
	LatencyMS  float64 `json:"latency_ms"`
}

// Classifier runs the cascade. Safe for concurrent use; exemplar vectors are
// computed once on first use and cached.
type Classifier struct {
	provider           llm.Provider
	embedder           llm.Embedder
	vocab              *vocabulary
	classifierModel    string
	embeddingModel     string
	embeddingThreshold float64

	mu        sync.Mutex
	exemplars []exemplarVector
}

type exemplarVector struct {
	topic    string
	offTopic bool
	vec      []float32
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithEmbeddingThreshold overrides the similarity score the embedding stage
// must reach to be conclusive.
func WithEmbeddingThreshold(t float64) Option {
	return func(c *Classifier) { c.embeddingThreshold = t }
}

// WithModels overrides the model names used by the embedding and model
// stages.
func WithModels(classifierModel, embeddingModel string) Option {
	return func(c *Classifier) {
		c.classifierModel = classifierModel
		c.embeddingModel = embeddingModel
	}
}

// New builds a Classifier over the embedded topic vocabulary.
func New(provider llm.Provider, embedder llm.Embedder, opts ...Option) (*Classifier, error) {
	vocab, err := loadVocabulary()
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		provider:           provider,
		embedder:           embedder,
		vocab:              vocab,
		classifierModel:    "gpt-4o-mini",
		embeddingModel:     "text-embedding-3-small",
		embeddingThreshold: 0.78,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify runs the cascade over the query. It always returns a Result.
func (c *Classifier) Classify(ctx context.Context, query string) *Result {
	ctx, span := tracer.Start(ctx, "classify.cascade")
	defer span.End()
	start := time.Now()

	res := c.cascade(ctx, query)
	res.LatencyMS = float64(time.Since(start).Microseconds()) / 1000

	span.SetAttributes(
		saotel.QueryTopic.String(res.Topic),
		saotel.ClassificationMethod.String(res.Method),
		saotel.ClassificationCostUSD.Float64(res.CostUSD),
		attribute.Bool("advisory.query.off_topic", res.OffTopic),
		attribute.Float64("advisory.classification.confidence", res.Confidence),
	)
	log.Debug().
		Str("topic", res.Topic).
		Str("method", res.Method).
		Float64("confidence", res.Confidence).
		Float64("cost_usd", res.CostUSD).
		Msg("query_classified")
	return res
}

func (c *Classifier) cascade(ctx context.Context, query string) *Result {
	if topic, ok := c.vocab.matchPattern(query); ok {
		return &Result{
			Topic:      topic,
			OffTopic:   topic == TopicOffTopic,
			Method:     MethodPattern,
			Confidence: patternConfidence,
		}
	}

	res, sunkCost := c.embeddingStage(ctx, query)
	if res != nil {
		return res
	}

	res = c.modelStage(ctx, query)
	// Embedding spend from the inconclusive stage still counts.
	res.CostUSD += sunkCost
	return res
}

// embeddingStage compares the query vector against cached topic exemplar
// vectors. Returns a nil Result when inconclusive (below threshold) or
// degraded (embedder error), plus the embedding cost already spent so the
// model stage can carry it forward.
func (c *Classifier) embeddingStage(ctx context.Context, query string) (*Result, float64) {
	ctx, span := tracer.Start(ctx, "classify.embedding_stage")
	defer span.End()

	cost, err := c.ensureExemplars(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exemplar embedding failed")
		log.Warn().Err(err).Msg("classification_embedding_degraded")
		return nil, cost
	}

	vec, err := c.embedder.Embed(ctx, c.embeddingModel, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		log.Warn().Err(err).Msg("classification_embedding_degraded")
		return nil, cost
	}
	cost += c.embedder.EstimateEmbeddingCost(c.embeddingModel, query)

	bestTopic, bestOffTopic, bestScore := "", false, -1.0
	for _, ex := range c.exemplarSnapshot() {
		score := cosineSimilarity(vec, ex.vec)
		if score > bestScore {
			bestTopic, bestOffTopic, bestScore = ex.topic, ex.offTopic, score
		}
	}

	span.SetAttributes(attribute.Float64("advisory.classification.similarity", bestScore))
	if bestScore < c.embeddingThreshold {
		return nil, cost
	}
	return &Result{
		Topic:      bestTopic,
		OffTopic:   bestOffTopic,
		Method:     MethodEmbedding,
		Confidence: bestScore,
		CostUSD:    cost,
	}, cost
}

const classifierPromptFmt = `You classify retirement advisory queries. Respond with JSON only:
{"topic": "<one of: %s, off_topic>", "off_topic": <bool>, "confidence": <0.0-1.0>}

Use "off_topic" for anything unrelated to retirement savings, pensions, contributions, withdrawals, or eligibility.

Query: %s`

// modelStage is the terminal fallback. It never hard-fails: a provider error
// yields a lowest-confidence general guess so the pipeline can proceed.
func (c *Classifier) modelStage(ctx context.Context, query string) *Result {
	ctx, span := tracer.Start(ctx, "classify.model_stage")
	defer span.End()

	resp, err := c.provider.Generate(ctx, &llm.Request{
		Model: c.classifierModel,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(classifierPromptFmt,
				strings.Join(c.vocab.topicNames(), ", "), query)},
		},
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model classification failed")
		log.Warn().Err(err).Msg("classification_model_degraded")
		return &Result{
			Topic:      TopicGeneral,
			Method:     MethodModel,
			Confidence: fallbackConfidence,
		}
	}

	cost := c.provider.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
	llm.RecordCostMetrics(ctx, cost, "classification", resp.Model)

	res := parseModelVerdict(resp.Content)
	res.CostUSD = cost
	return res
}

func parseModelVerdict(content string) *Result {
	var parsed struct {
		Topic      string  `json:"topic"`
		OffTopic   bool    `json:"off_topic"`
		Confidence float64 `json:"confidence"`
	}
	cleaned := stripCodeFence(content)
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil || parsed.Topic == "" {
		return &Result{Topic: TopicGeneral, Method: MethodModel, Confidence: fallbackConfidence}
	}
	conf := parsed.Confidence
	if conf < fallbackConfidence {
		conf = fallbackConfidence
	}
	if conf > 1 {
		conf = 1
	}
	return &Result{
		Topic:      parsed.Topic,
		OffTopic:   parsed.OffTopic || parsed.Topic == TopicOffTopic,
		Method:     MethodModel,
		Confidence: conf,
	}
}

// stripCodeFence removes a markdown ```json fence if the model wrapped its
// output in one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// ensureExemplars embeds the topic exemplar sentences once and caches the
// vectors. Returns the embedding cost incurred by this call (zero on cache
// hit).
func (c *Classifier) ensureExemplars(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exemplars != nil {
		return 0, nil
	}

	var cost float64
	var built []exemplarVector
	embed := func(topic string, offTopic bool, texts []string) error {
		for _, text := range texts {
			vec, err := c.embedder.Embed(ctx, c.embeddingModel, text)
			if err != nil {
				return fmt.Errorf("embedding exemplar for %s: %w", topic, err)
			}
			cost += c.embedder.EstimateEmbeddingCost(c.embeddingModel, text)
			built = append(built, exemplarVector{topic: topic, offTopic: offTopic, vec: vec})
		}
		return nil
	}

	for _, ct := range c.vocab.topics {
		if err := embed(ct.name, false, ct.exemplars); err != nil {
			return cost, err
		}
	}
	if err := embed(TopicOffTopic, true, c.vocab.offTopic.exemplars); err != nil {
		return cost, err
	}
	c.exemplars = built
	log.Debug().Int("exemplars", len(built)).Msg("classification_exemplars_cached")
	return cost, nil
}

func (c *Classifier) exemplarSnapshot() []exemplarVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exemplars
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
