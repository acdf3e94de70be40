package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/dscvr/internal/cache"
	"github.com/hitoshi/dscvr/internal/model"
)

// エンリッチメント呼び出しの結果種別。
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
)

var (
	errEmptyInput  = errors.New("入力テキストが空です")
	errEmptyResult = errors.New("バックエンドが空の結果を返しました")
)

// Cache はエンリッチメント結果のキャッシュのインターフェース。
type Cache interface {
	GetJSON(ctx context.Context, fingerprint string, dst any) cache.Lookup
	PutJSON(ctx context.Context, fingerprint string, v any, ttl time.Duration) bool
}

// Recorder はエンリッチメント呼び出しの計測のインターフェース。
type Recorder interface {
	RecordEnrichment(capability, outcome string, duration time.Duration)
}

// Orchestrator は4つのエンリッチメント機能を1つのBackendに対して実行する。
// 各機能はキャッシュを先に参照し、ヒットした場合はバックエンドを呼び出さない。
type Orchestrator struct {
	backend  Backend
	cache    Cache
	recorder Recorder
	logger   *slog.Logger
	config   Config
	cacheTTL time.Duration
}

// NewOrchestrator はOrchestratorを生成する。cacheとrecorderはnilでもよい。
func NewOrchestrator(
	backend Backend,
	c Cache,
	cacheTTL time.Duration,
	recorder Recorder,
	logger *slog.Logger,
	config Config,
) *Orchestrator {
	if c == nil {
		c = noopCache{}
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Orchestrator{
		backend:  backend,
		cache:    c,
		recorder: recorder,
		logger:   logger,
		config:   config.withDefaults(),
		cacheTTL: cacheTTL,
	}
}

// Summarize はテキストの要約を返す。失敗した場合は空文字列を返す。
func (o *Orchestrator) Summarize(ctx context.Context, text string, maxLen int) string {
	s, _ := o.summarize(ctx, text, maxLen)
	return s
}

// Sentiment はテキストの感情を返す。失敗した場合はneutralを返す。
func (o *Orchestrator) Sentiment(ctx context.Context, text string) model.Sentiment {
	s, _ := o.sentiment(ctx, text)
	return s
}

// Keywords はテキストのキーワードを最大8件返す。失敗した場合はnilを返す。
func (o *Orchestrator) Keywords(ctx context.Context, text string) []string {
	k, _ := o.keywords(ctx, text)
	return k
}

// Questions はテキストに対するフォローアップ質問を最大5件返す。失敗した場合はnilを返す。
func (o *Orchestrator) Questions(ctx context.Context, text string) []string {
	q, _ := o.questions(ctx, text)
	return q
}

// Enrich は4つの機能を並行に実行し、成功した分だけを含む結果を返す。
func (o *Orchestrator) Enrich(ctx context.Context, text string) model.EnrichmentResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result model.EnrichmentResult
		failed = make(map[model.Capability]bool)
	)

	run := func(capability model.Capability, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				failed[capability] = true
				mu.Unlock()
			}
		}()
	}

	run(model.CapabilitySummary, func() error {
		s, err := o.summarize(ctx, text, o.config.SummaryMaxLength)
		mu.Lock()
		result.Summary = s
		mu.Unlock()
		return err
	})
	run(model.CapabilitySentiment, func() error {
		s, err := o.sentiment(ctx, text)
		mu.Lock()
		result.Sentiment = s
		mu.Unlock()
		return err
	})
	run(model.CapabilityKeywords, func() error {
		k, err := o.keywords(ctx, text)
		mu.Lock()
		result.Keywords = k
		mu.Unlock()
		return err
	})
	run(model.CapabilityQuestions, func() error {
		q, err := o.questions(ctx, text)
		mu.Lock()
		result.Questions = q
		mu.Unlock()
		return err
	})
	wg.Wait()

	// 機能の定義順に並べる
	for _, c := range model.Capabilities {
		if failed[c] {
			result.Failed = append(result.Failed, c)
		}
	}
	return result
}

func (o *Orchestrator) summarize(ctx context.Context, text string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = o.config.SummaryMaxLength
	}
	input := truncate(strings.TrimSpace(text), o.config.Summary.InputLimit)
	key := fmt.Sprintf("%d\x00%s", maxLen, input)

	return cachedCall(ctx, o, model.CapabilitySummary, key, func(ctx context.Context) (string, error) {
		if input == "" {
			return "", errEmptyInput
		}
		prompt := fmt.Sprintf(`Please provide a concise summary of the following article content in %d characters or less:

%s

Summary:`, maxLen, input)

		out, err := o.backend.Generate(ctx, prompt, o.config.Summary.Options)
		if err != nil {
			return "", err
		}
		if out == "" {
			return "", errEmptyResult
		}
		return out, nil
	})
}

func (o *Orchestrator) sentiment(ctx context.Context, text string) (model.Sentiment, error) {
	input := truncate(strings.TrimSpace(text), o.config.Sentiment.InputLimit)

	s, err := cachedCall(ctx, o, model.CapabilitySentiment, input, func(ctx context.Context) (model.Sentiment, error) {
		if input == "" {
			return "", errEmptyInput
		}
		prompt := fmt.Sprintf(`Analyze the sentiment of the following text and respond with only one word: positive, negative, or neutral.

Text: %s

Sentiment:`, input)

		out, err := o.backend.Generate(ctx, prompt, o.config.Sentiment.Options)
		if err != nil {
			return "", err
		}
		return parseSentiment(out), nil
	})
	if err != nil {
		return model.SentimentNeutral, err
	}
	// キャッシュ済みの値も閉じた集合で検証する
	return model.ParseSentiment(string(s)), nil
}

func (o *Orchestrator) keywords(ctx context.Context, text string) ([]string, error) {
	input := truncate(strings.TrimSpace(text), o.config.Keywords.InputLimit)

	return cachedCall(ctx, o, model.CapabilityKeywords, input, func(ctx context.Context) ([]string, error) {
		if input == "" {
			return nil, errEmptyInput
		}
		prompt := fmt.Sprintf(`Extract 5-%d key topics or keywords from the following text. Return only the keywords separated by commas:

%s

Keywords:`, o.config.MaxKeywords, input)

		out, err := o.backend.Generate(ctx, prompt, o.config.Keywords.Options)
		if err != nil {
			return nil, err
		}
		keywords := parseKeywords(out, o.config.MaxKeywords)
		if len(keywords) == 0 {
			return nil, errEmptyResult
		}
		return keywords, nil
	})
}

func (o *Orchestrator) questions(ctx context.Context, text string) ([]string, error) {
	input := truncate(strings.TrimSpace(text), o.config.Questions.InputLimit)

	return cachedCall(ctx, o, model.CapabilityQuestions, input, func(ctx context.Context) ([]string, error) {
		if input == "" {
			return nil, errEmptyInput
		}
		prompt := fmt.Sprintf(`Generate 3-%d thoughtful follow-up questions about the following article content:

%s

Questions:`, o.config.MaxQuestions, input)

		out, err := o.backend.Generate(ctx, prompt, o.config.Questions.Options)
		if err != nil {
			return nil, err
		}
		questions := parseQuestions(out, o.config.MaxQuestions)
		if len(questions) == 0 {
			return nil, errEmptyResult
		}
		return questions, nil
	})
}

// cachedCall はキャッシュを参照し、ミスした場合のみタイムアウト付きでcomputeを実行して結果を保存する。
// 失敗した結果はキャッシュしない。
func cachedCall[T any](
	ctx context.Context,
	o *Orchestrator,
	capability model.Capability,
	key string,
	compute func(ctx context.Context) (T, error),
) (T, error) {
	fp := cache.Fingerprint(string(capability), key)

	var cached T
	if l := o.cache.GetJSON(ctx, fp, &cached); l.Hit {
		o.recorder.RecordEnrichment(string(capability), OutcomeCacheHit, 0)
		return cached, nil
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	v, err := compute(callCtx)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		o.recorder.RecordEnrichment(string(capability), OutcomeFailure, elapsed)
		if !errors.Is(err, errEmptyInput) {
			o.logger.Warn("AIエンリッチメントに失敗しました",
				slog.String("capability", string(capability)),
				slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
				slog.String("error", err.Error()),
			)
		}
		var zero T
		return zero, err
	}

	o.recorder.RecordEnrichment(string(capability), OutcomeSuccess, elapsed)
	o.cache.PutJSON(ctx, fp, v, o.cacheTTL)
	return v, nil
}

type noopCache struct{}

func (noopCache) GetJSON(context.Context, string, any) cache.Lookup {
	return cache.Lookup{Reason: cache.ReasonNotFound}
}

func (noopCache) PutJSON(context.Context, string, any, time.Duration) bool { return false }

type noopRecorder struct{}

func (noopRecorder) RecordEnrichment(string, string, time.Duration) {}
