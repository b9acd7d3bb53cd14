// Package insight turns ranked keywords into semantic topic clusters and
// short marketing hook copy using the Gemini API. Every call is optional
// for the pipeline: a failed or absent clusterer degrades to an empty
// topic list, never to a failed refresh.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"trendwatch/internal/core"
)

// minClusterInput is the fewest keywords worth sending to the model.
// Below this a "cluster" is just the input echoed back.
const minClusterInput = 5

// Clusterer is the capability the refresh pipeline depends on.
type Clusterer interface {
	ClusterTopics(ctx context.Context, keywords []string) ([]core.Topic, error)
	GenerateHooks(ctx context.Context, topic string, keywords []string) ([]string, error)
}

// Gemini is the production Clusterer.
type Gemini struct {
	client    *genai.Client
	model     string
	hookCount int
	log       zerolog.Logger
}

// NewGemini builds the clusterer. The key is required; model and
// hookCount fall back to sane defaults.
func NewGemini(ctx context.Context, apiKey, model string, hookCount int, log zerolog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("insight: gemini api key required")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if hookCount <= 0 {
		hookCount = 3
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("insight: create client: %w", err)
	}
	return &Gemini{
		client:    client,
		model:     model,
		hookCount: hookCount,
		log:       log.With().Str("component", "insight").Logger(),
	}, nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error { return g.client.Close() }

// ClusterTopics groups keywords into up to five named topics with hook
// copy. Fewer than five keywords returns no topics without calling the
// model.
func (g *Gemini) ClusterTopics(ctx context.Context, keywords []string) ([]core.Topic, error) {
	if len(keywords) < minClusterInput {
		g.log.Debug().Int("keywords", len(keywords)).Msg("too few keywords to cluster")
		return nil, nil
	}

	clusterCount := len(keywords) / 2
	if clusterCount > 5 {
		clusterCount = 5
	}

	prompt := clusterPrompt(keywords, clusterCount, g.hookCount)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	topics, err := parseTopics(text)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range topics {
		topics[i].ID = fmt.Sprintf("topic_%d", i+1)
		topics[i].CreatedAt = now
		if len(topics[i].Hooks) > g.hookCount {
			topics[i].Hooks = topics[i].Hooks[:g.hookCount]
		}
	}
	g.log.Info().Int("keywords", len(keywords)).Int("topics", len(topics)).Msg("clustered keywords")
	return topics, nil
}

// GenerateHooks produces fresh hook copy for one topic on demand.
func (g *Gemini) GenerateHooks(ctx context.Context, topic string, keywords []string) ([]string, error) {
	text, err := g.generate(ctx, hookPrompt(topic, keywords, g.hookCount))
	if err != nil {
		return nil, err
	}
	hooks := parseHooks(text)
	if len(hooks) > g.hookCount {
		hooks = hooks[:g.hookCount]
	}
	return hooks, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.7)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("insight: generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("insight: empty model response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String(), nil
}

func clusterPrompt(keywords []string, clusterCount, hookCount int) string {
	return fmt.Sprintf(`다음 실시간 인기 키워드들을 의미가 비슷한 것끼리 최대 %d개의 토픽으로 묶어줘.

키워드: %s

각 토픽마다 짧은 마케팅 훅 문구를 %d개씩 만들어줘.
아래 JSON 형식으로만 답해줘. 다른 설명은 쓰지 마.

[
  {"topic": "토픽 이름", "keywords": ["키워드1", "키워드2"], "hooks": ["훅 문구1", "훅 문구2"]}
]`, clusterCount, strings.Join(keywords, ", "), hookCount)
}

func hookPrompt(topic string, keywords []string, hookCount int) string {
	return fmt.Sprintf(`토픽 "%s" (관련 키워드: %s)에 대한 짧고 강렬한 마케팅 훅 문구를 %d개 만들어줘.
아래 JSON 형식으로만 답해줘.

{"hooks": ["훅 문구1", "훅 문구2"]}`, topic, strings.Join(keywords, ", "), hookCount)
}
