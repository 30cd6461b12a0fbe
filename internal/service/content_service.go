package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"baydigital/internal/integration/llm"
	"baydigital/internal/model"
	"baydigital/pkg/metrics"
	"baydigital/pkg/util"
)

var (
	contentKinds   = []string{"social_post", "blog_post", "email", "ad_copy", "website_copy"}
	contentTones   = []string{"professional", "friendly", "playful", "bold"}
	contentLengths = map[string]int{"short": 300, "medium": 700, "long": 1500} // max_tokens
)

// 每月生成次数，未订阅或订阅失效按 none 计算
var planQuota = map[string]int64{
	model.PlanStarter: 20,
	model.PlanGrowth:  100,
	model.PlanPro:     500,
	"none":            5,
}

// Completer 由 llm.Client 实现
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, maxTokens int) (*llm.Completion, error)
}

// QuotaCounter 由 util.Limiter 实现
type QuotaCounter interface {
	Consume(ctx context.Context, key string, limit int64, window time.Duration) (int64, error)
	Refund(ctx context.Context, key string) error
	Used(ctx context.Context, key string) (int64, error)
}

// GenerationStore 由 repository.GenerationRepository 实现
type GenerationStore interface {
	Insert(ctx context.Context, g *model.AIGeneration) error
	List(ctx context.Context, tenantID int64, limit, offset int) ([]model.AIGeneration, error)
}

type ContentService struct {
	llm         Completer
	quota       QuotaCounter
	generations GenerationStore
	subs        SubscriptionReader
	now         func() time.Time
	logger      *zap.Logger
}

func NewContentService(c Completer, quota QuotaCounter, generations GenerationStore, subs SubscriptionReader, logger *zap.Logger) *ContentService {
	return &ContentService{llm: c, quota: quota, generations: generations, subs: subs, now: time.Now, logger: logger}
}

type GenerateInput struct {
	Kind     string
	Topic    string
	Tone     string
	Platform string
	Length   string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type GenerateResult struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	Quota   Quota  `json:"quota"`
}

type Quota struct {
	Plan  string `json:"plan"`
	Used  int64  `json:"used"`
	Limit int64  `json:"limit"`
}

// Generate 先扣额度再调用 LLM，失败时退还额度
func (s *ContentService) Generate(ctx context.Context, actor Actor, in GenerateInput) (*GenerateResult, error) {
	if actor.TenantID == 0 {
		return nil, ErrForbidden
	}
	if err := normalizeGenerateInput(&in); err != nil {
		return nil, err
	}

	plan, limit, err := s.planLimit(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	key := s.quotaKey(actor.TenantID)
	used, err := s.quota.Consume(ctx, key, limit, s.untilMonthEnd())
	if err != nil {
		if errors.Is(err, util.ErrLimitExceeded) {
			metrics.IncrementAIGeneration(in.Kind, "quota_exceeded")
			return nil, fmt.Errorf("%w: %d generations per month on the %s plan", ErrQuotaExceeded, limit, plan)
		}
		return nil, fmt.Errorf("consume quota: %w", err)
	}

	completion, err := s.llm.Complete(ctx, buildPrompt(in), contentLengths[in.Length])
	if err != nil {
		if refundErr := s.quota.Refund(ctx, key); refundErr != nil {
			s.logger.Warn("Failed to refund AI quota", zap.Int64("tenant_id", actor.TenantID), zap.Error(refundErr))
		}
		metrics.IncrementAIGeneration(in.Kind, "failed")
		s.logger.Error("AI generation failed",
			zap.Int64("tenant_id", actor.TenantID),
			zap.String("kind", in.Kind),
			zap.Error(err),
		)
		if errors.Is(err, llm.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: ai content is not configured", ErrUnavailable)
		}
		return nil, &UpstreamError{Provider: "llm", Err: err}
	}
	metrics.IncrementAIGeneration(in.Kind, "success")

	g := &model.AIGeneration{
		TenantID:         actor.TenantID,
		UserID:           actor.UserID,
		Kind:             in.Kind,
		Topic:            in.Topic,
		Tone:             in.Tone,
		Content:          completion.Content,
		Model:            completion.Model,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
	}
	if err := s.generations.Insert(ctx, g); err != nil {
		// 内容已经生成且额度已扣，历史记录失败不影响返回
		s.logger.Error("Failed to record AI generation", zap.Int64("tenant_id", actor.TenantID), zap.Error(err))
	}

	return &GenerateResult{
		ID:      g.ID,
		Content: completion.Content,
		Model:   completion.Model,
		Usage:   Usage{PromptTokens: completion.PromptTokens, CompletionTokens: completion.CompletionTokens},
		Quota:   Quota{Plan: plan, Used: used, Limit: limit},
	}, nil
}

// Quota 本月额度使用情况
func (s *ContentService) Quota(ctx context.Context, actor Actor) (*Quota, error) {
	plan, limit, err := s.planLimit(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	used, err := s.quota.Used(ctx, s.quotaKey(actor.TenantID))
	if err != nil {
		return nil, err
	}
	return &Quota{Plan: plan, Used: used, Limit: limit}, nil
}

func (s *ContentService) History(ctx context.Context, actor Actor, limit, offset int) ([]model.AIGeneration, error) {
	return s.generations.List(ctx, actor.TenantID, limit, offset)
}

func (s *ContentService) planLimit(ctx context.Context, tenantID int64) (string, int64, error) {
	sub, err := currentSubscription(ctx, s.subs, tenantID)
	if err != nil {
		return "", 0, err
	}
	plan := "none"
	if sub.Status == model.SubscriptionActive || sub.Status == model.SubscriptionTrialing {
		if _, ok := planQuota[sub.Plan]; ok {
			plan = sub.Plan
		}
	}
	return plan, planQuota[plan], nil
}

// quotaKey ai:quota:<tenant>:<yyyymm>
func (s *ContentService) quotaKey(tenantID int64) string {
	return fmt.Sprintf("ai:quota:%d:%s", tenantID, s.now().UTC().Format("200601"))
}

// untilMonthEnd key 过期时间，多留一天避免跨时区边界
func (s *ContentService) untilMonthEnd() time.Duration {
	now := s.now().UTC()
	next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now) + 24*time.Hour
}

func normalizeGenerateInput(in *GenerateInput) error {
	in.Kind = strings.TrimSpace(in.Kind)
	if err := oneOf("kind", in.Kind, contentKinds...); err != nil {
		return err
	}
	topic, err := requireLength("topic", in.Topic, 3, 500)
	if err != nil {
		return err
	}
	in.Topic = topic

	if in.Tone == "" {
		in.Tone = "professional"
	}
	if err := oneOf("tone", in.Tone, contentTones...); err != nil {
		return err
	}
	if in.Length == "" {
		in.Length = "medium"
	}
	if _, ok := contentLengths[in.Length]; !ok {
		return invalid("length", "must be one of short, medium, long")
	}
	if in.Platform != "" {
		if err := oneOf("platform", in.Platform, socialPlatforms...); err != nil {
			return err
		}
	}
	return nil
}

var kindLabels = map[string]string{
	"social_post":  "a social media post",
	"blog_post":    "a blog post",
	"email":        "a marketing e-mail",
	"ad_copy":      "advertising copy",
	"website_copy": "website copy",
}

var lengthHints = map[string]string{
	"short":  "Keep it short: at most 60 words.",
	"medium": "Aim for about 150 to 250 words.",
	"long":   "Aim for about 600 to 900 words with headings where useful.",
}

func buildPrompt(in GenerateInput) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %s about: %s\n", kindLabels[in.Kind], in.Topic)
	fmt.Fprintf(&b, "Tone: %s.\n", in.Tone)
	if in.Platform != "" {
		fmt.Fprintf(&b, "It will be published on %s; follow that platform's conventions.\n", strings.ReplaceAll(in.Platform, "_", " "))
	}
	b.WriteString(lengthHints[in.Length])

	return []llm.Message{
		{
			Role: "system",
			Content: "You are a copywriter for small local businesses. " +
				"Return only the finished copy, without preamble or notes.",
		},
		{Role: "user", Content: b.String()},
	}
}
