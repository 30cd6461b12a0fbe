package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/model"
	"baydigital/internal/repository"
	"baydigital/pkg/metrics"
	"baydigital/pkg/outbox"
)

var socialPlatforms = []string{"facebook", "instagram", "linkedin", "twitter", "google_business"}

// SocialPostStore 由 repository.SocialPostRepository 实现
type SocialPostStore interface {
	Create(ctx context.Context, p *model.SocialPost) error
	Get(ctx context.Context, tenantID, id int64) (*model.SocialPost, error)
	List(ctx context.Context, f model.SocialPostFilter) ([]model.SocialPost, error)
	Update(ctx context.Context, p *model.SocialPost) error
	Cancel(ctx context.Context, tenantID, id int64) (*model.SocialPost, error)
	ClaimDue(ctx context.Context, now time.Time, limit int, events func(p *model.SocialPost) []outbox.Message) ([]model.SocialPost, error)
}

type SocialService struct {
	posts  SocialPostStore
	now    func() time.Time
	logger *zap.Logger
}

func NewSocialService(posts SocialPostStore, logger *zap.Logger) *SocialService {
	return &SocialService{posts: posts, now: time.Now, logger: logger}
}

type PostInput struct {
	Platforms   []string
	Content     string
	ImageURL    string
	ScheduledAt *time.Time
	Status      string // draft | scheduled；为空时有 scheduled_at 即为 scheduled
}

func (s *SocialService) Create(ctx context.Context, actor Actor, in PostInput) (*model.SocialPost, error) {
	if actor.TenantID == 0 {
		return nil, ErrForbidden
	}
	p := &model.SocialPost{TenantID: actor.TenantID, CreatedBy: actor.UserID}
	if err := s.apply(p, in); err != nil {
		return nil, err
	}
	if err := s.posts.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

type PostPatch struct {
	Platforms     *[]string
	Content       *string
	ImageURL      *string
	ScheduledAt   *time.Time
	ClearSchedule bool
	Status        *string
}

// Update 只能修改 draft/scheduled 的帖子
func (s *SocialService) Update(ctx context.Context, actor Actor, id int64, patch PostPatch) (*model.SocialPost, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PostDraft && p.Status != model.PostScheduled {
		return nil, fmt.Errorf("%w: post is %s", ErrConflict, p.Status)
	}

	in := PostInput{
		Platforms:   p.Platforms,
		Content:     p.Content,
		ImageURL:    p.ImageURL,
		ScheduledAt: p.ScheduledAt,
		Status:      p.Status,
	}
	if patch.Platforms != nil {
		in.Platforms = *patch.Platforms
	}
	if patch.Content != nil {
		in.Content = *patch.Content
	}
	if patch.ImageURL != nil {
		in.ImageURL = *patch.ImageURL
	}
	if patch.ScheduledAt != nil {
		in.ScheduledAt = patch.ScheduledAt
	}
	if patch.ClearSchedule {
		in.ScheduledAt = nil
		in.Status = model.PostDraft
	}
	if patch.Status != nil {
		in.Status = *patch.Status
	}
	if err := s.apply(p, in); err != nil {
		return nil, err
	}

	if err := s.posts.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: post can no longer be edited", ErrConflict)
		}
		return nil, err
	}
	return p, nil
}

func (s *SocialService) Cancel(ctx context.Context, actor Actor, id int64) (*model.SocialPost, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	p, err := s.posts.Cancel(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: post can no longer be cancelled", ErrConflict)
		}
		return nil, err
	}
	return p, nil
}

func (s *SocialService) Get(ctx context.Context, actor Actor, id int64) (*model.SocialPost, error) {
	p, err := s.posts.Get(ctx, actor.TenantID, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return p, nil
}

type PostListInput struct {
	Status string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

func (s *SocialService) List(ctx context.Context, actor Actor, in PostListInput) ([]model.SocialPost, error) {
	if in.Status != "" {
		if err := oneOf("status", in.Status,
			model.PostDraft, model.PostScheduled, model.PostPublished, model.PostFailed, model.PostCancelled); err != nil {
			return nil, err
		}
	}
	if in.From != nil && in.To != nil && !in.From.Before(*in.To) {
		return nil, invalid("from", "must be before to")
	}
	return s.posts.List(ctx, model.SocialPostFilter{
		TenantID: actor.TenantID,
		Status:   in.Status,
		From:     in.From,
		To:       in.To,
		Limit:    in.Limit,
		Offset:   in.Offset,
	})
}

// PublishDue 由定时任务调用：领取到期帖子并发出 social_post.published
func (s *SocialService) PublishDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	posts, err := s.posts.ClaimDue(ctx, s.now().UTC(), limit, func(p *model.SocialPost) []outbox.Message {
		id := p.ID
		publishedAt := time.Now().UTC()
		if p.PublishedAt != nil {
			publishedAt = *p.PublishedAt
		}
		return []outbox.Message{{
			AggregateType: mqcontracts.AggregateSocialPost,
			AggregateID:   &id,
			RoutingKey:    mqcontracts.RoutingSocialPostPublished,
			Payload: mqcontracts.SocialPostPublishedPayload{
				PostID:      p.ID,
				TenantID:    p.TenantID,
				Platforms:   p.Platforms,
				Preview:     preview(p.Content, 140),
				PublishedAt: publishedAt,
			},
		}}
	})
	if err != nil {
		return 0, err
	}
	for range posts {
		metrics.IncrementSocialPost(model.PostPublished)
	}
	return len(posts), nil
}

// apply 校验输入并写入 p
func (s *SocialService) apply(p *model.SocialPost, in PostInput) error {
	platforms, err := normalizePlatforms(in.Platforms)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(in.Content)
	if n := utf8.RuneCountInString(content); n == 0 {
		return invalid("content", "is required")
	} else if n > 2200 {
		return invalid("content", "must be at most 2200 characters")
	}
	image, err := optionalURL("image_url", in.ImageURL)
	if err != nil {
		return err
	}

	status := in.Status
	if status == "" {
		status = model.PostDraft
		if in.ScheduledAt != nil {
			status = model.PostScheduled
		}
	}
	if err := oneOf("status", status, model.PostDraft, model.PostScheduled); err != nil {
		return err
	}
	if status == model.PostScheduled {
		if in.ScheduledAt == nil {
			return invalid("scheduled_at", "is required when status is scheduled")
		}
		if !in.ScheduledAt.After(s.now()) {
			return invalid("scheduled_at", "must be in the future")
		}
	}

	p.Platforms = platforms
	p.Content = content
	p.ImageURL = image
	p.Status = status
	p.ScheduledAt = nil
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		p.ScheduledAt = &at
	}
	return nil
}

func normalizePlatforms(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, invalid("platforms", "at least one platform is required")
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		p := strings.ToLower(strings.TrimSpace(raw))
		if err := oneOf("platforms", p, socialPlatforms...); err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
