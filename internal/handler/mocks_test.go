package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"

	"baydigital/internal/model"
	"baydigital/internal/service"
	"baydigital/pkg/outbox"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// withActor 模拟 AuthMiddleware 的输出
func withActor(userID, tenantID int64, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("tenant_id", tenantID)
		c.Set("role", role)
		c.Next()
	}
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type mockTicketService struct {
	CreateFunc       func(ctx context.Context, actor service.Actor, in service.CreateTicketInput) (*model.Ticket, error)
	ListFunc         func(ctx context.Context, actor service.Actor, in service.TicketListInput) ([]model.Ticket, error)
	GetFunc          func(ctx context.Context, actor service.Actor, id int64) (*service.TicketDetail, error)
	ReplyFunc        func(ctx context.Context, actor service.Actor, id int64, in service.ReplyInput) (*model.TicketMessage, error)
	UpdateStatusFunc func(ctx context.Context, actor service.Actor, id int64, status string) (*model.Ticket, error)
	SearchFunc       func(ctx context.Context, actor service.Actor, in service.TicketSearchInput) (*service.TicketSearchResult, error)
}

func (m *mockTicketService) Create(ctx context.Context, actor service.Actor, in service.CreateTicketInput) (*model.Ticket, error) {
	return m.CreateFunc(ctx, actor, in)
}

func (m *mockTicketService) List(ctx context.Context, actor service.Actor, in service.TicketListInput) ([]model.Ticket, error) {
	return m.ListFunc(ctx, actor, in)
}

func (m *mockTicketService) Get(ctx context.Context, actor service.Actor, id int64) (*service.TicketDetail, error) {
	return m.GetFunc(ctx, actor, id)
}

func (m *mockTicketService) Reply(ctx context.Context, actor service.Actor, id int64, in service.ReplyInput) (*model.TicketMessage, error) {
	return m.ReplyFunc(ctx, actor, id, in)
}

func (m *mockTicketService) UpdateStatus(ctx context.Context, actor service.Actor, id int64, status string) (*model.Ticket, error) {
	return m.UpdateStatusFunc(ctx, actor, id, status)
}

func (m *mockTicketService) Search(ctx context.Context, actor service.Actor, in service.TicketSearchInput) (*service.TicketSearchResult, error) {
	return m.SearchFunc(ctx, actor, in)
}

type mockBillingService struct {
	GetSubscriptionFunc func(ctx context.Context, actor service.Actor) (*model.Subscription, error)
	CheckoutFunc        func(ctx context.Context, actor service.Actor, email, plan string) (string, error)
	PortalFunc          func(ctx context.Context, actor service.Actor) (string, error)
	HandleWebhookFunc   func(ctx context.Context, payload []byte, signature string) (*service.WebhookOutcome, error)
}

func (m *mockBillingService) GetSubscription(ctx context.Context, actor service.Actor) (*model.Subscription, error) {
	return m.GetSubscriptionFunc(ctx, actor)
}

func (m *mockBillingService) Checkout(ctx context.Context, actor service.Actor, email, plan string) (string, error) {
	return m.CheckoutFunc(ctx, actor, email, plan)
}

func (m *mockBillingService) Portal(ctx context.Context, actor service.Actor) (string, error) {
	return m.PortalFunc(ctx, actor)
}

func (m *mockBillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookOutcome, error) {
	return m.HandleWebhookFunc(ctx, payload, signature)
}

type mockEmailLookup struct {
	MeFunc func(ctx context.Context, userID int64) (*service.Profile, error)
}

func (m *mockEmailLookup) Me(ctx context.Context, userID int64) (*service.Profile, error) {
	return m.MeFunc(ctx, userID)
}

type mockSocialService struct {
	CreateFunc func(ctx context.Context, actor service.Actor, in service.PostInput) (*model.SocialPost, error)
	UpdateFunc func(ctx context.Context, actor service.Actor, id int64, patch service.PostPatch) (*model.SocialPost, error)
	CancelFunc func(ctx context.Context, actor service.Actor, id int64) (*model.SocialPost, error)
	GetFunc    func(ctx context.Context, actor service.Actor, id int64) (*model.SocialPost, error)
	ListFunc   func(ctx context.Context, actor service.Actor, in service.PostListInput) ([]model.SocialPost, error)
}

func (m *mockSocialService) Create(ctx context.Context, actor service.Actor, in service.PostInput) (*model.SocialPost, error) {
	return m.CreateFunc(ctx, actor, in)
}

func (m *mockSocialService) Update(ctx context.Context, actor service.Actor, id int64, patch service.PostPatch) (*model.SocialPost, error) {
	return m.UpdateFunc(ctx, actor, id, patch)
}

func (m *mockSocialService) Cancel(ctx context.Context, actor service.Actor, id int64) (*model.SocialPost, error) {
	return m.CancelFunc(ctx, actor, id)
}

func (m *mockSocialService) Get(ctx context.Context, actor service.Actor, id int64) (*model.SocialPost, error) {
	return m.GetFunc(ctx, actor, id)
}

func (m *mockSocialService) List(ctx context.Context, actor service.Actor, in service.PostListInput) ([]model.SocialPost, error) {
	return m.ListFunc(ctx, actor, in)
}

type mockUploadService struct {
	UploadFunc func(ctx context.Context, actor service.Actor, filename string, size int64, r io.Reader) (*service.UploadResult, error)
	URLFunc    func(ctx context.Context, actor service.Actor, key string) (string, error)
}

func (m *mockUploadService) Upload(ctx context.Context, actor service.Actor, filename string, size int64, r io.Reader) (*service.UploadResult, error) {
	return m.UploadFunc(ctx, actor, filename, size, r)
}

func (m *mockUploadService) URL(ctx context.Context, actor service.Actor, key string) (string, error) {
	return m.URLFunc(ctx, actor, key)
}

type mockFormService struct {
	SubmitFunc       func(ctx context.Context, siteKey, ip string, in service.FormInput) (bool, error)
	ListFunc         func(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]model.FormSubmission, error)
	UpdateStatusFunc func(ctx context.Context, actor service.Actor, id int64, status string) (*model.FormSubmission, error)
}

func (m *mockFormService) Submit(ctx context.Context, siteKey, ip string, in service.FormInput) (bool, error) {
	return m.SubmitFunc(ctx, siteKey, ip, in)
}

func (m *mockFormService) List(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]model.FormSubmission, error) {
	return m.ListFunc(ctx, actor, status, limit, offset)
}

func (m *mockFormService) UpdateStatus(ctx context.Context, actor service.Actor, id int64, status string) (*model.FormSubmission, error) {
	return m.UpdateStatusFunc(ctx, actor, id, status)
}

type mockNotificationService struct {
	ListFunc        func(ctx context.Context, actor service.Actor, unreadOnly bool, limit, offset int) (*service.NotificationList, error)
	MarkReadFunc    func(ctx context.Context, actor service.Actor, id int64) error
	MarkAllReadFunc func(ctx context.Context, actor service.Actor) (int64, error)
	DeleteFunc      func(ctx context.Context, actor service.Actor, id int64) error
}

func (m *mockNotificationService) List(ctx context.Context, actor service.Actor, unreadOnly bool, limit, offset int) (*service.NotificationList, error) {
	return m.ListFunc(ctx, actor, unreadOnly, limit, offset)
}

func (m *mockNotificationService) MarkRead(ctx context.Context, actor service.Actor, id int64) error {
	return m.MarkReadFunc(ctx, actor, id)
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, actor service.Actor) (int64, error) {
	return m.MarkAllReadFunc(ctx, actor)
}

func (m *mockNotificationService) Delete(ctx context.Context, actor service.Actor, id int64) error {
	return m.DeleteFunc(ctx, actor, id)
}

type mockReplayer struct {
	ReplayEventFunc        func(ctx context.Context, eventID int64) error
	ReplayFailedEventsFunc func(ctx context.Context, limit int) (int, error)
	ListFailedFunc         func(ctx context.Context, limit int) ([]*outbox.Event, error)
}

func (m *mockReplayer) ReplayEvent(ctx context.Context, eventID int64) error {
	return m.ReplayEventFunc(ctx, eventID)
}

func (m *mockReplayer) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	return m.ReplayFailedEventsFunc(ctx, limit)
}

func (m *mockReplayer) ListFailed(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return m.ListFailedFunc(ctx, limit)
}
