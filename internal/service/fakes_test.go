package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"baydigital/internal/integration/llm"
	"baydigital/internal/integration/payments"
	"baydigital/internal/model"
	"baydigital/internal/repository"
	"baydigital/pkg/outbox"
	"baydigital/pkg/search"
)

// ---- accounts ----

type fakeAccounts struct {
	mu      sync.Mutex
	tenants map[int64]*model.Tenant
	users   map[int64]*model.User
	outbox  []outbox.Message
	nextID  int64
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{tenants: map[int64]*model.Tenant{}, users: map[int64]*model.User{}}
}

func (f *fakeAccounts) CreateTenantWithOwner(ctx context.Context, t *model.Tenant, u *model.User, events func(t *model.Tenant, u *model.User) []outbox.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	f.nextID++
	t.ID = f.nextID
	t.CreatedAt = time.Now()
	f.nextID++
	u.ID = f.nextID
	u.TenantID = &t.ID
	f.tenants[t.ID] = t
	f.users[u.ID] = u
	if events != nil {
		f.outbox = append(f.outbox, events(t, u)...)
	}
	return nil
}

func (f *fakeAccounts) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) UpdateTenant(ctx context.Context, id int64, p model.TenantPatch) (*model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.BusinessName != nil {
		t.BusinessName = *p.BusinessName
	}
	if p.WebsiteURL != nil {
		t.WebsiteURL = *p.WebsiteURL
	}
	if p.ContactPhone != nil {
		t.ContactPhone = *p.ContactPhone
	}
	return t, nil
}

func (f *fakeAccounts) ListTenantSummaries(ctx context.Context, limit, offset int) ([]model.TenantSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TenantSummary
	for _, t := range f.tenants {
		out = append(out, model.TenantSummary{Tenant: *t, SubscriptionStatus: model.SubscriptionNone})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAccounts) GetTenantBySiteKey(ctx context.Context, siteKey string) (*model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tenants {
		if t.SiteKey == siteKey {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ---- subscriptions ----

type fakeSubscriptions struct {
	mu        sync.Mutex
	byTenant  map[int64]*model.Subscription
	processed map[string]bool
	outbox    []outbox.Message
	failNext  error
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{byTenant: map[int64]*model.Subscription{}, processed: map[string]bool{}}
}

func (f *fakeSubscriptions) GetByTenant(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byTenant[tenantID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubscriptions) FindTenantID(ctx context.Context, subscriptionID, customerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tenantID, s := range f.byTenant {
		if (subscriptionID != "" && s.StripeSubscriptionID == subscriptionID) ||
			(customerID != "" && s.StripeCustomerID == customerID) {
			return tenantID, nil
		}
	}
	return 0, repository.ErrNotFound
}

// ProcessWebhook 模拟事务：失败时不记录事件
func (f *fakeSubscriptions) ProcessWebhook(ctx context.Context, evt model.WebhookEvent, change *model.SubscriptionChange, events func(res repository.WebhookResult) []outbox.Message) (repository.WebhookResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return repository.WebhookResult{}, err
	}
	if f.processed[evt.EventID] {
		return repository.WebhookResult{}, repository.ErrDuplicate
	}

	var res repository.WebhookResult
	if change != nil {
		prev, ok := f.byTenant[change.TenantID]
		if ok {
			cp := *prev
			res.Previous = &cp
			res.Current = &cp
		}
		if ok && prev.LastEventAt != nil && change.EventAt.Before(*prev.LastEventAt) {
			res.Stale = true
		} else {
			cur := &model.Subscription{ID: change.TenantID * 10, TenantID: change.TenantID, Status: model.SubscriptionNone}
			if ok {
				cp := *prev
				cur = &cp
			}
			if change.StripeCustomerID != "" {
				cur.StripeCustomerID = change.StripeCustomerID
			}
			if change.StripeSubscriptionID != "" {
				cur.StripeSubscriptionID = change.StripeSubscriptionID
			}
			if change.Plan != "" {
				cur.Plan = change.Plan
			}
			if change.Status != "" {
				cur.Status = change.Status
			}
			if change.CurrentPeriodEnd != nil {
				cur.CurrentPeriodEnd = change.CurrentPeriodEnd
			}
			if change.CancelAtPeriodEnd != nil {
				cur.CancelAtPeriodEnd = *change.CancelAtPeriodEnd
			}
			at := change.EventAt
			if cur.LastEventAt == nil || at.After(*cur.LastEventAt) {
				cur.LastEventAt = &at
			}
			f.byTenant[change.TenantID] = cur
			res.Current = cur
			res.Applied = true
		}
	}
	f.processed[evt.EventID] = true
	if events != nil {
		f.outbox = append(f.outbox, events(res)...)
	}
	return res, nil
}

// ---- payments ----

type fakeGateway struct {
	prices      map[string]string
	events      map[string]*payments.Event // signature → event
	checkoutReq *payments.CheckoutRequest
	portalFor   string
	err         error
}

func (f *fakeGateway) PriceFor(plan string) (string, bool) {
	p, ok := f.prices[plan]
	return p, ok
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.checkoutReq = &req
	return "https://checkout.stripe.test/session", nil
}

func (f *fakeGateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.portalFor = customerID
	return "https://billing.stripe.test/portal", nil
}

func (f *fakeGateway) ParseWebhook(payload []byte, signature string) (*payments.Event, error) {
	evt, ok := f.events[signature]
	if !ok {
		return nil, payments.ErrInvalidSignature
	}
	cp := *evt
	return &cp, nil
}

// ---- deduper ----

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper { return &fakeDeduper{seen: map[string]bool{}} }

func (f *fakeDeduper) AcquireOnce(ctx context.Context, scope, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[scope+id] {
		return false
	}
	f.seen[scope+id] = true
	return true
}

func (f *fakeDeduper) Release(ctx context.Context, scope, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, scope+id)
}

// ---- tickets ----

type fakeTickets struct {
	mu          sync.Mutex
	tickets     map[int64]*model.Ticket
	messages    map[int64][]model.TicketMessage
	outbox      []outbox.Message
	nextID      int64
	collisions  int // Create 前 n 次返回 ErrDuplicate
	conflictsOn int // AddMessage 前 n 次返回 ErrConflict
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{tickets: map[int64]*model.Ticket{}, messages: map[int64][]model.TicketMessage{}}
}

func (f *fakeTickets) Create(ctx context.Context, t *model.Ticket, first *model.TicketMessage, events func(t *model.Ticket, m *model.TicketMessage) []outbox.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collisions > 0 {
		f.collisions--
		return repository.ErrDuplicate
	}
	f.nextID++
	t.ID = f.nextID
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	f.tickets[t.ID] = &cp
	f.nextID++
	first.ID = f.nextID
	first.TicketID = t.ID
	f.messages[t.ID] = append(f.messages[t.ID], *first)
	if events != nil {
		f.outbox = append(f.outbox, events(t, first)...)
	}
	return nil
}

func (f *fakeTickets) Get(ctx context.Context, id int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) List(ctx context.Context, flt model.TicketFilter) ([]model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Ticket{}
	for _, t := range f.tickets {
		if flt.TenantID != nil && t.TenantID != *flt.TenantID {
			continue
		}
		if flt.Status != "" && t.Status != flt.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTickets) ListMessages(ctx context.Context, ticketID int64, includeInternal bool) ([]model.TicketMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.TicketMessage{}
	for _, m := range f.messages[ticketID] {
		if m.Internal && !includeInternal {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeTickets) ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []int64{}
	for id := range f.tickets {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeTickets) transition(t *model.Ticket, from, to string) error {
	cur, ok := f.tickets[t.ID]
	if !ok || cur.Status != from {
		return repository.ErrConflict
	}
	cur.Status = to
	cur.UpdatedAt = time.Now()
	*t = *cur
	return nil
}

func (f *fakeTickets) AddMessage(ctx context.Context, t *model.Ticket, m *model.TicketMessage, from, to string, events func(t *model.Ticket, m *model.TicketMessage) []outbox.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsOn > 0 {
		f.conflictsOn--
		return repository.ErrConflict
	}
	if err := f.transition(t, from, to); err != nil {
		return err
	}
	f.nextID++
	m.ID = f.nextID
	m.TicketID = t.ID
	f.messages[t.ID] = append(f.messages[t.ID], *m)
	if events != nil {
		f.outbox = append(f.outbox, events(t, m)...)
	}
	return nil
}

func (f *fakeTickets) UpdateStatus(ctx context.Context, t *model.Ticket, from, to string, events func(t *model.Ticket) []outbox.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transition(t, from, to); err != nil {
		return err
	}
	if events != nil {
		f.outbox = append(f.outbox, events(t)...)
	}
	return nil
}

type fakeSearcher struct {
	lastQuery search.TicketQuery
	hits      []search.TicketHit
	err       error
}

func (f *fakeSearcher) SearchTickets(q search.TicketQuery) ([]search.TicketHit, int, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.hits, len(f.hits), nil
}

// ---- llm / quota / generations ----

type fakeCompleter struct {
	calls    int
	messages []llm.Message
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, maxTokens int) (*llm.Completion, error) {
	f.calls++
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Content: "Fresh sourdough every morning!", Model: "test-model", PromptTokens: 40, CompletionTokens: 12}, nil
}

type fakeGenerations struct {
	rows []model.AIGeneration
}

func (f *fakeGenerations) Insert(ctx context.Context, g *model.AIGeneration) error {
	g.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, *g)
	return nil
}

func (f *fakeGenerations) List(ctx context.Context, tenantID int64, limit, offset int) ([]model.AIGeneration, error) {
	var out []model.AIGeneration
	for _, g := range f.rows {
		if g.TenantID == tenantID {
			out = append(out, g)
		}
	}
	return out, nil
}

// ---- social ----

type fakePosts struct {
	mu     sync.Mutex
	posts  map[int64]*model.SocialPost
	outbox []outbox.Message
	nextID int64
}

func newFakePosts() *fakePosts { return &fakePosts{posts: map[int64]*model.SocialPost{}} }

func (f *fakePosts) Create(ctx context.Context, p *model.SocialPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.posts[p.ID] = &cp
	return nil
}

func (f *fakePosts) Get(ctx context.Context, tenantID, id int64) (*model.SocialPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) List(ctx context.Context, flt model.SocialPostFilter) ([]model.SocialPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.SocialPost{}
	for _, p := range f.posts {
		if p.TenantID == flt.TenantID && (flt.Status == "" || p.Status == flt.Status) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePosts) Update(ctx context.Context, p *model.SocialPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.posts[p.ID]
	if !ok || (cur.Status != model.PostDraft && cur.Status != model.PostScheduled) {
		return repository.ErrConflict
	}
	cp := *p
	f.posts[p.ID] = &cp
	return nil
}

func (f *fakePosts) Cancel(ctx context.Context, tenantID, id int64) (*model.SocialPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.posts[id]
	if !ok || cur.TenantID != tenantID || (cur.Status != model.PostDraft && cur.Status != model.PostScheduled) {
		return nil, repository.ErrConflict
	}
	cur.Status = model.PostCancelled
	cp := *cur
	return &cp, nil
}

func (f *fakePosts) ClaimDue(ctx context.Context, now time.Time, limit int, events func(p *model.SocialPost) []outbox.Message) ([]model.SocialPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SocialPost
	for _, p := range f.posts {
		if len(out) >= limit {
			break
		}
		if p.Status == model.PostScheduled && p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
			p.Status = model.PostPublished
			at := now
			p.PublishedAt = &at
			out = append(out, *p)
			if events != nil {
				f.outbox = append(f.outbox, events(p)...)
			}
		}
	}
	return out, nil
}

// ---- forms ----

type fakeForms struct {
	rows   []*model.FormSubmission
	outbox []outbox.Message
}

func (f *fakeForms) Insert(ctx context.Context, s *model.FormSubmission, events func(s *model.FormSubmission) []outbox.Message) error {
	s.ID = int64(len(f.rows) + 1)
	s.CreatedAt = time.Now()
	f.rows = append(f.rows, s)
	if events != nil {
		f.outbox = append(f.outbox, events(s)...)
	}
	return nil
}

func (f *fakeForms) List(ctx context.Context, tenantID int64, status string, limit, offset int) ([]model.FormSubmission, error) {
	var out []model.FormSubmission
	for _, s := range f.rows {
		if s.TenantID == tenantID && (status == "" || s.Status == status) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeForms) UpdateStatus(ctx context.Context, tenantID, id int64, status string) (*model.FormSubmission, error) {
	for _, s := range f.rows {
		if s.ID == id && s.TenantID == tenantID {
			s.Status = status
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ---- storage ----

type fakeObjectStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = b
	f.types[key] = contentType
	return nil
}

func (f *fakeObjectStore) PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://storage.test/" + key + "?sig=1", nil
}

// ---- notifications ----

type fakeNotifications struct {
	rows []*model.Notification
}

func (f *fakeNotifications) visible(n *model.Notification, tenantID, userID int64) bool {
	return n.TenantID == tenantID && (n.UserID == nil || *n.UserID == userID)
}

func (f *fakeNotifications) List(ctx context.Context, flt model.NotificationFilter) ([]model.Notification, error) {
	out := []model.Notification{}
	for _, n := range f.rows {
		if f.visible(n, flt.TenantID, flt.UserID) && (!flt.UnreadOnly || !n.IsRead) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (f *fakeNotifications) CountUnread(ctx context.Context, tenantID, userID int64) (int, error) {
	c := 0
	for _, n := range f.rows {
		if f.visible(n, tenantID, userID) && !n.IsRead {
			c++
		}
	}
	return c, nil
}

func (f *fakeNotifications) MarkRead(ctx context.Context, tenantID, userID, id int64) error {
	for _, n := range f.rows {
		if n.ID == id && f.visible(n, tenantID, userID) {
			n.IsRead = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeNotifications) MarkAllRead(ctx context.Context, tenantID, userID int64) (int64, error) {
	var c int64
	for _, n := range f.rows {
		if f.visible(n, tenantID, userID) && !n.IsRead {
			n.IsRead = true
			c++
		}
	}
	return c, nil
}

func (f *fakeNotifications) Delete(ctx context.Context, tenantID, userID, id int64) error {
	for i, n := range f.rows {
		if n.ID == id && f.visible(n, tenantID, userID) {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}
