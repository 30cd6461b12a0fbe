package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxTickets = "baydigital_tickets"

// ErrUnavailable 健康检查失败时直接返回，可重试
var ErrUnavailable error = &Error{Op: "search", Err: errors.New("unavailable"), retryable: true}

// Error 包装 Meilisearch 调用失败；传输错误、5xx 和 429 可重试，其它 4xx 不可重试
type Error struct {
	Op        string
	Err       error
	retryable bool
}

func (e *Error) Error() string   { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error   { return e.Err }
func (e *Error) Retryable() bool { return e.retryable }

func wrapErr(op string, err error) error {
	retryable := true
	var apiErr *meili.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
		retryable = false
	}
	return &Error{Op: op, Err: err, retryable: retryable}
}

// TicketDoc 工单索引文档，body 只包含对客户可见的消息
type TicketDoc struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenant_id"`
	Number    string `json:"number"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	Category  string `json:"category"`
	Priority  string `json:"priority"`
	UpdatedAt int64  `json:"updated_at"`
}

// TicketHit 搜索结果
type TicketHit struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Number   string `json:"number"`
	Subject  string `json:"subject"`
	Snippet  string `json:"snippet"`
	Status   string `json:"status"`
}

// TicketQuery 搜索参数，TenantID 为 nil 表示不限租户（员工）
type TicketQuery struct {
	Text     string
	TenantID *int64
	Status   string
	Limit    int
	Offset   int
}

// Meili 通过 Meilisearch 实现工单全文搜索
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili 创建客户端并配置索引；首次连接失败时继续运行，后台健康检查恢复后再配置
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("Meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTickets,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("Create index (may already exist)", zap.String("index", idxTickets), zap.Error(err))
	}

	index := m.client.Index(idxTickets)
	filterable := []interface{}{"tenant_id", "status", "category", "priority"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("Update filterable attributes failed", zap.String("index", idxTickets), zap.Error(err))
	}
	searchable := []string{"number", "subject", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("Update searchable attributes failed", zap.String("index", idxTickets), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("Meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexTickets 批量写入或更新工单
func (m *Meili) IndexTickets(docs []TicketDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if !m.healthy.Load() {
		return ErrUnavailable
	}
	if _, err := m.client.Index(idxTickets).AddDocuments(docs, nil); err != nil {
		return wrapErr("index tickets", err)
	}
	return nil
}

// DeleteTicket 从索引中删除工单；文档不存在也算成功
func (m *Meili) DeleteTicket(id int64) error {
	if !m.healthy.Load() {
		return ErrUnavailable
	}
	if _, err := m.client.Index(idxTickets).DeleteDocument(fmt.Sprint(id), nil); err != nil {
		return wrapErr(fmt.Sprintf("delete ticket %d", id), err)
	}
	return nil
}

// SearchTickets 全文搜索工单
func (m *Meili) SearchTickets(q TicketQuery) ([]TicketHit, int, error) {
	if !m.healthy.Load() {
		return nil, 0, ErrUnavailable
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxTickets,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"subject", "body"},
		AttributesToCrop:      []string{"body"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := TicketFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, wrapErr("search tickets", err)
	}

	var hits []TicketHit
	total := 0
	for _, r := range resp.Results {
		total += int(r.EstimatedTotalHits)
		for _, hit := range r.Hits {
			hits = append(hits, hitToTicket(hit))
		}
	}
	return hits, total, nil
}

// TicketFilters 构造过滤条件，租户过滤必须存在于非员工查询
func TicketFilters(q TicketQuery) []string {
	var filters []string
	if q.TenantID != nil {
		filters = append(filters, fmt.Sprintf("tenant_id = %d", *q.TenantID))
	}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	return filters
}

func hitToTicket(hit meili.Hit) TicketHit {
	return TicketHit{
		ID:       decodeInt(hit, "id"),
		TenantID: decodeInt(hit, "tenant_id"),
		Number:   decodeString(hit, "number"),
		Subject:  firstNonBlank(decodeFormattedString(hit, "subject"), decodeString(hit, "subject")),
		Snippet:  firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
		Status:   decodeString(hit, "status"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
