package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
)

const (
	DefaultAPIURL  = "https://api.airtable.com/v0"
	maxPageSize    = 100
	defaultTimeout = 8 * time.Second
)

type Config struct {
	APIURL  string
	BaseID  string
	APIKey  string
	Timeout time.Duration
	// PingTable is read with maxRecords=1 by Ping.
	PingTable string
}

// Client talks to the Airtable REST API. Every call is bounded by
// Config.Timeout regardless of the caller's deadline.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
	}
}

var _ repository.RecordStore = (*Client)(nil)

// APIError is a non-structural error response from Airtable.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

type recordJSON struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

type listResponse struct {
	Records []recordJSON `json:"records"`
	Offset  string       `json:"offset"`
}

type writeRequest struct {
	Fields   map[string]any `json:"fields"`
	Typecast bool           `json:"typecast"`
}

func (c *Client) Find(ctx context.Context, table string, filter repository.Filter, limit int) ([]*domain.Record, error) {
	return c.list(ctx, "find", table, Formula(filter), limit)
}

func (c *Client) List(ctx context.Context, table string, limit int) ([]*domain.Record, error) {
	return c.list(ctx, "list", table, "", limit)
}

func (c *Client) list(ctx context.Context, op, table, formula string, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = maxPageSize
	}

	var (
		out    []*domain.Record
		offset string
	)
	for {
		q := url.Values{}
		q.Set("maxRecords", strconv.Itoa(limit))
		q.Set("pageSize", strconv.Itoa(min(limit, maxPageSize)))
		if formula != "" {
			q.Set("filterByFormula", formula)
		}
		if offset != "" {
			q.Set("offset", offset)
		}

		var page listResponse
		if err := c.do(ctx, op, http.MethodGet, c.tableURL(table, "")+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			out = append(out, r.toDomain())
		}
		if page.Offset == "" || len(out) >= limit {
			break
		}
		offset = page.Offset
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, table, id string) (*domain.Record, error) {
	var r recordJSON
	if err := c.do(ctx, "get", http.MethodGet, c.tableURL(table, id), nil, &r); err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (c *Client) Create(ctx context.Context, table string, fields map[string]any) (*domain.Record, error) {
	var r recordJSON
	body := writeRequest{Fields: fields, Typecast: true}
	if err := c.do(ctx, "create", http.MethodPost, c.tableURL(table, ""), body, &r); err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) (*domain.Record, error) {
	var r recordJSON
	body := writeRequest{Fields: fields, Typecast: true}
	if err := c.do(ctx, "update", http.MethodPatch, c.tableURL(table, id), body, &r); err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.list(ctx, "ping", c.cfg.PingTable, "", 1)
	return err
}

func (c *Client) tableURL(table, id string) string {
	u := c.cfg.APIURL + "/" + url.PathEscape(c.cfg.BaseID) + "/" + url.PathEscape(table)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.StoreCallDuration.WithLabelValues("airtable", op, outcome(err)).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("airtable %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("airtable %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("airtable %s: do request: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("airtable %s: read body: %w", op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("airtable %s: %w", op, decodeError(resp.StatusCode, payload))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("airtable %s: decode response: %w", op, err)
		}
	}
	return nil
}

func (r recordJSON) toDomain() *domain.Record {
	fields := r.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return &domain.Record{ID: r.ID, Fields: fields, CreatedTime: r.CreatedTime}
}

// Airtable reports errors either as {"error":"NOT_FOUND"} or
// {"error":{"type":"...","message":"..."}}.
func decodeError(status int, payload []byte) error {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(payload, &envelope); err == nil && len(envelope.Error) > 0 {
		var detail struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &detail); err == nil {
			apiErr.Type, apiErr.Message = detail.Type, detail.Message
		} else {
			_ = json.Unmarshal(envelope.Error, &apiErr.Type)
		}
	}

	switch {
	case apiErr.Type == "UNKNOWN_FIELD_NAME" || apiErr.Type == "INVALID_FILTER_BY_FORMULA":
		return &domain.UnknownFieldError{Field: unknownFieldName(apiErr.Message), Message: apiErr.Message}
	case status == http.StatusNotFound:
		return errors.Join(domain.ErrRecordNotFound, apiErr)
	default:
		return apiErr
	}
}

var unknownFieldRe = regexp.MustCompile(`(?i)unknown field names?:\s*"?([^",]+)"?`)

func unknownFieldName(msg string) string {
	m := unknownFieldRe.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, domain.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
