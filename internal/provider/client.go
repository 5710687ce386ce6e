package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rpattn/auditsync/internal/domain"
)

// ErrUnauthorized is returned when the API rejects the token.
var ErrUnauthorized = errors.New("provider rejected credentials")

// ErrPagingStalled is returned when a full search page shares a single
// modified_at, so re-querying from it cannot reach the remaining audits.
var ErrPagingStalled = errors.New("audit search paging stalled")

// ErrReportFailed is returned when a report export finishes unsuccessfully.
var ErrReportFailed = errors.New("report export failed")

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// Filter is a tri-state search filter. FilterBoth omits the parameter.
type Filter string

const (
	FilterTrue  Filter = "true"
	FilterFalse Filter = "false"
	FilterBoth  Filter = "both"
)

// AuditQuery scopes an audit search.
type AuditQuery struct {
	ModifiedAfter time.Time
	TemplateIDs   []string
	Completed     Filter
	Archived      Filter
}

// Client talks to the inspection API.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
	pageSize     int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithReportPolling sets how report export completion is polled.
func WithReportPolling(interval time.Duration, attempts int) Option {
	return func(cl *Client) {
		if interval >= 0 {
			cl.pollInterval = interval
		}
		if attempts > 0 {
			cl.pollAttempts = attempts
		}
	}
}

// WithPageSize sets the actions search page size.
func WithPageSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.pageSize = n
		}
	}
}

// NewClient returns a client for baseURL authenticating with token.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: 3 * time.Second,
		pollAttempts: 60,
		pageSize:     100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type auditSearchResponse struct {
	Count  int `json:"count"`
	Total  int `json:"total"`
	Audits []struct {
		AuditID    string    `json:"audit_id"`
		TemplateID string    `json:"template_id"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"audits"`
}

// DiscoverAudits lists audits modified after q.ModifiedAfter, oldest first.
// Pages are fetched by re-querying from the last modified_at seen, so the
// boundary audit of each page is returned twice. When a page cannot move
// modified_at forward while audits remain, ErrPagingStalled is returned
// instead of a partial list.
func (c *Client) DiscoverAudits(ctx context.Context, q AuditQuery) ([]domain.RecordRef, error) {
	var refs []domain.RecordRef
	modifiedAfter := q.ModifiedAfter

	for {
		params := url.Values{}
		params.Add("field", "audit_id")
		params.Add("field", "modified_at")
		params.Add("field", "template_id")
		params.Set("order", "asc")
		params.Set("modified_after", modifiedAfter.UTC().Format(time.RFC3339Nano))
		for _, id := range q.TemplateIDs {
			params.Add("template", id)
		}
		if q.Completed == FilterTrue || q.Completed == FilterFalse {
			params.Set("completed", string(q.Completed))
		}
		if q.Archived == FilterTrue || q.Archived == FilterFalse {
			params.Set("archived", string(q.Archived))
		}

		var page auditSearchResponse
		if err := c.getJSON(ctx, "/audits/search?"+params.Encode(), &page); err != nil {
			return nil, err
		}
		for _, a := range page.Audits {
			modified := a.ModifiedAt.UTC()
			refs = append(refs, domain.RecordRef{ID: a.AuditID, TemplateID: a.TemplateID, ModifiedAt: &modified})
		}

		if len(page.Audits) == 0 || page.Total-page.Count <= 0 {
			return refs, nil
		}
		next := page.Audits[len(page.Audits)-1].ModifiedAt
		if !next.After(modifiedAfter) {
			return nil, fmt.Errorf("%w: %d of %d audits remain past a page sharing modified_at %s",
				ErrPagingStalled, page.Total-page.Count, page.Total, next.UTC().Format(time.RFC3339Nano))
		}
		modifiedAfter = next
	}
}

// FetchAudit retrieves one audit.
func (c *Client) FetchAudit(ctx context.Context, id string) (domain.Record, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/audits/"+url.PathEscape(id), &raw); err != nil {
		return domain.Record{}, err
	}
	var head struct {
		TemplateID string    `json:"template_id"`
		ModifiedAt time.Time `json:"modified_at"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return domain.Record{}, fmt.Errorf("failed to decode audit %s: %w", id, err)
	}
	return domain.Record{
		ID:         id,
		Stream:     domain.StreamAudits,
		TemplateID: head.TemplateID,
		ModifiedAt: head.ModifiedAt.UTC(),
		Body:       raw,
	}, nil
}

// FetchMedia downloads one attachment of an audit.
func (c *Client) FetchMedia(ctx context.Context, recordID, mediaID string) ([]byte, error) {
	return c.getBytes(ctx, c.baseURL+"/audits/"+url.PathEscape(recordID)+"/media/"+url.PathEscape(mediaID))
}

// FetchWebReportLink returns the shareable report URL of an audit.
func (c *Client) FetchWebReportLink(ctx context.Context, id string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, "/audits/"+url.PathEscape(id)+"/web_report_link", &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// FetchReport starts a report export in format (PDF or WORD), waits for it
// to complete, and downloads it.
func (c *Client) FetchReport(ctx context.Context, id, preferenceID, format string) ([]byte, error) {
	body := map[string]string{"format": format}
	if preferenceID != "" {
		body["preference_id"] = preferenceID
	}
	var started struct {
		MessageID string `json:"messageId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/audits/"+url.PathEscape(id)+"/report", body, &started); err != nil {
		return nil, err
	}

	statusPath := "/audits/" + url.PathEscape(id) + "/report/" + url.PathEscape(started.MessageID)
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		var status struct {
			Status string `json:"status"`
			URL    string `json:"url"`
		}
		if err := c.getJSON(ctx, statusPath, &status); err != nil {
			return nil, err
		}
		switch status.Status {
		case "SUCCESS":
			return c.getBytes(ctx, status.URL)
		case "FAILED":
			return nil, fmt.Errorf("%w: audit %s format %s", ErrReportFailed, id, format)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil, fmt.Errorf("%w: audit %s format %s still pending after %d checks", ErrReportFailed, id, format, c.pollAttempts)
}

type actionsSearchRequest struct {
	Filters  []actionsFilter `json:"filters"`
	Offset   int             `json:"offset"`
	PageSize int             `json:"page_size"`
}

type actionsFilter struct {
	ModifiedAt struct {
		From string `json:"from"`
	} `json:"modified_at"`
}

// DiscoverActions returns every action modified after modifiedAfter.
func (c *Client) DiscoverActions(ctx context.Context, modifiedAfter time.Time) ([]domain.Record, error) {
	var records []domain.Record
	filter := actionsFilter{}
	filter.ModifiedAt.From = modifiedAfter.UTC().Format(time.RFC3339Nano)

	for offset := 0; ; offset += c.pageSize {
		req := actionsSearchRequest{Filters: []actionsFilter{filter}, Offset: offset, PageSize: c.pageSize}
		var page struct {
			Actions []json.RawMessage `json:"actions"`
		}
		if err := c.doJSON(ctx, http.MethodPost, "/api/v3/actions/search", req, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Actions {
			var head struct {
				ActionID   string    `json:"action_id"`
				ModifiedAt time.Time `json:"modified_at"`
			}
			if err := json.Unmarshal(raw, &head); err != nil {
				return nil, fmt.Errorf("failed to decode action: %w", err)
			}
			records = append(records, domain.Record{
				ID:         head.ActionID,
				Stream:     domain.StreamActions,
				ModifiedAt: head.ModifiedAt.UTC(),
				Body:       raw,
			})
		}
		if len(page.Actions) < c.pageSize {
			return records, nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	data, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) getBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "auditsync")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &APIError{Method: req.Method, URL: req.URL.Path, StatusCode: resp.StatusCode, Body: msg}
	}
	return data, nil
}
