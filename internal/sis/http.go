package sis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultPageSize = 100

// ErrUpstreamNotFound marks a 404 from the upstream API.
var ErrUpstreamNotFound = errors.New("upstream resource not found")

func isUpstreamNotFound(err error) bool {
	return errors.Is(err, ErrUpstreamNotFound)
}

// HTTPClient talks to the upstream roster API over REST with bearer auth.
// List calls page through results internally and return the complete set.
// Wrap it in a RetryingClient for transient-error retry.
type HTTPClient struct {
	base     *url.URL
	token    string
	hc       *http.Client
	pageSize int
}

// NewHTTPClient builds a client for the API rooted at baseURL.
// timeout <= 0 selects 30s.
func NewHTTPClient(baseURL, token string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		base:     u,
		token:    token,
		hc:       &http.Client{Timeout: timeout},
		pageSize: defaultPageSize,
	}, nil
}

// page is the upstream list envelope. Next is an opaque paging token;
// empty means last page.
type page[T any] struct {
	Data []T    `json:"data"`
	Next string `json:"next,omitempty"`
}

func (c *HTTPClient) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("sis: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("sis: GET %s: %w", path, ErrUpstreamNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		// Status text stays in the message so transient detection can
		// recognize 429/502/503 responses.
		return fmt.Errorf("sis: GET %s: status %d %s: %s",
			path, resp.StatusCode, http.StatusText(resp.StatusCode), snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sis: GET %s: decode: %w", path, err)
	}
	return nil
}

// listAll pages through a collection endpoint until the Next token runs out.
func listAll[T any](ctx context.Context, c *HTTPClient, path string, since *time.Time) ([]T, error) {
	var all []T
	next := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if next != "" {
			q.Set("starting_after", next)
		}
		if since != nil {
			q.Set("modified_since", since.UTC().Format(time.RFC3339))
		}
		var p page[T]
		if err := c.get(ctx, path, q, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Data...)
		if p.Next == "" {
			return all, nil
		}
		next = p.Next
	}
}

func (c *HTTPClient) ListStudents(ctx context.Context, schoolID string, since *time.Time) ([]StudentRecord, error) {
	return listAll[StudentRecord](ctx, c, "schools/"+schoolID+"/students", since)
}

func (c *HTTPClient) ListTeachers(ctx context.Context, schoolID string, since *time.Time) ([]TeacherRecord, error) {
	return listAll[TeacherRecord](ctx, c, "schools/"+schoolID+"/teachers", since)
}

func (c *HTTPClient) ListSections(ctx context.Context, schoolID string, since *time.Time) ([]SectionRecord, error) {
	return listAll[SectionRecord](ctx, c, "schools/"+schoolID+"/sections", since)
}

func (c *HTTPClient) ListTerms(ctx context.Context, schoolID string, since *time.Time) ([]TermRecord, error) {
	return listAll[TermRecord](ctx, c, "schools/"+schoolID+"/terms", since)
}

func (c *HTTPClient) ListEvents(ctx context.Context, schoolID, cursor string, limit int) ([]Event, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var p page[Event]
	if err := c.get(ctx, "schools/"+schoolID+"/events", q, &p); err != nil {
		return nil, err
	}
	return p.Data, nil
}

func (c *HTTPClient) LatestEventID(ctx context.Context, schoolID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.get(ctx, "schools/"+schoolID+"/events/latest", url.Values{}, &out)
	if err != nil {
		// No events yet is not an error; the orchestrator stores an empty
		// baseline cursor and falls back to time-filtered reconcile later.
		if isUpstreamNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return out.ID, nil
}
