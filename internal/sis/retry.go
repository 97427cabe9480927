package sis

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryMaxElapsed bounds how long a single upstream call is retried
// before the error surfaces to the caller (and becomes a per-school failure).
const DefaultRetryMaxElapsed = 30 * time.Second

// RetryingClient decorates a Client with exponential-backoff retry for
// transient upstream errors. Non-transient errors surface immediately.
type RetryingClient struct {
	inner      Client
	maxElapsed time.Duration
}

// NewRetryingClient wraps inner with retry. maxElapsed <= 0 selects
// DefaultRetryMaxElapsed.
func NewRetryingClient(inner Client, maxElapsed time.Duration) *RetryingClient {
	if maxElapsed <= 0 {
		maxElapsed = DefaultRetryMaxElapsed
	}
	return &RetryingClient{inner: inner, maxElapsed: maxElapsed}
}

// newBackoff returns a fresh policy per call; BackOff implementations are
// stateful and must not be shared.
func (c *RetryingClient) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	return backoff.WithContext(bo, ctx)
}

// IsTransient reports whether an upstream error is worth retrying.
// Rate limiting and connection blips are transient; everything else
// (auth failures, 4xx, schema errors) is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{
		"rate limit",
		"too many requests",
		"429",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"broken pipe",
		"temporary failure",
		"bad gateway",
		"service unavailable",
		"502",
		"503",
	} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func retry[T any](ctx context.Context, bo backoff.BackOff, fn func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := fn()
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}, bo)
	return out, err
}

func (c *RetryingClient) ListStudents(ctx context.Context, schoolID string, since *time.Time) ([]StudentRecord, error) {
	return retry(ctx, c.newBackoff(ctx), func() ([]StudentRecord, error) {
		return c.inner.ListStudents(ctx, schoolID, since)
	})
}

func (c *RetryingClient) ListTeachers(ctx context.Context, schoolID string, since *time.Time) ([]TeacherRecord, error) {
	return retry(ctx, c.newBackoff(ctx), func() ([]TeacherRecord, error) {
		return c.inner.ListTeachers(ctx, schoolID, since)
	})
}

func (c *RetryingClient) ListSections(ctx context.Context, schoolID string, since *time.Time) ([]SectionRecord, error) {
	return retry(ctx, c.newBackoff(ctx), func() ([]SectionRecord, error) {
		return c.inner.ListSections(ctx, schoolID, since)
	})
}

func (c *RetryingClient) ListTerms(ctx context.Context, schoolID string, since *time.Time) ([]TermRecord, error) {
	return retry(ctx, c.newBackoff(ctx), func() ([]TermRecord, error) {
		return c.inner.ListTerms(ctx, schoolID, since)
	})
}

func (c *RetryingClient) ListEvents(ctx context.Context, schoolID, cursor string, limit int) ([]Event, error) {
	return retry(ctx, c.newBackoff(ctx), func() ([]Event, error) {
		return c.inner.ListEvents(ctx, schoolID, cursor, limit)
	})
}

func (c *RetryingClient) LatestEventID(ctx context.Context, schoolID string) (string, error) {
	return retry(ctx, c.newBackoff(ctx), func() (string, error) {
		return c.inner.LatestEventID(ctx, schoolID)
	})
}
