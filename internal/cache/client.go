package cache

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/apperr"
)

// Loader fetches fresh data for a key from the source of truth.
type Loader func(ctx context.Context) ([]byte, error)

// Client serves reads from a Store and re-fetches missing or stale entries.
type Client struct {
	Store  Store
	Logger *logrus.Logger
	Retry  apperr.RetryOptions
}

func NewClient(store Store, logger *logrus.Logger) *Client {
	return &Client{Store: store, Logger: logger, Retry: apperr.DefaultRetryOptions()}
}

// Fetch returns the cached bytes for key when fresh, otherwise runs load with
// the retry policy of the classified error and stores the result. A result
// whose key was invalidated while loading is stored stale, so the next Fetch
// loads again.
func (c *Client) Fetch(ctx context.Context, key Key, load Loader) ([]byte, error) {
	e, ok, err := c.Store.Get(ctx, key)
	if err != nil && c.Logger != nil {
		c.Logger.WithError(err).WithField("key", key.String()).Warn("cache read failed")
	}
	if err == nil && ok && !e.Stale {
		return e.Data, nil
	}

	gen, rErr := c.Store.Reserve(ctx, key)
	if rErr != nil && c.Logger != nil {
		c.Logger.WithError(rErr).WithField("key", key.String()).Warn("cache reserve failed")
	}

	data, err := apperr.Retry(ctx, c.Retry, func(ctx context.Context) ([]byte, error) {
		return load(ctx)
	})
	if err != nil {
		return nil, err
	}
	if rErr != nil {
		return data, nil
	}
	fresh, sErr := c.Store.Put(ctx, key, data, gen)
	switch {
	case sErr != nil && c.Logger != nil:
		c.Logger.WithError(sErr).WithField("key", key.String()).Warn("cache write failed")
	case sErr == nil && !fresh && c.Logger != nil:
		c.Logger.WithField("key", key.String()).Debug("cache invalidated during load")
	}
	return data, nil
}

// Invalidate marks every entry under prefix stale.
func (c *Client) Invalidate(ctx context.Context, prefix Key) error {
	return c.Store.Invalidate(ctx, prefix)
}

// InvalidateAll invalidates several prefixes, logging failures instead of
// aborting the caller's mutation.
func (c *Client) InvalidateAll(ctx context.Context, prefixes ...Key) {
	for _, p := range prefixes {
		if err := c.Store.Invalidate(ctx, p); err != nil && c.Logger != nil {
			c.Logger.WithError(err).WithField("key", p.String()).Warn("cache invalidate failed")
		}
	}
}

// FetchJSON is Fetch for JSON-encoded values.
func FetchJSON[T any](ctx context.Context, c *Client, key Key, load func(ctx context.Context) (T, error)) (T, error) {
	var out T
	data, err := c.Fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

var _ Invalidator = (*Client)(nil)
