// Package notion wraps the Notion API calls used to mirror the content
// calendar into a Notion database.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultRateLimit is Notion's documented average request rate.
const DefaultRateLimit = 3.0

// Client is the subset of the Notion API the calendar sync needs.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

type clientOptions struct {
	rps   float64
	inner *notionapi.Client
}

// ClientOption configures NewClient.
type ClientOption func(*clientOptions)

// WithRateLimit sets requests per second. Zero or less disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(o *clientOptions) { o.rps = rps }
}

// WithAPIClient replaces the underlying notionapi client, e.g. to point it
// at a test server.
func WithAPIClient(inner *notionapi.Client) ClientOption {
	return func(o *clientOptions) { o.inner = inner }
}

// NewClient returns a Client for the integration token, throttled to
// DefaultRateLimit unless overridden.
func NewClient(token string, opts ...ClientOption) Client {
	o := clientOptions{rps: DefaultRateLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.inner == nil {
		o.inner = notionapi.NewClient(notionapi.Token(token))
	}
	return Throttle(sdkClient{api: o.inner}, o.rps)
}

// sdkClient adapts notionapi's service structs to Client.
type sdkClient struct {
	api *notionapi.Client
}

func (s sdkClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := s.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query database %s", dbID)
	}
	return resp, nil
}

func (s sdkClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	page, err := s.api.Page.Create(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}

func (s sdkClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	page, err := s.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: update page %s", pageID)
	}
	return page, nil
}

// Throttle wraps next so that every call first waits for a token from a
// limiter allowing rps requests per second. A non-positive rps returns next
// unchanged.
func Throttle(next Client, rps float64) Client {
	if rps <= 0 {
		return next
	}
	return &throttled{next: next, limiter: rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))}
}

type throttled struct {
	next    Client
	limiter *rate.Limiter
}

func (t *throttled) wait(ctx context.Context, op string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "notion: rate limit before %s", op)
	}
	return nil
}

func (t *throttled) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := t.wait(ctx, "query"); err != nil {
		return nil, err
	}
	return t.next.QueryDatabase(ctx, dbID, req)
}

func (t *throttled) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if err := t.wait(ctx, "create"); err != nil {
		return nil, err
	}
	return t.next.CreatePage(ctx, req)
}

func (t *throttled) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	if err := t.wait(ctx, "update"); err != nil {
		return nil, err
	}
	return t.next.UpdatePage(ctx, pageID, req)
}
