package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type queryResult struct {
	resp *notionapi.DatabaseQueryResponse
	err  error
}

// QueryAll pages through a database query. The next page is requested in the
// background while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string, query *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	next := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if query != nil {
			req.Filter = query.Filter
			req.Sorts = query.Sorts
			req.PageSize = query.PageSize
		}
		return req
	}

	var pages []notionapi.Page
	var pending <-chan queryResult
	req := next("")
	for {
		var resp *notionapi.DatabaseQueryResponse
		var err error
		if pending != nil {
			r := <-pending
			resp, err = r.resp, r.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, req)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "notion: query all %s", dbID)
		}

		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			return pages, nil
		}

		ch := make(chan queryResult, 1)
		pending = ch
		nextReq := next(resp.NextCursor)
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, nextReq)
			ch <- queryResult{resp: r, err: e}
		}()
	}
}

// FindByText returns the pages whose rich text property equals value.
func FindByText(ctx context.Context, c Client, dbID, property, value string) ([]notionapi.Page, error) {
	pages, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: property,
			RichText: &notionapi.TextFilterCondition{Equals: value},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find %s = %q", property, value)
	}
	return pages, nil
}

// Database is a Notion database whose rows are identified by a rich text key
// property, such as the calendar's post ID column.
type Database struct {
	client Client
	id     string
	key    string
}

// NewDatabase binds a Client to the database id keyed by the key property.
func NewDatabase(c Client, id, key string) *Database {
	return &Database{client: c, id: id, key: key}
}

// ID returns the database ID.
func (d *Database) ID() string { return d.id }

// Index maps every key value in the database to its page ID. Rows without a
// key are skipped. When a key appears twice the first page wins.
func (d *Database) Index(ctx context.Context) (map[string]string, error) {
	pages, err := QueryAll(ctx, d.client, d.id, nil)
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(pages))
	for _, p := range pages {
		k := TextValue(p, d.key)
		if k == "" {
			continue
		}
		if _, dup := index[k]; dup {
			zap.L().Warn("notion: duplicate key",
				zap.String("database", d.id),
				zap.String("key", k),
				zap.String("page_id", string(p.ID)),
			)
			continue
		}
		index[k] = string(p.ID)
	}
	return index, nil
}

// Find returns the page ID of the row whose key equals value, or "" when
// there is none.
func (d *Database) Find(ctx context.Context, value string) (string, error) {
	pages, err := FindByText(ctx, d.client, d.id, d.key, value)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", nil
	}
	if len(pages) > 1 {
		zap.L().Warn("notion: duplicate key", zap.String("database", d.id), zap.String("key", value))
	}
	return string(pages[0].ID), nil
}

// Upsert updates pageID with props, or creates a new row when pageID is
// empty. It reports whether a row was created.
func (d *Database) Upsert(ctx context.Context, pageID string, props notionapi.Properties) (bool, error) {
	if pageID != "" {
		if _, err := d.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props}); err != nil {
			return false, err
		}
		return false, nil
	}
	_, err := d.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(d.id),
		},
		Properties: props,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
