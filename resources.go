package cakemail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// The resource surface below is intentionally thin: it exists to expose the
// pagination engine and executor for the most common collections, not to
// mirror every field the API returns. Callers needing the full schema can go
// through Execute directly.

// Contact is a list member.
type Contact struct {
	ID     int64  `json:"id"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

// Campaign is an email campaign.
type Campaign struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	Status    string `json:"status"`
	CreatedOn int64  `json:"created_on"`
}

// listEnvelope is the API's collection response shape.
type listEnvelope[T any] struct {
	Data       []T `json:"data"`
	Pagination struct {
		Page    int    `json:"page"`
		PerPage int    `json:"per_page"`
		Count   int    `json:"count"`
		Cursor  string `json:"cursor"`
	} `json:"pagination"`
}

// objectEnvelope is the API's single-object response shape.
type objectEnvelope[T any] struct {
	Data T `json:"data"`
}

// fetchOffsetPage builds a FetchFunc for an offset-paged collection endpoint.
func fetchOffsetPage[T any](c *Client, path string) FetchFunc[T] {
	return func(ctx context.Context, params PageParams) (*PageResult[T], error) {
		q := url.Values{}
		q.Set("page", strconv.Itoa(params.Page))
		q.Set("per_page", strconv.Itoa(params.PerPage))

		var envelope listEnvelope[T]
		if err := c.ExecuteInto(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &envelope); err != nil {
			return nil, err
		}
		c.metrics.RecordPageFetched(path)
		if c.debugLogOn(c.debug != nil && c.debug.LogPagination) {
			c.logger.Debug("Fetched page", "endpoint", path, "page", params.Page, "items", len(envelope.Data))
		}

		return &PageResult[T]{
			Items:      envelope.Data,
			TotalCount: envelope.Pagination.Count,
		}, nil
	}
}

// fetchCursorPage builds a FetchFunc for a cursor-paged collection endpoint.
func fetchCursorPage[T any](c *Client, path string) FetchFunc[T] {
	return func(ctx context.Context, params PageParams) (*PageResult[T], error) {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(params.PerPage))
		if params.Cursor != "" {
			q.Set("cursor", params.Cursor)
		}

		var envelope listEnvelope[T]
		if err := c.ExecuteInto(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &envelope); err != nil {
			return nil, err
		}
		c.metrics.RecordPageFetched(path)
		if c.debugLogOn(c.debug != nil && c.debug.LogPagination) {
			c.logger.Debug("Fetched page", "endpoint", path, "cursor", params.Cursor, "items", len(envelope.Data))
		}

		next := envelope.Pagination.Cursor
		return &PageResult[T]{
			Items:      envelope.Data,
			NextCursor: next,
			HasMore:    next != "",
			TotalCount: envelope.Pagination.Count,
		}, nil
	}
}

// ListContacts iterates the contacts of a list (offset-paged).
func (c *Client) ListContacts(listID int64, opts ...PaginatorOption) *Paginator[Contact] {
	path := fmt.Sprintf("/lists/%d/contacts", listID)
	return NewPaginator(StrategyOffset, fetchOffsetPage[Contact](c, path), opts...)
}

// ListCampaigns iterates all campaigns (cursor-paged).
func (c *Client) ListCampaigns(opts ...PaginatorOption) *Paginator[Campaign] {
	return NewPaginator(StrategyCursor, fetchCursorPage[Campaign](c, "/campaigns"), opts...)
}

// GetCampaign fetches a single campaign.
func (c *Client) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	var envelope objectEnvelope[Campaign]
	if err := c.ExecuteInto(ctx, http.MethodGet, fmt.Sprintf("/campaigns/%d", id), nil, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

// CreateContact adds a contact to a list.
func (c *Client) CreateContact(ctx context.Context, listID int64, contact *Contact) (*Contact, error) {
	var envelope objectEnvelope[Contact]
	path := fmt.Sprintf("/lists/%d/contacts", listID)
	if err := c.ExecuteInto(ctx, http.MethodPost, path, contact, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

// DeleteCampaign deletes a campaign. The API responds with no body; success
// is reported through the normalized Result.
func (c *Client) DeleteCampaign(ctx context.Context, id int64) error {
	_, err := c.Execute(ctx, http.MethodDelete, fmt.Sprintf("/campaigns/%d", id), nil)
	return err
}
