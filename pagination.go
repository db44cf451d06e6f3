package cakemail

import (
	"context"
)

// PaginationStrategy selects how a collection endpoint is walked.
type PaginationStrategy int

const (
	// StrategyOffset pages with numeric page/per_page parameters. Iteration
	// ends when a page comes back shorter than per_page; no has_more signal
	// is required from the backend.
	StrategyOffset PaginationStrategy = iota
	// StrategyCursor pages with an opaque continuation token. Iteration ends
	// when the backend returns no next cursor.
	StrategyCursor
)

// PageParams are the request parameters for one page fetch. Offset-paged
// resources read Page and PerPage; cursor-paged resources read Cursor and
// PerPage.
type PageParams struct {
	Page    int
	PerPage int
	Cursor  string
}

// PageResult is what a FetchFunc returns for one page. For cursor-paged
// resources, NextCursor carries the continuation token and HasMore must be
// set when one exists; offset-paged resources may leave both zero.
// TotalCount is optional (zero when the backend does not report it).
type PageResult[T any] struct {
	Items      []T
	HasMore    bool
	NextCursor string
	TotalCount int
}

// FetchFunc fetches one page of a resource. Implementations usually close
// over a Client and translate params into query parameters.
type FetchFunc[T any] func(ctx context.Context, params PageParams) (*PageResult[T], error)

// Page is a normalized fetched page.
type Page[T any] struct {
	Items      []T
	HasMore    bool
	TotalCount int
	// Next holds the parameters the following fetch will use, or nil when
	// iteration has terminated.
	Next *PageParams
}

// PaginatorOption configures a Paginator at construction.
type PaginatorOption func(*paginatorSettings)

type paginatorSettings struct {
	perPage     int
	startPage   int
	startCursor string
	onPageError func(error)
}

// WithPerPage sets the page size (default 50).
func WithPerPage(n int) PaginatorOption {
	return func(s *paginatorSettings) {
		if n > 0 {
			s.perPage = n
		}
	}
}

// WithStartPage sets the first page number for offset iteration (default 1).
func WithStartPage(page int) PaginatorOption {
	return func(s *paginatorSettings) {
		if page > 0 {
			s.startPage = page
		}
	}
}

// WithStartCursor resumes cursor iteration from a previously observed token.
func WithStartCursor(cursor string) PaginatorOption {
	return func(s *paginatorSettings) {
		s.startCursor = cursor
	}
}

// WithOnPageError installs an observer invoked with every page-fetch error.
// The error is still returned from the failing call; the hook is for
// diagnostics.
func WithOnPageError(fn func(error)) PaginatorOption {
	return func(s *paginatorSettings) {
		s.onPageError = fn
	}
}

// Paginator turns a paged resource into a lazy sequence of items or pages.
// Pages are fetched strictly one at a time, only as consumed, so abandoning
// a paginator simply stops further fetches. A failed fetch does not advance
// the cursor: retrying the same call re-fetches the same page. Not safe for
// concurrent use; each goroutine should create its own.
type Paginator[T any] struct {
	strategy PaginationStrategy
	fetch    FetchFunc[T]
	settings paginatorSettings

	params PageParams
	done   bool
	buf    []T
	total  int
	pages  int
}

// NewPaginator creates a paginator over fetch using the given strategy.
func NewPaginator[T any](strategy PaginationStrategy, fetch FetchFunc[T], opts ...PaginatorOption) *Paginator[T] {
	settings := paginatorSettings{perPage: 50, startPage: 1}
	for _, opt := range opts {
		opt(&settings)
	}

	p := &Paginator[T]{
		strategy: strategy,
		fetch:    fetch,
		settings: settings,
	}
	p.Reset()
	return p
}

// Reset restarts iteration from the beginning (or the configured start
// cursor/page), discarding buffered items.
func (p *Paginator[T]) Reset() {
	p.done = false
	p.buf = nil
	p.total = 0
	p.pages = 0
	switch p.strategy {
	case StrategyOffset:
		p.params = PageParams{Page: p.settings.startPage, PerPage: p.settings.perPage}
	case StrategyCursor:
		p.params = PageParams{Cursor: p.settings.startCursor, PerPage: p.settings.perPage}
	}
}

// Done reports whether iteration has terminated.
func (p *Paginator[T]) Done() bool {
	return p.done && len(p.buf) == 0
}

// PagesFetched returns how many page fetches have completed successfully.
func (p *Paginator[T]) PagesFetched() int {
	return p.pages
}

// TotalCount returns the backend-reported total, or 0 if never reported.
func (p *Paginator[T]) TotalCount() int {
	return p.total
}

// FetchPage fetches the next page and advances the cursor. Returns
// ErrPaginationDone once iteration has terminated. On fetch failure the
// cursor stays put, so the caller may call FetchPage again to retry the same
// page.
func (p *Paginator[T]) FetchPage(ctx context.Context) (*Page[T], error) {
	if p.done {
		return nil, ErrPaginationDone
	}

	res, err := p.fetch(ctx, p.params)
	if err != nil {
		if p.settings.onPageError != nil {
			p.settings.onPageError(err)
		}
		return nil, err
	}

	p.pages++
	if res.TotalCount > 0 {
		p.total = res.TotalCount
	}

	switch p.strategy {
	case StrategyOffset:
		if len(res.Items) < p.params.PerPage {
			p.done = true
		} else {
			p.params.Page++
		}
	case StrategyCursor:
		if res.NextCursor == "" || !res.HasMore {
			p.done = true
		} else {
			p.params.Cursor = res.NextCursor
		}
	}

	page := &Page[T]{
		Items:      res.Items,
		HasMore:    !p.done,
		TotalCount: p.total,
	}
	if !p.done {
		next := p.params
		page.Next = &next
	}
	return page, nil
}

// Next returns the next individual item, fetching pages lazily as needed.
// The second return is false once the sequence is exhausted.
func (p *Paginator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for len(p.buf) == 0 {
		if p.done {
			return zero, false, nil
		}
		page, err := p.FetchPage(ctx)
		if err != nil {
			return zero, false, err
		}
		p.buf = append(p.buf, page.Items...)
	}

	item := p.buf[0]
	p.buf = p.buf[1:]
	return item, true, nil
}

// NextPage returns the next whole page of items, for callers that process in
// page-sized batches. The second return is false once exhausted. Do not mix
// NextPage with Next on the same paginator: Next buffers items that NextPage
// would skip.
func (p *Paginator[T]) NextPage(ctx context.Context) ([]T, bool, error) {
	if p.done {
		return nil, false, nil
	}
	page, err := p.FetchPage(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(page.Items) == 0 && p.done {
		return nil, false, nil
	}
	return page.Items, true, nil
}

// Collect exhausts the paginator and returns all remaining items in arrival
// order.
func (p *Paginator[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	items = append(items, p.buf...)
	p.buf = nil
	for !p.done {
		page, err := p.FetchPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}
