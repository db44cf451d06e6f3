package cakemail

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// offsetFetcher simulates an offset-paged backend holding total items.
func offsetFetcher(total int, calls *int) FetchFunc[int] {
	return func(ctx context.Context, params PageParams) (*PageResult[int], error) {
		*calls++
		start := (params.Page - 1) * params.PerPage
		end := start + params.PerPage
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		items := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			items = append(items, i)
		}
		return &PageResult[int]{Items: items, TotalCount: total}, nil
	}
}

func TestOffsetPaginationCollect(t *testing.T) {
	calls := 0
	p := NewPaginator(StrategyOffset, offsetFetcher(125, &calls), WithPerPage(50))

	items, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 125 {
		t.Fatalf("Expected 125 items, got %d", len(items))
	}
	for i, v := range items {
		if v != i {
			t.Fatalf("Expected items in order, items[%d] = %d", i, v)
		}
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 page fetches (50, 50, 25), got %d", calls)
	}
	if p.TotalCount() != 125 {
		t.Errorf("Expected total count 125, got %d", p.TotalCount())
	}
	if !p.Done() {
		t.Error("Expected paginator done after Collect")
	}
}

func TestOffsetPaginationExactMultipleFetchesEmptyFinalPage(t *testing.T) {
	calls := 0
	p := NewPaginator(StrategyOffset, offsetFetcher(100, &calls), WithPerPage(50))

	items, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 100 {
		t.Fatalf("Expected 100 items, got %d", len(items))
	}
	// Two full pages give no short-page signal; a third, empty fetch ends it.
	if calls != 3 {
		t.Errorf("Expected 3 fetches for an exact multiple, got %d", calls)
	}
}

func TestCursorPaginationTerminatesOnEmptyCursor(t *testing.T) {
	pages := map[string]*PageResult[string]{
		"":   {Items: []string{"a", "b"}, NextCursor: "c1", HasMore: true},
		"c1": {Items: []string{"c", "d"}, NextCursor: "c2", HasMore: true},
		"c2": {Items: []string{"e"}, NextCursor: "", HasMore: false},
	}
	calls := 0
	fetch := func(ctx context.Context, params PageParams) (*PageResult[string], error) {
		calls++
		res, ok := pages[params.Cursor]
		if !ok {
			t.Fatalf("Unexpected cursor %q", params.Cursor)
		}
		return res, nil
	}

	p := NewPaginator(StrategyCursor, fetch, WithPerPage(2))
	items, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got := len(items); got != 5 {
		t.Fatalf("Expected 5 items, got %d", got)
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 fetches, got %d", calls)
	}
	if items[0] != "a" || items[4] != "e" {
		t.Errorf("Expected ordered items, got %v", items)
	}
}

func TestPaginationLazyFetching(t *testing.T) {
	calls := 0
	p := NewPaginator(StrategyOffset, offsetFetcher(150, &calls), WithPerPage(50))

	// Consuming items within the first page must not trigger a second fetch.
	for i := 0; i < 50; i++ {
		if _, ok, err := p.Next(context.Background()); err != nil || !ok {
			t.Fatalf("Next() = (_, %v, %v) at item %d", ok, err, i)
		}
	}
	if calls != 1 {
		t.Fatalf("Expected 1 fetch after consuming one page, got %d", calls)
	}

	if _, ok, err := p.Next(context.Background()); err != nil || !ok {
		t.Fatalf("Next() across page boundary = (_, %v, %v)", ok, err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 fetches after crossing the boundary, got %d", calls)
	}
}

func TestPaginationFailedFetchDoesNotAdvance(t *testing.T) {
	fail := true
	calls := 0
	fetch := func(ctx context.Context, params PageParams) (*PageResult[int], error) {
		calls++
		if params.Page == 2 && fail {
			fail = false
			return nil, errors.New("transient failure")
		}
		if params.Page >= 3 {
			return &PageResult[int]{}, nil
		}
		items := make([]int, params.PerPage)
		for i := range items {
			items[i] = (params.Page-1)*params.PerPage + i
		}
		return &PageResult[int]{Items: items}, nil
	}

	p := NewPaginator(StrategyOffset, fetch, WithPerPage(10))

	if _, err := p.FetchPage(context.Background()); err != nil {
		t.Fatalf("First FetchPage() error = %v", err)
	}
	if _, err := p.FetchPage(context.Background()); err == nil {
		t.Fatal("Expected second FetchPage to fail")
	}

	// The retry must hit page 2 again, not page 3.
	page, err := p.FetchPage(context.Background())
	if err != nil {
		t.Fatalf("Retried FetchPage() error = %v", err)
	}
	if page.Items[0] != 10 {
		t.Errorf("Expected retry to re-fetch page 2 (first item 10), got %d", page.Items[0])
	}
	if p.PagesFetched() != 2 {
		t.Errorf("Expected 2 successful fetches, got %d", p.PagesFetched())
	}
}

func TestPaginationOnPageErrorHook(t *testing.T) {
	var observed error
	fetch := func(ctx context.Context, params PageParams) (*PageResult[int], error) {
		return nil, errors.New("boom")
	}

	p := NewPaginator(StrategyOffset, fetch, WithOnPageError(func(err error) { observed = err }))
	_, err := p.FetchPage(context.Background())
	if err == nil {
		t.Fatal("Expected fetch error")
	}
	if observed == nil || observed.Error() != "boom" {
		t.Errorf("Expected hook to observe the error, got %v", observed)
	}
}

func TestPaginationFetchPageAfterDone(t *testing.T) {
	calls := 0
	p := NewPaginator(StrategyOffset, offsetFetcher(5, &calls), WithPerPage(10))

	if _, err := p.FetchPage(context.Background()); err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if !p.Done() {
		t.Fatal("Expected done after short page")
	}
	if _, err := p.FetchPage(context.Background()); err != ErrPaginationDone {
		t.Errorf("Expected ErrPaginationDone, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected no fetch after done, got %d calls", calls)
	}
}

func TestPaginationReset(t *testing.T) {
	calls := 0
	p := NewPaginator(StrategyOffset, offsetFetcher(30, &calls), WithPerPage(20))

	first, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	p.Reset()
	if p.Done() {
		t.Fatal("Expected not done after Reset")
	}
	second, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() after Reset error = %v", err)
	}
	if len(first) != len(second) {
		t.Errorf("Expected identical runs, got %d then %d items", len(first), len(second))
	}
	if p.PagesFetched() != 2 {
		t.Errorf("Expected 2 fetches in second run, got %d", p.PagesFetched())
	}
}

func TestPaginationNextPageBatches(t *testing.T) {
	calls := 0
	p := NewPaginator(StrategyOffset, offsetFetcher(45, &calls), WithPerPage(20))

	var sizes []int
	for {
		batch, ok, err := p.NextPage(context.Background())
		if err != nil {
			t.Fatalf("NextPage() error = %v", err)
		}
		if !ok {
			break
		}
		sizes = append(sizes, len(batch))
	}

	want := fmt.Sprint([]int{20, 20, 5})
	if got := fmt.Sprint(sizes); got != want {
		t.Errorf("Expected batches %s, got %s", want, got)
	}
}

func TestPaginationStartCursor(t *testing.T) {
	var seen []string
	fetch := func(ctx context.Context, params PageParams) (*PageResult[string], error) {
		seen = append(seen, params.Cursor)
		return &PageResult[string]{Items: []string{"x"}}, nil
	}

	p := NewPaginator(StrategyCursor, fetch, WithStartCursor("resume-here"))
	if _, err := p.FetchPage(context.Background()); err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(seen) != 1 || seen[0] != "resume-here" {
		t.Errorf("Expected first fetch at start cursor, got %v", seen)
	}
}
