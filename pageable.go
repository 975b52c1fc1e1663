package hal

import (
	"context"

	"github.com/knaydenov/hal/query"
)

// Navigation relations of a page resource.
const (
	RelFirst    = "first"
	RelPrevious = "previous"
	RelNext     = "next"
	RelLast     = "last"
)

// Pageable is a Collection with page, limit and sort options and navigation
// along the first, previous, next and last links.
type Pageable[T Handle] struct {
	*Collection[T]
}

// NewPageable creates a page handle for alias.
func NewPageable[T Handle](h *Hal, alias string) *Pageable[T] {
	return &Pageable[T]{Collection: newCollection[T](h, alias, query.Paged)}
}

// SetItemConstructor registers how item handles are built.
func (p *Pageable[T]) SetItemConstructor(ctor Constructor[T]) *Pageable[T] {
	p.Collection.SetItemConstructor(ctor)
	return p
}

// Page returns the current page number.
func (p *Pageable[T]) Page() int { return p.Options().Page }

// SetPage records a page change in the change-set.
func (p *Pageable[T]) SetPage(page int) { p.Set(query.KeyPage, page) }

// Limit returns the current page size.
func (p *Pageable[T]) Limit() int { return p.Options().Limit }

// SetLimit records a page size change in the change-set.
func (p *Pageable[T]) SetLimit(limit int) { p.Set(query.KeyLimit, limit) }

// Sort returns the current sort order.
func (p *Pageable[T]) Sort() []query.Sort { return p.Options().Sort }

// SetSort records a sort change in the change-set.
func (p *Pageable[T]) SetSort(sort []query.Sort) {
	p.Set(query.KeySort, append([]query.Sort{}, sort...))
}

// Pages returns the page count reported by the payload.
func (p *Pageable[T]) Pages() int {
	n, _ := toInt(p.Get("pages", 0))
	return n
}

// Total returns the item count reported by the payload.
func (p *Pageable[T]) Total() int {
	n, _ := toInt(p.Get("total", 0))
	return n
}

// NavigateFirst loads the first page.
func (p *Pageable[T]) NavigateFirst(ctx context.Context) (Payload, error) {
	return p.navigate(ctx, RelFirst)
}

// NavigatePrevious loads the previous page.
func (p *Pageable[T]) NavigatePrevious(ctx context.Context) (Payload, error) {
	return p.navigate(ctx, RelPrevious)
}

// NavigateNext loads the next page.
func (p *Pageable[T]) NavigateNext(ctx context.Context) (Payload, error) {
	return p.navigate(ctx, RelNext)
}

// NavigateLast loads the last page.
func (p *Pageable[T]) NavigateLast(ctx context.Context) (Payload, error) {
	return p.navigate(ctx, RelLast)
}

func (p *Pageable[T]) navigate(ctx context.Context, rel string) (Payload, error) {
	url, err := p.Link(rel)
	if err != nil {
		return nil, err
	}
	return p.load(ctx, url)
}

// IsFirst reports whether the current page is the first one.
func (p *Pageable[T]) IsFirst() bool {
	return p.sameLink(RelFirst)
}

// IsLast reports whether the current page is the last one.
func (p *Pageable[T]) IsLast() bool {
	return p.sameLink(RelLast)
}

// HasNext reports whether a next page exists.
func (p *Pageable[T]) HasNext() bool {
	return p.HasLink(RelNext)
}

// HasPrevious reports whether a previous page exists.
func (p *Pageable[T]) HasPrevious() bool {
	return p.HasLink(RelPrevious)
}

func (p *Pageable[T]) sameLink(rel string) bool {
	self, err := p.Link(RelSelf)
	if err != nil {
		return false
	}
	other, err := p.Link(rel)
	return err == nil && self == other
}
