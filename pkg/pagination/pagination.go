package pagination

import (
	"fmt"
	"strconv"
)

// Params represents pagination query parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Page is a paginated response. HasMore reports whether a further page
// exists without counting the whole collection.
type Page[T any] struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
	Data    []T  `json:"data"`
}

// Constants
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// ParseParams parses page and limit from the query string. Out of range
// values are clamped; non-numeric values are an error.
func ParseParams(pageStr, limitStr string) (*Params, error) {
	page := DefaultPage
	limit := DefaultLimit

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p > 1 {
			page = p
		}
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < MinLimit:
			limit = MinLimit
		case l > MaxLimit:
			limit = MaxLimit
		default:
			limit = l
		}
	}

	return &Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, nil
}

// BuildPage trims items fetched with a limit of p.Limit+1 to one page
func BuildPage[T any](p *Params, items []T) *Page[T] {
	hasMore := len(items) > p.Limit
	if hasMore {
		items = items[:p.Limit]
	}
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Page:    p.Page,
		Limit:   p.Limit,
		HasMore: hasMore,
		Data:    items,
	}
}
