package api

import (
	"net/url"
	"strconv"

	"github.com/jmcleod/panelgate/proxy"
)

// An account holds at most one config per panel type, so pages are small.
const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"totalCount"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"hasMore"`
}

type pageRequest struct {
	limit  int
	offset int
}

// parsePage reads "limit" and "offset". Malformed or negative values are
// rejected; a limit above maxPageLimit is capped.
func parsePage(q url.Values) (pageRequest, error) {
	p := pageRequest{limit: defaultPageLimit}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return pageRequest{}, &proxy.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		p.limit = min(n, maxPageLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return pageRequest{}, &proxy.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
		p.offset = n
	}
	return p, nil
}

// paginate returns the page of items selected by p. An offset past the end
// yields an empty, non-nil page.
func paginate[T any](items []T, p pageRequest) ([]T, PaginationMeta) {
	start := min(p.offset, len(items))
	end := min(start+p.limit, len(items))
	return items[start:end], PaginationMeta{
		TotalCount: len(items),
		Limit:      p.limit,
		Offset:     p.offset,
		HasMore:    end < len(items),
	}
}
