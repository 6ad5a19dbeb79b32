package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/openfga/expander/pkg/serializer"
	serverErrors "github.com/openfga/expander/pkg/server/errors"
	"github.com/openfga/expander/pkg/storage"
)

// lastPage selects the last page of a list.
const lastPage = "last"

func (s *Server) pageSize(r *http.Request) int {
	size := s.config.ListPageSize
	if size <= 0 {
		return 0
	}

	if s.config.MaxPageSize > 0 {
		if v, err := strconv.Atoi(r.URL.Query().Get(PageSizeQueryParam)); err == nil && v > 0 {
			size = min(v, s.config.MaxPageSize)
		}
	}

	return size
}

// paginate counts the rows of q and loads the requested page of them. A page
// number that is not a positive integer or is past the last page is
// ErrInvalidPage. An empty list has one empty page.
func (s *Server) paginate(ctx context.Context, r *http.Request, q *storage.Query, size int) (*serializer.Page, error) {
	raw := r.URL.Query().Get(PageQueryParam)

	number := 1
	if raw != "" && raw != lastPage {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, serverErrors.ErrInvalidPage
		}
		number = n
	}

	count, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}

	pages := max(1, int((count+int64(size)-1)/int64(size)))
	if raw == lastPage {
		number = pages
	}
	if number > pages {
		return nil, serverErrors.ErrInvalidPage
	}

	rows, err := q.Limit(uint64(size)).Offset(uint64((number - 1) * size)).All(ctx)
	if err != nil {
		return nil, err
	}

	page := &serializer.Page{Count: count, Results: rows}
	if number < pages {
		page.Next = pageURL(r, number+1)
	}
	if number > 1 {
		page.Previous = pageURL(r, number-1)
	}

	return page, nil
}

// pageURL is the absolute URL of the request with the page replaced. The
// parameter is dropped for the first page.
func pageURL(r *http.Request, number int) string {
	u := *r.URL

	query := u.Query()
	if number == 1 {
		query.Del(PageQueryParam)
	} else {
		query.Set(PageQueryParam, strconv.Itoa(number))
	}
	u.RawQuery = query.Encode()

	return baseURL(r) + u.RequestURI()
}
