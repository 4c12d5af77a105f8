package engine

import (
	"strconv"
	"strings"
	"sync"

	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/errors"
	"github.com/resttap/resttap/pkg/jsonpath"
)

// Paginator decides whether a response implies another page and, if so,
// what request mutation produces it. Next returns nil when pagination is
// exhausted. A paginator instance belongs to a single stream's fetch cycle
// and may keep state between pages (e.g. a running offset).
type Paginator interface {
	Next(page *PageContext) (*RequestOverride, error)
}

// initializer is implemented by paginators that contribute parameters to
// the first request of a cycle, such as an explicit page size.
type initializer interface {
	Initial() *RequestOverride
}

// PaginatorFactory builds a fresh paginator for one stream's fetch cycle.
type PaginatorFactory func(conn *config.ConnectorConfig) (Paginator, error)

var (
	paginatorsMu sync.RWMutex
	paginators   = make(map[string]PaginatorFactory)
)

// RegisterPaginator registers a pagination style by name. Styles ship
// registered; the registry exists so embedders can add their own.
func RegisterPaginator(style string, factory PaginatorFactory) error {
	paginatorsMu.Lock()
	defer paginatorsMu.Unlock()
	if _, exists := paginators[style]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "pagination style %s already registered", style)
	}
	paginators[style] = factory
	return nil
}

// NewPaginator instantiates the configured pagination style.
func NewPaginator(conn *config.ConnectorConfig) (Paginator, error) {
	paginatorsMu.RLock()
	factory, ok := paginators[conn.PaginationRequestStyle]
	paginatorsMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"unknown pagination style %q", conn.PaginationRequestStyle)
	}
	return factory(conn)
}

func init() {
	_ = RegisterPaginator(config.StyleJSONPathPaginator, newJSONPathPaginator)
	_ = RegisterPaginator(config.StyleOffsetPaginator, newOffsetPaginator)
	_ = RegisterPaginator(config.StyleHeaderLink, newHeaderLinkPaginator)
}

// jsonPathPaginator follows HATEOAS-style next-page links embedded in the
// response body. The configured locator expression is evaluated against the
// decoded document; a non-empty string match is the literal next-page URL.
// Page size is ignored: the server owns the link chain.
type jsonPathPaginator struct {
	locator *jsonpath.Path
}

func newJSONPathPaginator(conn *config.ConnectorConfig) (Paginator, error) {
	locator := conn.NextPagePath()
	if locator == nil {
		p, err := jsonpath.Compile(conn.NextPageTokenPath)
		if err != nil {
			return nil, err
		}
		locator = p
	}
	return &jsonPathPaginator{locator: locator}, nil
}

func (p *jsonPathPaginator) Next(page *PageContext) (*RequestOverride, error) {
	for _, match := range p.locator.Evaluate(page.Document) {
		if url, ok := match.(string); ok && url != "" {
			return &RequestOverride{URL: url}, nil
		}
	}
	return nil, nil
}

// offsetPaginator advances an offset/limit pair. A page shorter than the
// limit means the collection is exhausted.
type offsetPaginator struct {
	offset int
	limit  int
}

func newOffsetPaginator(conn *config.ConnectorConfig) (Paginator, error) {
	return &offsetPaginator{limit: conn.PaginationPageSize}, nil
}

func (p *offsetPaginator) Initial() *RequestOverride {
	return &RequestOverride{Params: map[string]string{
		"offset": "0",
		"limit":  strconv.Itoa(p.limit),
	}}
}

func (p *offsetPaginator) Next(page *PageContext) (*RequestOverride, error) {
	if len(page.Records) < p.limit {
		return nil, nil
	}
	p.offset += p.limit
	return &RequestOverride{Params: map[string]string{
		"offset": strconv.Itoa(p.offset),
		"limit":  strconv.Itoa(p.limit),
	}}, nil
}

// headerLinkPaginator follows RFC 5988 Link response headers with
// rel="next".
type headerLinkPaginator struct{}

func newHeaderLinkPaginator(*config.ConnectorConfig) (Paginator, error) {
	return headerLinkPaginator{}, nil
}

func (headerLinkPaginator) Next(page *PageContext) (*RequestOverride, error) {
	for _, value := range page.Header.Values("Link") {
		if url := nextLink(value); url != "" {
			return &RequestOverride{URL: url}, nil
		}
	}
	return nil, nil
}

// nextLink extracts the rel="next" target from one Link header value.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
