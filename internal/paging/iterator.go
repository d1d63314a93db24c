package paging

import (
	"context"
	"errors"

	"github.com/vietddude/relay/internal/diag"
	"github.com/vietddude/relay/internal/metrics"
	"github.com/vietddude/relay/internal/retry"
)

// ErrDone signals normal exhaustion of an Iterator.
var ErrDone = errors.New("no more resources")

// Iterator is the lazy pull surface: one resource per Next call, pages
// fetched on demand. Not safe for concurrent use.
type Iterator struct {
	d     *Descriptor
	call  UnaryCall
	next  map[string]any
	cache []any

	empties int
	done    bool
}

// Iterate returns an Iterator over the resources of a page-token RPC.
// AutoPaginate does not apply here; setting it draws a one-time warning.
func (d *Descriptor) Iterate(call UnaryCall, req map[string]any, s retry.CallSettings) *Iterator {
	if s.AutoPaginate {
		diag.Warn(KindAutopaginateTrue,
			"autoPaginate is ignored on iterator and stream surfaces")
	}
	return &Iterator{
		d:    d,
		call: call,
		next: d.initialRequest(req, s),
	}
}

// Next returns the next resource, fetching pages as the buffer drains.
// Returns ErrDone on exhaustion, including after more than maxEmptyPages
// consecutive empty pages.
func (it *Iterator) Next(ctx context.Context) (any, error) {
	for {
		if len(it.cache) > 0 {
			r := it.cache[0]
			it.cache = it.cache[1:]
			metrics.PageResourcesTotal.WithLabelValues(it.d.ResourceField).Inc()
			return r, nil
		}
		if it.done || it.next == nil {
			it.done = true
			return nil, ErrDone
		}

		resp, err := it.call(ctx, it.next)
		if err != nil {
			return nil, err
		}
		metrics.PagesFetchedTotal.WithLabelValues(it.d.ResourceField).Inc()

		resources, next := it.d.parse(it.next, resp)
		it.next = next

		if len(resources) == 0 {
			it.empties++
			if it.empties > maxEmptyPages {
				it.done = true
				return nil, ErrDone
			}
			continue
		}
		it.empties = 0
		it.cache = resources
	}
}
