// Package paging turns page-token RPCs into restartable sequences: an
// eager list, a pull iterator, and an event-driven stream. Requests and
// responses are JSON-style documents addressed by dotted field paths.
package paging

import (
	"context"

	"github.com/vietddude/relay/internal/metrics"
	"github.com/vietddude/relay/internal/retry"
)

// KindAutopaginateTrue is warned when the iterator or stream surfaces are
// invoked with AutoPaginate set; the flag only applies to the eager list.
const KindAutopaginateTrue = "AutopaginateTrueWarning"

// maxEmptyPages is the tolerance for successive pages carrying a next
// token but no resources before iteration stops polling.
const maxEmptyPages = 10

// UnaryCall issues one page-sized request.
type UnaryCall func(ctx context.Context, req map[string]any) (map[string]any, error)

// Descriptor names the three field paths of a page-token RPC. Constructed
// once per method and shared across calls; immutable.
type Descriptor struct {
	RequestPageTokenField  string
	ResponsePageTokenField string
	ResourceField          string
}

// initialRequest builds the first page request from the caller's document
// and settings. The caller's maps are never mutated, which also means an
// initial page token cannot leak into later requests.
func (d *Descriptor) initialRequest(req map[string]any, s retry.CallSettings) map[string]any {
	out := cloneDoc(req)
	if s.PageToken != "" {
		SetField(out, d.RequestPageTokenField, s.PageToken)
	}
	return out
}

// parse extracts the resources of one response and derives the request for
// the following page; next is nil when the token is exhausted. A map-shaped
// resource field yields one [key, value] pair per entry.
func (d *Descriptor) parse(req, resp map[string]any) (resources []any, next map[string]any) {
	raw, _ := GetField(resp, d.ResourceField)
	switch v := raw.(type) {
	case []any:
		resources = v
	case map[string]any:
		resources = make([]any, 0, len(v))
		for k, val := range v {
			resources = append(resources, []any{k, val})
		}
	}

	token, ok := GetField(resp, d.ResponsePageTokenField)
	if !ok || token == nil || token == "" {
		return resources, nil
	}
	next = cloneDoc(req)
	SetField(next, d.RequestPageTokenField, token)
	return resources, next
}

// List eagerly fetches every page and returns the flat resource list,
// bounded by MaxResults when set.
func (d *Descriptor) List(ctx context.Context, call UnaryCall, req map[string]any, s retry.CallSettings) ([]any, error) {
	var out []any
	cur := d.initialRequest(req, s)
	empties := 0

	for cur != nil {
		resp, err := call(ctx, cur)
		if err != nil {
			return nil, err
		}
		metrics.PagesFetchedTotal.WithLabelValues(d.ResourceField).Inc()

		resources, next := d.parse(cur, resp)
		if len(resources) == 0 {
			empties++
			if empties > maxEmptyPages {
				break
			}
		} else {
			empties = 0
		}

		for _, r := range resources {
			if r == nil {
				continue
			}
			out = append(out, r)
			if s.MaxResults > 0 && len(out) >= s.MaxResults {
				return out, nil
			}
		}
		cur = next
	}
	return out, nil
}
