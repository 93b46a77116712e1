// Package query implements the generic filter/sort/paginate engine
// shared by every facet's read path.
//
// A facet describes its record shape once with a Table descriptor
// (timestamp accessor, filterable fields, text field, extra sort keys)
// and then delegates every read to Run. The engine guarantees:
//
//   - filters apply as a conjunction over the full record set; an empty
//     filter matches everything
//   - TotalCount is computed before pagination, so it is identical for
//     every page of the same filter
//   - sorting is stable, tie-broken by insertion order, so re-running
//     the same query without mutation returns the identical sequence
//   - an offset past the end yields an empty page with the correct
//     TotalCount
//
// Pagination policy, uniform across all facets: an absent limit (nil)
// means unlimited; an explicit limit of 0 means zero records. Facets
// must not deviate from this silently.
package query

import (
	"sort"
	"strings"
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
)

// KeyTimestamp is the sort key every table supports implicitly through
// its Timestamp accessor. It is also the default sort key.
const KeyTimestamp = "timestamp"

// Order is the sort direction.
type Order string

const (
	// Asc sorts oldest/smallest first.
	Asc Order = "asc"
	// Desc sorts newest/largest first. Default.
	Desc Order = "desc"
)

// Predicate is a filter condition evaluated against one record.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern enables exhaustive type switches in the
// evaluator and keeps the supported filter surface explicit.
type Predicate interface {
	predicateNode()
}

// Equals matches records whose named field equals Value exactly.
// The field must be declared in the table's Fields map.
type Equals struct {
	Field string
	Value string
}

func (Equals) predicateNode() {}

// Contains matches records whose designated text field contains Value,
// case-insensitively. The table must declare a Text accessor.
type Contains struct {
	Value string
}

func (Contains) predicateNode() {}

// Since matches records whose timestamp is at or after T (inclusive).
type Since struct {
	T time.Time
}

func (Since) predicateNode() {}

// Before matches records whose timestamp is strictly before T.
// Since + Before together express the half-open window [since, before).
type Before struct {
	T time.Time
}

func (Before) predicateNode() {}

// Sort selects the sort key and direction. The zero value means
// timestamp descending.
type Sort struct {
	Key   string
	Order Order
}

// Page selects the slice of the sorted result to return.
//
// Limit semantics: nil = unlimited, 0 = zero records, n > 0 = at most n
// records. Offset must be non-negative; an offset past the filtered set
// yields an empty page.
type Page struct {
	Offset int
	Limit  *int
}

// Limited is a convenience constructor for an explicit limit.
func Limited(offset, limit int) Page {
	return Page{Offset: offset, Limit: &limit}
}

// Spec is a complete query: conjunctive filters, sort, and pagination.
// The zero value matches everything, sorted timestamp-descending,
// unlimited.
type Spec struct {
	Filter []Predicate
	Sort   Sort
	Page   Page
}

// Table describes one facet's record shape to the engine.
type Table[T any] struct {
	// Timestamp extracts the instant queries filter and sort on.
	// Required.
	Timestamp func(T) time.Time

	// Fields maps equals-filterable field names to accessors.
	Fields map[string]func(T) string

	// Text extracts the designated text field for Contains filters.
	// Nil means the facet does not support text search.
	Text func(T) string

	// SortKeys maps additional sort key names to comparison functions
	// returning <0, 0, >0. KeyTimestamp is always available and need
	// not be listed.
	SortKeys map[string]func(a, b T) int
}

// Result is one page of a query plus exact counts.
type Result[T any] struct {
	// Records is the page slice in sorted order.
	Records []T
	// Count is len(Records).
	Count int
	// TotalCount is the size of the filtered set before pagination.
	TotalCount int
}

// Run executes spec against records and returns the matching page.
//
// Read-only: records is never mutated; the returned slice is freshly
// allocated. Fails with InvalidArgument on an unknown sort key, an
// unknown filter field, a Contains filter on a table without a text
// field, a negative offset, or a negative limit.
func Run[T any](records []T, tbl Table[T], spec Spec) (Result[T], error) {
	if err := validate(tbl, spec); err != nil {
		return Result[T]{}, err
	}

	// Filter, remembering insertion order for the stability tiebreak.
	type indexed struct {
		rec T
		idx int
	}
	filtered := make([]indexed, 0, len(records))
	for i, rec := range records {
		if matchAll(rec, tbl, spec.Filter) {
			filtered = append(filtered, indexed{rec: rec, idx: i})
		}
	}
	total := len(filtered)

	cmp := compareFunc(tbl, spec.Sort)
	sort.SliceStable(filtered, func(i, j int) bool {
		return cmp(filtered[i].rec, filtered[j].rec) < 0
	})

	// Slice [offset : offset+limit].
	start := spec.Page.Offset
	if start > total {
		start = total
	}
	end := total
	if spec.Page.Limit != nil && start+*spec.Page.Limit < end {
		end = start + *spec.Page.Limit
	}

	page := make([]T, 0, end-start)
	for _, item := range filtered[start:end] {
		page = append(page, item.rec)
	}

	return Result[T]{Records: page, Count: len(page), TotalCount: total}, nil
}

func validate[T any](tbl Table[T], spec Spec) error {
	if spec.Page.Offset < 0 {
		return fault.InvalidArgumentf("offset must be non-negative, got %d", spec.Page.Offset)
	}
	if spec.Page.Limit != nil && *spec.Page.Limit < 0 {
		return fault.InvalidArgumentf("limit must be non-negative, got %d", *spec.Page.Limit)
	}
	if key := spec.Sort.Key; key != "" && key != KeyTimestamp {
		if _, ok := tbl.SortKeys[key]; !ok {
			return fault.InvalidArgumentf("unsupported sort key %q", key)
		}
	}
	switch spec.Sort.Order {
	case "", Asc, Desc:
	default:
		return fault.InvalidArgumentf("unsupported sort order %q", spec.Sort.Order)
	}
	for _, p := range spec.Filter {
		switch pred := p.(type) {
		case Equals:
			if _, ok := tbl.Fields[pred.Field]; !ok {
				return fault.InvalidArgumentf("unsupported filter field %q", pred.Field)
			}
		case Contains:
			if tbl.Text == nil {
				return fault.InvalidArgumentf("text search is not supported by this facet")
			}
		case Since, Before:
		default:
			return fault.InvalidArgumentf("unsupported predicate %T", p)
		}
	}
	return nil
}

// matchAll evaluates the conjunction of predicates against one record.
func matchAll[T any](rec T, tbl Table[T], preds []Predicate) bool {
	for _, p := range preds {
		if !match(rec, tbl, p) {
			return false
		}
	}
	return true
}

func match[T any](rec T, tbl Table[T], p Predicate) bool {
	switch pred := p.(type) {
	case Equals:
		return tbl.Fields[pred.Field](rec) == pred.Value
	case Contains:
		return strings.Contains(
			strings.ToLower(tbl.Text(rec)),
			strings.ToLower(pred.Value),
		)
	case Since:
		return !tbl.Timestamp(rec).Before(pred.T)
	case Before:
		return tbl.Timestamp(rec).Before(pred.T)
	default:
		// Unreachable: validate rejects unknown predicates.
		return false
	}
}

// compareFunc builds the effective comparison for the requested sort.
// Equal elements keep insertion order via sort.SliceStable.
func compareFunc[T any](tbl Table[T], s Sort) func(a, b T) int {
	key := s.Key
	if key == "" {
		key = KeyTimestamp
	}
	order := s.Order
	if order == "" {
		order = Desc
	}

	var base func(a, b T) int
	if key == KeyTimestamp {
		base = func(a, b T) int {
			return tbl.Timestamp(a).Compare(tbl.Timestamp(b))
		}
	} else {
		base = tbl.SortKeys[key]
	}

	if order == Desc {
		return func(a, b T) int { return -base(a, b) }
	}
	return base
}
