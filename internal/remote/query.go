package remote

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Filter compares one document field against a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Validate rejects unknown operators and a missing collection.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query: collection is required")
	}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		default:
			return fmt.Errorf("query: unknown operator %q on %s", f.Op, f.Field)
		}
	}
	return nil
}

// Matches reports whether doc satisfies every filter. A filter on a missing
// field only matches with OpNe.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		v, ok := doc.Fields[f.Field]
		if !ok {
			if f.Op != OpNe {
				return false
			}
			continue
		}
		c, comparable := compareValues(v, f.Value)
		switch f.Op {
		case OpEq:
			if !comparable || c != 0 {
				return false
			}
		case OpNe:
			if comparable && c == 0 {
				return false
			}
		case OpLt:
			if !comparable || c >= 0 {
				return false
			}
		case OpLte:
			if !comparable || c > 0 {
				return false
			}
		case OpGt:
			if !comparable || c <= 0 {
				return false
			}
		case OpGte:
			if !comparable || c < 0 {
				return false
			}
		}
	}
	return true
}

// Sort orders docs by OrderBy, then by ID. Documents missing the field sort
// last regardless of direction.
func (q Query) Sort(docs []Document) {
	slices.SortStableFunc(docs, func(a, b Document) int {
		if q.OrderBy != "" {
			av, aok := a.Fields[q.OrderBy]
			bv, bok := b.Fields[q.OrderBy]
			switch {
			case aok && !bok:
				return -1
			case !aok && bok:
				return 1
			case aok && bok:
				if c, ok := compareValues(av, bv); ok && c != 0 {
					if q.Descending {
						return -c
					}
					return c
				}
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Apply filters, sorts and limits docs into a new slice.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	q.Sort(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// compareValues orders two JSON-ish values of the same kind. Numbers compare
// numerically across Go numeric types.
func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return cmp.Compare(af, bf), true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
