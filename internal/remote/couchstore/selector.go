package couchstore

import (
	"github.com/imdevinc/recipe-mirror/internal/remote"
)

var mangoOps = map[remote.Op]string{
	remote.OpEq:  "$eq",
	remote.OpNe:  "$ne",
	remote.OpLt:  "$lt",
	remote.OpLte: "$lte",
	remote.OpGt:  "$gt",
	remote.OpGte: "$gte",
}

// Selector converts filters to a Mango selector. Several filters on one
// field are combined under that field.
func Selector(filters []remote.Filter) map[string]any {
	sel := make(map[string]any, len(filters))
	for _, f := range filters {
		cond, ok := sel[f.Field].(map[string]any)
		if !ok {
			cond = make(map[string]any)
			sel[f.Field] = cond
		}
		cond[mangoOps[f.Op]] = f.Value
	}
	return sel
}
