package wolke

import (
	"fmt"
	"strings"
)

// Aggregates accepted by OfMany.
const (
	AggregateMin = "MIN"
	AggregateMax = "MAX"
)

// OfMany restricts the relation to a single row per foreign-key group,
// chosen by aggregating the given columns in order. The first column uses
// the requested aggregate; every later column is forced to MIN so that ties
// on earlier columns break deterministically. Each column adds one
// correlated subquery joined to the previous one on its aggregated value,
// and the relation query joins the final subquery, keeping only the row(s)
// whose column equals the per-group aggregate.
//
// The aggregate must be MIN or MAX (case-insensitive); anything else is a
// ConfigError raised before any query executes. An empty column list
// aggregates the related key; an empty alias falls back to the relation
// name.
func (r *HasOne) OfMany(columns []string, aggregate string, alias string) (*HasOne, error) {
	aggregate = strings.ToUpper(aggregate)
	if aggregate != AggregateMin && aggregate != AggregateMax {
		return nil, configErrorf("of many", "%w: %q", ErrInvalidAggregate, aggregate)
	}

	if len(columns) == 0 {
		columns = []string{r.related.keyName()}
	}
	if alias == "" {
		alias = r.name
	}
	if alias == "" {
		alias = plural.Singular(r.related.Table) + "_of_many"
	}

	groupColumn := r.foreignKey
	if groupColumn == "" {
		groupColumn = r.related.keyName()
	}

	var (
		sub     *Builder
		prevCol string
	)

	for i, column := range columns {
		agg := aggregate
		if i > 0 {
			// Later columns only break ties among rows already selected
			// by the previous aggregate.
			agg = AggregateMin
		}

		next := r.newRelatedQuery().
			Select(r.qualify(groupColumn)).
			SelectRaw(fmt.Sprintf("%s(%s) AS %s_aggregate", agg, r.qualify(column), column)).
			GroupBy(r.qualify(groupColumn))

		if sub != nil {
			next.JoinSub(sub, alias,
				JoinOn{Lhs: alias + "." + prevCol + "_aggregate", Op: "=", Rhs: r.qualify(prevCol)},
				JoinOn{Lhs: alias + "." + groupColumn, Op: "=", Rhs: r.qualify(groupColumn)},
			)
		}

		sub = next
		prevCol = column
	}

	r.ofManySubQuery = sub

	if len(r.query.selected) == 0 {
		r.query.Select(r.related.Table + ".*")
	}
	r.query.JoinSub(sub, alias,
		JoinOn{Lhs: alias + "." + prevCol + "_aggregate", Op: "=", Rhs: r.qualify(prevCol)},
		JoinOn{Lhs: alias + "." + groupColumn, Op: "=", Rhs: r.qualify(groupColumn)},
	)

	return r, nil
}

// LatestOfMany restricts the relation to the newest row per group: every
// given column aggregates with MAX. With no columns the related key is used.
func (r *HasOne) LatestOfMany(columns ...string) (*HasOne, error) {
	return r.OfMany(columns, AggregateMax, "")
}

// OldestOfMany restricts the relation to the oldest row per group: every
// given column aggregates with MIN. With no columns the related key is used.
func (r *HasOne) OldestOfMany(columns ...string) (*HasOne, error) {
	return r.OfMany(columns, AggregateMin, "")
}

// OneOfManySubQuery exposes the innermost aggregate subquery for inspection.
// It returns nil when OfMany was never invoked.
func (r *HasOne) OneOfManySubQuery() *Builder {
	return r.ofManySubQuery
}
