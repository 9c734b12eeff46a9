package wolke

import (
	"context"
	"sort"
	"strings"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

var plural = pluralize.NewClient()

// ForeignKeyFor derives the conventional foreign key column for a table:
// "users" becomes "user_id".
func ForeignKeyFor(table string) string {
	return strcase.ToSnake(plural.Singular(table)) + "_id"
}

// JoinTableFor derives the conventional pivot table name for two tables:
// the singular forms in alphabetical order joined by an underscore, so
// "roles" and "users" become "role_user".
func JoinTableFor(a, b string) string {
	names := []string{
		strcase.ToSnake(plural.Singular(a)),
		strcase.ToSnake(plural.Singular(b)),
	}
	sort.Strings(names)

	return strings.Join(names, "_")
}

// Relation holds what every relation needs: the connection, a reference to
// the parent (shared, not owned), the related type and the key pair. The
// relation name is always passed explicitly by the caller.
type Relation struct {
	conn       *Connection
	parent     Model
	related    TypeDescriptor
	name       string
	foreignKey string
	localKey   string
}

func (r *Relation) qualify(column string) string {
	return r.related.Table + "." + column
}

func (r *Relation) newRelatedQuery() *Builder {
	return r.conn.Builder().Table(r.related.Table)
}

// HasOne is a one-to-one relation, and the host for one-of-many planning:
// constructed over a one-to-many row set, OfMany and its wrappers restrict
// it to a single representative row per group.
type HasOne struct {
	Relation

	query          *Builder
	ofManySubQuery *Builder
}

// NewHasOne builds a HasOne relation. An empty foreignKey falls back to the
// conventional column for the parent table; an empty localKey falls back to
// the parent's key name. A nil parent leaves the relation unconstrained,
// which is the eager form covering all groups.
func NewHasOne(conn *Connection, parent Model, related TypeDescriptor, foreignKey, localKey, name string) *HasOne {
	r := &HasOne{
		Relation: Relation{
			conn:       conn,
			parent:     parent,
			related:    related,
			name:       name,
			foreignKey: foreignKey,
			localKey:   localKey,
		},
	}

	if r.foreignKey == "" && parent != nil {
		r.foreignKey = ForeignKeyFor(parent.Table())
	}
	if r.localKey == "" && parent != nil {
		r.localKey = parent.GetKeyName()
	}

	r.query = r.newRelatedQuery()
	if parent != nil {
		r.query.Where(r.qualify(r.foreignKey), parent.GetAttribute(r.localKey))
	}

	return r
}

// Query exposes the underlying relation query.
func (r *HasOne) Query() *Builder {
	return r.query
}

// Get executes the relation query and hydrates the result rows.
func (r *HasOne) Get(ctx context.Context) ([]Model, error) {
	if len(r.query.selected) == 0 {
		r.query.Select(r.related.Table + ".*")
	}

	rows, err := r.query.Get(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]Model, 0, len(rows))
	for _, row := range rows {
		models = append(models, r.related.New(row))
	}

	return models, nil
}

// First returns the first matching related model, or nil when none match.
func (r *HasOne) First(ctx context.Context) (Model, error) {
	models, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}

	return models[0], nil
}
