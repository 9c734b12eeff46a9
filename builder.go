package wolke

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

const (
	ASC  string = "ASC"
	DESC string = "DESC"
)

// Builder provides a fluent API for building and executing SQL queries
// against a connection. Results are returned as column/value maps so callers
// can work with rows whose concrete type is only known at runtime.
type Builder struct {
	conn *Connection
	tx   *sql.Tx

	tableName string
	selected  []string
	wheres    []whereCond
	groupBys  []string
	orderBys  [][2]string
	joins     []joinClause
	limit     int

	err error
}

type whereCond struct {
	conj string // AND / OR
	expr string
	args []any
}

// JoinOn is a single equality (or other binary) condition of a join.
type JoinOn struct {
	Lhs string
	Op  string
	Rhs string
}

func (j JoinOn) String() string {
	op := j.Op
	if op == "" {
		op = "="
	}
	return fmt.Sprintf("%s %s %s", j.Lhs, op, j.Rhs)
}

type joinClause struct {
	kind  string // INNER, LEFT, ...
	table string // table name or rendered sub-select with alias
	ons   []JoinOn
	args  []any
}

func (j joinClause) String() string {
	ons := make([]string, 0, len(j.ons))
	for _, on := range j.ons {
		ons = append(ons, on.String())
	}

	return fmt.Sprintf("%s JOIN %s ON %s", j.kind, j.table, strings.Join(ons, " AND "))
}

// NewBuilder creates a query builder on the given connection.
func NewBuilder(conn *Connection) *Builder {
	return &Builder{conn: conn, limit: -1}
}

func (b *Builder) executor() executor {
	if b.tx != nil {
		return b.tx
	}
	return b.conn.DB
}

// Clone returns a copy of the builder sharing the same connection and
// transaction but with independent clause state.
func (b *Builder) Clone() *Builder {
	c := *b
	c.selected = append([]string(nil), b.selected...)
	c.wheres = append([]whereCond(nil), b.wheres...)
	c.groupBys = append([]string(nil), b.groupBys...)
	c.orderBys = append([][2]string(nil), b.orderBys...)
	c.joins = append([]joinClause(nil), b.joins...)
	return &c
}

// Table sets the table for the query.
func (b *Builder) Table(name string) *Builder {
	b.tableName = name
	return b
}

// Select adds columns to the SELECT clause of the query.
func (b *Builder) Select(columns ...string) *Builder {
	b.selected = append(b.selected, columns...)
	return b
}

// SelectRaw adds a raw expression to the SELECT clause.
func (b *Builder) SelectRaw(expr string) *Builder {
	b.selected = append(b.selected, expr)
	return b
}

// Where adds a WHERE condition. Two arguments mean equality
// (column, value); three mean (column, operator, value).
func (b *Builder) Where(parts ...any) *Builder {
	return b.addWhere("AND", parts...)
}

// OrWhere adds an OR WHERE condition.
func (b *Builder) OrWhere(parts ...any) *Builder {
	return b.addWhere("OR", parts...)
}

func (b *Builder) addWhere(conj string, parts ...any) *Builder {
	switch len(parts) {
	case 2:
		col, ok := parts[0].(string)
		if !ok {
			b.err = fmt.Errorf("wolke: Where column must be a string, got %T", parts[0])
			return b
		}
		b.wheres = append(b.wheres, whereCond{conj: conj, expr: col + " = ?", args: []any{parts[1]}})
	case 3:
		col, ok := parts[0].(string)
		op, ok2 := parts[1].(string)
		if !ok || !ok2 {
			b.err = fmt.Errorf("wolke: Where column and operator must be strings")
			return b
		}
		b.wheres = append(b.wheres, whereCond{conj: conj, expr: fmt.Sprintf("%s %s ?", col, op), args: []any{parts[2]}})
	default:
		b.err = fmt.Errorf("wolke: wrong number of arguments passed to Where")
	}

	return b
}

// WhereRaw adds a raw WHERE condition.
func (b *Builder) WhereRaw(expr string, args ...any) *Builder {
	b.wheres = append(b.wheres, whereCond{conj: "AND", expr: expr, args: args})
	return b
}

// WhereIn adds a WHERE IN condition. An empty value set yields a condition
// that matches no rows.
func (b *Builder) WhereIn(column string, values []any) *Builder {
	if len(values) == 0 {
		b.wheres = append(b.wheres, whereCond{conj: "AND", expr: "1 = 0"})
		return b
	}

	phs := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	b.wheres = append(b.wheres, whereCond{
		conj: "AND",
		expr: fmt.Sprintf("%s IN (%s)", column, phs),
		args: values,
	})

	return b
}

// WhereNull adds a WHERE column IS NULL condition.
func (b *Builder) WhereNull(column string) *Builder {
	b.wheres = append(b.wheres, whereCond{conj: "AND", expr: column + " IS NULL"})
	return b
}

// GroupBy adds a GROUP BY clause to the query.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBys = append(b.groupBys, columns...)
	return b
}

// OrderBy adds an ORDER BY clause to the query.
func (b *Builder) OrderBy(column string, direction string) *Builder {
	b.orderBys = append(b.orderBys, [2]string{column, direction})
	return b
}

// Limit adds a LIMIT clause to the query.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Join adds an INNER JOIN on a table.
func (b *Builder) Join(table string, ons ...JoinOn) *Builder {
	b.joins = append(b.joins, joinClause{kind: "INNER", table: table, ons: ons})
	return b
}

// JoinSub adds an INNER JOIN on a sub-select, aliased as alias. The
// sub-query is rendered at call time, so later changes to sub do not affect
// this builder.
func (b *Builder) JoinSub(sub *Builder, alias string, ons ...JoinOn) *Builder {
	subSQL, subArgs, err := sub.ToSQL()
	if err != nil {
		b.err = err
		return b
	}

	b.joins = append(b.joins, joinClause{
		kind:  "INNER",
		table: fmt.Sprintf("(%s) AS %s", subSQL, alias),
		ons:   ons,
		args:  subArgs,
	})

	return b
}

func (b *Builder) whereSQL() (string, []any) {
	if len(b.wheres) == 0 {
		return "", nil
	}

	var sb strings.Builder
	var args []any
	for i, w := range b.wheres {
		if i > 0 {
			sb.WriteString(" " + w.conj + " ")
		}
		sb.WriteString(w.expr)
		args = append(args, w.args...)
	}

	return sb.String(), args
}

func (b *Builder) toSQLSelect() (string, []any, error) {
	if b.tableName == "" {
		return "", nil, fmt.Errorf("wolke: table name cannot be empty")
	}

	cols := "*"
	if len(b.selected) > 0 {
		cols = strings.Join(b.selected, ", ")
	}

	base := fmt.Sprintf("SELECT %s FROM %s", cols, b.tableName)

	var args []any
	for _, join := range b.joins {
		base += " " + join.String()
		args = append(args, join.args...)
	}

	if where, whereArgs := b.whereSQL(); where != "" {
		base += " WHERE " + where
		args = append(args, whereArgs...)
	}

	if len(b.groupBys) > 0 {
		base += " GROUP BY " + strings.Join(b.groupBys, ", ")
	}

	if len(b.orderBys) > 0 {
		tuples := make([]string, 0, len(b.orderBys))
		for _, pair := range b.orderBys {
			tuples = append(tuples, pair[0]+" "+pair[1])
		}
		base += " ORDER BY " + strings.Join(tuples, ", ")
	}

	if b.limit >= 0 {
		base += fmt.Sprintf(" LIMIT %d", b.limit)
	}

	return base, args, nil
}

// ToSQL builds the SELECT statement and its arguments, with "?"
// placeholders. Placeholder style conversion happens at execution time.
func (b *Builder) ToSQL() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}

	return b.toSQLSelect()
}

// Get executes the SELECT query and returns every row as a column/value map.
func (b *Builder) Get(ctx context.Context) ([]map[string]any, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := b.conn.query(ctx, b.executor(), query, args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Exists reports whether the query matches at least one row.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	inner := b.Clone().Limit(1)
	inner.selected = []string{"1"}

	query, args, err := inner.ToSQL()
	if err != nil {
		return false, err
	}

	query = fmt.Sprintf("SELECT EXISTS(%s)", query)
	rows, err := b.conn.query(ctx, b.executor(), query, args...)
	if err != nil {
		return false, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	var exists bool
	if rows.Next() {
		if err := rows.Scan(&exists); err != nil {
			return false, err
		}
	}

	return exists, rows.Err()
}

// Insert bulk-inserts the given value rows.
func (b *Builder) Insert(ctx context.Context, columns []string, values [][]any) error {
	if b.err != nil {
		return b.err
	}
	if len(values) == 0 {
		return nil
	}

	rowPHs := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	phs := make([]string, 0, len(values))
	args := make([]any, 0, len(values)*len(columns))
	for _, row := range values {
		phs = append(phs, rowPHs)
		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		b.tableName,
		strings.Join(columns, ", "),
		strings.Join(phs, ", "),
	)

	if _, err := b.conn.exec(ctx, b.executor(), query, args...); err != nil {
		return WrapQueryError("INSERT", query, args, err)
	}

	return nil
}

// InsertMap inserts a single row given as a column/value map.
func (b *Builder) InsertMap(ctx context.Context, row map[string]any) error {
	columns := sortedKeys(row)
	values := make([]any, 0, len(columns))
	for _, col := range columns {
		values = append(values, row[col])
	}

	return b.Insert(ctx, columns, [][]any{values})
}

// Update executes an UPDATE with the given column/value assignments and
// returns the number of affected rows.
func (b *Builder) Update(ctx context.Context, values map[string]any) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(values) == 0 {
		return 0, nil
	}

	columns := sortedKeys(values)
	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for _, col := range columns {
		sets = append(sets, col+" = ?")
		args = append(args, values[col])
	}

	query := fmt.Sprintf("UPDATE %s SET %s", b.tableName, strings.Join(sets, ", "))
	if where, whereArgs := b.whereSQL(); where != "" {
		query += " WHERE " + where
		args = append(args, whereArgs...)
	}

	res, err := b.conn.exec(ctx, b.executor(), query, args...)
	if err != nil {
		return 0, WrapQueryError("UPDATE", query, args, err)
	}

	return res.RowsAffected()
}

// Delete executes a DELETE and returns the number of affected rows.
func (b *Builder) Delete(ctx context.Context) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}

	query := "DELETE FROM " + b.tableName
	var args []any
	if where, whereArgs := b.whereSQL(); where != "" {
		query += " WHERE " + where
		args = whereArgs
	}

	res, err := b.conn.exec(ctx, b.executor(), query, args...)
	if err != nil {
		return 0, WrapQueryError("DELETE", query, args, err)
	}

	return res.RowsAffected()
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var output []map[string]any
	for rows.Next() {
		ptrs := make([]any, len(columns))
		for i := range ptrs {
			ptrs[i] = new(any)
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := *(ptrs[i].(*any))
			// Drivers hand back []byte for text columns; a string is
			// easier to compare and safe to keep past the next Scan.
			if bs, ok := v.([]byte); ok {
				v = string(bs)
			}
			row[col] = v
		}

		output = append(output, row)
	}

	return output, rows.Err()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
