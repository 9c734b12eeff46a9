package wolke

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// SyncResult reports what a pivot synchronization changed. Ids appear in the
// order the caller supplied them; a row both present and unchanged appears
// nowhere.
type SyncResult struct {
	Attached []any
	Detached []any
	Updated  []any
}

func newSyncResult() *SyncResult {
	return &SyncResult{Attached: []any{}, Detached: []any{}, Updated: []any{}}
}

// ManyToMany links two tables through a junction table. All pivot writes go
// through it: attach, detach, sync and toggle. Inference follows the usual
// conventions when the optional keys are left empty.
type ManyToMany struct {
	conn    *Connection
	parent  Model
	related TypeDescriptor
	name    string

	table           string
	foreignPivotKey string
	relatedPivotKey string
	parentKey       string
	relatedKey      string

	pivotColumns   []string
	withTimestamps bool
	createdAt      string
	updatedAt      string

	pivotFactory func(attrs map[string]any, exists bool) *Pivot
	events       Events
}

// NewManyToMany builds the relation. Empty table and key names fall back to
// convention: the junction table is the two singular snake-cased table names
// sorted and joined, and each pivot key is the singular table name with _id.
func NewManyToMany(conn *Connection, parent Model, related TypeDescriptor, name, table, foreignPivotKey, relatedPivotKey, parentKey, relatedKey string) *ManyToMany {
	if table == "" {
		table = JoinTableFor(parent.Table(), related.Table)
	}
	if foreignPivotKey == "" {
		foreignPivotKey = ForeignKeyFor(parent.Table())
	}
	if relatedPivotKey == "" {
		relatedPivotKey = ForeignKeyFor(related.Table)
	}
	if parentKey == "" {
		parentKey = parent.GetKeyName()
	}
	if relatedKey == "" {
		relatedKey = related.keyName()
	}

	return &ManyToMany{
		conn:            conn,
		parent:          parent,
		related:         related,
		name:            name,
		table:           table,
		foreignPivotKey: foreignPivotKey,
		relatedPivotKey: relatedPivotKey,
		parentKey:       parentKey,
		relatedKey:      relatedKey,
		createdAt:       "created_at",
		updatedAt:       "updated_at",
	}
}

// WithPivot carries extra junction columns onto loaded results.
func (m *ManyToMany) WithPivot(columns ...string) *ManyToMany {
	m.pivotColumns = append(m.pivotColumns, columns...)
	return m
}

// WithTimestamps maintains created_at and updated_at on junction rows.
func (m *ManyToMany) WithTimestamps() *ManyToMany {
	m.withTimestamps = true
	return m
}

// Using replaces the default pivot record with a custom factory. Attach and
// detach then go row by row through Pivot.Save and Pivot.Delete so lifecycle
// events fire for each junction row.
func (m *ManyToMany) Using(factory func(attrs map[string]any, exists bool) *Pivot) *ManyToMany {
	m.pivotFactory = factory
	return m
}

// WithEvents attaches a lifecycle event sink passed to created pivots.
func (m *ManyToMany) WithEvents(events Events) *ManyToMany {
	m.events = events
	return m
}

// PivotTable returns the junction table name in use.
func (m *ManyToMany) PivotTable() string { return m.table }

func (m *ManyToMany) parentKeyValue() any {
	return m.parent.GetAttribute(m.parentKey)
}

func (m *ManyToMany) qualifiedRelatedKey() string {
	return m.related.Table + "." + m.relatedKey
}

// Query returns the related-side query joined through the junction table and
// scoped to the parent, with requested pivot columns aliased pivot_*.
func (m *ManyToMany) Query() *Builder {
	q := m.conn.Builder().
		Table(m.related.Table).
		Select(m.related.Table + ".*").
		SelectRaw(fmt.Sprintf("%s.%s AS pivot_%s", m.table, m.foreignPivotKey, m.foreignPivotKey)).
		SelectRaw(fmt.Sprintf("%s.%s AS pivot_%s", m.table, m.relatedPivotKey, m.relatedPivotKey))

	for _, col := range m.pivotColumns {
		q.SelectRaw(fmt.Sprintf("%s.%s AS pivot_%s", m.table, col, col))
	}

	return q.
		Join(m.table, JoinOn{Lhs: m.table + "." + m.relatedPivotKey, Rhs: m.qualifiedRelatedKey()}).
		Where(m.table+"."+m.foreignPivotKey, m.parentKeyValue())
}

// Get loads the related models. Junction columns come back on each model as
// a pivot record under the relation name "pivot".
func (m *ManyToMany) Get(ctx context.Context) ([]Model, error) {
	rows, err := m.Query().Get(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Model, 0, len(rows))
	for _, row := range rows {
		pivotAttrs := map[string]any{}
		attrs := make(map[string]any, len(row))
		for col, value := range row {
			if name, ok := strings.CutPrefix(col, "pivot_"); ok {
				pivotAttrs[name] = value
				continue
			}
			attrs[col] = value
		}

		model := m.related.New(attrs)
		model.SetRelation("pivot", m.newPivot(pivotAttrs, true))
		results = append(results, model)
	}

	return results, nil
}

func (m *ManyToMany) newPivot(attrs map[string]any, exists bool) *Pivot {
	var p *Pivot
	if m.pivotFactory != nil {
		p = m.pivotFactory(attrs, exists)
	} else {
		p = PivotFromRawAttributes(m.conn, m.parent, attrs, m.table, exists)
	}
	return p.SetPivotKeys(m.foreignPivotKey, m.relatedPivotKey).WithEvents(m.events)
}

func (m *ManyToMany) newPivotQuery() *Builder {
	return m.conn.Builder().
		Table(m.table).
		Where(m.foreignPivotKey, m.parentKeyValue())
}

func (m *ManyToMany) pivotRow(id any, attributes map[string]any) map[string]any {
	row := make(map[string]any, len(attributes)+4)
	for col, value := range attributes {
		row[col] = value
	}
	row[m.foreignPivotKey] = m.parentKeyValue()
	row[m.relatedPivotKey] = id

	if m.withTimestamps {
		now := nowTimestamp()
		if row[m.createdAt] == nil {
			row[m.createdAt] = now
		}
		if row[m.updatedAt] == nil {
			row[m.updatedAt] = now
		}
	}

	return row
}

// Attach inserts one junction row per id, every row carrying the given
// attributes. Duplicate protection is left to the junction table's unique
// constraint. With a custom pivot each row is saved individually so events
// fire; otherwise a single bulk insert runs.
func (m *ManyToMany) Attach(ctx context.Context, ids []any, attributes map[string]any, touch bool) error {
	if len(ids) == 0 {
		return nil
	}

	if m.pivotFactory != nil {
		for _, id := range ids {
			if err := m.newPivot(m.pivotRow(id, attributes), false).Save(ctx); err != nil {
				return err
			}
		}
	} else {
		rows := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, m.pivotRow(id, attributes))
		}

		columns := sortedKeys(rows[0])
		values := make([][]any, 0, len(rows))
		for _, row := range rows {
			record := make([]any, 0, len(columns))
			for _, col := range columns {
				record = append(record, row[col])
			}
			values = append(values, record)
		}

		if err := m.conn.Builder().Table(m.table).Insert(ctx, columns, values); err != nil {
			return err
		}
	}

	if touch {
		m.touch(ctx)
	}

	return nil
}

// Detach removes junction rows for the given ids and reports how many rows
// went away. A nil slice detaches everything for the parent; an empty
// non-nil slice is a no-op.
func (m *ManyToMany) Detach(ctx context.Context, ids []any, touch bool) (int64, error) {
	if ids != nil && len(ids) == 0 {
		return 0, nil
	}

	var affected int64
	var err error

	if m.pivotFactory != nil {
		affected, err = m.detachThroughPivots(ctx, ids)
	} else {
		q := m.newPivotQuery()
		if ids != nil {
			q.WhereIn(m.relatedPivotKey, ids)
		}
		affected, err = q.Delete(ctx)
	}
	if err != nil {
		return 0, err
	}

	if touch && affected > 0 {
		m.touch(ctx)
	}

	return affected, nil
}

// detachThroughPivots deletes row by row so custom pivot events fire.
func (m *ManyToMany) detachThroughPivots(ctx context.Context, ids []any) (int64, error) {
	q := m.newPivotQuery()
	if ids != nil {
		q.WhereIn(m.relatedPivotKey, ids)
	}

	rows, err := q.Get(ctx)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, row := range rows {
		n, err := m.newPivot(row, true).Delete(ctx)
		if err != nil {
			return affected, err
		}
		affected += n
	}

	return affected, nil
}

// Sync makes the junction state match ids exactly: missing rows are
// attached, surplus rows detached, and rows whose given attributes differ
// from the stored ones updated.
func (m *ManyToMany) Sync(ctx context.Context, ids []any, attributes map[any]map[string]any) (*SyncResult, error) {
	return m.sync(ctx, ids, attributes, true)
}

// SyncWithoutDetaching is Sync that never removes existing rows.
func (m *ManyToMany) SyncWithoutDetaching(ctx context.Context, ids []any, attributes map[any]map[string]any) (*SyncResult, error) {
	return m.sync(ctx, ids, attributes, false)
}

func (m *ManyToMany) sync(ctx context.Context, ids []any, attributes map[any]map[string]any, detaching bool) (*SyncResult, error) {
	result := newSyncResult()

	current, err := m.currentPivotState(ctx)
	if err != nil {
		return nil, err
	}

	attrsByKey := make(map[string]map[string]any, len(attributes))
	for id, attrs := range attributes {
		key, err := DictionaryKey(id)
		if err != nil {
			return nil, err
		}
		attrsByKey[key] = attrs
	}

	desired := make(map[string]bool, len(ids))
	for _, id := range ids {
		key, err := DictionaryKey(id)
		if err != nil {
			return nil, err
		}
		desired[key] = true

		row, exists := current[key]
		if !exists {
			if err := m.Attach(ctx, []any{id}, attrsByKey[key], false); err != nil {
				return nil, err
			}
			result.Attached = append(result.Attached, id)
			continue
		}

		attrs := attrsByKey[key]
		if len(attrs) == 0 || !m.pivotDirty(row, attrs) {
			continue
		}

		if err := m.updatePivot(ctx, id, attrs); err != nil {
			return nil, err
		}
		result.Updated = append(result.Updated, id)
	}

	if detaching {
		stale := make([]any, 0)
		staleKeys := make([]string, 0)
		for key := range current {
			if !desired[key] {
				staleKeys = append(staleKeys, key)
			}
		}
		sort.Strings(staleKeys)
		for _, key := range staleKeys {
			stale = append(stale, current[key][m.relatedPivotKey])
		}

		if len(stale) > 0 {
			if _, err := m.Detach(ctx, stale, false); err != nil {
				return nil, err
			}
			result.Detached = stale
		}
	}

	if len(result.Attached) > 0 || len(result.Detached) > 0 {
		m.touch(ctx)
	}

	return result, nil
}

// Toggle flips membership: currently attached ids are detached and the rest
// attached. Applying it twice with the same ids restores the initial state.
func (m *ManyToMany) Toggle(ctx context.Context, ids []any) (*SyncResult, error) {
	result := newSyncResult()

	current, err := m.currentPivotState(ctx)
	if err != nil {
		return nil, err
	}

	attach := make([]any, 0, len(ids))
	detach := make([]any, 0)
	for _, id := range ids {
		key, err := DictionaryKey(id)
		if err != nil {
			return nil, err
		}
		if _, exists := current[key]; exists {
			detach = append(detach, id)
		} else {
			attach = append(attach, id)
		}
	}

	if len(detach) > 0 {
		if _, err := m.Detach(ctx, detach, false); err != nil {
			return nil, err
		}
		result.Detached = detach
	}
	if len(attach) > 0 {
		if err := m.Attach(ctx, attach, nil, false); err != nil {
			return nil, err
		}
		result.Attached = attach
	}

	if len(result.Attached) > 0 || len(result.Detached) > 0 {
		m.touch(ctx)
	}

	return result, nil
}

// currentPivotState loads the parent's junction rows keyed by the related
// id's dictionary key.
func (m *ManyToMany) currentPivotState(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := m.newPivotQuery().Get(ctx)
	if err != nil {
		return nil, err
	}

	state := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		key, err := DictionaryKey(row[m.relatedPivotKey])
		if err != nil {
			return nil, err
		}
		state[key] = row
	}

	return state, nil
}

func (m *ManyToMany) updatePivot(ctx context.Context, id any, attrs map[string]any) error {
	values := make(map[string]any, len(attrs)+1)
	for col, value := range attrs {
		values[col] = value
	}
	if m.withTimestamps {
		values[m.updatedAt] = nowTimestamp()
	}

	_, err := m.newPivotQuery().
		Where(m.relatedPivotKey, id).
		Update(ctx, values)
	return err
}

// pivotDirty reports whether any given attribute differs from the stored
// junction row. Numeric values compare by value, so 5 matches "5".
func (m *ManyToMany) pivotDirty(row map[string]any, attrs map[string]any) bool {
	for col, value := range attrs {
		if !pivotValueEqual(row[col], value) {
			return true
		}
	}
	return false
}

func pivotValueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if CompareKeys(a, b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// touch bumps the parent's updated_at. Touching is best effort; a failure
// never fails the pivot operation that triggered it. The related side is
// left alone because type descriptors do not declare timestamp columns.
func (m *ManyToMany) touch(ctx context.Context) {
	if !m.parent.UsesTimestamps() || m.parent.GetKey() == nil {
		return
	}

	_, _ = m.conn.Builder().
		Table(m.parent.Table()).
		Where(m.parent.GetKeyName(), m.parent.GetKey()).
		Update(ctx, map[string]any{m.parent.UpdatedAtColumn(): nowTimestamp()})
}
