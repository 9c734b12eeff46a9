package wolke

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manyToManySchema() []string {
	return []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, updated_at TEXT)`,
		`CREATE TABLE roles (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE role_user (user_id INTEGER, role_id INTEGER, note TEXT, created_at TEXT, updated_at TEXT)`,
		`INSERT INTO users (id, name, updated_at) VALUES (1, 'jon', '2020-01-01 00:00:00')`,
		`INSERT INTO roles (id, name) VALUES (1, 'admin'), (2, 'editor'), (3, 'viewer'), (4, 'guest')`,
	}
}

func newRolesRelation(conn *Connection, parent Model) *ManyToMany {
	return NewManyToMany(conn, parent, recordDescriptor("role", "roles"), "roles", "", "", "", "", "")
}

func pivotPairs(t *testing.T, conn *Connection) map[int64]map[string]any {
	t.Helper()
	rows, err := conn.Builder().Table("role_user").Get(context.Background())
	require.NoError(t, err)

	out := map[int64]map[string]any{}
	for _, row := range rows {
		out[row["role_id"].(int64)] = row
	}
	return out
}

func TestManyToManyInfersConventions(t *testing.T) {
	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(nil, parent)

	assert.Equal(t, "role_user", rel.PivotTable())
	assert.Equal(t, "user_id", rel.foreignPivotKey)
	assert.Equal(t, "role_id", rel.relatedPivotKey)
}

func TestManyToManyAttachAndGet(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent).WithPivot("note")

	require.NoError(t, rel.Attach(context.Background(), []any{2, 3}, map[string]any{"note": "granted"}, false))

	models, err := rel.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	names := map[int64]string{}
	for _, m := range models {
		names[m.GetAttribute("id").(int64)] = m.GetAttribute("name").(string)

		pivot, ok := m.GetRelation("pivot").(*Pivot)
		require.True(t, ok, "junction columns come back as a pivot record")
		assert.Equal(t, int64(1), pivot.GetAttribute("user_id"))
		assert.Equal(t, "granted", pivot.GetAttribute("note"))
	}
	assert.Equal(t, "editor", names[2])
	assert.Equal(t, "viewer", names[3])
}

func TestManyToManyAttachEmptyIsNoOp(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)

	require.NoError(t, rel.Attach(context.Background(), nil, nil, false))
	assert.Equal(t, 0, countRows(t, conn, "role_user"))
}

func TestManyToManyDetach(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)
	ctx := context.Background()

	require.NoError(t, rel.Attach(ctx, []any{1, 2, 3}, nil, false))

	affected, err := rel.Detach(ctx, []any{2}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.Equal(t, 2, countRows(t, conn, "role_user"))

	// Empty non-nil slice detaches nothing.
	affected, err = rel.Detach(ctx, []any{}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
	assert.Equal(t, 2, countRows(t, conn, "role_user"))

	// Nil detaches everything for the parent.
	affected, err = rel.Detach(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	assert.Equal(t, 0, countRows(t, conn, "role_user"))
}

func TestManyToManyDetachScopedToParent(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	_, err := conn.DB.Exec(`INSERT INTO role_user (user_id, role_id) VALUES (1, 2), (9, 2)`)
	require.NoError(t, err)

	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)

	affected, err := rel.Detach(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	pairs := pivotPairs(t, conn)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(9), pairs[2]["user_id"], "another parent's rows must survive")
}

func TestManyToManySync(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	_, err := conn.DB.Exec(`INSERT INTO role_user (user_id, role_id) VALUES (1, 1), (1, 2), (1, 3)`)
	require.NoError(t, err)

	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)

	result, err := rel.Sync(context.Background(), []any{2, 3, 4}, nil)
	require.NoError(t, err)

	assert.Equal(t, []any{4}, result.Attached)
	assert.Equal(t, []any{int64(1)}, result.Detached)
	assert.Empty(t, result.Updated)

	pairs := pivotPairs(t, conn)
	assert.Len(t, pairs, 3)
	for _, id := range []int64{2, 3, 4} {
		assert.Contains(t, pairs, id)
	}
}

func TestManyToManySyncIsIdempotent(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)
	ctx := context.Background()

	first, err := rel.Sync(ctx, []any{2, 3}, nil)
	require.NoError(t, err)
	assert.Len(t, first.Attached, 2)

	second, err := rel.Sync(ctx, []any{2, 3}, nil)
	require.NoError(t, err)
	assert.Empty(t, second.Attached)
	assert.Empty(t, second.Detached)
	assert.Empty(t, second.Updated)
	assert.Equal(t, 2, countRows(t, conn, "role_user"))
}

func TestManyToManySyncUpdatesDirtyPivotRows(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)
	ctx := context.Background()

	_, err := rel.Sync(ctx, []any{2}, map[any]map[string]any{2: {"note": "old"}})
	require.NoError(t, err)

	result, err := rel.Sync(ctx, []any{2}, map[any]map[string]any{2: {"note": "new"}})
	require.NoError(t, err)
	assert.Empty(t, result.Attached)
	assert.Empty(t, result.Detached)
	assert.Equal(t, []any{2}, result.Updated)

	pairs := pivotPairs(t, conn)
	assert.Equal(t, "new", pairs[2]["note"])

	// Same attributes again: nothing is dirty, nothing is reported.
	result, err = rel.Sync(ctx, []any{2}, map[any]map[string]any{2: {"note": "new"}})
	require.NoError(t, err)
	assert.Empty(t, result.Updated)
}

func TestManyToManySyncWithoutDetaching(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	_, err := conn.DB.Exec(`INSERT INTO role_user (user_id, role_id) VALUES (1, 1), (1, 2)`)
	require.NoError(t, err)

	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)

	result, err := rel.SyncWithoutDetaching(context.Background(), []any{3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{3}, result.Attached)
	assert.Empty(t, result.Detached)
	assert.Equal(t, 3, countRows(t, conn, "role_user"))
}

func TestManyToManyToggleIsSelfInverse(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	_, err := conn.DB.Exec(`INSERT INTO role_user (user_id, role_id) VALUES (1, 1), (1, 2)`)
	require.NoError(t, err)

	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent)
	ctx := context.Background()

	first, err := rel.Toggle(ctx, []any{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{3}, first.Attached)
	assert.Equal(t, []any{2}, first.Detached)

	second, err := rel.Toggle(ctx, []any{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{2}, second.Attached)
	assert.Equal(t, []any{3}, second.Detached)

	pairs := pivotPairs(t, conn)
	assert.Len(t, pairs, 2)
	assert.Contains(t, pairs, int64(1))
	assert.Contains(t, pairs, int64(2))
}

func TestManyToManyWithTimestamps(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := newParent("users", map[string]any{"id": 1})
	rel := newRolesRelation(conn, parent).WithTimestamps()

	require.NoError(t, rel.Attach(context.Background(), []any{2}, nil, false))

	pairs := pivotPairs(t, conn)
	require.Contains(t, pairs, int64(2))
	assert.NotNil(t, pairs[2]["created_at"])
	assert.NotNil(t, pairs[2]["updated_at"])
}

func TestManyToManyCustomPivotFiresEvents(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := newParent("users", map[string]any{"id": 1})
	recorder := &eventRecorder{}

	rel := newRolesRelation(conn, parent).
		Using(func(attrs map[string]any, exists bool) *Pivot {
			return PivotFromRawAttributes(conn, parent, attrs, "role_user", exists)
		}).
		WithEvents(recorder)
	ctx := context.Background()

	require.NoError(t, rel.Attach(ctx, []any{2, 3}, nil, false))
	assert.Equal(t, 2, countRows(t, conn, "role_user"))
	assert.Equal(t, []string{
		EventSaving, EventCreating, EventCreated, EventSaved,
		EventSaving, EventCreating, EventCreated, EventSaved,
	}, recorder.events)

	recorder.events = nil
	affected, err := rel.Detach(ctx, []any{2}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.Equal(t, []string{EventDeleting, EventDeleted}, recorder.events)
}

func TestManyToManyTouchesParentOnStructuralChange(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := NewRecord(RecordConfig{Table: "users", Timestamps: true}).
		SetRawAttributes(map[string]any{"id": 1, "updated_at": "2020-01-01 00:00:00"}, true).
		MarkExists(true)
	rel := newRolesRelation(conn, parent)
	ctx := context.Background()

	require.NoError(t, rel.Attach(ctx, []any{2}, nil, true))

	rows, err := conn.Builder().Table("users").Where("id", 1).Get(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEqual(t, "2020-01-01 00:00:00", rows[0]["updated_at"])
}

func TestManyToManyDetachWithoutTouchLeavesParentAlone(t *testing.T) {
	conn := testConn(t, manyToManySchema()...)
	parent := NewRecord(RecordConfig{Table: "users", Timestamps: true}).
		SetRawAttributes(map[string]any{"id": 1, "updated_at": "2020-01-01 00:00:00"}, true).
		MarkExists(true)
	rel := newRolesRelation(conn, parent)
	ctx := context.Background()

	require.NoError(t, rel.Attach(ctx, []any{2}, nil, false))
	_, err := rel.Detach(ctx, []any{2}, false)
	require.NoError(t, err)

	rows, err := conn.Builder().Table("users").Where("id", 1).Get(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2020-01-01 00:00:00", rows[0]["updated_at"])
}
