package wolke

import (
	"reflect"
	"testing"
)

func TestBuilderToSQL(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Builder
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "bare table",
			build: func() *Builder {
				return NewBuilder(nil).Table("users")
			},
			wantSQL: "SELECT * FROM users",
		},
		{
			name: "select columns with where",
			build: func() *Builder {
				return NewBuilder(nil).Table("users").Select("id", "name").Where("id", 1)
			},
			wantSQL:  "SELECT id, name FROM users WHERE id = ?",
			wantArgs: []any{1},
		},
		{
			name: "operator where and or where",
			build: func() *Builder {
				return NewBuilder(nil).Table("users").
					Where("age", ">", 18).
					OrWhere("admin", true)
			},
			wantSQL:  "SELECT * FROM users WHERE age > ? OR admin = ?",
			wantArgs: []any{18, true},
		},
		{
			name: "where in",
			build: func() *Builder {
				return NewBuilder(nil).Table("posts").WhereIn("id", []any{1, 2, 3})
			},
			wantSQL:  "SELECT * FROM posts WHERE id IN (?,?,?)",
			wantArgs: []any{1, 2, 3},
		},
		{
			name: "where in with no values matches nothing",
			build: func() *Builder {
				return NewBuilder(nil).Table("posts").WhereIn("id", nil)
			},
			wantSQL: "SELECT * FROM posts WHERE 1 = 0",
		},
		{
			name: "where null",
			build: func() *Builder {
				return NewBuilder(nil).Table("posts").WhereNull("deleted_at")
			},
			wantSQL: "SELECT * FROM posts WHERE deleted_at IS NULL",
		},
		{
			name: "group order limit",
			build: func() *Builder {
				return NewBuilder(nil).Table("logins").
					GroupBy("user_id").
					OrderBy("user_id", DESC).
					Limit(5)
			},
			wantSQL: "SELECT * FROM logins GROUP BY user_id ORDER BY user_id DESC LIMIT 5",
		},
		{
			name: "join",
			build: func() *Builder {
				return NewBuilder(nil).Table("posts").
					Join("users", JoinOn{Lhs: "users.id", Rhs: "posts.user_id"})
			},
			wantSQL: "SELECT * FROM posts INNER JOIN users ON users.id = posts.user_id",
		},
		{
			name: "join sub args come before where args",
			build: func() *Builder {
				sub := NewBuilder(nil).Table("logins").
					Select("user_id").
					Where("ok", 1).
					GroupBy("user_id")
				return NewBuilder(nil).Table("users").
					JoinSub(sub, "latest", JoinOn{Lhs: "latest.user_id", Rhs: "users.id"}).
					Where("users.active", true)
			},
			wantSQL: "SELECT * FROM users INNER JOIN " +
				"(SELECT user_id FROM logins WHERE ok = ? GROUP BY user_id) AS latest " +
				"ON latest.user_id = users.id WHERE users.active = ?",
			wantArgs: []any{1, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.build().ToSQL()
			if err != nil {
				t.Fatalf("ToSQL() returned error: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("ToSQL() = %q, want %q", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("ToSQL() args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestBuilderToSQLErrors(t *testing.T) {
	if _, _, err := NewBuilder(nil).ToSQL(); err == nil {
		t.Error("expected error for missing table name")
	}

	if _, _, err := NewBuilder(nil).Table("users").Where("id").ToSQL(); err == nil {
		t.Error("expected error for Where with one argument")
	}

	if _, _, err := NewBuilder(nil).Table("users").Where(1, 2).ToSQL(); err == nil {
		t.Error("expected error for non-string Where column")
	}
}

func TestBuilderCloneIsIndependent(t *testing.T) {
	base := NewBuilder(nil).Table("users").Where("active", true)
	clone := base.Clone().Where("admin", true)

	baseSQL, _, err := base.ToSQL()
	if err != nil {
		t.Fatal(err)
	}
	cloneSQL, _, err := clone.ToSQL()
	if err != nil {
		t.Fatal(err)
	}

	if baseSQL != "SELECT * FROM users WHERE active = ?" {
		t.Errorf("base was mutated by clone: %q", baseSQL)
	}
	if cloneSQL != "SELECT * FROM users WHERE active = ? AND admin = ?" {
		t.Errorf("clone SQL = %q", cloneSQL)
	}
}

func TestJoinSubSnapshotsSubQuery(t *testing.T) {
	sub := NewBuilder(nil).Table("logins").Select("user_id").GroupBy("user_id")
	outer := NewBuilder(nil).Table("users").
		JoinSub(sub, "l", JoinOn{Lhs: "l.user_id", Rhs: "users.id"})

	// A later change to the sub-query must not leak into the outer query.
	sub.Where("ok", 1)

	sql, args, err := outer.ToSQL()
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT * FROM users INNER JOIN " +
		"(SELECT user_id FROM logins GROUP BY user_id) AS l ON l.user_id = users.id"
	if sql != want {
		t.Errorf("ToSQL() = %q, want %q", sql, want)
	}
	if len(args) != 0 {
		t.Errorf("ToSQL() args = %v, want none", args)
	}
}
