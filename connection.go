package wolke

import (
	"context"
	"database/sql"
)

var globalConnections = map[string]*Connection{}

// ConnectionConfig describes a database connection to register.
type ConnectionConfig struct {
	// Name identifies this database connection.
	// Required if you define multiple connections.
	Name string

	// An existing database connection.
	DB *sql.DB

	// SQL dialect used for query generation.
	Dialect *Dialect
}

// SetupConnections configures and registers database connections.
func SetupConnections(configs ...ConnectionConfig) {
	for _, config := range configs {
		if config.Name == "" {
			config.Name = "default"
		}

		globalConnections[config.Name] = &Connection{
			Name:    config.Name,
			DB:      config.DB,
			Dialect: config.Dialect,
		}
	}
}

// GetConnection returns a registered connection by name.
func GetConnection(name string) (*Connection, error) {
	if name == "" {
		name = "default"
	}

	conn, ok := globalConnections[name]
	if !ok {
		return nil, ErrConnectionNotFound
	}

	return conn, nil
}

// Connection is a named database handle plus its dialect.
type Connection struct {
	Name    string
	Dialect *Dialect
	DB      *sql.DB
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *Connection) exec(ctx context.Context, ex executor, q string, args ...any) (sql.Result, error) {
	if ex == nil {
		ex = c.DB
	}
	return ex.ExecContext(ctx, c.Dialect.Rebind(q), args...)
}

func (c *Connection) query(ctx context.Context, ex executor, q string, args ...any) (*sql.Rows, error) {
	if ex == nil {
		ex = c.DB
	}
	return ex.QueryContext(ctx, c.Dialect.Rebind(q), args...)
}

// Builder starts a new query builder on this connection.
func (c *Connection) Builder() *Builder {
	return NewBuilder(c)
}

// Tx is an open transaction on a connection. Builders obtained from it run
// their statements inside the transaction.
type Tx struct {
	conn *Connection
	tx   *sql.Tx
}

// Builder starts a new query builder bound to this transaction.
func (t *Tx) Builder() *Builder {
	b := NewBuilder(t.conn)
	b.tx = t.tx
	return b
}

// Transaction executes fn within a transaction. The transaction is rolled
// back if fn returns an error or panics, committed otherwise. Pivot
// mutations are not implicitly transactional; callers compose them into an
// atomic unit with this helper.
func (c *Connection) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{conn: c, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
