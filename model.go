package wolke

import (
	"context"
	"reflect"
	"time"
)

// Key representations a model may declare for its primary key.
const (
	KeyTypeInt    = "int"
	KeyTypeString = "string"
)

// Lifecycle events fired through the Events collaborator.
const (
	EventSaving   = "saving"
	EventSaved    = "saved"
	EventCreating = "creating"
	EventCreated  = "created"
	EventDeleting = "deleting"
	EventDeleted  = "deleted"
)

// Events receives model lifecycle notifications. Dispatch itself lives
// outside this package; a nil Events is a no-op.
type Events interface {
	Fire(ctx context.Context, event string, m Model) error
}

// Model is the contract the relation engine requires from persisted records:
// attribute access, dirty tracking, key accessors, connection binding and
// relation storage. Pivot rows and test fixtures satisfy it through Record.
type Model interface {
	Table() string
	Connection() string
	GetKeyName() string
	GetKeyType() string
	GetKey() any
	GetAttribute(name string) any
	SetAttribute(name string, value any)
	GetOriginal(name string) any
	IsDirty(names ...string) bool
	SetRelation(name string, value any)
	GetRelation(name string) any
	MorphClass() string
	UsesTimestamps() bool
	CreatedAtColumn() string
	UpdatedAtColumn() string
	Exists() bool
}

// RecordConfig configures a Record. Zero values fall back to the usual
// conventions: "id" integer key and created_at/updated_at columns.
type RecordConfig struct {
	Table      string
	Connection string
	KeyName    string
	KeyType    string
	MorphClass string
	Timestamps bool
	CreatedAt  string
	UpdatedAt  string
}

// Record is an attribute-bag model with originals-based dirty tracking.
// Rows hydrated for polymorphic targets have no compile-time struct, so the
// engine works with attribute maps throughout.
type Record struct {
	table      string
	connection string
	keyName    string
	keyType    string
	morphClass string
	timestamps bool
	createdAt  string
	updatedAt  string

	attributes map[string]any
	original   map[string]any
	relations  map[string]any
	mutators   map[string]func(any) any
	exists     bool
}

// NewRecord creates an empty record from the given configuration.
func NewRecord(config RecordConfig) *Record {
	if config.KeyName == "" {
		config.KeyName = "id"
	}
	if config.KeyType == "" {
		config.KeyType = KeyTypeInt
	}
	if config.MorphClass == "" {
		config.MorphClass = config.Table
	}
	if config.CreatedAt == "" {
		config.CreatedAt = "created_at"
	}
	if config.UpdatedAt == "" {
		config.UpdatedAt = "updated_at"
	}

	return &Record{
		table:      config.Table,
		connection: config.Connection,
		keyName:    config.KeyName,
		keyType:    config.KeyType,
		morphClass: config.MorphClass,
		timestamps: config.Timestamps,
		createdAt:  config.CreatedAt,
		updatedAt:  config.UpdatedAt,
		attributes: map[string]any{},
		original:   map[string]any{},
		relations:  map[string]any{},
	}
}

func (r *Record) Table() string           { return r.table }
func (r *Record) Connection() string      { return r.connection }
func (r *Record) GetKeyName() string      { return r.keyName }
func (r *Record) GetKeyType() string      { return r.keyType }
func (r *Record) MorphClass() string      { return r.morphClass }
func (r *Record) UsesTimestamps() bool    { return r.timestamps }
func (r *Record) CreatedAtColumn() string { return r.createdAt }
func (r *Record) UpdatedAtColumn() string { return r.updatedAt }
func (r *Record) Exists() bool            { return r.exists }

// GetKey returns the current primary key value.
func (r *Record) GetKey() any {
	return r.attributes[r.keyName]
}

// GetAttribute returns the current value of an attribute, or nil.
func (r *Record) GetAttribute(name string) any {
	return r.attributes[name]
}

// SetAttribute sets an attribute, running its mutator if one is registered.
func (r *Record) SetAttribute(name string, value any) {
	if mutate, ok := r.mutators[name]; ok {
		value = mutate(value)
	}
	r.attributes[name] = value
}

// Mutate registers a mutator applied by SetAttribute and Fill for the given
// attribute. Raw hydration bypasses mutators.
func (r *Record) Mutate(name string, fn func(any) any) *Record {
	if r.mutators == nil {
		r.mutators = map[string]func(any) any{}
	}
	r.mutators[name] = fn
	return r
}

// Fill sets multiple attributes through SetAttribute.
func (r *Record) Fill(attrs map[string]any) *Record {
	for name, value := range attrs {
		r.SetAttribute(name, value)
	}
	return r
}

// SetRawAttributes replaces the attribute map without running mutators.
// When sync is true the originals are updated too, marking the record clean.
func (r *Record) SetRawAttributes(attrs map[string]any, sync bool) *Record {
	r.attributes = make(map[string]any, len(attrs))
	for name, value := range attrs {
		r.attributes[name] = value
	}
	if sync {
		r.SyncOriginal()
	}
	return r
}

// Attributes returns a copy of the current attribute map.
func (r *Record) Attributes() map[string]any {
	out := make(map[string]any, len(r.attributes))
	for name, value := range r.attributes {
		out[name] = value
	}
	return out
}

// GetOriginal returns the value an attribute had when the record was last
// synced (loaded or saved), before any in-memory mutation.
func (r *Record) GetOriginal(name string) any {
	return r.original[name]
}

// SyncOriginal snapshots current attributes as the originals.
func (r *Record) SyncOriginal() {
	r.original = make(map[string]any, len(r.attributes))
	for name, value := range r.attributes {
		r.original[name] = value
	}
}

// IsDirty reports whether the named attributes changed since the last sync.
// With no arguments it checks every attribute.
func (r *Record) IsDirty(names ...string) bool {
	if len(names) == 0 {
		for name := range r.attributes {
			names = append(names, name)
		}
	}

	for _, name := range names {
		current, inCurrent := r.attributes[name]
		original, inOriginal := r.original[name]
		if inCurrent != inOriginal {
			return true
		}
		if !reflect.DeepEqual(current, original) {
			return true
		}
	}

	return false
}

// SetRelation stores a loaded relation result on the record.
func (r *Record) SetRelation(name string, value any) {
	r.relations[name] = value
}

// GetRelation returns a previously stored relation result, or nil.
func (r *Record) GetRelation(name string) any {
	return r.relations[name]
}

// MarkExists flags the record as persisted.
func (r *Record) MarkExists(exists bool) *Record {
	r.exists = exists
	return r
}

func nowTimestamp() any {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}
