package wolke

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/table"
)

// RelationLoader loads further relations (or relation counts) onto already
// hydrated models of a single concrete type. Descriptors provide one when
// their type supports per-type eager loads via MorphWith/MorphWithCount.
type RelationLoader interface {
	Load(ctx context.Context, models []Model, relations []string) error
	LoadCount(ctx context.Context, models []Model, relations []string) error
}

// TypeDescriptor describes a concrete related type reachable through a
// discriminator value.
type TypeDescriptor struct {
	// Alias is the discriminator value stored in the database.
	Alias string

	// Table holds the rows of this type.
	Table string

	// KeyName is the primary key column, "id" if empty.
	KeyName string

	// KeyType is the declared key representation, KeyTypeInt if empty.
	// Gathered foreign keys are cast to it before querying.
	KeyType string

	// New hydrates a model of this type from a result row.
	New func(row map[string]any) Model

	// Loader applies per-type eager loads. Optional.
	Loader RelationLoader
}

func (d TypeDescriptor) keyName() string {
	if d.KeyName == "" {
		return "id"
	}
	return d.KeyName
}

func (d TypeDescriptor) keyType() string {
	if d.KeyType == "" {
		return KeyTypeInt
	}
	return d.KeyType
}

// MorphRegistry maps discriminator values to concrete type descriptors. It
// is built once at construction and injected wherever polymorphic relations
// are resolved; there is no global registry.
type MorphRegistry struct {
	types map[string]TypeDescriptor
}

// NewMorphRegistry creates a registry from the given descriptors.
func NewMorphRegistry(descriptors ...TypeDescriptor) *MorphRegistry {
	r := &MorphRegistry{types: map[string]TypeDescriptor{}}
	for _, d := range descriptors {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a type descriptor.
func (r *MorphRegistry) Register(d TypeDescriptor) *MorphRegistry {
	r.types[d.Alias] = d
	return r
}

// Resolve returns the descriptor registered for a discriminator value.
func (r *MorphRegistry) Resolve(alias string) (TypeDescriptor, error) {
	d, ok := r.types[alias]
	if !ok {
		return TypeDescriptor{}, configErrorf("morph registry", "%w: %q", ErrUnknownMorphAlias, alias)
	}
	return d, nil
}

// Has reports whether a discriminator value is registered.
func (r *MorphRegistry) Has(alias string) bool {
	_, ok := r.types[alias]
	return ok
}

// PrintSchematic prints a visual representation of the registered morph
// types. Useful for debugging discriminator mappings.
func (r *MorphRegistry) PrintSchematic() {
	w := table.NewWriter()
	w.AppendHeader(table.Row{"Alias", "Table", "Key", "Key Type", "Has Loader"})
	for _, d := range r.types {
		w.AppendRow(table.Row{d.Alias, d.Table, d.keyName(), d.keyType(), d.Loader != nil})
	}
	fmt.Println(w.Render())
}
