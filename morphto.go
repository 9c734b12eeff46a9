package wolke

import (
	"context"
	"sort"
	"strconv"

	"github.com/iancoleman/strcase"
)

// MorphTo resolves a polymorphic inverse relation: referencing models carry
// a discriminator column naming the concrete related type and a foreign key
// into that type's table. Eager loading batches heterogeneous parents,
// issues one query per distinct discriminator value and matches results back
// through an in-memory dictionary. The dictionary lives for a single eager
// pass; resolvers hold no state shared across passes.
type MorphTo struct {
	conn     *Connection
	registry *MorphRegistry
	parent   Model
	name     string

	typeColumn string
	idColumn   string

	models     []Model
	dictionary map[string]map[string][]Model

	withs       map[string][]string
	withCounts  map[string][]string
	constraints map[string]func(*Builder)
}

// NewMorphTo builds a MorphTo relation. The relation name is explicit and
// drives the default column pair: name "imageable" reads imageable_type and
// imageable_id. parent may be nil for purely eager use; Associate and
// Dissociate require it.
func NewMorphTo(conn *Connection, registry *MorphRegistry, parent Model, name, typeColumn, idColumn string) *MorphTo {
	if typeColumn == "" {
		typeColumn = strcase.ToSnake(name) + "_type"
	}
	if idColumn == "" {
		idColumn = strcase.ToSnake(name) + "_id"
	}

	return &MorphTo{
		conn:        conn,
		registry:    registry,
		parent:      parent,
		name:        name,
		typeColumn:  typeColumn,
		idColumn:    idColumn,
		withs:       map[string][]string{},
		withCounts:  map[string][]string{},
		constraints: map[string]func(*Builder){},
	}
}

// MorphWith registers extra relations to eager load per concrete type. They
// apply only when that type's query executes.
func (m *MorphTo) MorphWith(relations map[string][]string) *MorphTo {
	for alias, rels := range relations {
		m.withs[alias] = append(m.withs[alias], rels...)
	}
	return m
}

// MorphWithCount registers relation counts to eager load per concrete type.
func (m *MorphTo) MorphWithCount(counts map[string][]string) *MorphTo {
	for alias, rels := range counts {
		m.withCounts[alias] = append(m.withCounts[alias], rels...)
	}
	return m
}

// Constrain registers a query callback per concrete type, applied to that
// type's query before it executes.
func (m *MorphTo) Constrain(callbacks map[string]func(*Builder)) *MorphTo {
	for alias, cb := range callbacks {
		m.constraints[alias] = cb
	}
	return m
}

// AddEagerConstraints groups the referencing models by discriminator value
// and foreign key, building the dictionary used to match results back.
// Models with an empty discriminator or key are left out and resolve to no
// related instance.
func (m *MorphTo) AddEagerConstraints(models []Model) error {
	m.models = models
	m.dictionary = map[string]map[string][]Model{}

	for _, model := range models {
		alias, err := DictionaryKey(model.GetAttribute(m.typeColumn))
		if err != nil {
			return err
		}
		if alias == "" {
			continue
		}

		key, err := DictionaryKey(model.GetAttribute(m.idColumn))
		if err != nil {
			return err
		}
		if key == "" {
			continue
		}

		if m.dictionary[alias] == nil {
			m.dictionary[alias] = map[string][]Model{}
		}
		m.dictionary[alias][key] = append(m.dictionary[alias][key], model)
	}

	return nil
}

// GetEager resolves every distinct discriminator value with exactly one
// query, applying the per-type constraints, eager loads and counts, then
// matches each result to all parents sharing its (type, key).
func (m *MorphTo) GetEager(ctx context.Context) error {
	aliases := make([]string, 0, len(m.dictionary))
	for alias := range m.dictionary {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		if err := m.eagerLoadType(ctx, alias); err != nil {
			return err
		}
	}

	return nil
}

func (m *MorphTo) eagerLoadType(ctx context.Context, alias string) error {
	descriptor, err := m.registry.Resolve(alias)
	if err != nil {
		return err
	}

	query := m.conn.Builder().
		Table(descriptor.Table).
		WhereIn(descriptor.keyName(), m.gatherKeys(alias, descriptor.keyType()))

	if constrain, ok := m.constraints[alias]; ok {
		constrain(query)
	}

	rows, err := query.Get(ctx)
	if err != nil {
		return err
	}

	results := make([]Model, 0, len(rows))
	for _, row := range rows {
		results = append(results, descriptor.New(row))
	}

	if rels := m.withs[alias]; len(rels) > 0 {
		if descriptor.Loader == nil {
			return configErrorf("morph with", "%w: %q", ErrNoLoader, alias)
		}
		if err := descriptor.Loader.Load(ctx, results, rels); err != nil {
			return err
		}
	}

	if counts := m.withCounts[alias]; len(counts) > 0 {
		if descriptor.Loader == nil {
			return configErrorf("morph with count", "%w: %q", ErrNoLoader, alias)
		}
		if err := descriptor.Loader.LoadCount(ctx, results, counts); err != nil {
			return err
		}
	}

	return m.matchToParents(alias, results)
}

// gatherKeys collects the distinct foreign keys recorded for a type and
// casts them to the type's declared key representation.
func (m *MorphTo) gatherKeys(alias, keyType string) []any {
	keys := make([]string, 0, len(m.dictionary[alias]))
	for key := range m.dictionary[alias] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, key := range keys {
		if keyType == KeyTypeInt {
			if n, err := strconv.ParseInt(key, 10, 64); err == nil {
				out = append(out, n)
				continue
			}
		}
		out = append(out, key)
	}

	return out
}

func (m *MorphTo) matchToParents(alias string, results []Model) error {
	for _, result := range results {
		key, err := DictionaryKey(result.GetKey())
		if err != nil {
			return err
		}

		for _, parent := range m.dictionary[alias][key] {
			parent.SetRelation(m.name, result)
		}
	}

	return nil
}

// Associate sets the discriminator and foreign key on the parent, in memory
// only; persistence is deferred to the caller's save.
func (m *MorphTo) Associate(related Model) error {
	if m.parent == nil {
		return configErrorf("associate", "relation %q has no parent", m.name)
	}

	m.parent.SetAttribute(m.idColumn, related.GetKey())
	m.parent.SetAttribute(m.typeColumn, related.MorphClass())
	m.parent.SetRelation(m.name, related)

	return nil
}

// Dissociate clears the discriminator and foreign key on the parent, in
// memory only.
func (m *MorphTo) Dissociate() error {
	if m.parent == nil {
		return configErrorf("dissociate", "relation %q has no parent", m.name)
	}

	m.parent.SetAttribute(m.idColumn, nil)
	m.parent.SetAttribute(m.typeColumn, nil)
	m.parent.SetRelation(m.name, nil)

	return nil
}
