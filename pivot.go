package wolke

import (
	"context"
	"strings"
)

// Pivot is the record backing a single junction-table row. It usually has no
// primary key of its own; identity is the composite of the two foreign key
// columns, captured from the originals so an in-memory edit cannot change
// which row a delete targets.
type Pivot struct {
	*Record

	conn   *Connection
	events Events
	touch  func(ctx context.Context)

	foreignKey string
	relatedKey string
}

// PivotFromAttributes builds a pivot row through the usual attribute path,
// running registered mutators. Timestamps are enabled when the attributes
// already carry the parent's created-at column.
func PivotFromAttributes(conn *Connection, parent Model, attrs map[string]any, table string, exists bool) *Pivot {
	_, hasTimestamps := attrs[parent.CreatedAtColumn()]

	p := &Pivot{
		Record: NewRecord(RecordConfig{
			Table:      table,
			Connection: parent.Connection(),
			Timestamps: hasTimestamps,
			CreatedAt:  parent.CreatedAtColumn(),
			UpdatedAt:  parent.UpdatedAtColumn(),
		}),
		conn: conn,
	}

	p.Fill(attrs)
	p.SyncOriginal()
	p.MarkExists(exists)

	return p
}

// PivotFromRawAttributes builds a pivot row from already-stored values,
// bypassing mutators. Timestamp detection still runs against the given
// attributes.
func PivotFromRawAttributes(conn *Connection, parent Model, attrs map[string]any, table string, exists bool) *Pivot {
	p := PivotFromAttributes(conn, parent, nil, table, exists)
	p.SetRawAttributes(attrs, true)
	_, p.timestamps = attrs[parent.CreatedAtColumn()]
	return p
}

// SetPivotKeys names the two foreign key columns forming the composite
// identity.
func (p *Pivot) SetPivotKeys(foreignKey, relatedKey string) *Pivot {
	p.foreignKey = foreignKey
	p.relatedKey = relatedKey
	return p
}

// WithEvents attaches a lifecycle event sink. A nil sink is a no-op.
func (p *Pivot) WithEvents(events Events) *Pivot {
	p.events = events
	return p
}

// WithTouch registers a touch callback invoked after a successful write or
// delete. Touching is best effort; the callback has no error to return.
func (p *Pivot) WithTouch(touch func(ctx context.Context)) *Pivot {
	p.touch = touch
	return p
}

// ForeignKeyColumn returns the column referencing the parent side.
func (p *Pivot) ForeignKeyColumn() string { return p.foreignKey }

// RelatedKeyColumn returns the column referencing the related side.
func (p *Pivot) RelatedKeyColumn() string { return p.relatedKey }

func (p *Pivot) fire(ctx context.Context, event string) error {
	if p.events == nil {
		return nil
	}
	return p.events.Fire(ctx, event, p)
}

// Save inserts the pivot row, firing saving/creating/created/saved. An event
// handler error aborts before any write.
func (p *Pivot) Save(ctx context.Context) error {
	if err := p.fire(ctx, EventSaving); err != nil {
		return err
	}
	if err := p.fire(ctx, EventCreating); err != nil {
		return err
	}

	if p.UsesTimestamps() {
		now := nowTimestamp()
		if p.GetAttribute(p.CreatedAtColumn()) == nil {
			p.SetAttribute(p.CreatedAtColumn(), now)
		}
		if p.GetAttribute(p.UpdatedAtColumn()) == nil {
			p.SetAttribute(p.UpdatedAtColumn(), now)
		}
	}

	if err := p.conn.Builder().Table(p.Table()).InsertMap(ctx, p.Attributes()); err != nil {
		return err
	}

	p.MarkExists(true)
	p.SyncOriginal()

	if err := p.fire(ctx, EventCreated); err != nil {
		return err
	}
	return p.fire(ctx, EventSaved)
}

// identityQuery scopes a builder to this row. A populated primary key wins;
// otherwise the composite identity applies, read from the originals so
// scoping survives in-memory edits.
func (p *Pivot) identityQuery() *Builder {
	query := p.conn.Builder().Table(p.Table())
	if p.GetKey() != nil {
		return query.Where(p.GetKeyName(), p.GetKey())
	}

	return query.
		Where(p.foreignKey, p.GetOriginal(p.foreignKey)).
		Where(p.relatedKey, p.GetOriginal(p.relatedKey))
}

// Update writes the given values to the persisted row and the in-memory
// attributes, maintaining updated_at when timestamps are on.
func (p *Pivot) Update(ctx context.Context, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	assign := make(map[string]any, len(values)+1)
	for col, value := range values {
		assign[col] = value
	}
	if p.UsesTimestamps() {
		assign[p.UpdatedAtColumn()] = nowTimestamp()
	}

	affected, err := p.identityQuery().Update(ctx, assign)
	if err != nil {
		return 0, err
	}

	for col, value := range assign {
		p.SetAttribute(col, value)
	}
	p.SyncOriginal()

	if p.touch != nil {
		p.touch(ctx)
	}

	return affected, nil
}

// Delete removes the pivot row, firing deleting/deleted and propagating the
// touch callback after a successful removal.
func (p *Pivot) Delete(ctx context.Context) (int64, error) {
	if err := p.fire(ctx, EventDeleting); err != nil {
		return 0, err
	}

	affected, err := p.identityQuery().Delete(ctx)
	if err != nil {
		return 0, err
	}

	p.MarkExists(false)

	if err := p.fire(ctx, EventDeleted); err != nil {
		return affected, err
	}

	if p.touch != nil {
		p.touch(ctx)
	}

	return affected, nil
}

// QueueableID encodes the row identity for queued work: the primary key when
// one exists, otherwise "<fk>:<fkValue>:<rk>:<rkValue>".
func (p *Pivot) QueueableID() string {
	if key := p.GetKey(); key != nil {
		id, err := DictionaryKey(key)
		if err == nil {
			return id
		}
	}

	fv, _ := DictionaryKey(p.GetOriginal(p.foreignKey))
	rv, _ := DictionaryKey(p.GetOriginal(p.relatedKey))

	return strings.Join([]string{p.foreignKey, fv, p.relatedKey, rv}, ":")
}

// PivotIdentity is a decoded queueable pivot id: either a single primary key
// or a composite column/value pair set.
type PivotIdentity struct {
	Key string

	ForeignKey   string
	ForeignValue string
	RelatedKey   string
	RelatedValue string
}

// DecodePivotIdentity reverses QueueableID. An id without a separator is a
// plain primary key; a four-part id is a composite identity; anything else
// cannot be decoded unambiguously.
func DecodePivotIdentity(id string) (PivotIdentity, error) {
	if !strings.Contains(id, ":") {
		return PivotIdentity{Key: id}, nil
	}

	parts := strings.Split(id, ":")
	if len(parts) != 4 {
		return PivotIdentity{}, configErrorf("decode pivot identity", "%w: %q", ErrAmbiguousIdentity, id)
	}

	return PivotIdentity{
		ForeignKey:   parts[0],
		ForeignValue: parts[1],
		RelatedKey:   parts[2],
		RelatedValue: parts[3],
	}, nil
}
