package marcidb

import "fmt"

type FieldKind int

const (
	KindInvalid FieldKind = iota
	KindInt
	KindString
	KindBool
	KindDateTime
	KindDouble
	KindBytes
	KindRef
	KindRefList
	KindDerived
)

func (k FieldKind) String() string {
	switch k {
	case KindInt:
		return "Int"
	case KindString:
		return "String"
	case KindBool:
		return "Boolean"
	case KindDateTime:
		return "DateTime"
	case KindDouble:
		return "Double"
	case KindBytes:
		return "Bytes"
	case KindRef:
		return "Ref"
	case KindRefList:
		return "RefList"
	case KindDerived:
		return "Derived"
	default:
		return "Invalid"
	}
}

// stored reports whether the field occupies a slot in the document
// value. RefList membership lives in the index key space; derived
// fields are virtual.
func (k FieldKind) stored() bool {
	switch k {
	case KindRefList, KindDerived:
		return false
	default:
		return true
	}
}

func (k FieldKind) sortable() bool {
	switch k {
	case KindInt, KindString, KindBool, KindDateTime, KindDouble:
		return true
	default:
		return false
	}
}

// OrderPolicy governs iteration order of a relation's collection side.
type OrderPolicy int

const (
	OrderNone OrderPolicy = iota
	OrderSorted
	OrderAppend
)

func (p OrderPolicy) String() string {
	switch p {
	case OrderSorted:
		return "sorted"
	case OrderAppend:
		return "append"
	default:
		return "none"
	}
}

type Field struct {
	Name     string
	Kind     FieldKind
	Nullable bool
	Indexed  bool

	// Ref and RefList fields.
	TargetName string
	Target     *Model
	Rel        *Relation

	// Derived fields: the owning side, as Model.field.
	SourceModelName string
	SourceFieldName string

	// Ordering attributes, resolved into Rel at freeze.
	orderPolicy   OrderPolicy
	orderSortName string

	Model *Model
	Slot  int // stored slot index, -1 when not stored

	Index *FieldIndex // non-nil for @index fields
}

// offsetPos is the byte position of this field's offset cell inside the
// document value header.
func (f *Field) offsetPos() int {
	return documentHeaderFixed + f.Slot*4
}

// Relation is one directed association, owning one direct and one
// reverse index. Exactly one exists per Ref/RefList field.
type Relation struct {
	ID         RelationID
	Name       string // Owner.field
	Owner      *Model
	OwnerField *Field
	Target     *Model
	List       bool

	// Ordering applies to the collection side: the direct index for a
	// RefList, the reverse index for a derived field.
	Order         OrderPolicy
	OrderedMarker byte
	SortField     *Field // field of the member model, sorted policy only
}

// memberModel is the model whose entities populate the ordered side.
func (r *Relation) memberModel() *Model {
	if r.OrderedMarker == markerDirect {
		return r.Target
	}
	return r.Owner
}

// FieldIndex is a secondary index over one indexed scalar field.
type FieldIndex struct {
	ID    IndexID
	Model *Model
	Field *Field
}

func (x *FieldIndex) name() string {
	return x.Model.Name + "." + x.Field.Name
}

type Model struct {
	ID     ModelID
	Name   string
	Fields []*Field

	schema       *Schema
	pos          int // position in Schema.Models, stable unlike ID
	fieldsByName map[string]*Field
	storedCount  int
	headerSize   int
}

func (m *Model) Field(name string) (*Field, error) {
	f := m.fieldsByName[name]
	if f == nil {
		return nil, &NotFoundError{Model: m.Name, What: fmt.Sprintf("field %s.%s", m.Name, name)}
	}
	return f, nil
}

// Schema is the registry of models, relations and field indexes. Build
// it with AddModel/add-field calls, then Freeze; after Freeze it is
// immutable and safe for concurrent readers.
type Schema struct {
	Models    []*Model
	Relations []*Relation
	Indexes   []*FieldIndex

	modelsByName map[string]*Model
	frozen       bool
}

func NewSchema() *Schema {
	return &Schema{modelsByName: make(map[string]*Model)}
}

func (s *Schema) Model(name string) (*Model, error) {
	m := s.modelsByName[name]
	if m == nil {
		return nil, &NotFoundError{Model: name, What: "model " + name}
	}
	return m, nil
}

func (s *Schema) AddModel(name string) (*Model, error) {
	if s.frozen {
		return nil, schemaErrf(SchemaInvalid, name, "", "schema is frozen")
	}
	if name == "" {
		return nil, schemaErrf(SchemaInvalid, name, "", "empty model name")
	}
	if s.modelsByName[name] != nil {
		return nil, schemaErrf(SchemaDuplicateModel, name, "", "")
	}
	m := &Model{Name: name, schema: s, fieldsByName: make(map[string]*Field)}
	s.Models = append(s.Models, m)
	s.modelsByName[name] = m
	return m, nil
}

func (m *Model) addField(f *Field) (*Field, error) {
	if m.schema.frozen {
		return nil, schemaErrf(SchemaInvalid, m.Name, f.Name, "schema is frozen")
	}
	if f.Name == "" || f.Name == "id" {
		return nil, schemaErrf(SchemaInvalid, m.Name, f.Name, "reserved or empty field name")
	}
	if m.fieldsByName[f.Name] != nil {
		return nil, schemaErrf(SchemaDuplicateField, m.Name, f.Name, "")
	}
	f.Model = m
	f.Slot = -1
	m.Fields = append(m.Fields, f)
	m.fieldsByName[f.Name] = f
	return f, nil
}

func (m *Model) AddScalar(name string, kind FieldKind, nullable bool) (*Field, error) {
	switch kind {
	case KindInt, KindString, KindBool, KindDateTime, KindDouble, KindBytes:
	default:
		return nil, schemaErrf(SchemaInvalid, m.Name, name, "not a scalar kind: %v", kind)
	}
	return m.addField(&Field{Name: name, Kind: kind, Nullable: nullable})
}

func (m *Model) AddRef(name, target string, nullable bool) (*Field, error) {
	return m.addField(&Field{Name: name, Kind: KindRef, Nullable: nullable, TargetName: target})
}

func (m *Model) AddRefList(name, target string) (*Field, error) {
	return m.addField(&Field{Name: name, Kind: KindRefList, TargetName: target})
}

func (m *Model) AddDerived(name, sourceModel, sourceField string) (*Field, error) {
	return m.addField(&Field{Name: name, Kind: KindDerived, SourceModelName: sourceModel, SourceFieldName: sourceField})
}

// SetIndexed marks a scalar field for secondary indexing.
func (f *Field) SetIndexed() error {
	if !f.Kind.sortable() {
		return schemaErrf(SchemaInvalid, f.Model.Name, f.Name, "cannot index %v field", f.Kind)
	}
	f.Indexed = true
	return nil
}

// SetSorted declares the collection sorted by the named field of the
// member model, ties broken by entity id.
func (f *Field) SetSorted(sortField string) error {
	return f.setOrder(OrderSorted, sortField)
}

// SetAppend declares the collection append-only: iteration order is
// insertion order.
func (f *Field) SetAppend() error {
	return f.setOrder(OrderAppend, "")
}

func (f *Field) setOrder(p OrderPolicy, sortName string) error {
	if f.Kind != KindRefList && f.Kind != KindDerived {
		return schemaErrf(SchemaInvalid, f.Model.Name, f.Name, "ordering on non-collection field")
	}
	if f.orderPolicy != OrderNone && f.orderPolicy != p {
		return schemaErrf(SchemaConflictingOrderPolicy, f.Model.Name, f.Name,
			"%v vs %v", f.orderPolicy, p)
	}
	f.orderPolicy = p
	f.orderSortName = sortName
	return nil
}

// Freeze resolves relation targets and derived sources (forward
// references are legal), validates ordering declarations, assigns
// provisional ordinals, and computes document slot layout. After Freeze
// the schema never changes; Open may rewrite ordinals from persisted
// state but the shape is final.
func (s *Schema) Freeze() error {
	if s.frozen {
		return nil
	}

	for i, m := range s.Models {
		m.ID = ModelID(i + 1)
		m.pos = i
		slot := 0
		for _, f := range m.Fields {
			if f.Kind.stored() {
				f.Slot = slot
				slot++
			}
		}
		m.storedCount = slot
		m.headerSize = documentHeaderFixed + slot*4
	}

	// Pass 2: relations for every Ref/RefList field.
	for _, m := range s.Models {
		for _, f := range m.Fields {
			if f.Kind != KindRef && f.Kind != KindRefList {
				continue
			}
			target := s.modelsByName[f.TargetName]
			if target == nil {
				return schemaErrf(SchemaUnknownTarget, m.Name, f.Name, "%s", f.TargetName)
			}
			f.Target = target
			rel := &Relation{
				ID:            RelationID(len(s.Relations) + 1),
				Name:          m.Name + "." + f.Name,
				Owner:         m,
				OwnerField:    f,
				Target:        target,
				List:          f.Kind == KindRefList,
				OrderedMarker: markerReverse,
			}
			f.Rel = rel
			s.Relations = append(s.Relations, rel)
		}
	}

	// Pass 3: derived fields attach to their source relation; ordering
	// declarations from either side resolve onto the relation.
	for _, m := range s.Models {
		for _, f := range m.Fields {
			switch f.Kind {
			case KindDerived:
				src := s.modelsByName[f.SourceModelName]
				if src == nil {
					return schemaErrf(SchemaUnknownTarget, m.Name, f.Name, "%s", f.SourceModelName)
				}
				srcField := src.fieldsByName[f.SourceFieldName]
				if srcField == nil || (srcField.Kind != KindRef && srcField.Kind != KindRefList) {
					return schemaErrf(SchemaUnknownField, m.Name, f.Name,
						"%s.%s is not a reference field", f.SourceModelName, f.SourceFieldName)
				}
				if srcField.Target != m {
					return schemaErrf(SchemaInvalid, m.Name, f.Name,
						"%s.%s does not reference %s", f.SourceModelName, f.SourceFieldName, m.Name)
				}
				f.Rel = srcField.Rel
				if err := s.applyOrder(f, f.Rel, markerReverse); err != nil {
					return err
				}
			case KindRefList:
				if err := s.applyOrder(f, f.Rel, markerDirect); err != nil {
					return err
				}
			}
		}
	}

	// Field indexes last, so ordinal order is deterministic.
	for _, m := range s.Models {
		for _, f := range m.Fields {
			if !f.Indexed {
				continue
			}
			x := &FieldIndex{ID: IndexID(len(s.Indexes) + 1), Model: m, Field: f}
			f.Index = x
			s.Indexes = append(s.Indexes, x)
		}
	}

	s.frozen = true
	return nil
}

func (s *Schema) applyOrder(f *Field, rel *Relation, marker byte) error {
	if f.orderPolicy == OrderNone {
		return nil
	}
	if rel.Order != OrderNone && (rel.Order != f.orderPolicy || rel.OrderedMarker != marker) {
		return schemaErrf(SchemaConflictingOrderPolicy, f.Model.Name, f.Name,
			"relation %s already ordered (%v)", rel.Name, rel.Order)
	}
	rel.Order = f.orderPolicy
	rel.OrderedMarker = marker
	if f.orderPolicy == OrderSorted {
		member := rel.Owner
		if marker == markerDirect {
			member = rel.Target
		}
		sf := member.fieldsByName[f.orderSortName]
		if sf == nil {
			return schemaErrf(SchemaUnknownField, member.Name, f.orderSortName, "sort field")
		}
		if !sf.Kind.sortable() {
			return schemaErrf(SchemaInvalid, member.Name, f.orderSortName, "cannot sort by %v", sf.Kind)
		}
		rel.SortField = sf
	}
	return nil
}
