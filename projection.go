package marcidb

// Projection describes the shape of a findMany result: which scalar
// fields to copy and which relation or derived fields to expand, each
// with its own nested projection. Leaves are `true`, inner nodes are
// maps; a numeric "take" bounds a collection node's fan-out.
const DefaultTake = 1000

type Projection struct {
	Model    *Model
	ID       bool
	Scalars  []*Field // stored fields copied verbatim, refs as plain ids
	Includes []*Include
	Take     int
}

type Include struct {
	Field *Field // KindRef, KindRefList or KindDerived
	Proj  *Projection
}

// ParseProjection turns the wire form into a resolved projection.
// `true` on a relation field expands to the target's default
// projection (one level, no further relations).
func ParseProjection(model *Model, sel map[string]any) (*Projection, error) {
	p := &Projection{Model: model, Take: DefaultTake}
	for name, node := range sel {
		if name == "take" {
			n, ok := node.(float64)
			if !ok || n < 1 {
				return nil, validationErrf(model.Name, name, "take wants a positive number, got %v", node)
			}
			p.Take = int(n)
			continue
		}
		if name == "id" {
			if truthy(node) {
				p.ID = true
			}
			continue
		}
		f, err := model.Field(name)
		if err != nil {
			return nil, validationErrf(model.Name, name, "unknown field")
		}
		switch f.Kind {
		case KindRef, KindRefList, KindDerived:
			sub, err := subProjection(f, node)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				p.Includes = append(p.Includes, &Include{Field: f, Proj: sub})
			}
		default:
			if truthy(node) {
				p.Scalars = append(p.Scalars, f)
			}
		}
	}
	return p, nil
}

func subProjection(f *Field, node any) (*Projection, error) {
	target := f.Target
	if f.Kind == KindDerived {
		target = f.Rel.Owner
	}
	switch n := node.(type) {
	case bool:
		if !n {
			return nil, nil
		}
		return DefaultProjection(target), nil
	case map[string]any:
		return ParseProjection(target, n)
	default:
		return nil, validationErrf(f.Model.Name, f.Name, "projection node wants true or a map, got %T", node)
	}
}

// DefaultProjection selects id and every stored field. References
// appear as plain ids, relations are not expanded.
func DefaultProjection(model *Model) *Projection {
	p := &Projection{Model: model, ID: true, Take: DefaultTake}
	for _, f := range model.Fields {
		if f.Kind.stored() {
			p.Scalars = append(p.Scalars, f)
		}
	}
	return p
}

// FullProjection expands every relation and derived field one level,
// each with the target's default projection. Used by the GET findMany
// form.
func FullProjection(model *Model) *Projection {
	p := &Projection{Model: model, ID: true, Take: DefaultTake}
	for _, f := range model.Fields {
		switch f.Kind {
		case KindRef, KindRefList, KindDerived:
			sub := must(subProjection(f, true))
			p.Includes = append(p.Includes, &Include{Field: f, Proj: sub})
		default:
			if f.Kind.stored() {
				p.Scalars = append(p.Scalars, f)
			}
		}
	}
	return p
}

func truthy(node any) bool {
	b, ok := node.(bool)
	return ok && b
}
