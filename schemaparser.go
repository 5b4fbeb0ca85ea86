package marcidb

import "strings"

// ParseSchema reads the marci schema language and returns a frozen
// registry:
//
//	model User {
//	    name String
//	    surname String?
//	    posts Post[] @derived(Post.author)
//	}
//
//	model Post {
//	    title String @index
//	    author User
//	    tags Tag[]
//	    comments Comment[] @derived(Comment.post) @sorted(createdAt)
//	}
//
// Scalar types: Int, String, Boolean, DateTime, Double, Bytes. A model
// name is a single reference, Model[] a list reference. A trailing ?
// makes the field nullable. Attributes: @index, @derived(Model.field),
// @sorted(field), @append.
func ParseSchema(src string) (*Schema, error) {
	s := NewSchema()
	var cur *Model
	for lineno, raw := range strings.Split(src, "\n") {
		line := raw
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if cur == nil {
			name, ok := parseModelHeader(line)
			if !ok {
				return nil, schemaErrf(SchemaInvalid, "", "", "line %d: expected `model Name {`, got %q", lineno+1, line)
			}
			m, err := s.AddModel(name)
			if err != nil {
				return nil, err
			}
			cur = m
			continue
		}

		if line == "}" {
			cur = nil
			continue
		}
		if err := parseFieldLine(cur, line, lineno+1); err != nil {
			return nil, err
		}
	}
	if cur != nil {
		return nil, schemaErrf(SchemaInvalid, cur.Name, "", "unterminated model block")
	}
	if err := s.Freeze(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseModelHeader(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "model ")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(strings.TrimSpace(rest), "{")
	if !ok {
		return "", false
	}
	name := strings.TrimSpace(rest)
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", false
	}
	return name, true
}

func parseFieldLine(m *Model, line string, lineno int) error {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return schemaErrf(SchemaInvalid, m.Name, "", "line %d: expected `name Type [@attr...]`, got %q", lineno, line)
	}
	name := parts[0]
	typ := parts[1]
	attrs := parts[2:]

	nullable := false
	if t, ok := strings.CutSuffix(typ, "?"); ok {
		nullable = true
		typ = t
	}
	list := false
	if t, ok := strings.CutSuffix(typ, "[]"); ok {
		list = true
		typ = t
	}

	var derivedSrc string
	for _, a := range attrs {
		if v, ok := cutAttr(a, "derived"); ok {
			derivedSrc = v
		}
	}

	var f *Field
	var err error
	switch {
	case derivedSrc != "":
		srcModel, srcField, ok := strings.Cut(derivedSrc, ".")
		if !ok {
			return schemaErrf(SchemaInvalid, m.Name, name, "line %d: @derived wants Model.field, got %q", lineno, derivedSrc)
		}
		f, err = m.AddDerived(name, srcModel, srcField)
	case list:
		f, err = m.AddRefList(name, typ)
	default:
		if kind := scalarKind(typ); kind != KindInvalid {
			f, err = m.AddScalar(name, kind, nullable)
		} else {
			f, err = m.AddRef(name, typ, nullable)
		}
	}
	if err != nil {
		return err
	}

	for _, a := range attrs {
		switch {
		case a == "@index":
			err = f.SetIndexed()
		case a == "@append":
			err = f.SetAppend()
		default:
			if v, ok := cutAttr(a, "sorted"); ok {
				err = f.SetSorted(v)
			} else if _, ok := cutAttr(a, "derived"); ok {
				// handled above
			} else {
				err = schemaErrf(SchemaInvalid, m.Name, name, "line %d: unknown attribute %q", lineno, a)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// cutAttr matches @name(value) and returns value.
func cutAttr(a, name string) (string, bool) {
	rest, ok := strings.CutPrefix(a, "@"+name+"(")
	if !ok {
		return "", false
	}
	v, ok := strings.CutSuffix(rest, ")")
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func scalarKind(typ string) FieldKind {
	switch typ {
	case "Int":
		return KindInt
	case "String":
		return KindString
	case "Boolean":
		return KindBool
	case "DateTime":
		return KindDateTime
	case "Double":
		return KindDouble
	case "Bytes":
		return KindBytes
	default:
		return KindInvalid
	}
}
