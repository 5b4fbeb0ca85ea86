package marcidb

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// YAML schema form, equivalent to the marci language:
//
//	models:
//	  - name: Post
//	    fields:
//	      - {name: title, type: String, index: true}
//	      - {name: author, type: User}
//	      - {name: comments, type: Comment[], derived: Comment.post, sorted: createdAt}
type yamlSchema struct {
	Models []yamlModel `yaml:"models"`
}

type yamlModel struct {
	Name   string      `yaml:"name"`
	Fields []yamlField `yaml:"fields"`
}

type yamlField struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
	Index    bool   `yaml:"index"`
	Derived  string `yaml:"derived"`
	Sorted   string `yaml:"sorted"`
	Append   bool   `yaml:"append"`
}

// ParseSchemaYAML reads the YAML schema form and returns a frozen
// registry.
func ParseSchemaYAML(src []byte) (*Schema, error) {
	var ys yamlSchema
	if err := yaml.Unmarshal(src, &ys); err != nil {
		return nil, schemaErrf(SchemaInvalid, "", "", "yaml: %v", err)
	}
	s := NewSchema()
	for _, ym := range ys.Models {
		m, err := s.AddModel(ym.Name)
		if err != nil {
			return nil, err
		}
		for _, yf := range ym.Fields {
			if err := addYAMLField(m, yf); err != nil {
				return nil, err
			}
		}
	}
	if err := s.Freeze(); err != nil {
		return nil, err
	}
	return s, nil
}

func addYAMLField(m *Model, yf yamlField) error {
	typ := yf.Type
	list := false
	if t, ok := strings.CutSuffix(typ, "[]"); ok {
		list = true
		typ = t
	}

	var f *Field
	var err error
	switch {
	case yf.Derived != "":
		srcModel, srcField, ok := strings.Cut(yf.Derived, ".")
		if !ok {
			return schemaErrf(SchemaInvalid, m.Name, yf.Name, "derived wants Model.field, got %q", yf.Derived)
		}
		f, err = m.AddDerived(yf.Name, srcModel, srcField)
	case list:
		f, err = m.AddRefList(yf.Name, typ)
	default:
		if kind := scalarKind(typ); kind != KindInvalid {
			f, err = m.AddScalar(yf.Name, kind, yf.Nullable)
		} else {
			f, err = m.AddRef(yf.Name, typ, yf.Nullable)
		}
	}
	if err != nil {
		return err
	}

	if yf.Index {
		if err := f.SetIndexed(); err != nil {
			return err
		}
	}
	if yf.Sorted != "" {
		if err := f.SetSorted(yf.Sorted); err != nil {
			return err
		}
	}
	if yf.Append {
		if err := f.SetAppend(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSchemaFile parses schema source by extension: .yaml/.yml takes
// the YAML form, anything else the marci language.
func LoadSchemaFile(path string, src []byte) (*Schema, error) {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return ParseSchemaYAML(src)
	}
	return ParseSchema(string(src))
}
