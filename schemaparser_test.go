package marcidb

import (
	"errors"
	"testing"
)

const blogSchema = `
// blog-shaped schema exercising every field kind
model User {
    name String
    surname String?
    posts Post[] @derived(Post.author)
}

model Post {
    title String @index
    rating Double?
    published Boolean?
    author User
    tags Tag[]
    comments Comment[] @derived(Comment.post) @sorted(createdAt)
    entries Entry[] @derived(Entry.post) @append
}

model Tag {
    name String
}

model Comment {
    text String
    createdAt DateTime
    post Post
}

model Entry {
    body String
    post Post?
}
`

func TestParseSchema_Blog(t *testing.T) {
	s, err := ParseSchema(blogSchema)
	if err != nil {
		t.Fatal(err)
	}

	post := must(s.Model("Post"))
	author := must(post.Field("author"))
	if author.Kind != KindRef || author.Target.Name != "User" {
		t.Errorf("author = %v -> %v", author.Kind, author.TargetName)
	}
	if author.Nullable {
		t.Error("author unexpectedly nullable")
	}

	user := must(s.Model("User"))
	posts := must(user.Field("posts"))
	if posts.Kind != KindDerived || posts.Rel != author.Rel {
		t.Error("User.posts is not derived from Post.author")
	}

	surname := must(user.Field("surname"))
	if !surname.Nullable {
		t.Error("String? did not parse as nullable")
	}

	title := must(post.Field("title"))
	if title.Index == nil {
		t.Error("@index did not create a field index")
	}

	comments := must(post.Field("comments"))
	rel := comments.Rel
	if rel.Order != OrderSorted || rel.OrderedMarker != markerReverse {
		t.Errorf("comments order = %v marker %d", rel.Order, rel.OrderedMarker)
	}
	if rel.SortField.Name != "createdAt" || rel.SortField.Model.Name != "Comment" {
		t.Errorf("sort field = %v", rel.SortField)
	}

	entries := must(post.Field("entries"))
	if entries.Rel.Order != OrderAppend {
		t.Errorf("entries order = %v", entries.Rel.Order)
	}

	tags := must(post.Field("tags"))
	if tags.Kind != KindRefList || tags.Target.Name != "Tag" {
		t.Errorf("tags = %v -> %v", tags.Kind, tags.TargetName)
	}
}

func TestParseSchema_Errors(t *testing.T) {
	var se *SchemaError
	for _, tt := range []struct {
		src  string
		kind SchemaErrorKind
	}{
		{"model A {\n  x String\n  x Int\n}", SchemaDuplicateField},
		{"model A {\n  x String\n}\nmodel A {\n  y Int\n}", SchemaDuplicateModel},
		{"model A {\n  b B\n}", SchemaUnknownTarget},
		{"model A {\n  x String\n  others A[] @derived(A.x)\n}", SchemaUnknownField},
		{"model A {\n  x Int\n  kids A[] @derived(A.parent) @sorted(x) @append\n  parent A?\n}", SchemaConflictingOrderPolicy},
		{"model A {\n  kids A[] @derived(A.parent) @sorted(nope)\n  parent A?\n}", SchemaUnknownField},
		{"not a model", SchemaInvalid},
		{"model A {\n  x String", SchemaInvalid},
	} {
		_, err := ParseSchema(tt.src)
		if !errors.As(err, &se) {
			t.Errorf("%q: err = %v, wanted SchemaError", tt.src, err)
			continue
		}
		if se.Kind != tt.kind {
			t.Errorf("%q: kind = %v, wanted %v", tt.src, se.Kind, tt.kind)
		}
	}
}

func TestParseSchema_SelfReference(t *testing.T) {
	s, err := ParseSchema(`
model Node {
    label String
    parent Node?
    children Node[] @derived(Node.parent)
}
`)
	if err != nil {
		t.Fatal(err)
	}
	node := must(s.Model("Node"))
	parent := must(node.Field("parent"))
	children := must(node.Field("children"))
	if parent.Rel != children.Rel || parent.Rel.Target != node || parent.Rel.Owner != node {
		t.Error("self-referential relation resolved incorrectly")
	}
}

func TestParseSchemaYAML_Equivalent(t *testing.T) {
	src := []byte(`
models:
  - name: User
    fields:
      - {name: name, type: String}
      - {name: posts, type: "Post[]", derived: Post.author}
  - name: Post
    fields:
      - {name: title, type: String, index: true}
      - {name: author, type: User}
      - {name: seq, type: "Entry[]", derived: Entry.post, append: true}
  - name: Entry
    fields:
      - {name: body, type: String}
      - {name: post, type: Post, nullable: true}
`)
	s, err := ParseSchemaYAML(src)
	if err != nil {
		t.Fatal(err)
	}
	post := must(s.Model("Post"))
	if must(post.Field("title")).Index == nil {
		t.Error("index: true did not create a field index")
	}
	seq := must(post.Field("seq"))
	if seq.Kind != KindDerived || seq.Rel.Order != OrderAppend {
		t.Errorf("seq = %v order %v", seq.Kind, seq.Rel.Order)
	}
	author := must(post.Field("author"))
	if author.Nullable {
		t.Error("author unexpectedly nullable")
	}
}
