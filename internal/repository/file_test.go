package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, root, kind, name, content string) {
	t.Helper()
	dir := filepath.Join(root, kind)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileRepository_LoadNode(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "items", "page-1.yaml", `
id: page-1
revision: 3
content_type: article
fields:
  title: Welcome
  body: "<p>hello</p>"
`)
	writeFixture(t, root, "items", "hidden.yml", `
id: hidden
content_type: article
public: false
`)

	r := NewFileRepository(root)

	node, err := r.LoadNode(context.Background(), "page-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "page-1", node.ID)
	assert.Equal(t, 3, node.Revision)
	assert.Equal(t, "article", node.ContentType)
	assert.Equal(t, "Welcome", node.Fields["title"])
	assert.True(t, node.Public, "public defaults to true")

	// .yml extension also resolves.
	hidden, err := r.LoadNode(context.Background(), "hidden", 0)
	require.NoError(t, err)
	assert.False(t, hidden.Public)

	_, err = r.LoadNode(context.Background(), "absent", 0)
	require.Error(t, err)
}

func TestFileRepository_LoadNodeBinary(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "items", "logo.bin", "\x89PNG")
	writeFixture(t, root, "items", "logo.yaml", `
id: logo
content_type: image
binary_file: logo.bin
`)

	r := NewFileRepository(root)
	node, err := r.LoadNode(context.Background(), "logo", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), node.Binary)
}

func TestFileRepository_ExistsAndContentTypes(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "items", "a.yaml", "content_type: article\n")
	writeFixture(t, root, "items", "b.yaml", "content_type: image\n")

	r := NewFileRepository(root)

	ok, err := r.Exists(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Exists(context.Background(), "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	types, err := r.ContentTypes(context.Background(), []string{"a", "b", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "article", "b": "image"}, types)
}

func TestFileRepository_TemplateByID(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "templates", "t1.yaml", `
name: t-page
content_types: [article]
slots: [s1]
bindings:
  - variable: $b
    expression: "'second'"
    order: 2
  - variable: $a
    expression: "'first'"
    order: 1
body: "$a $b"
`)

	r := NewFileRepository(root)
	tmpl, err := r.TemplateByID(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, "t1", tmpl.ID, "id defaults to the file name")
	assert.Equal(t, "t-page", tmpl.Name)
	assert.Equal(t, "template", tmpl.Assembler, "assembler defaults to template")
	assert.Equal(t, "text/html", tmpl.MimeType)
	assert.Equal(t, "utf-8", tmpl.Charset)
	assert.Equal(t, []string{"s1"}, tmpl.SlotIDs)

	// Bindings come back in evaluation order regardless of file order.
	require.Len(t, tmpl.Bindings, 2)
	assert.Equal(t, "$a", tmpl.Bindings[0].Variable)
	assert.Equal(t, "$b", tmpl.Bindings[1].Variable)
}

func TestFileRepository_FindTemplate(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "templates", "t1.yaml", `
name: t-article
content_types: [article]
`)
	writeFixture(t, root, "templates", "t2.yaml", `
name: t-any
`)

	r := NewFileRepository(root)

	tmpl, err := r.FindTemplate(context.Background(), "t-article", "article")
	require.NoError(t, err)
	assert.Equal(t, "t1", tmpl.ID)

	// A template with no content_types applies to everything.
	tmpl, err = r.FindTemplate(context.Background(), "t-any", "whatever")
	require.NoError(t, err)
	assert.Equal(t, "t2", tmpl.ID)

	_, err = r.FindTemplate(context.Background(), "t-article", "image")
	require.Error(t, err)

	_, err = r.TemplateByName(context.Background(), "absent")
	require.Error(t, err)
}

func TestFileRepository_SlotByID(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "slots", "s1.yaml", `
name: sidebar
finder: folder
relationship_type: active
`)

	r := NewFileRepository(root)
	slot, err := r.SlotByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", slot.ID)
	assert.Equal(t, "sidebar", slot.Name)
	assert.Equal(t, "folder", slot.Finder)
	assert.Equal(t, "active", slot.RelationshipType)

	_, err = r.SlotByID(context.Background(), "absent")
	require.Error(t, err)
}
