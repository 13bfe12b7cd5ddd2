package assembly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum-cms/vellum/internal/eval"
	"github.com/vellum-cms/vellum/internal/types"
)

func TestRegistry_BuiltinsAndLegacyRouting(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"template", "binary", DebugAssemblerName} {
		a, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, a.Name())
	}

	// Legacy-prefixed ids resolve to the modern implementation.
	a, ok := r.Get("legacy.template")
	require.True(t, ok)
	assert.Equal(t, "template", a.Name())

	_, ok = r.Get("no-such-assembler")
	assert.False(t, ok)
}

func TestExpandBindings(t *testing.T) {
	bindings := map[string]any{
		"$title": "Hello",
		"$count": 3,
		"$node": &types.ContentNode{
			ID:     "n1",
			Fields: map[string]string{"body": "text"},
		},
	}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"simple", "x $title y", "x Hello y"},
		{"braced", "x ${title} y", "x Hello y"},
		{"numeric", "n=$count", "n=3"},
		{"dotted field", "b=$node.body", "b=text"},
		{"unresolved stays literal", "x $missing y", "x $missing y"},
		{"trailing dot excluded", "End $title.", "End Hello."},
		{"bare dollar", "costs $ 5", "costs $ 5"},
		{"unterminated brace", "x ${oops", "x ${oops"},
		{"node formats as id", "id=$node", "id=n1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandBindings(tt.body, bindings))
		})
	}
}

func TestTemplateAssembler(t *testing.T) {
	a := &TemplateAssembler{}
	item := &types.AssemblyItem{
		ID: "i1",
		Template: &types.Template{
			ID:       "t1",
			Body:     "Hello $name!",
			MimeType: "text/html",
			Charset:  "utf-8",
		},
		Bindings: map[string]any{"$name": "world"},
	}

	results, err := a.Assemble(context.Background(), []*types.AssemblyItem{item})
	require.NoError(t, err)

	result := results[item]
	require.NotNil(t, result)
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, "Hello world!", string(result.Body))
	assert.Equal(t, "text/html", result.MimeType)
	assert.Equal(t, types.StatusSuccess, item.Status)
	assert.Equal(t, "Hello world!", string(item.Result))
}

func TestTemplateAssembler_CharsetEncoding(t *testing.T) {
	a := &TemplateAssembler{}
	item := &types.AssemblyItem{
		ID: "i1",
		Template: &types.Template{
			ID:       "t1",
			Body:     "café",
			MimeType: "text/html",
			Charset:  "iso-8859-1",
		},
	}

	results, err := a.Assemble(context.Background(), []*types.AssemblyItem{item})
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, results[item].Body)
}

func TestTemplateAssembler_UnknownCharset(t *testing.T) {
	a := &TemplateAssembler{}
	item := &types.AssemblyItem{
		ID: "i1",
		Template: &types.Template{
			ID:      "t1",
			Body:    "x",
			Charset: "no-such-charset",
		},
	}

	_, err := a.Assemble(context.Background(), []*types.AssemblyItem{item})
	require.Error(t, err)
}

func TestBinaryAssembler(t *testing.T) {
	a := &BinaryAssembler{}
	item := &types.AssemblyItem{
		ID:       "img-1",
		Node:     &types.ContentNode{ID: "img-1", Binary: []byte{0x89, 0x50}},
		Template: &types.Template{ID: "t-bin", Assembler: "binary", MimeType: "image/png"},
	}

	results, err := a.Assemble(context.Background(), []*types.AssemblyItem{item})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50}, results[item].Body)
	assert.Equal(t, "image/png", results[item].MimeType)

	_, err = a.Assemble(context.Background(), []*types.AssemblyItem{{ID: "no-node"}})
	assert.Error(t, err)
}

func TestDebugAssembler(t *testing.T) {
	a := &DebugAssembler{}
	item := &types.AssemblyItem{
		ID: "i1",
		Bindings: map[string]any{
			"$title": "Hello <b>",
			eval.SysError: map[string]string{
				"$broken": "unresolved reference",
			},
		},
	}

	results, err := a.Assemble(context.Background(), []*types.AssemblyItem{item})
	require.NoError(t, err)

	body := string(results[item].Body)
	assert.Contains(t, body, "$title")
	assert.Contains(t, body, "Hello &lt;b&gt;")
	assert.Contains(t, body, "$broken")
	assert.Contains(t, body, "unresolved reference")
	assert.Equal(t, "text/html", results[item].MimeType)
}
