package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblyItem_Clone(t *testing.T) {
	tmpl := &Template{ID: "t1"}
	original := &AssemblyItem{
		ID:       "i1",
		Revision: 2,
		Template: tmpl,
		Node:     &ContentNode{ID: "i1"},
		Params:   map[string][]string{"sys_context": {"301"}},
		Bindings: map[string]any{"$x": 1},
		Result:   []byte("rendered"),
		Status:   StatusFailure,
		SiteID:   "s1",
		Context:  301,
	}

	c := original.Clone()

	assert.Equal(t, "i1", c.ID)
	assert.Equal(t, "s1", c.SiteID)
	assert.Same(t, tmpl, c.Template, "template reference is shared")

	// Derived state is reset.
	assert.Nil(t, c.Node)
	assert.Nil(t, c.Bindings)
	assert.Nil(t, c.Result)
	assert.Equal(t, StatusSuccess, c.Status)

	// Parameters are deep-copied.
	c.SetParam("sys_context", "0")
	assert.Equal(t, "301", original.Param("sys_context"))
}

func TestAssemblyItem_Params(t *testing.T) {
	item := &AssemblyItem{}
	assert.Equal(t, "", item.Param("missing"))

	item.SetParam("sys_page", "2")
	assert.Equal(t, "2", item.Param("sys_page"))

	item.Params["multi"] = []string{"a", "b"}
	assert.Equal(t, "a", item.Param("multi"))
}

func TestContentNode_Size(t *testing.T) {
	var nilNode *ContentNode
	assert.Equal(t, int64(0), nilNode.Size())

	node := &ContentNode{
		ID:          "ab",
		ContentType: "page",
		Fields:      map[string]string{"k": "vvv"},
		Binary:      []byte{1, 2, 3},
	}
	// 2 + 4 + (1+3) + 3
	assert.Equal(t, int64(13), node.Size())
}

func TestContentCacheKey_Discrimination(t *testing.T) {
	cache := map[ContentCacheKey]string{}

	cache[ContentCacheKey{ItemID: "a"}] = "preview"
	cache[ContentCacheKey{ItemID: "a", Context: 301}] = "live"
	cache[ContentCacheKey{ItemID: "a", AA: true}] = "aa"
	cache[ContentCacheKey{ItemID: "a", FilterID: "public"}] = "filtered"

	assert.Len(t, cache, 4)
	assert.Equal(t, "preview", cache[ContentCacheKey{ItemID: "a"}])
	assert.Contains(t, ContentCacheKey{ItemID: "a", AA: true, Context: 2}.String(), "aa=true")
}

func TestAssemblyContext_ChildSharesProblems(t *testing.T) {
	actx := NewAssemblyContext(4)
	require.NotNil(t, actx.Problems)
	assert.Equal(t, 0, actx.Depth)

	child := actx.Child()
	grand := child.Child()

	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 2, grand.Depth)
	assert.Same(t, actx.Problems, grand.Problems)

	grand.Problems.Add("deep failure", nil)
	assert.True(t, actx.Problems.HasProblems())
}

func TestAssemblyContext_AtDepthLimit(t *testing.T) {
	actx := NewAssemblyContext(2)
	assert.False(t, actx.AtDepthLimit())
	assert.False(t, actx.Child().AtDepthLimit())
	assert.True(t, actx.Child().Child().AtDepthLimit())

	// Zero disables the bound.
	unbounded := NewAssemblyContext(0)
	deep := unbounded
	for i := 0; i < 50; i++ {
		deep = deep.Child()
	}
	assert.False(t, deep.AtDepthLimit())
}

func TestTemplate_AppliesTo(t *testing.T) {
	open := &Template{ID: "t1"}
	assert.True(t, open.AppliesTo("anything"))

	scoped := &Template{ID: "t2", ContentTypes: []string{"article", "news"}}
	assert.True(t, scoped.AppliesTo("news"))
	assert.False(t, scoped.AppliesTo("image"))
}
