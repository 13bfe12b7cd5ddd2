package rewrite

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/types"
)

type stubResolver struct {
	targets map[string]*Target
	err     error
}

func (s *stubResolver) Resolve(ctx context.Context, link *types.InlineLink, assemblyContext int) (*Target, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	t, ok := s.targets[link.DependentID]
	return t, ok, nil
}

func newTestRewriter(resolver TargetResolver, behavior BrokenLinkBehavior) *Rewriter {
	return NewRewriter(resolver, behavior, "/content/", logging.NewNopLogger())
}

func testItem(assemblyContext int) (*types.AssemblyContext, *types.AssemblyItem) {
	actx := types.NewAssemblyContext(8)
	item := &types.AssemblyItem{
		ID:      "page-1",
		Context: assemblyContext,
		Params:  map[string][]string{},
	}
	return actx, item
}

func TestRewrite_UnmanagedMarkupPassesThrough(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	in := `<div class="x"><p>hello <em>world</em></p><!-- note --><a href="/external">out</a></div>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.False(t, actx.Problems.HasProblems())
}

func TestRewrite_HyperlinkResolved(t *testing.T) {
	r := newTestRewriter(&stubResolver{targets: map[string]*Target{
		"doc-9": {Location: "/item/doc-9"},
	}}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	in := `<a href="/old" data-vlm-inline="link" data-vlm-dependent="doc-9">read</a>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Equal(t, `<a href="/item/doc-9">read</a>`, out)
}

func TestRewrite_HyperlinkNotPublic(t *testing.T) {
	r := newTestRewriter(&stubResolver{targets: map[string]*Target{
		"doc-9": {Location: "/item/doc-9", NotPublic: true},
	}}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	in := `<a href="/old" data-vlm-inline="link" data-vlm-dependent="doc-9">read</a>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Equal(t, `<a href="/item/doc-9" class="not-public-link">read</a>`, out)
}

func TestRewrite_BrokenLinkBehaviors(t *testing.T) {
	in := `<a href="/old" data-vlm-inline="link" data-vlm-dependent="gone">read</a>`

	tests := []struct {
		name     string
		behavior BrokenLinkBehavior
		want     string
	}{
		{"deadlink", BrokenLinkDeadlink, `<a href="#" class="broken-link">read</a>`},
		{"removelink", BrokenLinkRemove, `<a class="broken-link">read</a>`},
		{"leavelink", BrokenLinkLeave, `<a href="/old" class="broken-link">read</a>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRewriter(&stubResolver{}, tt.behavior)
			actx, item := testItem(0)

			out, err := r.Rewrite(context.Background(), actx, item, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRewrite_ManagedPathAutoDetection(t *testing.T) {
	r := newTestRewriter(&stubResolver{targets: map[string]*Target{
		"page-7": {Location: "/item/page-7"},
	}}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	in := `<a href="/content/folder/page-7.html">go</a>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Equal(t, `<a href="/item/page-7">go</a>`, out)
}

func TestRewrite_ImageBrokenInPreviewGetsMarkerClass(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	in := `<img src="/pic" data-vlm-inline="image" data-vlm-dependent="gone">`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Equal(t, `<img src="/pic" class="broken-link">`, out)
}

func TestRewrite_ImageBrokenInLiveContextSuppressed(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(301)

	in := `<p>before<img src="/pic" data-vlm-inline="image" data-vlm-dependent="gone">after</p>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Equal(t, `<p>beforeafter</p>`, out)
}

func TestRewrite_ImageMetadataYieldsToAuthorAttrs(t *testing.T) {
	resolver := &stubResolver{targets: map[string]*Target{
		"img-1": {Location: "/item/img-1", AltText: "meta alt", Title: "meta title"},
	}}

	t.Run("metadata applied when absent", func(t *testing.T) {
		r := newTestRewriter(resolver, BrokenLinkDeadlink)
		actx, item := testItem(0)

		out, err := r.Rewrite(context.Background(), actx, item,
			`<img src="/x" data-vlm-inline="image" data-vlm-dependent="img-1">`)
		require.NoError(t, err)
		assert.Contains(t, out, `src="/item/img-1"`)
		assert.Contains(t, out, `alt="meta alt"`)
		assert.Contains(t, out, `title="meta title"`)
	})

	t.Run("author attributes win", func(t *testing.T) {
		r := newTestRewriter(resolver, BrokenLinkDeadlink)
		actx, item := testItem(0)

		out, err := r.Rewrite(context.Background(), actx, item,
			`<img src="/x" alt="mine" data-vlm-inline="image" data-vlm-dependent="img-1">`)
		require.NoError(t, err)
		assert.Contains(t, out, `alt="mine"`)
		assert.NotContains(t, out, "meta alt")
	})
}

func TestRewrite_IdempotentMarkerClasses(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)

	in := `<img src="/content/gone.png">`

	actx, item := testItem(0)
	first, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)

	actx2, item2 := testItem(0)
	second, err := r.Rewrite(context.Background(), actx2, item2, first)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(second, "broken-link"))
}

func TestRewrite_InlineTemplateExpansion(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	var expandedID string
	actx.Expand = func(parent *types.AssemblyContext, dep *types.AssemblyItem) (*types.AssemblyResult, error) {
		expandedID = dep.ID
		return &types.AssemblyResult{
			Item:     dep,
			Status:   types.StatusSuccess,
			Body:     []byte(`<html><head><title>t</title></head><body><p>expanded</p></body></html>`),
			MimeType: "text/html",
		}, nil
	}

	in := `<div data-vlm-inline="template" data-vlm-dependent="snip-1" data-vlm-template="t-snippet">original body</div>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)

	assert.Equal(t, "snip-1", expandedID)
	assert.Contains(t, out, "<p>expanded</p>")
	assert.NotContains(t, out, "original body")
	assert.NotContains(t, out, "<html")
	assert.NotContains(t, out, "<title")
}

func TestRewrite_InlineTemplateReceivesInnerContent(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	var inner string
	actx.Expand = func(parent *types.AssemblyContext, dep *types.AssemblyItem) (*types.AssemblyResult, error) {
		inner = dep.InnerContent
		return &types.AssemblyResult{
			Item:     dep,
			Status:   types.StatusSuccess,
			Body:     []byte(`<span>done</span>`),
			MimeType: "text/html",
		}, nil
	}

	in := `<div data-vlm-inline="template" data-vlm-dependent="snip-1"><p>keep <em>markup</em></p></div><p>tail</p>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)

	// The element's raw inner markup travels into the expansion and is
	// removed from the output in favor of the replacement.
	assert.Equal(t, `<p>keep <em>markup</em></p>`, inner)
	assert.Equal(t, `<span>done</span><p>tail</p>`, out)
}

func TestRewrite_InlineTemplateNestedSameElement(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	var inner string
	actx.Expand = func(parent *types.AssemblyContext, dep *types.AssemblyItem) (*types.AssemblyResult, error) {
		inner = dep.InnerContent
		return &types.AssemblyResult{
			Item:     dep,
			Status:   types.StatusSuccess,
			Body:     []byte(`x`),
			MimeType: "text/html",
		}, nil
	}

	// A nested div must not terminate the capture early.
	in := `<div data-vlm-inline="template" data-vlm-dependent="snip-1"><div>a</div></div><p>after</p>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Equal(t, `<div>a</div>`, inner)
	assert.Equal(t, `x<p>after</p>`, out)
}

func TestRewrite_InlineTemplateFragmentReplacement(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	actx.Expand = func(parent *types.AssemblyContext, dep *types.AssemblyItem) (*types.AssemblyResult, error) {
		return &types.AssemblyResult{
			Item:     dep,
			Status:   types.StatusSuccess,
			Body:     []byte(`<span class="s">frag</span>`),
			MimeType: "text/html",
		}, nil
	}

	in := `<div data-vlm-inline="template" data-vlm-dependent="snip-1">old</div>`
	out, err := r.Rewrite(context.Background(), actx, item, in)
	require.NoError(t, err)
	assert.Contains(t, out, `<span class="s">frag</span>`)
	assert.NotContains(t, out, "old")
}

func TestRewrite_InlineTemplateNonHTMLRejected(t *testing.T) {
	r := newTestRewriter(&stubResolver{}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	actx.Expand = func(parent *types.AssemblyContext, dep *types.AssemblyItem) (*types.AssemblyResult, error) {
		return &types.AssemblyResult{
			Item:     dep,
			Status:   types.StatusSuccess,
			Body:     []byte(`{"not":"html"}`),
			MimeType: "application/json",
		}, nil
	}

	in := `<div data-vlm-inline="template" data-vlm-dependent="snip-1">old</div>`
	_, err := r.Rewrite(context.Background(), actx, item, in)
	require.Error(t, err)
	assert.True(t, actx.Problems.HasProblems())
}

func TestRewrite_ResolverErrorAbortsAndRecordsProblem(t *testing.T) {
	r := newTestRewriter(&stubResolver{err: fmt.Errorf("repository down")}, BrokenLinkDeadlink)
	actx, item := testItem(0)

	in := `<a data-vlm-inline="link" data-vlm-dependent="doc-9">x</a>`
	_, err := r.Rewrite(context.Background(), actx, item, in)
	require.Error(t, err)
	require.True(t, actx.Problems.HasProblems())

	problems := actx.Problems.Problems()
	assert.Contains(t, problems[0].Description, "data-vlm-dependent")
}

func TestDependentIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/content/a/b/page-7.html", "page-7"},
		{"/content/page-7", "page-7"},
		{"/content/page-7?x=1", "page-7"},
		{"/content/page-7#frag", "page-7"},
		{"/content/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DependentIDFromPath(tt.path, "/content/"), tt.path)
	}
}

func TestMergeClasses(t *testing.T) {
	assert.Equal(t, "a b c", mergeClasses("a b", []string{"c", "b"}, nil))
	assert.Equal(t, "a", mergeClasses("a b", nil, []string{"b"}))
	assert.Equal(t, "", mergeClasses("", nil, nil))
	assert.Equal(t, "x", mergeClasses("x x x", nil, nil))
}
