package rewrite

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	xhtml "golang.org/x/net/html"

	"github.com/vellum-cms/vellum/internal/errors"
	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/types"
)

// Reserved marker attributes. They classify an element as a managed
// inline reference and are always stripped from the output.
const (
	AttrInlineType   = "data-vlm-inline"
	AttrDependent    = "data-vlm-dependent"
	AttrTemplate     = "data-vlm-template"
	AttrSite         = "data-vlm-site"
	AttrFolder       = "data-vlm-folder"
	AttrRelationship = "data-vlm-rel"
)

// Marker classes appended to rewritten elements.
const (
	ClassBrokenLink    = "broken-link"
	ClassNotPublicLink = "not-public-link"
)

var markerAttrs = map[string]struct{}{
	AttrInlineType:   {},
	AttrDependent:    {},
	AttrTemplate:     {},
	AttrSite:         {},
	AttrFolder:       {},
	AttrRelationship: {},
}

// Void elements never receive an end tag; the driver pops their frame
// immediately.
var voidElements = map[string]struct{}{
	"area": {}, "base": {}, "br": {}, "col": {}, "embed": {},
	"hr": {}, "img": {}, "input": {}, "link": {}, "meta": {},
	"param": {}, "source": {}, "track": {}, "wbr": {},
}

// Rewriter is the streaming inline-reference rewriting engine. It is
// installed as a field interceptor on the content loader; Intercept
// drives the state machine from an HTML tokenizer over one field
// value.
type Rewriter struct {
	resolver      TargetResolver
	behavior      BrokenLinkBehavior
	managedPrefix string
	logger        logging.Logger
}

// NewRewriter creates a rewriter.
func NewRewriter(resolver TargetResolver, behavior BrokenLinkBehavior, managedPrefix string, logger logging.Logger) *Rewriter {
	return &Rewriter{
		resolver:      resolver,
		behavior:      behavior,
		managedPrefix: managedPrefix,
		logger:        logger.WithComponent("inline-rewriter"),
	}
}

// Name implements the content loader's FieldInterceptor.
func (r *Rewriter) Name() string { return "inline-rewriter" }

// Intercept implements the content loader's FieldInterceptor.
func (r *Rewriter) Intercept(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, field, value string) (string, error) {
	return r.Rewrite(ctx, actx, item, value)
}

// Rewrite runs the state machine over one content body. A failure
// while resolving a single element is recorded to the problem
// collector and aborts the parse for this value; the loader renders a
// visible error block in its place.
func (r *Rewriter) Rewrite(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, value string) (string, error) {
	var out strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(value))
	m := NewMachine()

	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			if z.Err() == io.EOF {
				return out.String(), nil
			}
			return "", z.Err()

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			tok := z.Token()
			pending, err := r.startElement(ctx, actx, item, m, &out, tok, tt == xhtml.SelfClosingTagToken)
			if err != nil {
				return "", err
			}
			if pending != nil {
				// Inline-template elements swallow their own body; it
				// is captured raw and travels into the expansion.
				inner, ierr := captureInner(z, tok.Data)
				m.PopEnd()
				if ierr != nil {
					return "", ierr
				}
				if err := r.expandTemplate(ctx, actx, item, &out, tok, pending, inner); err != nil {
					return "", r.failElement(ctx, actx, item, tok, pending, err)
				}
			}

		case xhtml.EndTagToken:
			tok := z.Token()
			if st, ok := m.PopEnd(); ok && st == StatePassthrough {
				fmt.Fprintf(&out, "</%s>", tok.Data)
			}

		case xhtml.TextToken, xhtml.CommentToken, xhtml.DoctypeToken:
			if m.Renderable() {
				out.Write(z.Raw())
			}
		}
	}
}

// startElement handles one start tag: push the state frame, classify,
// resolve, and emit. An inline-template element that carries a body is
// returned to the caller, which captures the inner markup before
// expanding.
func (r *Rewriter) startElement(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, m *Machine, out *strings.Builder, tok xhtml.Token, selfClosing bool) (*types.InlineLink, error) {
	name := tok.Data
	_, void := voidElements[name]
	closes := selfClosing || void

	state := m.PushStart(name)
	if closes {
		defer m.PopEnd()
	}

	if state != StatePassthrough {
		return nil, nil
	}

	link := r.classify(name, tok.Attr)
	if link == nil {
		writeTag(out, name, tok.Attr, nil, nil, nil, selfClosing)
		return nil, nil
	}

	if link.Type == types.InlineTypeTemplate {
		if !closes {
			return link, nil
		}
		// Self-closing and void elements have no inner content.
		if err := r.expandTemplate(ctx, actx, item, out, tok, link, ""); err != nil {
			return nil, r.failElement(ctx, actx, item, tok, link, err)
		}
		return nil, nil
	}

	if err := r.rewriteElement(ctx, item, m, out, tok, link, selfClosing); err != nil {
		return nil, r.failElement(ctx, actx, item, tok, link, err)
	}
	return nil, nil
}

// failElement logs the full attribute set of the offending element for
// diagnosis, records the problem and wraps the error; the parse for
// this value is aborted.
func (r *Rewriter) failElement(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, tok xhtml.Token, link *types.InlineLink, err error) error {
	r.logger.Error(ctx, err, "inline reference rewrite failed",
		"item", item.ID,
		"element", tok.Data,
		"type", link.Type.String(),
		"attributes", formatAttrs(tok.Attr),
	)
	actx.Problems.Add(
		fmt.Sprintf("rewriting inline %s in element <%s %s>", link.Type, tok.Data, formatAttrs(tok.Attr)),
		err)
	return errors.NewRewritingError("inline_rewrite_failed",
		"rewriting inline "+link.Type.String(), err).WithItem(item.ID)
}

// captureInner consumes tokens through the element's matching end tag,
// returning the raw inner markup. The state machine never sees these
// tokens; the caller pops the element's frame afterwards.
func captureInner(z *xhtml.Tokenizer, name string) (string, error) {
	var b strings.Builder
	depth := 0
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			if z.Err() == io.EOF {
				return b.String(), nil
			}
			return "", z.Err()
		}
		raw := z.Raw()
		switch tt {
		case xhtml.StartTagToken:
			if n, _ := z.TagName(); string(n) == name {
				depth++
			}
		case xhtml.EndTagToken:
			if n, _ := z.TagName(); string(n) == name {
				if depth == 0 {
					return b.String(), nil
				}
				depth--
			}
		}
		b.Write(raw)
	}
}

// classify decides whether an element is a managed inline reference,
// by explicit marker attribute or by a managed-path href/src prefix.
func (r *Rewriter) classify(name string, attrs []xhtml.Attribute) *types.InlineLink {
	get := func(key string) string {
		for _, a := range attrs {
			if a.Key == key {
				return a.Val
			}
		}
		return ""
	}

	link := &types.InlineLink{
		DependentID:         get(AttrDependent),
		DependentTemplateID: get(AttrTemplate),
		SiteID:              get(AttrSite),
		FolderID:            get(AttrFolder),
		RelationshipID:      get(AttrRelationship),
		Overrides:           make(map[string]string),
	}

	switch get(AttrInlineType) {
	case "link", "hyperlink":
		link.Type = types.InlineTypeHyperlink
		return link
	case "image":
		link.Type = types.InlineTypeImage
		return link
	case "template", "variant":
		link.Type = types.InlineTypeTemplate
		return link
	}

	// Auto-managed references: href/src under the managed path prefix.
	if r.managedPrefix != "" {
		switch name {
		case "a":
			if href := get("href"); strings.HasPrefix(href, r.managedPrefix) {
				link.Type = types.InlineTypeHyperlink
				link.DependentID = DependentIDFromPath(href, r.managedPrefix)
				return link
			}
		case "img":
			if src := get("src"); strings.HasPrefix(src, r.managedPrefix) {
				link.Type = types.InlineTypeImage
				link.DependentID = DependentIDFromPath(src, r.managedPrefix)
				return link
			}
		}
	}
	return nil
}

func (r *Rewriter) rewriteElement(ctx context.Context, item *types.AssemblyItem, m *Machine, out *strings.Builder, tok xhtml.Token, link *types.InlineLink, selfClosing bool) error {
	switch link.Type {
	case types.InlineTypeHyperlink:
		return r.rewriteHyperlink(ctx, item, out, tok, link, selfClosing)
	case types.InlineTypeImage:
		return r.rewriteImage(ctx, item, m, out, tok, link, selfClosing)
	default:
		return fmt.Errorf("unclassified inline type %d", link.Type)
	}
}

func (r *Rewriter) rewriteHyperlink(ctx context.Context, item *types.AssemblyItem, out *strings.Builder, tok xhtml.Token, link *types.InlineLink, selfClosing bool) error {
	target, resolved, err := r.resolver.Resolve(ctx, link, item.Context)
	if err != nil {
		return err
	}

	var classAdd []string
	if resolved {
		link.Overrides["href"] = target.Location
		if target.NotPublic {
			link.NotPublic = true
			classAdd = append(classAdd, ClassNotPublicLink)
		}
	} else {
		link.Broken = true
		classAdd = append(classAdd, ClassBrokenLink)
		switch r.behavior {
		case BrokenLinkDeadlink:
			link.Overrides["href"] = "#"
		case BrokenLinkRemove:
			// Empty override omits the attribute on output.
			link.Overrides["href"] = ""
		case BrokenLinkLeave:
			// Original value passes through unmodified.
		}
	}

	writeTag(out, tok.Data, tok.Attr, link.Overrides, classAdd, nil, selfClosing)
	return nil
}

func (r *Rewriter) rewriteImage(ctx context.Context, item *types.AssemblyItem, m *Machine, out *strings.Builder, tok xhtml.Token, link *types.InlineLink, selfClosing bool) error {
	target, resolved, err := r.resolver.Resolve(ctx, link, item.Context)
	if err != nil {
		return err
	}

	if !resolved {
		if item.Context != 0 {
			// Live and staged contexts suppress the broken image
			// entirely rather than rendering it.
			m.SetCurrent(StateIgnore)
			return nil
		}
		link.Broken = true
		writeTag(out, tok.Data, tok.Attr, link.Overrides, []string{ClassBrokenLink}, nil, selfClosing)
		return nil
	}

	link.Overrides["src"] = target.Location
	// Metadata-sourced alt/title yield to explicit author overrides.
	if target.AltText != "" && attrValue(tok.Attr, "alt") == "" {
		link.Overrides["alt"] = target.AltText
	}
	if target.Title != "" && attrValue(tok.Attr, "title") == "" {
		link.Overrides["title"] = target.Title
	}
	var classAdd []string
	if target.NotPublic {
		link.NotPublic = true
		classAdd = append(classAdd, ClassNotPublicLink)
	}
	writeTag(out, tok.Data, tok.Attr, link.Overrides, classAdd, nil, selfClosing)
	return nil
}

// expandTemplate assembles the dependent item for an inline-template
// element and emits its replacement body. The source element's inner
// markup travels on the dependent item, where the binder surfaces it
// as a reserved binding.
func (r *Rewriter) expandTemplate(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, out *strings.Builder, tok xhtml.Token, link *types.InlineLink, inner string) error {
	if actx == nil || actx.Expand == nil {
		return fmt.Errorf("no inline expander available")
	}

	dependent := item.Clone()
	dependent.ID = link.DependentID
	dependent.Revision = 0
	dependent.TemplateID = link.DependentTemplateID
	dependent.Template = nil
	dependent.TemplateName = ""
	dependent.InnerContent = inner
	if link.SiteID != "" {
		dependent.SiteID = link.SiteID
	}
	if link.FolderID != "" {
		dependent.FolderID = link.FolderID
	}

	result, err := actx.Expand(actx, dependent)
	if err != nil {
		return fmt.Errorf("assembling inline template for item %s: %w", link.DependentID, err)
	}
	if result.Status != types.StatusSuccess {
		return fmt.Errorf("inline template assembly for item %s failed", link.DependentID)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") {
		return fmt.Errorf("inline template for item %s produced non-HTML output %q",
			link.DependentID, result.MimeType)
	}

	link.ReplacementBody = string(result.Body)
	return writeReplacement(out, link.ReplacementBody)
}

// writeReplacement re-parses an inline-template replacement body. Full
// documents start under StateIgnoreToBody so only the body content
// survives; bare fragments pass straight through. No re-classification
// happens here: the replacement was produced by a complete assembly of
// the dependent item, whose own fields were already rewritten.
func writeReplacement(out *strings.Builder, body string) error {
	initial := StatePassthrough
	if strings.Contains(strings.ToLower(body), "<body") {
		initial = StateIgnoreToBody
	}

	z := xhtml.NewTokenizer(strings.NewReader(body))
	m := NewFragmentMachine(initial)

	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			if z.Err() == io.EOF {
				return nil
			}
			return z.Err()

		case xhtml.StartTagToken:
			tok := z.Token()
			if _, void := voidElements[tok.Data]; void {
				if m.PushStart(tok.Data) == StatePassthrough {
					writeTag(out, tok.Data, tok.Attr, nil, nil, nil, false)
				}
				m.PopEnd()
				continue
			}
			if m.PushStart(tok.Data) == StatePassthrough {
				writeTag(out, tok.Data, tok.Attr, nil, nil, nil, false)
			}

		case xhtml.SelfClosingTagToken:
			tok := z.Token()
			if m.PushStart(tok.Data) == StatePassthrough {
				writeTag(out, tok.Data, tok.Attr, nil, nil, nil, true)
			}
			m.PopEnd()

		case xhtml.EndTagToken:
			tok := z.Token()
			if st, ok := m.PopEnd(); ok && st == StatePassthrough {
				fmt.Fprintf(out, "</%s>", tok.Data)
			}

		case xhtml.TextToken, xhtml.CommentToken, xhtml.DoctypeToken:
			if m.Renderable() {
				out.Write(z.Raw())
			}
		}
	}
}

func attrValue(attrs []xhtml.Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func formatAttrs(attrs []xhtml.Attribute) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, fmt.Sprintf("%s=%q", a.Key, a.Val))
	}
	return strings.Join(parts, " ")
}

// writeTag emits one start tag. Output attributes merge explicit
// overrides over original source values; reserved marker attributes
// are always stripped; the class attribute is recomputed from the
// original tokens plus marker-class additions and removals without
// duplicates. An empty href override omits the attribute.
func writeTag(out *strings.Builder, name string, attrs []xhtml.Attribute, overrides map[string]string, classAdd, classRemove []string, selfClosing bool) {
	out.WriteByte('<')
	out.WriteString(name)

	consumed := make(map[string]struct{})
	classWritten := false

	for _, a := range attrs {
		if _, marker := markerAttrs[a.Key]; marker {
			continue
		}

		value := a.Val
		if overrides != nil {
			if ov, ok := overrides[a.Key]; ok {
				value = ov
				consumed[a.Key] = struct{}{}
			}
		}

		if a.Key == "class" {
			value = mergeClasses(value, classAdd, classRemove)
			classWritten = true
			if value == "" {
				continue
			}
		}

		if a.Key == "href" && value == "" {
			if _, overridden := consumed[a.Key]; overridden {
				continue
			}
		}

		writeAttr(out, a.Key, value)
	}

	// Overrides for attributes absent from the source.
	for _, key := range sortedKeys(overrides) {
		if _, ok := consumed[key]; ok {
			continue
		}
		if hasAttr(attrs, key) {
			continue
		}
		if overrides[key] == "" {
			continue
		}
		writeAttr(out, key, overrides[key])
	}

	if !classWritten {
		if merged := mergeClasses("", classAdd, classRemove); merged != "" {
			writeAttr(out, "class", merged)
		}
	}

	if selfClosing {
		out.WriteString("/>")
	} else {
		out.WriteByte('>')
	}
}

func hasAttr(attrs []xhtml.Attribute, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

func writeAttr(out *strings.Builder, key, value string) {
	out.WriteByte(' ')
	out.WriteString(key)
	out.WriteString(`="`)
	out.WriteString(html.EscapeString(value))
	out.WriteByte('"')
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion sort keeps output attribute order deterministic.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// mergeClasses rebuilds a class attribute: original tokens minus
// removals, plus additions, each token at most once in first-seen
// order.
func mergeClasses(existing string, add, remove []string) string {
	removeSet := make(map[string]struct{}, len(remove))
	for _, c := range remove {
		removeSet[c] = struct{}{}
	}

	seen := make(map[string]struct{})
	var tokens []string
	appendToken := func(c string) {
		if c == "" {
			return
		}
		if _, drop := removeSet[c]; drop {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		tokens = append(tokens, c)
	}

	for _, c := range strings.Fields(existing) {
		appendToken(c)
	}
	for _, c := range add {
		appendToken(c)
	}
	return strings.Join(tokens, " ")
}
