// Package assembly contains the orchestrator that drives the whole
// pipeline and the pluggable assembler strategies that turn bound work
// items into rendered output.
package assembly

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"

	"github.com/vellum-cms/vellum/internal/errors"
	"github.com/vellum-cms/vellum/internal/eval"
	"github.com/vellum-cms/vellum/internal/types"
)

// DebugAssemblerName is the fixed identity items flagged for debugging
// are routed to instead of their template's declared assembler.
const DebugAssemblerName = "debug"

// LegacyPrefix marks assembler identifiers handled in legacy mode;
// legacy-handled items bypass debug routing.
const LegacyPrefix = "legacy."

// Assembler turns a batch of resolved, bound work items into rendered
// output. Implementations may batch-process the whole slice in one
// engine invocation.
type Assembler interface {
	Name() string
	Assemble(ctx context.Context, items []*types.AssemblyItem) (map[*types.AssemblyItem]*types.AssemblyResult, error)
}

// PreBinder is an optional extension point: assemblers implementing it
// are invoked per item after the environment is seeded and before the
// template's bindings are evaluated.
type PreBinder interface {
	PreBind(ctx context.Context, item *types.AssemblyItem, env *eval.Environment) error
}

// Registry holds the assembler implementations keyed by identifier.
type Registry struct {
	mu         sync.RWMutex
	assemblers map[string]Assembler
}

// NewRegistry creates a registry pre-populated with the built-in
// assemblers.
func NewRegistry() *Registry {
	r := &Registry{assemblers: make(map[string]Assembler)}
	r.Register(&TemplateAssembler{})
	r.Register(&DebugAssembler{})
	r.Register(&BinaryAssembler{})
	return r
}

// Register adds or replaces an assembler.
func (r *Registry) Register(a Assembler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assemblers[a.Name()] = a
}

// Get retrieves an assembler by identifier. Legacy-prefixed ids
// resolve to the same implementation as their modern spelling.
func (r *Registry) Get(name string) (Assembler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.assemblers[name]; ok {
		return a, true
	}
	if strings.HasPrefix(name, LegacyPrefix) {
		a, ok := r.assemblers[strings.TrimPrefix(name, LegacyPrefix)]
		return a, ok
	}
	return nil, false
}

// TemplateAssembler renders items by expanding $variable references in
// the template body from the item's bound environment.
type TemplateAssembler struct{}

// Name implements Assembler.
func (t *TemplateAssembler) Name() string { return "template" }

// Assemble implements Assembler.
func (t *TemplateAssembler) Assemble(ctx context.Context, items []*types.AssemblyItem) (map[*types.AssemblyItem]*types.AssemblyResult, error) {
	results := make(map[*types.AssemblyItem]*types.AssemblyResult, len(items))
	for _, item := range items {
		tmpl := item.Template
		if tmpl == nil {
			return nil, errors.NewResolutionError("no_template", "item has no template").WithItem(item.ID)
		}

		body := ExpandBindings(tmpl.Body, item.Bindings)
		encoded, err := encodeCharset([]byte(body), tmpl.Charset)
		if err != nil {
			return nil, err
		}

		item.Status = types.StatusSuccess
		item.Result = encoded
		item.MimeType = tmpl.MimeType
		results[item] = &types.AssemblyResult{
			Item:     item,
			Status:   types.StatusSuccess,
			Body:     encoded,
			MimeType: tmpl.MimeType,
		}
	}
	return results, nil
}

// BinaryAssembler passes the content node's binary payload through
// with the item's mime type.
type BinaryAssembler struct{}

// Name implements Assembler.
func (b *BinaryAssembler) Name() string { return "binary" }

// Assemble implements Assembler.
func (b *BinaryAssembler) Assemble(ctx context.Context, items []*types.AssemblyItem) (map[*types.AssemblyItem]*types.AssemblyResult, error) {
	results := make(map[*types.AssemblyItem]*types.AssemblyResult, len(items))
	for _, item := range items {
		if item.Node == nil {
			return nil, errors.NewResolutionError("no_content", "binary item has no content node").WithItem(item.ID)
		}
		mime := "application/octet-stream"
		if item.Template != nil && item.Template.MimeType != "" {
			mime = item.Template.MimeType
		}
		item.Status = types.StatusSuccess
		item.Result = item.Node.Binary
		item.MimeType = mime
		results[item] = &types.AssemblyResult{
			Item:     item,
			Status:   types.StatusSuccess,
			Body:     item.Node.Binary,
			MimeType: mime,
		}
	}
	return results, nil
}

// DebugAssembler renders an HTML dump of the item's bindings and any
// recorded evaluation errors instead of the template output.
type DebugAssembler struct{}

// Name implements Assembler.
func (d *DebugAssembler) Name() string { return DebugAssemblerName }

// Assemble implements Assembler.
func (d *DebugAssembler) Assemble(ctx context.Context, items []*types.AssemblyItem) (map[*types.AssemblyItem]*types.AssemblyResult, error) {
	results := make(map[*types.AssemblyItem]*types.AssemblyResult, len(items))
	for _, item := range items {
		body := renderDebug(item)
		item.Status = types.StatusSuccess
		item.Result = body
		item.MimeType = "text/html"
		results[item] = &types.AssemblyResult{
			Item:     item,
			Status:   types.StatusSuccess,
			Body:     body,
			MimeType: "text/html",
		}
	}
	return results, nil
}

func renderDebug(item *types.AssemblyItem) []byte {
	var b strings.Builder
	b.WriteString("<html><head><title>Assembly debug</title></head><body>")
	fmt.Fprintf(&b, "<h1>Debug: item %s</h1>", html.EscapeString(item.ID))

	b.WriteString("<h2>Bindings</h2><table border=\"1\"><tr><th>Variable</th><th>Value</th></tr>")
	for _, name := range sortedBindingNames(item.Bindings) {
		if name == eval.SysError {
			continue
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>",
			html.EscapeString(name),
			html.EscapeString(fmt.Sprintf("%v", item.Bindings[name])))
	}
	b.WriteString("</table>")

	if errMap, ok := item.Bindings[eval.SysError].(map[string]string); ok && len(errMap) > 0 {
		b.WriteString("<h2>Evaluation errors</h2><table border=\"1\"><tr><th>Variable</th><th>Error</th></tr>")
		names := make([]string, 0, len(errMap))
		for name := range errMap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>",
				html.EscapeString(name), html.EscapeString(errMap[name]))
		}
		b.WriteString("</table>")
	}

	b.WriteString("</body></html>")
	return []byte(b.String())
}

func sortedBindingNames(bindings map[string]any) []string {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExpandBindings substitutes $name and ${name} references in a
// template body from the bound environment. Unresolved references are
// left literal so authors can see what failed to bind.
func ExpandBindings(body string, bindings map[string]any) string {
	var out strings.Builder
	out.Grow(len(body))

	for i := 0; i < len(body); {
		c := body[i]
		if c != '$' || i+1 >= len(body) {
			out.WriteByte(c)
			i++
			continue
		}

		// ${name} form.
		if body[i+1] == '{' {
			end := strings.IndexByte(body[i+2:], '}')
			if end < 0 {
				out.WriteByte(c)
				i++
				continue
			}
			name := body[i+2 : i+2+end]
			if v, ok := lookupBinding(bindings, name); ok {
				out.WriteString(formatValue(v))
			} else {
				out.WriteString(body[i : i+3+end])
			}
			i += 3 + end
			continue
		}

		// $name form: letters, digits, underscore and dots.
		j := i + 1
		for j < len(body) && isRefByte(body[j]) {
			j++
		}
		// Trailing dots belong to the surrounding prose.
		for j > i+1 && body[j-1] == '.' {
			j--
		}
		if j == i+1 {
			out.WriteByte(c)
			i++
			continue
		}
		name := body[i+1 : j]
		if v, ok := lookupBinding(bindings, name); ok {
			out.WriteString(formatValue(v))
		} else {
			out.WriteString(body[i:j])
		}
		i = j
	}
	return out.String()
}

func isRefByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func lookupBinding(bindings map[string]any, name string) (any, bool) {
	if v, ok := bindings["$"+name]; ok {
		return v, true
	}
	if v, ok := bindings[name]; ok {
		return v, true
	}

	// Dotted navigation into a bound value, longest prefix first.
	for i := len(name); i > 0; i = strings.LastIndex(name[:i], ".") {
		base := name[:i]
		v, ok := bindings["$"+base]
		if !ok {
			v, ok = bindings[base]
		}
		if !ok {
			continue
		}
		rest := strings.TrimPrefix(name[i:], ".")
		if rest == "" {
			return v, true
		}
		return navigateBinding(v, strings.Split(rest, "."))
	}
	return nil, false
}

func navigateBinding(v any, path []string) (any, bool) {
	for _, seg := range path {
		switch t := v.(type) {
		case *types.ContentNode:
			if t == nil {
				return nil, false
			}
			fv, ok := t.Fields[seg]
			if !ok {
				return nil, false
			}
			v = fv
		case map[string]any:
			nv, ok := t[seg]
			if !ok {
				return nil, false
			}
			v = nv
		case map[string]string:
			nv, ok := t[seg]
			if !ok {
				return nil, false
			}
			v = nv
		default:
			return nil, false
		}
	}
	return v, true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *types.ContentNode:
		if t == nil {
			return ""
		}
		return t.ID
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
