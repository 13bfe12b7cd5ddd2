package content

import (
	"context"
	"regexp"
	"strings"

	"github.com/vellum-cms/vellum/internal/types"
)

// xmlns declaration, capturing the declared prefix.
var xmlnsPattern = regexp.MustCompile(`\s+xmlns(?::([A-Za-z_][\w.-]*))?\s*=\s*("[^"]*"|'[^']*')`)

// NamespaceInterceptor strips XML namespace declarations whose prefix
// is not on the site's allow-list, together with elements and
// attributes using a stripped prefix's qualified names. Allowed
// prefixes pass through untouched.
type NamespaceInterceptor struct {
	allowed map[string]struct{}
}

// NewNamespaceInterceptor creates the interceptor with an allow-list
// of namespace prefixes. The default (unprefixed) declaration is
// always kept.
func NewNamespaceInterceptor(allowedPrefixes []string) *NamespaceInterceptor {
	allowed := make(map[string]struct{}, len(allowedPrefixes))
	for _, p := range allowedPrefixes {
		allowed[p] = struct{}{}
	}
	return &NamespaceInterceptor{allowed: allowed}
}

// Name implements FieldInterceptor.
func (n *NamespaceInterceptor) Name() string { return "namespace-cleanup" }

// Intercept implements FieldInterceptor.
func (n *NamespaceInterceptor) Intercept(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, field, value string) (string, error) {
	var stripped []string

	out := xmlnsPattern.ReplaceAllStringFunc(value, func(decl string) string {
		m := xmlnsPattern.FindStringSubmatch(decl)
		prefix := m[1]
		if prefix == "" {
			return decl
		}
		if _, ok := n.allowed[prefix]; ok {
			return decl
		}
		stripped = append(stripped, prefix)
		return ""
	})

	for _, prefix := range stripped {
		out = stripPrefixedMarkup(out, prefix)
	}
	return out, nil
}

// stripPrefixedMarkup removes prefixed attributes and neutralizes
// prefixed element tags once their namespace declaration is gone.
func stripPrefixedMarkup(value, prefix string) string {
	attrPattern := regexp.MustCompile(`\s+` + regexp.QuoteMeta(prefix) + `:[\w.-]+\s*=\s*("[^"]*"|'[^']*')`)
	out := attrPattern.ReplaceAllString(value, "")

	tagPattern := regexp.MustCompile(`</?` + regexp.QuoteMeta(prefix) + `:[\w.-]+[^>]*>`)
	out = tagPattern.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
