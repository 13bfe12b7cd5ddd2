package content

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/vellum-cms/vellum/internal/eval"
	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/repository"
	"github.com/vellum-cms/vellum/internal/types"
)

// FieldInterceptor transforms one field value at content-load time.
// Interceptors run in chain order; an error aborts the chain for that
// field and the loader substitutes a visible error block so the
// assembly itself keeps going.
type FieldInterceptor interface {
	Name() string
	Intercept(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, field, value string) (string, error)
}

// Loader loads content nodes for work items, applying the interceptor
// chain and the content cache.
type Loader struct {
	repo         repository.ContentRepository
	cache        *Cache
	interceptors []FieldInterceptor
	logger       logging.Logger

	// navContentType triggers the navigation-proxy substitution.
	navContentType string
}

// NewLoader creates a loader. cache may be nil to disable caching.
func NewLoader(repo repository.ContentRepository, cache *Cache, navContentType string, logger logging.Logger, interceptors ...FieldInterceptor) *Loader {
	return &Loader{
		repo:           repo,
		cache:          cache,
		interceptors:   interceptors,
		navContentType: navContentType,
		logger:         logger.WithComponent("content-loader"),
	}
}

// NavigationProxyType is the content type of the proxy node substituted
// for navigation-category items.
const NavigationProxyType = "navigation-proxy"

// Load binds a content node onto the item if it lacks one, consulting
// the cache first. Interceptors run on every markup-bearing field of a
// freshly loaded node; cached nodes were intercepted when first loaded
// and their cache key discriminates filter, AA flag and context.
func (l *Loader) Load(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, env *eval.Environment) error {
	if item.Node != nil {
		return nil
	}

	key := types.ContentCacheKey{
		ItemID:   item.ID,
		FilterID: item.FilterID,
		AA:       item.Param(eval.ParamCommand) == eval.CommandActiveAssembly,
		Context:  item.Context,
	}

	if l.cache != nil {
		if node, ok := l.cache.Get(key); ok {
			l.bind(item, env, node)
			return nil
		}
	}

	node, err := l.repo.LoadNode(ctx, item.ID, item.Revision)
	if err != nil {
		return err
	}

	l.runInterceptors(ctx, actx, item, node)

	if node.ContentType == l.navContentType {
		node = l.navigationProxy(node)
	}

	if l.cache != nil {
		l.cache.Put(key, node)
	}
	l.bind(item, env, node)
	return nil
}

func (l *Loader) bind(item *types.AssemblyItem, env *eval.Environment, node *types.ContentNode) {
	item.Node = node
	if env == nil {
		return
	}
	env.Set(eval.SysItem, node)
	// Navigation bindings belong to the proxy node, not to the load
	// path: a cached proxy must produce the same environment as a
	// freshly substituted one.
	if node.ContentType == NavigationProxyType {
		env.Set("$nav.self", node)
		env.Set("$nav.axis", "self")
	}
}

func (l *Loader) runInterceptors(ctx context.Context, actx *types.AssemblyContext, item *types.AssemblyItem, node *types.ContentNode) {
	for field, value := range node.Fields {
		if !strings.Contains(value, "<") {
			continue
		}
		out := value
		var failed error
		for _, ic := range l.interceptors {
			next, err := ic.Intercept(ctx, actx, item, field, out)
			if err != nil {
				failed = err
				l.logger.Error(ctx, err, "field interceptor failed",
					"interceptor", ic.Name(),
					"item", item.ID,
					"field", field,
				)
				break
			}
			out = next
		}
		if failed != nil {
			// Rewriting failures never escape the loader; the value is
			// replaced with a visible error block instead.
			node.Fields[field] = errorBlock(field, failed)
			continue
		}
		node.Fields[field] = out
	}
}

func errorBlock(field string, err error) string {
	return fmt.Sprintf(
		`<div class="assembly-error"><strong>Error processing field %s:</strong> %s</div>`,
		html.EscapeString(field), html.EscapeString(err.Error()))
}

// navigationProxy substitutes a navigation-category node with a proxy
// node; bind injects the navigation bindings whenever a proxy is bound.
func (l *Loader) navigationProxy(node *types.ContentNode) *types.ContentNode {
	return &types.ContentNode{
		ID:          node.ID,
		Revision:    node.Revision,
		ContentType: NavigationProxyType,
		Fields:      node.Fields,
		Public:      node.Public,
	}
}
