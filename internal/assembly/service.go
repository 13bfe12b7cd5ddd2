package assembly

import (
	"context"
	"fmt"
	"strings"

	"github.com/vellum-cms/vellum/internal/content"
	"github.com/vellum-cms/vellum/internal/errors"
	"github.com/vellum-cms/vellum/internal/eval"
	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/registry"
	"github.com/vellum-cms/vellum/internal/repository"
	"github.com/vellum-cms/vellum/internal/types"
)

// PaginationPlaceholder is the fixed result substituted for items
// deferred into the paginated set in non-preview contexts.
const PaginationPlaceholder = "<html><body>Pagination is not supported in this assembly context.</body></html>"

// Options tunes the orchestrator.
type Options struct {
	// MaxInlineDepth bounds recursive inline-template expansion.
	MaxInlineDepth int
	// MaxItemSizeBytes is the post-assembly cache retention limit;
	// loaded nodes larger than this are evicted from the content
	// cache after the batch completes.
	MaxItemSizeBytes int64
}

// Service is the assembly orchestrator: the top-level entry point that
// groups work items by assembler, drives binding evaluation and
// content loading, routes pagination and debug items, dispatches
// per-assembler batches and applies post-assembly cache eviction.
type Service struct {
	resolver   *registry.Resolver
	loader     *content.Loader
	cache      *content.Cache
	repo       repository.ContentRepository
	binder     *eval.Binder
	assemblers *Registry
	logger     logging.Logger
	opts       Options
}

// NewService wires the orchestrator. cache may be nil when caching is
// disabled.
func NewService(resolver *registry.Resolver, loader *content.Loader, cache *content.Cache, repo repository.ContentRepository, binder *eval.Binder, assemblers *Registry, logger logging.Logger, opts Options) *Service {
	return &Service{
		resolver:   resolver,
		loader:     loader,
		cache:      cache,
		repo:       repo,
		binder:     binder,
		assemblers: assemblers,
		logger:     logger.WithComponent("orchestrator"),
		opts:       opts,
	}
}

type assemblerGroup struct {
	assemblerID string
	items       []*types.AssemblyItem
}

// Assemble processes a batch of work items and returns results in
// input order. Items whose template cannot be resolved are dropped
// with a warning; a failure inside one assembler group is logged and
// that group contributes no results, without aborting other groups.
func (s *Service) Assemble(ctx context.Context, items []*types.AssemblyItem) ([]*types.AssemblyResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	s.resolveTemplates(ctx, items)

	results := make(map[*types.AssemblyItem]*types.AssemblyResult, len(items))
	for _, group := range groupByAssembler(items) {
		groupResults, err := s.assembleGroup(ctx, group.assemblerID, group.items)
		if err != nil {
			// Partial-failure isolation at group granularity.
			s.logger.Error(ctx, err, "assembler group failed",
				"assembler", group.assemblerID,
				"items", len(group.items),
			)
			continue
		}
		for item, result := range groupResults {
			results[item] = result
		}
	}

	s.evictOversized(ctx, items)

	ordered := make([]*types.AssemblyResult, 0, len(results))
	for _, item := range items {
		if result, ok := results[item]; ok {
			ordered = append(ordered, result)
		}
	}
	return ordered, nil
}

// AssembleSingle assembles one item, for the preview server and the
// CLI.
func (s *Service) AssembleSingle(ctx context.Context, item *types.AssemblyItem) (*types.AssemblyResult, error) {
	results, err := s.Assemble(ctx, []*types.AssemblyItem{item})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.NewResolutionError("no_result",
			"item produced no assembly result").WithItem(item.ID)
	}
	return results[0], nil
}

// resolveTemplates fills in missing templates: by id where one is
// requested, otherwise by (name, content type) pair, batch-loading the
// content-type metadata for all such items in one round trip.
// Unresolved items keep a nil template and are skipped downstream.
func (s *Service) resolveTemplates(ctx context.Context, items []*types.AssemblyItem) {
	var byName []*types.AssemblyItem

	for _, item := range items {
		if item.Template != nil {
			continue
		}
		if item.TemplateID == "" {
			item.TemplateID = item.Param(eval.ParamVariantID)
		}
		if item.TemplateID == "" && item.TemplateName == "" {
			item.TemplateName = item.Param(eval.ParamTemplate)
		}

		if item.TemplateID != "" {
			t, err := s.resolver.TemplateByID(ctx, item.TemplateID)
			if err != nil {
				s.logger.Warn(ctx, err, "dropping item: template not resolvable",
					"item", item.ID, "template", item.TemplateID)
				continue
			}
			item.Template = t
			continue
		}
		if item.TemplateName != "" {
			byName = append(byName, item)
			continue
		}
		s.logger.Warn(ctx, nil, "dropping item: no template requested", "item", item.ID)
	}

	if len(byName) == 0 {
		return
	}

	ids := make([]string, 0, len(byName))
	for _, item := range byName {
		ids = append(ids, item.ID)
	}
	contentTypes, err := s.repo.ContentTypes(ctx, ids)
	if err != nil {
		s.logger.Error(ctx, err, "batch content-type lookup failed", "items", len(ids))
		return
	}

	for _, item := range byName {
		t, err := s.resolver.FindTemplate(ctx, item.TemplateName, contentTypes[item.ID])
		if err != nil {
			s.logger.Warn(ctx, err, "dropping item: template not resolvable",
				"item", item.ID, "template", item.TemplateName)
			continue
		}
		item.Template = t
	}
}

// groupByAssembler partitions items by the assembler identifier
// declared on each item's template, preserving first-seen group order.
// Template-less items are excluded.
func groupByAssembler(items []*types.AssemblyItem) []assemblerGroup {
	var groups []assemblerGroup
	indexOf := make(map[string]int)

	for _, item := range items {
		if item.Template == nil {
			continue
		}
		id := item.Template.Assembler
		i, ok := indexOf[id]
		if !ok {
			i = len(groups)
			indexOf[id] = i
			groups = append(groups, assemblerGroup{assemblerID: id})
		}
		groups[i].items = append(groups[i].items, item)
	}
	return groups
}

func (s *Service) assembleGroup(ctx context.Context, assemblerID string, items []*types.AssemblyItem) (map[*types.AssemblyItem]*types.AssemblyResult, error) {
	impl, ok := s.assemblers.Get(assemblerID)
	if !ok {
		return nil, errors.NewResolutionError("assembler_not_found",
			"no assembler registered for "+assemblerID)
	}
	legacy := strings.HasPrefix(assemblerID, LegacyPrefix)

	var (
		mainBatch  []*types.AssemblyItem
		debugItems []*types.AssemblyItem
		paginated  []*types.AssemblyItem
	)
	contexts := make(map[*types.AssemblyItem]*types.AssemblyContext, len(items))

	for _, item := range items {
		actx := s.newContext(ctx)
		contexts[item] = actx

		// The environment is seeded before content loading so the
		// rewriting interceptors observe the same variables.
		env := s.binder.NewEnvironment(item)

		if pb, ok := impl.(PreBinder); ok {
			if err := pb.PreBind(ctx, item, env); err != nil {
				return nil, err
			}
		}

		if err := s.loader.Load(ctx, actx, item, env); err != nil {
			return nil, err
		}

		// Debug items tolerate binding failures; otherwise the error
		// propagates and aborts the remainder of this group.
		if err := s.binder.BindTemplate(ctx, item, env, item.Debug); err != nil {
			return nil, err
		}

		if s.deferForPagination(item, env) {
			paginated = append(paginated, item)
			continue
		}

		if item.Debug && !legacy {
			debugItems = append(debugItems, item)
			continue
		}
		mainBatch = append(mainBatch, item)
	}

	results := make(map[*types.AssemblyItem]*types.AssemblyResult, len(items))

	if len(mainBatch) > 0 {
		batchResults, err := impl.Assemble(ctx, mainBatch)
		if err != nil {
			return nil, err
		}
		for item, result := range batchResults {
			results[item] = result
		}
	}

	if len(debugItems) > 0 {
		debugImpl, ok := s.assemblers.Get(DebugAssemblerName)
		if !ok {
			return nil, errors.NewResolutionError("assembler_not_found",
				"debug assembler not registered")
		}
		debugResults, err := debugImpl.Assemble(ctx, debugItems)
		if err != nil {
			return nil, err
		}
		for item, result := range debugResults {
			results[item] = result
		}
	}

	for _, item := range paginated {
		body := []byte(PaginationPlaceholder)
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

	s.applyProblems(results, contexts)
	return results, nil
}

// deferForPagination evaluates the reserved page-count binding. An
// item exploding into multiple pages is only deferred for non-preview
// contexts; in preview exactly one page is bound unless one was
// already requested.
func (s *Service) deferForPagination(item *types.AssemblyItem, env *eval.Environment) bool {
	value, ok := env.Get(eval.SysPageCount)
	if !ok {
		return false
	}
	pageCount, ok := eval.AsInt(value)
	if !ok || pageCount <= 1 {
		return false
	}

	// Page members of an already-deferred item and preview requests
	// assemble exactly one page.
	if item.ParentPageRef != "" || item.Context == 0 {
		if item.Page == 0 {
			item.Page = 1
		}
		env.Set(eval.SysPage, item.Page)
		env.Set(eval.SysCurrentPage, item.Page)
		// Sibling pages of this item are addressed by appending the
		// page number to the reserved page link.
		env.Set(eval.SysPageLink, fmt.Sprintf("/item/%s?%s=", item.ID, eval.ParamPage))
		item.Bindings = env.Snapshot()
		return false
	}

	item.Paginated = true
	return true
}

// applyProblems forces non-preview items with recorded problems to
// FAILURE, replacing the result body with the problem table, then
// clears each item's collector.
func (s *Service) applyProblems(results map[*types.AssemblyItem]*types.AssemblyResult, contexts map[*types.AssemblyItem]*types.AssemblyContext) {
	for item, result := range results {
		actx := contexts[item]
		if actx == nil {
			continue
		}
		if item.Context != 0 && actx.Problems.HasProblems() {
			body := renderProblemTable(item, actx.Problems.Problems())
			item.Status = types.StatusFailure
			item.Result = body
			item.MimeType = "text/html"
			result.Status = types.StatusFailure
			result.Body = body
			result.MimeType = "text/html"
		}
		actx.Problems.Clear()
	}
}

// newContext creates the per-item assembly context with the inline
// re-entry hook installed.
func (s *Service) newContext(ctx context.Context) *types.AssemblyContext {
	actx := types.NewAssemblyContext(s.opts.MaxInlineDepth)
	actx.Expand = func(parent *types.AssemblyContext, item *types.AssemblyItem) (*types.AssemblyResult, error) {
		return s.expandInline(ctx, parent, item)
	}
	return actx
}

// expandInline synchronously assembles a dependent item for an
// inline-template reference, re-entering the pipeline one recursion
// level deeper.
func (s *Service) expandInline(ctx context.Context, parent *types.AssemblyContext, item *types.AssemblyItem) (*types.AssemblyResult, error) {
	if parent.AtDepthLimit() {
		return nil, errors.NewAssemblyError("inline_depth_exceeded",
			"inline template recursion exceeds configured depth", nil).WithItem(item.ID)
	}
	child := parent.Child()

	s.resolveTemplates(ctx, []*types.AssemblyItem{item})
	if item.Template == nil {
		return nil, errors.NewResolutionError("template_not_found",
			"inline template not resolvable").WithItem(item.ID)
	}

	env := s.binder.NewEnvironment(item)
	if err := s.loader.Load(ctx, child, item, env); err != nil {
		return nil, err
	}
	if err := s.binder.BindTemplate(ctx, item, env, item.Debug); err != nil {
		return nil, err
	}

	impl, ok := s.assemblers.Get(item.Template.Assembler)
	if !ok {
		return nil, errors.NewResolutionError("assembler_not_found",
			"no assembler registered for "+item.Template.Assembler)
	}
	results, err := impl.Assemble(ctx, []*types.AssemblyItem{item})
	if err != nil {
		return nil, err
	}
	result, ok := results[item]
	if !ok {
		return nil, errors.NewAssemblyError("no_result",
			"inline assembly produced no result", nil).WithItem(item.ID)
	}
	return result, nil
}

// evictOversized applies the cache retention hint: items whose loaded
// content exceeds the configured maximum are evicted after assembly
// rather than rejected at load time.
func (s *Service) evictOversized(ctx context.Context, items []*types.AssemblyItem) {
	if s.cache == nil || s.opts.MaxItemSizeBytes <= 0 {
		return
	}
	for _, item := range items {
		if item.Node == nil {
			continue
		}
		if size := item.Node.Size(); size > s.opts.MaxItemSizeBytes {
			removed := s.cache.EvictItem(item.ID)
			s.logger.Debug(ctx, "evicted oversized item from content cache",
				"item", item.ID, "size", size, "entries", removed)
		}
	}
}
