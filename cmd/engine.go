package cmd

import (
	"fmt"

	"github.com/vellum-cms/vellum/internal/assembly"
	"github.com/vellum-cms/vellum/internal/config"
	"github.com/vellum-cms/vellum/internal/content"
	"github.com/vellum-cms/vellum/internal/eval"
	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/notify"
	"github.com/vellum-cms/vellum/internal/registry"
	"github.com/vellum-cms/vellum/internal/repository"
	"github.com/vellum-cms/vellum/internal/rewrite"
)

// engine bundles the wired assembly pipeline for the CLI commands.
type engine struct {
	cfg      *config.Config
	logger   logging.Logger
	notifier *notify.Notifier
	repo     *repository.FileRepository
	resolver *registry.Resolver
	cache    *content.Cache
	service  *assembly.Service
}

// newEngine wires the full pipeline from configuration: file
// repository, template resolver, content cache, loader with the
// namespace and inline-rewriting interceptors, binder and orchestrator.
func newEngine(cfg *config.Config) (*engine, error) {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	notifier := notify.NewNotifier()
	repo := repository.NewFileRepository(cfg.Repository.Root)
	resolver := registry.NewResolver(repo, repo, notifier, logger)

	var cache *content.Cache
	if cfg.Cache.Enabled {
		cache = content.NewCache(cfg.Cache.MaxSizeBytes, cfg.Cache.TTL, notifier, logger)
	}

	behavior, err := rewrite.ParseBrokenLinkBehavior(cfg.Assembly.BrokenLinkBehavior)
	if err != nil {
		return nil, fmt.Errorf("configuring inline rewriter: %w", err)
	}
	rewriter := rewrite.NewRewriter(
		rewrite.NewRepositoryResolver(repo),
		behavior,
		cfg.Assembly.ManagedPathPrefix,
		logger,
	)

	loader := content.NewLoader(repo, cache, cfg.Content.NavigationContentType, logger,
		content.NewNamespaceInterceptor(cfg.Content.AllowedNamespaces),
		rewriter,
	)

	binder := eval.NewBinder(eval.NewSimpleEvaluator(), logger)

	service := assembly.NewService(resolver, loader, cache, repo, binder,
		assembly.NewRegistry(), logger, assembly.Options{
			MaxInlineDepth:   cfg.Assembly.MaxInlineDepth,
			MaxItemSizeBytes: cfg.Cache.MaxItemSizeBytes,
		})

	return &engine{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier,
		repo:     repo,
		resolver: resolver,
		cache:    cache,
		service:  service,
	}, nil
}

// Close releases the engine's notifier subscriptions.
func (e *engine) Close() {
	e.resolver.Close()
	if e.cache != nil {
		e.cache.Close()
	}
}
