package eval

import (
	"context"
	"strconv"

	"github.com/vellum-cms/vellum/internal/errors"
	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/types"
)

// Binder is the binding evaluator adapter: it seeds a per-item
// environment with the reserved system variables and evaluates a
// template's declared bindings into it.
type Binder struct {
	evaluator Evaluator
	logger    logging.Logger
}

// NewBinder creates a binder over the given evaluator.
func NewBinder(evaluator Evaluator, logger logging.Logger) *Binder {
	return &Binder{
		evaluator: evaluator,
		logger:    logger.WithComponent("binder"),
	}
}

// NewEnvironment builds the evaluation environment for one work item,
// pre-bound with the system namespace, the user and tool namespace
// roots, request parameters and the request-derived flags. The
// environment is built before content loading so interceptors invoked
// during the load observe the same variables.
func (b *Binder) NewEnvironment(item *types.AssemblyItem) *Environment {
	env := NewEnvironment()

	// Request-derived site/folder/context resolution.
	if item.SiteID == "" {
		item.SiteID = item.Param(ParamSiteID)
	}
	if item.FolderID == "" {
		item.FolderID = item.Param(ParamFolderID)
	}
	if item.Context == 0 {
		if n, err := strconv.Atoi(item.Param(ParamContext)); err == nil {
			item.Context = n
		}
	}

	// Active-assembly detection.
	aa := item.Param(ParamCommand) == CommandActiveAssembly
	env.Set(SysActiveAssembly, aa)
	env.Set(SysAAMode, item.Param(ParamAAMode))

	// Requested page.
	if item.Page == 0 {
		if n, err := strconv.Atoi(item.Param(ParamPage)); err == nil && n > 0 {
			item.Page = n
		}
	}
	if item.Page > 0 {
		env.Set(SysPage, item.Page)
	}

	// User and tool namespace roots.
	user := map[string]any{}
	if name := item.Param(ParamUser); name != "" {
		user["name"] = name
	}
	env.Set(VarUser, user)
	env.Set(VarTools, map[string]any{})

	env.Set(SysAssemblyItem, item)
	env.Set(SysParams, item.Params)
	env.Set(SysItem, item.Node)
	if item.InnerContent != "" {
		env.Set(SysInnerContent, item.InnerContent)
	}

	if t := item.Template; t != nil {
		env.Set(SysTemplate, t)
		env.Set(SysMimeType, t.MimeType)
		env.Set(SysCharset, t.Charset)
	}

	return env
}

// BindNode rebinds the content node variable after the loader has
// attached the node to the item.
func (b *Binder) BindNode(env *Environment, item *types.AssemblyItem) {
	env.Set(SysItem, item.Node)
}

// BindTemplate evaluates the template's declared bindings into env in
// strict declared order. With continueOnError (debug mode) a failing
// binding is recorded under the reserved error map and evaluation
// continues; otherwise the failure is logged and returned, aborting
// evaluation for this item. The item's bindings are replaced only after
// all bindings have been attempted.
func (b *Binder) BindTemplate(ctx context.Context, item *types.AssemblyItem, env *Environment, continueOnError bool) error {
	tmpl := item.Template
	if tmpl == nil {
		return errors.NewResolutionError("no_template", "item has no resolved template").WithItem(item.ID)
	}

	for _, binding := range tmpl.Bindings {
		value, err := b.evaluator.Evaluate(binding.Expression, env)
		if err != nil {
			if continueOnError {
				env.RecordError(binding.Variable, err)
				continue
			}
			b.logger.Error(ctx, err, "binding evaluation failed",
				"item", item.ID,
				"template", tmpl.ID,
				"variable", binding.Variable,
				"expression", binding.Expression,
			)
			return errors.NewEvaluationError("binding_failed",
				"evaluating binding "+binding.Variable, err).WithItem(item.ID)
		}
		env.Set(binding.Variable, value)
	}

	item.Bindings = env.Snapshot()
	return nil
}
