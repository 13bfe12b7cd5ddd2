// Package eval provides the binding-evaluation environment, the
// black-box expression evaluator interface and the adapter that binds a
// template's declared expressions onto a work item.
package eval

import (
	"strings"

	"github.com/vellum-cms/vellum/internal/types"
)

// Reserved variable names. Template authors rely on the exact spelling
// of these; they are the contract between templates and the
// orchestrator.
const (
	SysItem           = "$sys.item"
	SysTemplate       = "$sys.template"
	SysMimeType       = "$sys.mimetype"
	SysCharset        = "$sys.charset"
	SysActiveAssembly = "$sys.activeAssembly"
	SysPage           = "$sys.page"
	SysAAMode         = "$sys.aamode"
	SysAssemblyItem   = "$sys.assemblyItem"
	SysParams         = "$sys.params"
	SysError          = "$sys.error"

	// Reserved pagination and inline-expansion expressions.
	SysPageCount   = "$sys.pagecount"
	SysCurrentPage = "$sys.currentpage"
	// SysInnerContent carries the source element's inner markup into an
	// inline-template expansion; SysPageLink is the base link for a
	// paginated item's sibling pages.
	SysInnerContent = "$sys.innercontent"
	SysPageLink     = "$sys.pagelink"

	// Namespace roots pre-bound on every environment alongside $sys.
	// The user namespace carries the requesting user when the request
	// names one; the tool namespace is an empty root that hosts and
	// assembler extensions populate.
	VarUser  = "$user"
	VarTools = "$tools"
)

// Reserved request parameter names consumed by the orchestrator.
const (
	ParamItemID    = "sys_contentid"
	ParamRevision  = "sys_revision"
	ParamPath      = "sys_path"
	ParamSiteID    = "sys_siteid"
	ParamFolderID  = "sys_folderid"
	ParamContext   = "sys_context"
	ParamTemplate  = "sys_template"
	ParamVariantID = "sys_variantid"
	ParamPage      = "sys_page"
	ParamCommand   = "sys_command"
	ParamAAMode    = "sys_aamode"
	ParamSlotOrder = "sys_slotorder"
	ParamUser      = "sys_user"

	// CommandActiveAssembly is the sys_command value marking an
	// active-assembly (authoring) request.
	CommandActiveAssembly = "editlive"
)

// Environment is one item's variable-binding environment. Bindings are
// written into it in declared order; it is not safe for concurrent
// mutation and is owned by a single assembly.
type Environment struct {
	vars map[string]any
}

// NewEnvironment creates an empty environment.
func NewEnvironment() *Environment {
	return &Environment{vars: make(map[string]any)}
}

// Set binds a variable.
func (e *Environment) Set(name string, value any) {
	e.vars[name] = value
}

// Get returns the bound value for an exact variable name.
func (e *Environment) Get(name string) (any, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Lookup resolves a possibly dotted reference. The longest bound
// variable name prefix wins; remaining segments navigate into the bound
// value (content node fields, maps, parameter multi-values).
func (e *Environment) Lookup(ref string) (any, bool) {
	if v, ok := e.vars[ref]; ok {
		return v, true
	}

	// Longest-prefix match on dotted segments.
	for i := len(ref); i > 0; i = strings.LastIndex(ref[:i], ".") {
		base := ref[:i]
		v, ok := e.vars[base]
		if !ok {
			continue
		}
		rest := strings.TrimPrefix(ref[i:], ".")
		if rest == "" {
			return v, true
		}
		return navigate(v, strings.Split(rest, "."))
	}
	return nil, false
}

func navigate(v any, path []string) (any, bool) {
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
		case map[string][]string:
			nv, ok := t[seg]
			if !ok || len(nv) == 0 {
				return nil, false
			}
			v = nv[0]
		default:
			return nil, false
		}
	}
	return v, true
}

// Snapshot returns a copy of the current variable map, used to replace
// the item's bindings only after all evaluation has been attempted.
func (e *Environment) Snapshot() map[string]any {
	out := make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// RecordError files an evaluation failure under the reserved error map
// keyed by the failing variable name.
func (e *Environment) RecordError(variable string, err error) {
	m, _ := e.vars[SysError].(map[string]string)
	if m == nil {
		m = make(map[string]string)
		e.vars[SysError] = m
	}
	m[variable] = err.Error()
}
