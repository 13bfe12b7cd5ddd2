// Package types defines the domain model shared across the assembly
// pipeline: work items, templates, bindings, slots, cache keys and the
// per-assembly context threaded through every stage.
package types

import (
	"fmt"

	"github.com/vellum-cms/vellum/internal/errors"
)

// Status represents the outcome of assembling one item.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// AssemblyItem is one unit of assembly work. It is owned exclusively by
// the orchestrator for the duration of one Assemble call and is mutated
// in place as the item moves through the pipeline.
type AssemblyItem struct {
	// Identity within the content repository.
	ID       string
	Revision int

	// JobID groups items belonging to one publish run.
	JobID int64

	// RefID is the caller-supplied reference id used to correlate
	// results back to the originating request.
	RefID string

	// TemplateID is the requested template (or variant) id. It may be
	// empty when the template is addressed by name instead.
	TemplateID   string
	TemplateName string
	Template     *Template

	// Node is the bound content node, nil until the loader runs.
	Node *ContentNode

	// Params holds the request parameters, string-keyed multi-value.
	Params map[string][]string

	// Bindings is the final evaluation environment snapshot, replaced
	// wholesale once all bindings for the item have been attempted.
	Bindings map[string]any

	// Pagination state.
	Page          int
	Paginated     bool
	ParentPageRef string

	// InnerContent is the source element's inner markup, set on the
	// dependent item of an inline-template expansion and surfaced to
	// its assembly as a reserved binding.
	InnerContent string

	Publish bool
	Debug   bool

	Status   Status
	Result   []byte
	MimeType string

	// Filter context.
	SiteID   string
	FolderID string
	FilterID string
	Context  int
}

// Clone produces a derived item sharing the template reference but
// deep-copying identity and parameters, so slot-resolved targets can be
// assembled without mutating the original.
func (a *AssemblyItem) Clone() *AssemblyItem {
	c := *a
	c.Params = make(map[string][]string, len(a.Params))
	for k, v := range a.Params {
		vv := make([]string, len(v))
		copy(vv, v)
		c.Params[k] = vv
	}
	c.Bindings = nil
	c.Node = nil
	c.Result = nil
	c.Status = StatusSuccess
	c.InnerContent = ""
	return &c
}

// Param returns the first value for a request parameter, or "".
func (a *AssemblyItem) Param(name string) string {
	if v := a.Params[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// SetParam replaces all values for a request parameter.
func (a *AssemblyItem) SetParam(name, value string) {
	if a.Params == nil {
		a.Params = make(map[string][]string)
	}
	a.Params[name] = []string{value}
}

// AssemblyResult is the rendered outcome for one item.
type AssemblyResult struct {
	Item     *AssemblyItem
	Status   Status
	Body     []byte
	MimeType string
}

// ContentNode is a loaded content item: typed, field-valued, optionally
// carrying a binary payload for non-textual assets.
type ContentNode struct {
	ID          string
	Revision    int
	ContentType string
	Fields      map[string]string
	Binary      []byte

	// Public marks whether the item is publicly reachable; inline
	// links to non-public items carry a marker class in the output.
	Public bool
}

// Size reports the approximate in-memory size of the node, used for
// cache budgeting and the oversized-item eviction pass.
func (n *ContentNode) Size() int64 {
	if n == nil {
		return 0
	}
	size := int64(len(n.ID) + len(n.ContentType) + len(n.Binary))
	for k, v := range n.Fields {
		size += int64(len(k) + len(v))
	}
	return size
}

// ContentCacheKey identifies one cached rendition of a content node.
// Two keys differing only in the AA flag or context must not collide;
// the struct is comparable so map lookups enforce that exactly.
type ContentCacheKey struct {
	ItemID   string
	FilterID string
	AA       bool
	Context  int
}

// String renders the key for logging.
func (k ContentCacheKey) String() string {
	return fmt.Sprintf("%s/%s/aa=%t/ctx=%d", k.ItemID, k.FilterID, k.AA, k.Context)
}

// InlineExpander assembles a dependent item referenced from inside a
// content body. The orchestrator installs its own implementation on the
// AssemblyContext so the rewriting engine can re-enter assembly without
// a package dependency on it.
type InlineExpander func(actx *AssemblyContext, item *AssemblyItem) (*AssemblyResult, error)

// AssemblyContext carries per-item assembly state explicitly through
// the pipeline: the problem accumulator, the inline recursion depth and
// the re-entry hook. It replaces any notion of implicit per-thread
// registers; a context must not be shared across goroutines.
type AssemblyContext struct {
	Problems *errors.ProblemCollector
	Depth    int
	MaxDepth int
	Expand   InlineExpander
}

// NewAssemblyContext creates a context for one item's assembly.
func NewAssemblyContext(maxDepth int) *AssemblyContext {
	return &AssemblyContext{
		Problems: errors.NewProblemCollector(),
		MaxDepth: maxDepth,
	}
}

// Child derives a context for one level of inline-template expansion.
// Problems accumulate on the shared collector; only the depth advances.
func (c *AssemblyContext) Child() *AssemblyContext {
	return &AssemblyContext{
		Problems: c.Problems,
		Depth:    c.Depth + 1,
		MaxDepth: c.MaxDepth,
		Expand:   c.Expand,
	}
}

// AtDepthLimit reports whether another inline expansion would exceed
// the configured recursion bound.
func (c *AssemblyContext) AtDepthLimit() bool {
	return c.MaxDepth > 0 && c.Depth >= c.MaxDepth
}
