package rewrite

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/vellum-cms/vellum/internal/repository"
	"github.com/vellum-cms/vellum/internal/types"
)

// BrokenLinkBehavior selects the override substituted for unresolved
// hyperlinks, a server-wide setting.
type BrokenLinkBehavior int

const (
	// BrokenLinkDeadlink rewrites the href to a no-op anchor "#".
	BrokenLinkDeadlink BrokenLinkBehavior = iota
	// BrokenLinkRemove removes the href entirely.
	BrokenLinkRemove
	// BrokenLinkLeave passes the original unresolved value through.
	BrokenLinkLeave
)

// String returns the configuration spelling of the behavior.
func (b BrokenLinkBehavior) String() string {
	switch b {
	case BrokenLinkDeadlink:
		return "deadlink"
	case BrokenLinkRemove:
		return "removelink"
	case BrokenLinkLeave:
		return "leavelink"
	default:
		return "unknown"
	}
}

// ParseBrokenLinkBehavior maps a configuration value to a behavior.
func ParseBrokenLinkBehavior(s string) (BrokenLinkBehavior, error) {
	switch s {
	case "deadlink":
		return BrokenLinkDeadlink, nil
	case "removelink":
		return BrokenLinkRemove, nil
	case "leavelink":
		return BrokenLinkLeave, nil
	default:
		return BrokenLinkDeadlink, fmt.Errorf("unknown broken link behavior %q", s)
	}
}

// Target is a resolved inline-reference destination.
type Target struct {
	// Location is the freshly generated URL for the dependent item.
	Location string
	// Title and AltText come from the dependent asset's metadata and
	// apply unless explicit author overrides are present.
	Title   string
	AltText string
	// NotPublic marks targets that resolve but are not publicly
	// reachable; the output carries a marker class.
	NotPublic bool
}

// TargetResolver resolves a dependent item reference to a concrete
// location. The boolean result distinguishes "cleanly unresolved"
// (broken link handling applies) from an error, which aborts the
// element's rewrite.
type TargetResolver interface {
	Resolve(ctx context.Context, link *types.InlineLink, assemblyContext int) (*Target, bool, error)
}

// RepositoryResolver resolves targets against a content repository,
// generating context-qualified locations. Site and URL generation
// business rules live outside the core; this covers the file-backed
// deployment.
type RepositoryResolver struct {
	repo repository.ContentRepository
}

// NewRepositoryResolver creates a resolver over the repository.
func NewRepositoryResolver(repo repository.ContentRepository) *RepositoryResolver {
	return &RepositoryResolver{repo: repo}
}

// Resolve implements TargetResolver.
func (r *RepositoryResolver) Resolve(ctx context.Context, link *types.InlineLink, assemblyContext int) (*Target, bool, error) {
	if link.DependentID == "" {
		return nil, false, nil
	}

	ok, err := r.repo.Exists(ctx, link.DependentID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	node, err := r.repo.LoadNode(ctx, link.DependentID, 0)
	if err != nil {
		return nil, false, err
	}

	loc := "/item/" + link.DependentID
	if link.DependentTemplateID != "" {
		loc += "/" + link.DependentTemplateID
	}
	if assemblyContext != 0 {
		loc += fmt.Sprintf("?sys_context=%d", assemblyContext)
	}

	return &Target{
		Location:  loc,
		Title:     node.Fields["title"],
		AltText:   node.Fields["alt"],
		NotPublic: !node.Public,
	}, true, nil
}

// DependentIDFromPath derives a dependent item id from a managed path:
// the final segment with query, fragment and extension removed.
func DependentIDFromPath(p, managedPrefix string) string {
	p = strings.TrimPrefix(p, managedPrefix)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
