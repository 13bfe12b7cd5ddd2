// Package repository defines the persistence interfaces the assembly
// core consumes and a YAML file-backed implementation used by the CLI,
// the preview server and tests.
package repository

import (
	"context"

	"github.com/vellum-cms/vellum/internal/types"
)

// ContentRepository loads content nodes by identifier.
type ContentRepository interface {
	// LoadNode loads one content node. revision <= 0 means current.
	LoadNode(ctx context.Context, id string, revision int) (*types.ContentNode, error)

	// ContentTypes batch-resolves the content type for the given item
	// ids in one round trip. Unknown ids are absent from the result.
	ContentTypes(ctx context.Context, ids []string) (map[string]string, error)

	// Exists reports whether an item id resolves at all.
	Exists(ctx context.Context, id string) (bool, error)
}

// TemplateRepository loads presentation templates.
type TemplateRepository interface {
	TemplateByID(ctx context.Context, id string) (*types.Template, error)
	TemplateByName(ctx context.Context, name string) (*types.Template, error)

	// FindTemplate resolves a template by (name, content type) pair.
	FindTemplate(ctx context.Context, name, contentType string) (*types.Template, error)
}

// SlotRepository loads slot metadata.
type SlotRepository interface {
	SlotByID(ctx context.Context, id string) (*types.Slot, error)
}
