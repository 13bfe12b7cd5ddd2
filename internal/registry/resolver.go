// Package registry provides the read-mostly template and slot resolver
// cache sitting in front of the template/slot repository. Population is
// lazy (load on miss); eviction is driven by invalidation events from
// the notifier.
package registry

import (
	"context"
	"sync"

	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/notify"
	"github.com/vellum-cms/vellum/internal/repository"
	"github.com/vellum-cms/vellum/internal/types"
)

type nameTypeKey struct {
	name        string
	contentType string
}

// Resolver caches templates by id and by (name, content type) pair, a
// name→id map, and slots by id. A structural change to a template or
// node definition evicts the name-keyed caches; template changes
// additionally evict the name→id map.
type Resolver struct {
	templates repository.TemplateRepository
	slots     repository.SlotRepository
	logger    logging.Logger

	mu         sync.RWMutex
	byID       map[string]*types.Template
	byNameType map[nameTypeKey]*types.Template
	nameToID   map[string]string
	slotByID   map[string]*types.Slot

	sub *notify.Subscription
}

// NewResolver creates a resolver and subscribes it to the notifier.
// Close cancels the subscription.
func NewResolver(templates repository.TemplateRepository, slots repository.SlotRepository, notifier *notify.Notifier, logger logging.Logger) *Resolver {
	r := &Resolver{
		templates:  templates,
		slots:      slots,
		logger:     logger.WithComponent("resolver"),
		byID:       make(map[string]*types.Template),
		byNameType: make(map[nameTypeKey]*types.Template),
		nameToID:   make(map[string]string),
		slotByID:   make(map[string]*types.Slot),
	}
	if notifier != nil {
		r.sub = notifier.Subscribe(r.onEvent)
	}
	return r
}

// Close cancels the notifier subscription.
func (r *Resolver) Close() {
	r.sub.Cancel()
}

func (r *Resolver) onEvent(event notify.Event) {
	if event.Type != notify.EventObjectInvalidation {
		return
	}
	switch event.GUIDType {
	case notify.GUIDNodeDefinition:
		r.mu.Lock()
		r.byNameType = make(map[nameTypeKey]*types.Template)
		r.mu.Unlock()
	case notify.GUIDTemplate:
		r.mu.Lock()
		r.byNameType = make(map[nameTypeKey]*types.Template)
		r.nameToID = make(map[string]string)
		if event.GUID != "" {
			delete(r.byID, event.GUID)
		} else {
			r.byID = make(map[string]*types.Template)
		}
		r.mu.Unlock()
	case notify.GUIDSlot:
		r.mu.Lock()
		if event.GUID != "" {
			delete(r.slotByID, event.GUID)
		} else {
			r.slotByID = make(map[string]*types.Slot)
		}
		r.mu.Unlock()
	}
}

// TemplateByID resolves a template by id, from cache when possible.
// Slot associations are force-loaded before the template is returned
// so callers never trigger further repository round trips.
func (r *Resolver) TemplateByID(ctx context.Context, id string) (*types.Template, error) {
	r.mu.RLock()
	t, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := r.templates.TemplateByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.loadSlots(ctx, t); err != nil {
		return nil, err
	}

	// Check-then-populate is not strictly race-free; populating twice
	// is idempotent and overwrites are identical.
	r.mu.Lock()
	r.byID[id] = t
	r.nameToID[t.Name] = t.ID
	r.mu.Unlock()
	return t, nil
}

// FindTemplate resolves a template by (name, content type) pair.
func (r *Resolver) FindTemplate(ctx context.Context, name, contentType string) (*types.Template, error) {
	key := nameTypeKey{name: name, contentType: contentType}

	r.mu.RLock()
	t, ok := r.byNameType[key]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := r.templates.FindTemplate(ctx, name, contentType)
	if err != nil {
		return nil, err
	}
	if err := r.loadSlots(ctx, t); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byNameType[key] = t
	r.byID[t.ID] = t
	r.nameToID[t.Name] = t.ID
	r.mu.Unlock()
	return t, nil
}

// TemplateIDByName returns the cached id for a template name, if any.
func (r *Resolver) TemplateIDByName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	return id, ok
}

// SlotByID resolves a slot by id with lazy cache population.
func (r *Resolver) SlotByID(ctx context.Context, id string) (*types.Slot, error) {
	r.mu.RLock()
	s, ok := r.slotByID[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := r.slots.SlotByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.slotByID[id] = s
	r.mu.Unlock()
	return s, nil
}

// loadSlots eagerly attaches slot metadata to a freshly loaded
// template.
func (r *Resolver) loadSlots(ctx context.Context, t *types.Template) error {
	if len(t.SlotIDs) == 0 || len(t.Slots) == len(t.SlotIDs) {
		return nil
	}
	t.Slots = make([]*types.Slot, 0, len(t.SlotIDs))
	for _, id := range t.SlotIDs {
		s, err := r.SlotByID(ctx, id)
		if err != nil {
			return err
		}
		t.Slots = append(t.Slots, s)
	}
	return nil
}

// CachedTemplates reports how many templates are currently cached by
// id, for diagnostics.
func (r *Resolver) CachedTemplates() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
