package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalSentinel/internal/model"
)

// MemoryStore is an in-process Store used when no database is configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	opps    map[string]*model.Opportunity
	tenants map[string]*model.Tenant
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		opps:    make(map[string]*model.Opportunity),
		tenants: make(map[string]*model.Tenant),
	}
}

func (m *MemoryStore) hasActive(symbol, strategy, exceptID string) bool {
	for id, o := range m.opps {
		if id != exceptID && o.IsActive() && o.Symbol == symbol && o.Strategy == strategy {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateOpportunity(_ context.Context, o *model.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.opps[o.ID]; exists {
		return fmt.Errorf("opportunity %s exists: %w", o.ID, model.ErrPersistence)
	}
	if o.IsActive() && m.hasActive(o.Symbol, o.Strategy, "") {
		return fmt.Errorf("%s/%s: %w", o.Symbol, o.Strategy, model.ErrActiveExists)
	}
	m.opps[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) GetOpportunity(_ context.Context, id string) (*model.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opps[id]
	if !ok {
		return nil, fmt.Errorf("opportunity %s: %w", id, model.ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*model.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Opportunity
	for _, o := range m.opps {
		if o.IsActive() {
			out = append(out, o.Clone())
		}
	}
	sortOpportunities(out)
	return out, nil
}

func (m *MemoryStore) ListCreatedSince(_ context.Context, since time.Time) ([]*model.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Opportunity
	for _, o := range m.opps {
		if !o.CreatedAt.Before(since) {
			out = append(out, o.Clone())
		}
	}
	sortOpportunities(out)
	return out, nil
}

func (m *MemoryStore) ApplyTransition(_ context.Context, o *model.Opportunity, successor *model.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.opps[o.ID]
	if !ok {
		return fmt.Errorf("opportunity %s: %w", o.ID, model.ErrNotFound)
	}
	if !cur.IsActive() {
		return fmt.Errorf("opportunity %s is %s: %w", o.ID, cur.Status, model.ErrPersistence)
	}
	if successor != nil {
		if _, exists := m.opps[successor.ID]; exists {
			return fmt.Errorf("successor %s exists: %w", successor.ID, model.ErrPersistence)
		}
		// the pair is free once o leaves the active state
		if m.hasActive(successor.Symbol, successor.Strategy, o.ID) || o.IsActive() {
			return fmt.Errorf("%s/%s: %w", successor.Symbol, successor.Strategy, model.ErrActiveExists)
		}
	}
	o.AlertRefs = cloneRefs(cur.AlertRefs)
	stored := o.Clone()
	stored.AlertRefs = cur.AlertRefs
	m.opps[o.ID] = stored
	if successor != nil {
		m.opps[successor.ID] = successor.Clone()
	}
	return nil
}

func (m *MemoryStore) MergeAlertRefs(_ context.Context, id string, refs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opps[id]
	if !ok {
		return fmt.Errorf("opportunity %s: %w", id, model.ErrNotFound)
	}
	if o.AlertRefs == nil {
		o.AlertRefs = make(map[string]string, len(refs))
	}
	for k, v := range refs {
		o.AlertRefs[k] = v
	}
	return nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, model.ErrNotFound)
	}
	return cloneTenant(t), nil
}

func (m *MemoryStore) InsertTenantIfAbsent(_ context.Context, t *model.Tenant) (*model.Tenant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tenants[t.ID]; ok {
		return cloneTenant(existing), false, nil
	}
	m.tenants[t.ID] = cloneTenant(t)
	return cloneTenant(t), true, nil
}

func (m *MemoryStore) SaveTenant(_ context.Context, t *model.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; !ok {
		return fmt.Errorf("tenant %s: %w", t.ID, model.ErrNotFound)
	}
	m.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (m *MemoryStore) ListTenants(_ context.Context) ([]*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, cloneTenant(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneTenant(t *model.Tenant) *model.Tenant {
	c := *t
	c.Settings = t.Settings.Clone()
	if t.SubscriptionExpires != nil {
		exp := *t.SubscriptionExpires
		c.SubscriptionExpires = &exp
	}
	return &c
}

func sortOpportunities(opps []*model.Opportunity) {
	sort.Slice(opps, func(i, j int) bool {
		if !opps[i].CreatedAt.Equal(opps[j].CreatedAt) {
			return opps[i].CreatedAt.Before(opps[j].CreatedAt)
		}
		return opps[i].ID < opps[j].ID
	})
}

func cloneRefs(refs map[string]string) map[string]string {
	if refs == nil {
		return nil
	}
	out := make(map[string]string, len(refs))
	for k, v := range refs {
		out[k] = v
	}
	return out
}
