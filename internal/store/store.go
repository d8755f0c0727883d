package store

import (
	"context"
	"time"

	"SignalSentinel/internal/model"
)

// OpportunityStore persists opportunities. Every method is atomic per record.
type OpportunityStore interface {
	// CreateOpportunity inserts o. It fails with model.ErrActiveExists when an
	// active opportunity already exists for the same symbol and strategy.
	CreateOpportunity(ctx context.Context, o *model.Opportunity) error
	GetOpportunity(ctx context.Context, id string) (*model.Opportunity, error)
	ListActive(ctx context.Context) ([]*model.Opportunity, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]*model.Opportunity, error)
	// ApplyTransition replaces the active record o.ID with o and, when
	// successor is non-nil, inserts it in the same transaction. Nothing is
	// written if any step fails or the stored record is no longer active.
	// Stored alert refs are kept and copied onto o; MergeAlertRefs owns them.
	ApplyTransition(ctx context.Context, o *model.Opportunity, successor *model.Opportunity) error
	// MergeAlertRefs adds delivered message handles to an opportunity.
	MergeAlertRefs(ctx context.Context, id string, refs map[string]string) error
}

// TenantStore persists tenants.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	// InsertTenantIfAbsent stores t unless a tenant with the same id exists;
	// it returns the stored tenant and whether it was created.
	InsertTenantIfAbsent(ctx context.Context, t *model.Tenant) (*model.Tenant, bool, error)
	SaveTenant(ctx context.Context, t *model.Tenant) error
	ListTenants(ctx context.Context) ([]*model.Tenant, error)
}

// Store is the full persistence handle.
type Store interface {
	OpportunityStore
	TenantStore
	Close() error
}
