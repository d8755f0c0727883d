package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"SignalSentinel/internal/model"
	"SignalSentinel/internal/store"
)

// StrategySet is the set of registered strategy names.
type StrategySet interface {
	Has(name string) bool
	SortedNames() []string
}

// Registry owns tenant state and every delivery gating decision.
type Registry struct {
	store                store.TenantStore
	strategies           StrategySet
	enforceSubscriptions bool
	validate             *validator.Validate
	log                  zerolog.Logger
	now                  func() time.Time
}

// NewRegistry creates a Registry. When enforceSubscriptions is set, tenants
// with an expired subscription are not eligible for anything.
func NewRegistry(st store.TenantStore, strategies StrategySet, enforceSubscriptions bool, log zerolog.Logger) *Registry {
	r := &Registry{
		store:                st,
		strategies:           strategies,
		enforceSubscriptions: enforceSubscriptions,
		validate:             validator.New(),
		log:                  log,
		now:                  time.Now,
	}
	_ = r.validate.RegisterValidation("strategy", func(fl validator.FieldLevel) bool {
		return strategies.Has(fl.Field().String())
	})
	return r
}

// IsMember reports whether t may use the service at all, regardless of its
// capability flags.
func (r *Registry) IsMember(t *model.Tenant) bool {
	if t == nil || !t.Approved || !t.Active {
		return false
	}
	return !r.expired(t)
}

func (r *Registry) expired(t *model.Tenant) bool {
	return r.enforceSubscriptions && t.SubscriptionExpires != nil && !r.now().Before(*t.SubscriptionExpires)
}

// IsEligible reports whether t may receive content gated by capability.
func (r *Registry) IsEligible(t *model.Tenant, capability model.Capability) bool {
	if !r.IsMember(t) {
		return false
	}
	kind, name, ok := capability.Parse()
	if !ok {
		return false
	}
	switch kind {
	case "strategy":
		return t.Settings.Strategies[name]
	case "report":
		return t.Settings.Reports[model.Cadence(name)]
	}
	return false
}

// Eligible returns every tenant eligible for capability.
func (r *Registry) Eligible(ctx context.Context, capability model.Capability) ([]*model.Tenant, error) {
	all, err := r.store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Tenant
	for _, t := range all {
		if r.IsEligible(t, capability) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Get returns one tenant.
func (r *Registry) Get(ctx context.Context, id string) (*model.Tenant, error) {
	return r.store.GetTenant(ctx, id)
}

// List returns every tenant.
func (r *Registry) List(ctx context.Context) ([]*model.Tenant, error) {
	return r.store.ListTenants(ctx)
}

// defaultSettings enables every registered strategy and the daily report.
func (r *Registry) defaultSettings() model.TenantSettings {
	s := model.TenantSettings{
		Strategies: make(map[string]bool),
		Reports:    map[model.Cadence]bool{model.CadenceDaily: true},
	}
	for _, name := range r.strategies.SortedNames() {
		s.Strategies[name] = true
	}
	return s
}

// RegisterTenant creates a pending tenant for destination. Registering an
// existing destination returns it unchanged.
func (r *Registry) RegisterTenant(ctx context.Context, destination string) (*model.Tenant, bool, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, false, fmt.Errorf("empty destination: %w", model.ErrConfiguration)
	}
	now := r.now().UTC()
	t, created, err := r.store.InsertTenantIfAbsent(ctx, &model.Tenant{
		ID:        destination,
		Active:    true,
		Settings:  r.defaultSettings(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		r.log.Info().Str("tenant", destination).Msg("tenant registered, pending approval")
	}
	return t, created, nil
}

func (r *Registry) mutate(ctx context.Context, id string, fn func(t *model.Tenant) error) (*model.Tenant, error) {
	t, err := r.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = r.now().UTC()
	if err := r.store.SaveTenant(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ApproveTenant approves and reactivates a tenant.
func (r *Registry) ApproveTenant(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := r.mutate(ctx, id, func(t *model.Tenant) error {
		t.Approved = true
		t.Active = true
		return nil
	})
	if err == nil {
		r.log.Info().Str("tenant", id).Msg("tenant approved")
	}
	return t, err
}

// DeactivateTenant stops all deliveries to a tenant without deleting it.
func (r *Registry) DeactivateTenant(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := r.mutate(ctx, id, func(t *model.Tenant) error {
		t.Active = false
		return nil
	})
	if err == nil {
		r.log.Info().Str("tenant", id).Msg("tenant deactivated")
	}
	return t, err
}

// SetSubscription sets or clears (nil) the subscription expiry.
func (r *Registry) SetSubscription(ctx context.Context, id string, expires *time.Time) (*model.Tenant, error) {
	return r.mutate(ctx, id, func(t *model.Tenant) error {
		if expires == nil {
			t.SubscriptionExpires = nil
			return nil
		}
		exp := expires.UTC()
		t.SubscriptionExpires = &exp
		return nil
	})
}

// SettingsUpdate is a partial settings change; absent keys keep their value.
type SettingsUpdate struct {
	Strategies map[string]bool   `json:"strategies" validate:"omitempty,dive,keys,strategy,endkeys"`
	Reports    map[string]bool   `json:"reports" validate:"omitempty,dive,keys,oneof=hourly daily weekly,endkeys"`
	Protection map[string]string `json:"protection" validate:"omitempty,dive,keys,required,max=64,endkeys,max=256"`
}

// UpdateTenantSettings validates and applies u. Unknown strategies or
// cadences fail with model.ErrConfiguration and change nothing.
func (r *Registry) UpdateTenantSettings(ctx context.Context, id string, u SettingsUpdate) (*model.Tenant, error) {
	if err := r.validate.StructCtx(ctx, u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(fe.StructField()), fmt.Sprint(fe.Value()), model.ErrConfiguration)
		}
		return nil, fmt.Errorf("invalid settings: %v: %w", err, model.ErrConfiguration)
	}
	return r.mutate(ctx, id, func(t *model.Tenant) error {
		s := t.Settings.Clone()
		for name, on := range u.Strategies {
			s.Strategies[name] = on
		}
		for c, on := range u.Reports {
			s.Reports[model.Cadence(c)] = on
		}
		if len(u.Protection) > 0 && s.Protection == nil {
			s.Protection = make(map[string]string, len(u.Protection))
		}
		for k, v := range u.Protection {
			s.Protection[k] = v
		}
		t.Settings = s
		return nil
	})
}

// SettingsSummary is the structured view of a tenant's configuration.
type SettingsSummary struct {
	TenantID            string                 `json:"tenant_id"`
	Status              string                 `json:"status"`
	SubscriptionExpires *time.Time             `json:"subscription_expires,omitempty"`
	Strategies          map[string]bool        `json:"strategies"`
	Reports             map[model.Cadence]bool `json:"reports"`
	Protection          map[string]string      `json:"protection,omitempty"`
}

// Status values reported in SettingsSummary.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusExpired  = "expired"
)

// GetSettingsSummary lists every registered strategy and cadence with the
// tenant's flag for it.
func (r *Registry) GetSettingsSummary(ctx context.Context, id string) (SettingsSummary, error) {
	t, err := r.store.GetTenant(ctx, id)
	if err != nil {
		return SettingsSummary{}, err
	}
	sum := SettingsSummary{
		TenantID:            t.ID,
		Status:              r.status(t),
		SubscriptionExpires: t.SubscriptionExpires,
		Strategies:          make(map[string]bool),
		Reports:             make(map[model.Cadence]bool, len(model.Cadences)),
		Protection:          t.Settings.Protection,
	}
	for _, name := range r.strategies.SortedNames() {
		sum.Strategies[name] = t.Settings.Strategies[name]
	}
	for _, c := range model.Cadences {
		sum.Reports[c] = t.Settings.Reports[c]
	}
	return sum, nil
}

func (r *Registry) status(t *model.Tenant) string {
	switch {
	case !t.Active:
		return StatusInactive
	case !t.Approved:
		return StatusPending
	case r.expired(t):
		return StatusExpired
	default:
		return StatusActive
	}
}
