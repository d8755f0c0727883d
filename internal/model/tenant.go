package model

import (
	"fmt"
	"strings"
	"time"
)

// Cadence is a report frequency.
type Cadence string

const (
	CadenceHourly Cadence = "hourly"
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// Cadences lists every supported report cadence.
var Cadences = []Cadence{CadenceHourly, CadenceDaily, CadenceWeekly}

// Duration is the look-back period a report of this cadence covers.
func (c Cadence) Duration() time.Duration {
	switch c {
	case CadenceHourly:
		return time.Hour
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseCadence validates a cadence name.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Cadences {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown cadence %q: %w", s, ErrConfiguration)
}

// TenantSettings is the typed capability map of a tenant.
type TenantSettings struct {
	Strategies map[string]bool   `json:"strategies"`
	Reports    map[Cadence]bool  `json:"reports"`
	Protection map[string]string `json:"protection,omitempty"` // opaque pass-through
}

// Clone deep-copies the settings.
func (s TenantSettings) Clone() TenantSettings {
	c := TenantSettings{
		Strategies: make(map[string]bool, len(s.Strategies)),
		Reports:    make(map[Cadence]bool, len(s.Reports)),
	}
	for k, v := range s.Strategies {
		c.Strategies[k] = v
	}
	for k, v := range s.Reports {
		c.Reports[k] = v
	}
	if s.Protection != nil {
		c.Protection = make(map[string]string, len(s.Protection))
		for k, v := range s.Protection {
			c.Protection[k] = v
		}
	}
	return c
}

// Tenant is a notification destination.
type Tenant struct {
	ID                  string         `json:"id"`
	Approved            bool           `json:"approved"`
	Active              bool           `json:"active"`
	SubscriptionExpires *time.Time     `json:"subscription_expires,omitempty"`
	Settings            TenantSettings `json:"settings"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Capability is a gated feature: "strategy:<name>" or "report:<cadence>".
type Capability string

const (
	capStrategyPrefix = "strategy:"
	capReportPrefix   = "report:"
)

// StrategyCapability builds the capability for a strategy's alerts.
func StrategyCapability(name string) Capability { return Capability(capStrategyPrefix + name) }

// ReportCapability builds the capability for a report cadence.
func ReportCapability(c Cadence) Capability { return Capability(capReportPrefix + string(c)) }

// Parse splits the capability into its kind and name.
func (c Capability) Parse() (kind, name string, ok bool) {
	s := string(c)
	switch {
	case strings.HasPrefix(s, capStrategyPrefix):
		return "strategy", strings.TrimPrefix(s, capStrategyPrefix), true
	case strings.HasPrefix(s, capReportPrefix):
		return "report", strings.TrimPrefix(s, capReportPrefix), true
	default:
		return "", "", false
	}
}
