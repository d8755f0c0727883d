package model

import "time"

// OpportunityStatus is the lifecycle state of an Opportunity.
type OpportunityStatus string

const (
	StatusActive    OpportunityStatus = "active"
	StatusCompleted OpportunityStatus = "completed"
	StatusStopped   OpportunityStatus = "stopped"
)

// Opportunity is one detected, tracked signal. Status only moves forward:
// active → completed or active → stopped.
type Opportunity struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Strategy      string            `json:"strategy"`
	EntryPrice    float64           `json:"entry_price"`
	Targets       []float64         `json:"targets"` // strictly increasing
	StopLoss      float64           `json:"stop_loss"`
	TargetIndex   int               `json:"target_index"`
	Status        OpportunityStatus `json:"status"`
	PredecessorID string            `json:"predecessor_id,omitempty"`
	ExitPrice     float64           `json:"exit_price,omitempty"`
	AlertRefs     map[string]string `json:"alert_refs,omitempty"` // tenant id → delivered message handle
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsActive reports whether the opportunity is still being tracked.
func (o *Opportunity) IsActive() bool { return o.Status == StatusActive }

// NextTarget returns the target currently being tracked.
func (o *Opportunity) NextTarget() (float64, bool) {
	if o.TargetIndex < 0 || o.TargetIndex >= len(o.Targets) {
		return 0, false
	}
	return o.Targets[o.TargetIndex], true
}

// FinalTarget returns the last target in the ladder.
func (o *Opportunity) FinalTarget() float64 {
	if len(o.Targets) == 0 {
		return o.EntryPrice
	}
	return o.Targets[len(o.Targets)-1]
}

// RealizedPercent is the percent gain or loss of a closed opportunity.
// Completed opportunities realize the final target, stopped ones the stop loss.
func (o *Opportunity) RealizedPercent() float64 {
	if o.EntryPrice == 0 {
		return 0
	}
	switch o.Status {
	case StatusCompleted:
		return (o.FinalTarget() - o.EntryPrice) / o.EntryPrice * 100
	case StatusStopped:
		return (o.StopLoss - o.EntryPrice) / o.EntryPrice * 100
	default:
		return 0
	}
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (o *Opportunity) Clone() *Opportunity {
	c := *o
	c.Targets = append([]float64(nil), o.Targets...)
	if o.AlertRefs != nil {
		c.AlertRefs = make(map[string]string, len(o.AlertRefs))
		for k, v := range o.AlertRefs {
			c.AlertRefs[k] = v
		}
	}
	return &c
}
