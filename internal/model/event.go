package model

// EventType identifies what happened.
type EventType string

const (
	EventNewOpportunity EventType = "new_opportunity"
	EventTargetHit      EventType = "target_hit"
	EventCompleted      EventType = "completed"
	EventStopped        EventType = "stopped"
	EventReport         EventType = "report"
)

// Event is something the dispatcher fans out to tenants.
type Event struct {
	Type        EventType
	Opportunity *Opportunity // nil for reports
	Price       float64      // observed price for tracking events
	HitIndex    int          // target index hit, for target_hit
	Cadence     Cadence      // for reports
	Text        string       // pre-rendered body for reports
}

// Capability is the tenant capability required to receive the event.
func (e Event) Capability() Capability {
	if e.Type == EventReport {
		return ReportCapability(e.Cadence)
	}
	if e.Opportunity == nil {
		return ""
	}
	return StrategyCapability(e.Opportunity.Strategy)
}

// IsFollowUp reports whether the event updates a previously delivered alert.
func (e Event) IsFollowUp() bool {
	return e.Type == EventTargetHit || e.Type == EventCompleted || e.Type == EventStopped
}
