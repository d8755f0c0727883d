package notifier

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"SignalSentinel/internal/metrics"
	"SignalSentinel/internal/model"
)

// Gate decides whether a tenant may receive content of a capability.
type Gate interface {
	IsEligible(t *model.Tenant, capability model.Capability) bool
}

// Delivery is one message that reached a tenant.
type Delivery struct {
	TenantID string
	Handle   string
	Edited   bool
}

// DeliveryReport summarizes one Broadcast.
type DeliveryReport struct {
	Delivered []Delivery
	Skipped   []string
	Failed    map[string]error
}

// Refs maps delivered tenants to message handles.
func (r DeliveryReport) Refs() map[string]string {
	refs := make(map[string]string, len(r.Delivered))
	for _, d := range r.Delivered {
		refs[d.TenantID] = d.Handle
	}
	return refs
}

// Dispatcher fans events out to eligible tenants over one channel.
type Dispatcher struct {
	channel Channel
	gate    Gate
	workers int
	timeout time.Duration
	format  func(model.Event) string
	log     zerolog.Logger
	metrics *metrics.Recorder
}

// NewDispatcher creates a Dispatcher. workers bounds concurrent deliveries and
// timeout bounds every channel call.
func NewDispatcher(channel Channel, gate Gate, workers int, timeout time.Duration, log zerolog.Logger, rec *metrics.Recorder) *Dispatcher {
	if workers <= 0 {
		workers = 8
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		channel: channel,
		gate:    gate,
		workers: workers,
		timeout: timeout,
		format:  FormatEvent,
		log:     log,
		metrics: rec,
	}
}

type deliveryResult struct {
	tenantID string
	delivery Delivery
	err      error
}

// Broadcast delivers ev to every eligible candidate at most once. A failure
// for one tenant never blocks or fails delivery to the others.
func (d *Dispatcher) Broadcast(ctx context.Context, ev model.Event, candidates []*model.Tenant) DeliveryReport {
	report := DeliveryReport{Failed: make(map[string]error)}
	capability := ev.Capability()
	text := d.format(ev)

	var eligible []*model.Tenant
	for _, t := range candidates {
		if d.gate.IsEligible(t, capability) {
			eligible = append(eligible, t)
		} else if t != nil {
			report.Skipped = append(report.Skipped, t.ID)
		}
	}
	sort.Strings(report.Skipped)
	if len(eligible) == 0 || text == "" {
		return report
	}

	workCh := make(chan *model.Tenant, len(eligible))
	resultCh := make(chan deliveryResult, len(eligible))
	for _, t := range eligible {
		workCh <- t
	}
	close(workCh)

	workers := d.workers
	if workers > len(eligible) {
		workers = len(eligible)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range workCh {
				if ctx.Err() != nil {
					resultCh <- deliveryResult{tenantID: t.ID, err: fmt.Errorf("%v: %w", ctx.Err(), model.ErrDelivery)}
					continue
				}
				resultCh <- d.safeDeliver(ctx, ev, t, text)
			}
		}()
	}
	wg.Wait()
	close(resultCh)

	for res := range resultCh {
		if res.err != nil {
			report.Failed[res.tenantID] = res.err
			d.metrics.RecordDelivery(string(ev.Type), "failed")
			d.log.Warn().Err(res.err).
				Str("tenant", res.tenantID).
				Str("event", string(ev.Type)).
				Msg("delivery failed")
			continue
		}
		report.Delivered = append(report.Delivered, res.delivery)
		d.metrics.RecordDelivery(string(ev.Type), "delivered")
	}
	sort.Slice(report.Delivered, func(i, j int) bool {
		return report.Delivered[i].TenantID < report.Delivered[j].TenantID
	})

	logEv := d.log.Info().
		Str("event", string(ev.Type)).
		Int("delivered", len(report.Delivered)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed))
	if ev.Opportunity != nil {
		logEv = logEv.Str("opportunity", ev.Opportunity.ID)
	}
	logEv.Msg("broadcast complete")
	return report
}

// safeDeliver turns a panicking channel call into a delivery failure.
func (d *Dispatcher) safeDeliver(ctx context.Context, ev model.Event, t *model.Tenant, text string) (res deliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Str("tenant", t.ID).
				Msg("panic in channel")
			res = deliveryResult{tenantID: t.ID, err: fmt.Errorf("channel panic: %v: %w", r, model.ErrDelivery)}
		}
	}()
	return d.deliver(ctx, ev, t, text)
}

// deliver edits the tenant's original alert for follow-up events when the
// channel supports it and a handle exists, otherwise sends a new message.
func (d *Dispatcher) deliver(ctx context.Context, ev model.Event, t *model.Tenant, text string) deliveryResult {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if ev.IsFollowUp() && ev.Opportunity != nil {
		if editor, ok := d.channel.(Editor); ok {
			if handle := ev.Opportunity.AlertRefs[t.ID]; handle != "" {
				if err := editor.Edit(callCtx, t.ID, handle, text); err != nil {
					return deliveryResult{tenantID: t.ID, err: fmt.Errorf("edit %s: %w", t.ID, asDelivery(err))}
				}
				return deliveryResult{tenantID: t.ID, delivery: Delivery{TenantID: t.ID, Handle: handle, Edited: true}}
			}
		}
	}

	handle, err := d.channel.Send(callCtx, t.ID, text)
	if err != nil {
		return deliveryResult{tenantID: t.ID, err: fmt.Errorf("send %s: %w", t.ID, asDelivery(err))}
	}
	return deliveryResult{tenantID: t.ID, delivery: Delivery{TenantID: t.ID, Handle: handle}}
}

func asDelivery(err error) error {
	if errors.Is(err, model.ErrDelivery) {
		return err
	}
	return fmt.Errorf("%v: %w", err, model.ErrDelivery)
}
