package strategy

import (
	"fmt"
	"sort"

	"SignalSentinel/internal/model"
)

// Detector is a stateless predicate over one snapshot. Evaluate must be pure:
// the same snapshot always yields the same Detection and nothing is mutated.
type Detector interface {
	Name() string
	Evaluate(snap *model.Snapshot) model.Detection
}

// Registry is the fixed set of detectors, built once at startup.
type Registry struct {
	order     []string
	detectors map[string]Detector
}

// NewRegistry creates a registry from detectors in evaluation order.
func NewRegistry(detectors ...Detector) (*Registry, error) {
	r := &Registry{detectors: make(map[string]Detector, len(detectors))}
	for _, d := range detectors {
		name := d.Name()
		if _, dup := r.detectors[name]; dup {
			return nil, fmt.Errorf("duplicate detector %q", name)
		}
		r.detectors[name] = d
		r.order = append(r.order, name)
	}
	return r, nil
}

// Get returns the detector registered under name.
func (r *Registry) Get(name string) (Detector, bool) {
	d, ok := r.detectors[name]
	return d, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.detectors[name]
	return ok
}

// Names returns detector names in evaluation order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// SortedNames returns detector names alphabetically.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// EvaluateAll runs every detector against snap and returns the triggered ones.
func (r *Registry) EvaluateAll(snap *model.Snapshot) []model.Detection {
	var out []model.Detection
	for _, name := range r.order {
		if det := r.detectors[name].Evaluate(snap); det.Triggered {
			out = append(out, det)
		}
	}
	return out
}

func none(name string) model.Detection {
	return model.Detection{Strategy: name}
}

func hit(name string, entry float64) model.Detection {
	return model.Detection{Strategy: name, Triggered: true, SuggestedEntry: entry}
}
