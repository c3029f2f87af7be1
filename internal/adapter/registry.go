package adapter

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the Registry and Resolver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

type entry struct {
	adapter ProtocolAdapter
	desc    Descriptor
}

// Registry holds the adapter set ordered by descending priority and an index
// of claimed manufacturers. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	registered    []ProtocolAdapter          // insertion order
	ordered       []entry                    // priority order
	manufacturers map[string]ProtocolAdapter // lower-cased name -> first claim
	logger        Logger
}

// NewRegistry builds a registry from adapters. Nil adapters, empty protocol
// names and duplicate protocol names are rejected.
func NewRegistry(adapters ...ProtocolAdapter) (*Registry, error) {
	r := &Registry{
		manufacturers: make(map[string]ProtocolAdapter),
		logger:        noopLogger{},
	}
	for _, a := range adapters {
		if err := r.check(a); err != nil {
			return nil, err
		}
		r.registered = append(r.registered, a)
	}
	r.rebuild()
	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Add registers a and rebuilds the index.
func (r *Registry) Add(a ProtocolAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.check(a); err != nil {
		return err
	}
	r.registered = append(r.registered, a)
	r.rebuild()

	r.logger.Info("protocol adapter registered",
		"protocol", a.ProtocolName(), "class", a.Class().String(), "priority", a.Class().Priority())
	return nil
}

// Remove unregisters the adapter with the given protocol name and rebuilds
// the index.
func (r *Registry) Remove(protocolName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.registered, func(a ProtocolAdapter) bool {
		return a.ProtocolName() == protocolName
	})
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, protocolName)
	}
	r.registered = slices.Delete(r.registered, idx, idx+1)
	r.rebuild()

	r.logger.Info("protocol adapter removed", "protocol", protocolName)
	return nil
}

// Reinitialize clears the manufacturer index and rebuilds it from the
// current adapter set.
func (r *Registry) Reinitialize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuild()
}

// check validates a candidate. Caller holds r.mu or owns r exclusively.
func (r *Registry) check(a ProtocolAdapter) error {
	if a == nil {
		return ErrNilAdapter
	}
	name := a.ProtocolName()
	if strings.TrimSpace(name) == "" {
		return ErrEmptyProtocolName
	}
	for _, existing := range r.registered {
		if existing.ProtocolName() == name {
			return fmt.Errorf("%w: %s", ErrAdapterExists, name)
		}
	}
	return nil
}

// rebuild recomputes priority order and the manufacturer index.
// Caller holds r.mu or owns r exclusively.
func (r *Registry) rebuild() {
	ordered := make([]entry, 0, len(r.registered))
	for _, a := range r.registered {
		ordered = append(ordered, entry{adapter: a, desc: Describe(a)})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].desc.Priority > ordered[j].desc.Priority
	})

	manufacturers := make(map[string]ProtocolAdapter)
	for _, e := range ordered {
		for _, m := range e.desc.SupportedManufacturers {
			if owner, claimed := manufacturers[m]; claimed {
				r.logger.Debug("manufacturer already claimed, ignoring",
					"manufacturer", m, "owner", owner.ProtocolName(), "ignored", e.desc.ProtocolName)
				continue
			}
			manufacturers[m] = e.adapter
		}
	}

	r.ordered = ordered
	r.manufacturers = manufacturers
}

// Adapters returns the registered adapters in priority order.
func (r *Registry) Adapters() []ProtocolAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProtocolAdapter, len(r.ordered))
	for i, e := range r.ordered {
		out[i] = e.adapter
	}
	return out
}

// Get returns the adapter registered under protocolName.
func (r *Registry) Get(protocolName string) (ProtocolAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.ordered {
		if e.desc.ProtocolName == protocolName {
			return e.adapter, true
		}
	}
	return nil, false
}

// ForManufacturer returns the adapter that claimed manufacturer. The lookup
// is case-insensitive and ignores surrounding whitespace.
func (r *Registry) ForManufacturer(manufacturer string) (ProtocolAdapter, bool) {
	key := strings.ToLower(strings.TrimSpace(manufacturer))
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.manufacturers[key]
	return a, ok
}

// ProtocolFamily returns the highest-priority protocol-family adapter that
// handles protocolType.
func (r *Registry) ProtocolFamily(protocolType string) (ProtocolAdapter, bool) {
	pt := strings.ToUpper(strings.TrimSpace(protocolType))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.ordered {
		if e.adapter.Class() == ClassProtocolFamily && slices.Contains(e.desc.ProtocolTypes, pt) {
			return e.adapter, true
		}
	}
	return nil, false
}

// Manufacturers returns the sorted union of claimed manufacturers.
func (r *Registry) Manufacturers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.manufacturers))
	for m := range r.manufacturers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ProtocolTypes returns the sorted union of protocol types across adapters.
func (r *Registry) ProtocolTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range r.ordered {
		for _, pt := range e.desc.ProtocolTypes {
			seen[pt] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for pt := range seen {
		out = append(out, pt)
	}
	sort.Strings(out)
	return out
}

// Descriptors returns one Descriptor per adapter in priority order. The
// result is a copy; changing it does not affect resolution.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.ordered))
	for i, e := range r.ordered {
		out[i] = e.desc.Clone()
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registered)
}
