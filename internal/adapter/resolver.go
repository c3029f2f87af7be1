package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// Stats is a snapshot of resolver counters.
type Stats struct {
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
	Resolutions uint64 `json:"resolutions"`
	CacheSize   int    `json:"cache_size"`
}

// Resolver selects the adapter for a device and memoizes the decision per
// cache key. All methods are safe for concurrent use.
type Resolver struct {
	registry *Registry

	// mu is held for reading by every resolution and for writing by
	// Reinitialize, so a rebuild never overlaps a resolution.
	mu sync.RWMutex

	cacheMu sync.RWMutex
	cache   map[string]ProtocolAdapter

	hits        atomic.Uint64
	misses      atomic.Uint64
	resolutions atomic.Uint64

	logger Logger
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{
		registry: registry,
		cache:    make(map[string]ProtocolAdapter),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	r.logger = logger
}

// Registry returns the underlying registry.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve returns the adapter for d.
//
// Order on a cache miss: manufacturer claim, then the protocol-family adapter
// for generic HTTP/HTTPS devices, then the first adapter in priority order
// whose SupportsDevice accepts d. Failure yields *NoAdapterError.
func (r *Resolver) Resolve(ctx context.Context, d *device.Device) (ProtocolAdapter, error) {
	if err := validate(d); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key := CacheKey(d)

	r.cacheMu.RLock()
	cached, ok := r.cache[key]
	r.cacheMu.RUnlock()
	if ok {
		r.hits.Add(1)
		return cached, nil
	}
	r.misses.Add(1)

	a, how := r.lookup(d)
	r.resolutions.Add(1)
	if a == nil {
		r.logger.Warn("no adapter found for device",
			"device_id", d.ID, "device_type", d.Type,
			"manufacturer", d.Manufacturer, "protocol_type", d.ProtocolType)
		return nil, &NoAdapterError{
			DeviceType:   d.Type,
			Manufacturer: d.Manufacturer,
			ProtocolType: d.ProtocolType,
		}
	}

	// First writer wins; a concurrent resolution of the same key is
	// deterministic so the loser's answer is equivalent.
	r.cacheMu.Lock()
	if existing, exists := r.cache[key]; exists {
		a = existing
	} else {
		r.cache[key] = a
	}
	r.cacheMu.Unlock()

	r.logger.Debug("adapter resolved",
		"device_id", d.ID, "cache_key", key, "protocol", a.ProtocolName(), "match", how)
	return a, nil
}

// IsDeviceSupported reports whether any adapter can drive d. It runs the
// same lookup as Resolve but never touches the cache.
func (r *Resolver) IsDeviceSupported(d *device.Device) bool {
	if validate(d) != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, _ := r.lookup(d)
	return a != nil
}

// lookup runs the uncached resolution. Caller holds r.mu for reading.
func (r *Resolver) lookup(d *device.Device) (ProtocolAdapter, string) {
	mfr := d.NormalizedManufacturer()
	pt := d.NormalizedProtocolType()

	if a, ok := r.registry.ForManufacturer(mfr); ok && a.SupportsDevice(d) {
		return a, "manufacturer"
	}

	if (mfr == "" || mfr == device.GenericManufacturer) && (pt == device.ProtocolHTTP || pt == device.ProtocolHTTPS) {
		if a, ok := r.registry.ProtocolFamily(pt); ok && a.SupportsDevice(d) {
			return a, "protocol_family"
		}
	}

	for _, a := range r.registry.Adapters() {
		if a.SupportsDevice(d) {
			return a, "scan"
		}
	}
	return nil, ""
}

// ClearCache drops memoized resolutions. The registry is untouched.
func (r *Resolver) ClearCache() {
	r.cacheMu.Lock()
	r.cache = make(map[string]ProtocolAdapter)
	r.cacheMu.Unlock()
}

// Reinitialize rebuilds the registry index and clears the cache. It waits
// for in-flight resolutions and blocks new ones until done.
func (r *Resolver) Reinitialize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registry.Reinitialize()
	r.ClearCache()

	r.logger.Info("adapter resolver reinitialized", "adapters", r.registry.Len())
}

// SupportedManufacturers returns the sorted union of claimed manufacturers.
func (r *Resolver) SupportedManufacturers() []string {
	return r.registry.Manufacturers()
}

// SupportedProtocolTypes returns the sorted union of protocol types.
func (r *Resolver) SupportedProtocolTypes() []string {
	return r.registry.ProtocolTypes()
}

// AdapterInfos returns one Descriptor per adapter in priority order.
func (r *Resolver) AdapterInfos() []Descriptor {
	return r.registry.Descriptors()
}

// Stats returns a snapshot of the resolver counters.
func (r *Resolver) Stats() Stats {
	r.cacheMu.RLock()
	size := len(r.cache)
	r.cacheMu.RUnlock()

	return Stats{
		CacheHits:   r.hits.Load(),
		CacheMisses: r.misses.Load(),
		Resolutions: r.resolutions.Load(),
		CacheSize:   size,
	}
}

// CacheKey returns "deviceType[:manufacturer][:protocolType]" with the
// manufacturer lower-cased, the protocol type upper-cased, and empty
// segments omitted.
func CacheKey(d *device.Device) string {
	var b strings.Builder
	b.WriteString(string(d.Type))
	if m := d.NormalizedManufacturer(); m != "" {
		b.WriteByte(':')
		b.WriteString(m)
	}
	if pt := d.NormalizedProtocolType(); pt != "" {
		b.WriteByte(':')
		b.WriteString(pt)
	}
	return b.String()
}

func validate(d *device.Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if !device.IsSupportedType(d.Type) {
		return fmt.Errorf("%w: unsupported device type %q", ErrInvalidDevice, d.Type)
	}
	return nil
}
