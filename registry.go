package widowx

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// BusOpener opens the bus described by cfg.
type BusOpener func(cfg *Config, logger logging.Logger) (Bus, error)

type busEntry struct {
	bus      Bus
	config   *Config
	refCount int64
}

// BusRegistry shares one open bus per serial port between arms and tools
// that address the same hardware.
type BusRegistry struct {
	mu      sync.Mutex
	entries map[string]*busEntry // port path -> entry
	open    BusOpener
	logger  logging.Logger
}

func NewBusRegistry(open BusOpener, logger logging.Logger) *BusRegistry {
	return &BusRegistry{
		entries: make(map[string]*busEntry),
		open:    open,
		logger:  logger,
	}
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *BusRegistry
)

// DefaultRegistry returns the process-wide registry of real serial buses,
// creating it on first use.
func DefaultRegistry() *BusRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewBusRegistry(openSerialBus, logging.NewLogger("widowx-registry"))
	})
	return defaultRegistry
}

// Acquire returns the bus for cfg.Port, opening it on first use. A port that
// is already open with different serial settings is a conflict.
func (r *BusRegistry) Acquire(cfg *Config, logger logging.Logger) (Bus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[cfg.Port]; ok {
		if !configsEqual(entry.config, cfg) {
			return nil, fmt.Errorf("conflict: bus on %s already open with different settings (refCount: %d)", cfg.Port, entry.refCount)
		}
		entry.refCount++
		return entry.bus, nil
	}

	bus, err := r.open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open bus on %s: %w", cfg.Port, err)
	}
	r.entries[cfg.Port] = &busEntry{bus: bus, config: cfg, refCount: 1}
	r.logger.Debugf("Opened shared bus for port %s", cfg.Port)
	return bus, nil
}

// Release drops one reference to the bus on port and closes it at zero.
func (r *BusRegistry) Release(port string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[port]
	if !ok {
		return nil
	}
	entry.refCount--
	if entry.refCount > 0 {
		return nil
	}
	delete(r.entries, port)
	if err := entry.bus.Close(); err != nil {
		r.logger.Warnf("error closing shared bus for port %s: %v", port, err)
		return err
	}
	return nil
}

// CloseAll closes every bus regardless of references.
func (r *BusRegistry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for port, entry := range r.entries {
		err = multierr.Append(err, entry.bus.Close())
		delete(r.entries, port)
	}
	return err
}

// Status reports the reference count and serial settings for port.
func (r *BusRegistry) Status(port string) (int64, bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[port]
	if !ok {
		return 0, false, ""
	}
	return entry.refCount, true, fmt.Sprintf("Serial: %s@%d", entry.config.Port, entry.config.Baudrate)
}

func configsEqual(a, b *Config) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port &&
		a.Baudrate == b.Baudrate &&
		a.Timeout == b.Timeout
}

// OpenArm validates cfg, resolves an "auto" port, and builds an arm on the
// shared bus. Close the arm to give the bus back.
func OpenArm(ctx context.Context, cfg *Config, logger logging.Logger) (*Arm, error) {
	return openArm(ctx, DefaultRegistry(), cfg, logger)
}

func openArm(ctx context.Context, registry *BusRegistry, cfg *Config, logger logging.Logger) (*Arm, error) {
	resolved := *cfg
	if err := resolved.Validate("widowx"); err != nil {
		return nil, err
	}
	if resolved.Port == AutoPort {
		port, err := FindArmPort(ctx, &resolved, logger)
		if err != nil {
			return nil, err
		}
		resolved.Port = port
	}

	bus, err := registry.Acquire(&resolved, logger)
	if err != nil {
		return nil, err
	}
	arm, err := NewArm(bus, &resolved, logger)
	if err != nil {
		return nil, multierr.Combine(err, registry.Release(resolved.Port))
	}
	port := resolved.Port
	arm.release = func() error { return registry.Release(port) }
	return arm, nil
}
