package node

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/eth2030/devchain/log"
)

// ServiceState represents the lifecycle state of a service.
type ServiceState int

const (
	StateCreated ServiceState = iota // registered but not started
	StateRunning                     // running normally
	StateStopped                     // stopped cleanly
	StateFailed                      // failed to start or stop
)

// String returns a human-readable name for the service state.
func (s ServiceState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is a background part of the node started and stopped with it.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

type serviceEntry struct {
	svc      Service
	state    ServiceState
	priority int // lower value = start first
}

// LifecycleManager starts services in priority order and stops them in
// reverse.
type LifecycleManager struct {
	mu       sync.Mutex
	services []*serviceEntry
	byName   map[string]*serviceEntry
	log      *log.Logger
}

// NewLifecycleManager creates an empty manager.
func NewLifecycleManager(logger *log.Logger) *LifecycleManager {
	if logger == nil {
		logger = log.Default().Module("node")
	}
	return &LifecycleManager{byName: make(map[string]*serviceEntry), log: logger}
}

// Register adds a service. Names must be unique.
func (lm *LifecycleManager) Register(svc Service, priority int) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, exists := lm.byName[svc.Name()]; exists {
		return fmt.Errorf("service %q already registered", svc.Name())
	}
	e := &serviceEntry{svc: svc, state: StateCreated, priority: priority}
	lm.services = append(lm.services, e)
	lm.byName[svc.Name()] = e
	return nil
}

// StartAll starts every service not already running. If one fails, the
// services started by this call are stopped again and the error returned.
func (lm *LifecycleManager) StartAll(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var started []*serviceEntry
	for _, e := range lm.sorted() {
		if e.state == StateRunning {
			continue
		}
		if err := e.svc.Start(ctx); err != nil {
			e.state = StateFailed
			errs := []error{fmt.Errorf("start %s: %w", e.svc.Name(), err)}
			for _, s := range slices.Backward(started) {
				errs = append(errs, lm.stop(s))
			}
			return errors.Join(errs...)
		}
		e.state = StateRunning
		started = append(started, e)
		lm.log.Debug("Service started", "name", e.svc.Name())
	}
	return nil
}

// StopAll stops running services in reverse priority order.
func (lm *LifecycleManager) StopAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for _, e := range slices.Backward(lm.sorted()) {
		if e.state == StateRunning {
			errs = append(errs, lm.stop(e))
		}
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) stop(e *serviceEntry) error {
	if err := e.svc.Stop(); err != nil {
		e.state = StateFailed
		return fmt.Errorf("stop %s: %w", e.svc.Name(), err)
	}
	e.state = StateStopped
	lm.log.Debug("Service stopped", "name", e.svc.Name())
	return nil
}

// State returns the state of the named service; unknown names report
// StateFailed.
func (lm *LifecycleManager) State(name string) ServiceState {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.byName[name]
	if !ok {
		return StateFailed
	}
	return e.state
}

// RunningCount returns the number of running services.
func (lm *LifecycleManager) RunningCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	n := 0
	for _, e := range lm.services {
		if e.state == StateRunning {
			n++
		}
	}
	return n
}

// sorted returns the services by ascending priority, registration order
// breaking ties. Caller must hold lm.mu.
func (lm *LifecycleManager) sorted() []*serviceEntry {
	out := slices.Clone(lm.services)
	slices.SortStableFunc(out, func(a, b *serviceEntry) int { return a.priority - b.priority })
	return out
}
