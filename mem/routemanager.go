package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/mtacore/outbound"
)

// RouteManager is an in-memory mta.RouteManager that tallies
// successes and failures per route name, for test assertions and for
// simple deployments that don't need a persistent route history.
type RouteManager struct {
	mu    sync.RWMutex
	stats map[string]*RouteStats
}

// RouteStats tracks how a route's attempts have gone.
type RouteStats struct {
	OK           int
	RouteErrors  int
	SourceErrors int
	LastError    error
}

// NewRouteManager creates an empty in-memory route manager.
func NewRouteManager() *RouteManager {
	return &RouteManager{stats: make(map[string]*RouteStats)}
}

func (m *RouteManager) entry(name string) *RouteStats {
	s, ok := m.stats[name]
	if !ok {
		s = &RouteStats{}
		m.stats[name] = s
	}
	return s
}

// RouteOK records a successful delivery attempt against route.
func (m *RouteManager) RouteOK(route mta.Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(route.Name).OK++
}

// RouteError records a route-level failure.
func (m *RouteManager) RouteError(route mta.Route, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(route.Name)
	s.RouteErrors++
	s.LastError = err
}

// SourceError records a local network-path failure.
func (m *RouteManager) SourceError(route mta.Route, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(route.Name)
	s.SourceErrors++
	s.LastError = err
}

// Stats returns a copy of the recorded stats for routeName.
func (m *RouteManager) Stats(routeName string) RouteStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stats[routeName]; ok {
		return *s
	}
	return RouteStats{}
}

var _ mta.RouteManager = (*RouteManager)(nil)

// Resolver is an in-memory mta.Resolver backed by a static address ->
// hostname map, for tests that don't want a real DNS round trip.
type Resolver struct {
	mu      sync.RWMutex
	records map[string]string
}

// NewResolver creates a resolver with no records; unset lookups
// return an error, matching a real resolver's NXDOMAIN behavior.
func NewResolver() *Resolver {
	return &Resolver{records: make(map[string]string)}
}

// Set configures the PTR answer for addr.
func (r *Resolver) Set(addr, hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[addr] = hostname
}

// PTR looks up the configured hostname for addr.
func (r *Resolver) PTR(_ context.Context, addr string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if host, ok := r.records[addr]; ok {
		return host, nil
	}
	return "", fmt.Errorf("mem: no PTR record configured for %s", addr)
}

var _ mta.Resolver = (*Resolver)(nil)
