package mem_test

import (
	"context"
	"errors"
	"testing"

	mta "github.com/mtacore/outbound"
	"github.com/mtacore/outbound/mem"
)

func TestRouteManagerTalliesPerRoute(t *testing.T) {
	rm := mem.NewRouteManager()
	route := mta.Route{Name: "mx.example.com"}

	rm.RouteOK(route)
	rm.RouteOK(route)
	rm.RouteError(route, errors.New("temporary failure"))
	rm.SourceError(route, errors.New("address not available"))

	stats := rm.Stats(route.Name)
	if stats.OK != 2 {
		t.Errorf("OK = %d, want 2", stats.OK)
	}
	if stats.RouteErrors != 1 {
		t.Errorf("RouteErrors = %d, want 1", stats.RouteErrors)
	}
	if stats.SourceErrors != 1 {
		t.Errorf("SourceErrors = %d, want 1", stats.SourceErrors)
	}
	if stats.LastError == nil || stats.LastError.Error() != "address not available" {
		t.Errorf("LastError = %v, want the most recent recorded error", stats.LastError)
	}
}

func TestRouteManagerStatsForUnknownRouteIsZeroValue(t *testing.T) {
	rm := mem.NewRouteManager()
	stats := rm.Stats("never-seen.example.com")
	if stats.OK != 0 || stats.RouteErrors != 0 || stats.SourceErrors != 0 || stats.LastError != nil {
		t.Errorf("got %+v, want zero value", stats)
	}
}

func TestResolverPTRLookup(t *testing.T) {
	r := mem.NewResolver()
	r.Set("203.0.113.10", "mail.example.com")

	host, err := r.PTR(context.Background(), "203.0.113.10")
	if err != nil {
		t.Fatalf("PTR: %v", err)
	}
	if host != "mail.example.com" {
		t.Errorf("PTR = %q, want %q", host, "mail.example.com")
	}
}

func TestResolverPTRUnconfiguredReturnsError(t *testing.T) {
	r := mem.NewResolver()
	if _, err := r.PTR(context.Background(), "198.51.100.1"); err == nil {
		t.Fatal("expected an error for an unconfigured address")
	}
}
