package mta

import (
	"context"
	"testing"
)

func TestDNSResolverPTRRejectsInvalidAddress(t *testing.T) {
	r := NewDNSResolver("127.0.0.1:53")
	if _, err := r.PTR(context.Background(), "not-an-ip"); err == nil {
		t.Fatal("expected an error for a non-IP address")
	}
}

func TestNewDNSResolverSetsNameserver(t *testing.T) {
	r := NewDNSResolver("198.51.100.1:53")
	if r.Nameserver != "198.51.100.1:53" {
		t.Errorf("Nameserver = %q, want 198.51.100.1:53", r.Nameserver)
	}
}
