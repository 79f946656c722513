package mta

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// DNSResolver is a Resolver backed by a direct DNS query rather than
// the OS resolver, so PTR lookups can be attributed to a specific
// nameserver and time out independently of other system calls.
type DNSResolver struct {
	// Nameserver is the "host:port" of the resolver to query.
	Nameserver string
	client     *dns.Client
}

// NewDNSResolver creates a resolver that queries nameserver directly.
func NewDNSResolver(nameserver string) *DNSResolver {
	return &DNSResolver{
		Nameserver: nameserver,
		client:     new(dns.Client),
	}
}

// PTR performs a reverse DNS lookup for addr (a plain IP string) and
// returns the first PTR record's target, with the trailing dot
// stripped.
func (r *DNSResolver) PTR(ctx context.Context, addr string) (string, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", fmt.Errorf("mta: invalid address for PTR lookup: %q", addr)
	}

	reverse, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(reverse, dns.TypePTR)

	reply, _, err := r.client.ExchangeContext(ctx, msg, r.Nameserver)
	if err != nil {
		return "", err
	}

	for _, ans := range reply.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}

	return "", fmt.Errorf("mta: no PTR record for %s", addr)
}

var _ Resolver = (*DNSResolver)(nil)
