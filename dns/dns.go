// Package dns provides the NAPTR and SRV lookups used to locate SIP servers (RFC 3263).
package dns

//go:generate go tool errtrace -w .

import (
	"cmp"
	"context"
	"net"
	"slices"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

// Resolver queries a DNS server directly with github.com/miekg/dns.
// The zero value uses the first server of /etc/resolv.conf.
type Resolver struct {
	// NameServer is the DNS server address, e.g. "8.8.8.8:53".
	// Port 53 is assumed if omitted.
	NameServer string
	// Timeout of a single query. Defaults to 5 seconds.
	Timeout time.Duration
	// Net is the client network: "udp" (default), "tcp" or "tcp-tls".
	Net string
}

// SRV is a SRV record as defined in RFC 2782.
type SRV = net.SRV

// NAPTR is a NAPTR record as defined in RFC 3403.
type NAPTR struct {
	Order      uint16
	Preference uint16
	// Flags is usually "s" for records pointing to SRV names in SIP.
	Flags string
	// Service is one of "SIP+D2U", "SIP+D2T", "SIPS+D2T", "SIP+D2S" for SIP.
	Service     string
	Regexp      string
	Replacement string
}

// LookupNAPTR queries NAPTR records of the host.
// Records are sorted by order, then by preference.
func (r *Resolver) LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	ans, err := r.exchange(ctx, host, dns.TypeNAPTR)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	recs := make([]*NAPTR, 0, len(ans))
	for _, rr := range ans {
		if rr, ok := rr.(*dns.NAPTR); ok {
			recs = append(recs, &NAPTR{
				Order:       rr.Order,
				Preference:  rr.Preference,
				Flags:       strings.ToLower(rr.Flags),
				Service:     strings.ToUpper(rr.Service),
				Regexp:      rr.Regexp,
				Replacement: rr.Replacement,
			})
		}
	}
	slices.SortStableFunc(recs, func(a, b *NAPTR) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Preference, b.Preference)
	})
	return recs, nil
}

// LookupSRV queries SRV records of "_service._proto.host".
// If service and proto are empty, host is queried as is.
// Records are sorted by priority, then by descending weight.
func (r *Resolver) LookupSRV(ctx context.Context, service, proto, host string) ([]*SRV, error) {
	name := host
	if service != "" || proto != "" {
		name = "_" + service + "._" + proto + "." + host
	}

	ans, err := r.exchange(ctx, name, dns.TypeSRV)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	recs := make([]*SRV, 0, len(ans))
	for _, rr := range ans {
		if rr, ok := rr.(*dns.SRV); ok {
			recs = append(recs, &SRV{
				Target:   rr.Target,
				Port:     rr.Port,
				Priority: rr.Priority,
				Weight:   rr.Weight,
			})
		}
	}
	slices.SortStableFunc(recs, func(a, b *SRV) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
	return recs, nil
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	nameserver, err := r.nameserver()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	client := &dns.Client{Net: r.Net, Timeout: r.timeout()}
	resp, _, err := client.ExchangeContext(ctx, m, nameserver)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       name,
			Server:     nameserver,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		})
	}
	return resp.Answer, nil
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

func (r *Resolver) nameserver() (string, error) {
	if r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
			return net.JoinHostPort(r.NameServer, "53"), nil //nolint:nilerr
		}
		return r.NameServer, nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(conf.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{Err: "no DNS servers configured", Name: "resolv.conf"})
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

var defResolver = &Resolver{}

// DefaultResolver returns the resolver configured from /etc/resolv.conf.
func DefaultResolver() *Resolver { return defResolver }
