package ua

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/samber/lo"

	"github.com/ghettovoice/sipcore/dns"
)

// RegistrarResolver looks up the DNS records used to locate a registrar.
// [dns.Resolver] implements it.
type RegistrarResolver interface {
	LookupNAPTR(ctx context.Context, host string) ([]*dns.NAPTR, error)
	LookupSRV(ctx context.Context, service, proto, host string) ([]*dns.SRV, error)
}

type sipService struct {
	naptr     string
	service   string
	proto     string
	transport string
}

var sipServices = []sipService{
	{"SIP+D2U", "sip", "udp", "udp"},
	{"SIP+D2T", "sip", "tcp", "tcp"},
	{"SIPS+D2T", "sips", "tcp", "tls"},
}

func servicesFor(scheme, transport string) []sipService {
	return lo.Filter(sipServices, func(s sipService, _ int) bool {
		if scheme == "sips" && s.naptr != "SIPS+D2T" {
			return false
		}
		return transport == "" || s.transport == transport
	})
}

// LocateRegistrar resolves the registrar URI to a concrete host, port and transport
// following RFC 3263 section 4: NAPTR, then SRV, then the default port.
// URIs with an IP host or an explicit port are returned as is.
// A nil resolver means [dns.DefaultResolver].
func LocateRegistrar(ctx context.Context, resolver RegistrarResolver, uri sip.Uri) (sip.Uri, error) {
	if uri.Host == "" {
		return sip.Uri{}, errtrace.Wrap(NewInvalidArgumentError("empty registrar host"))
	}
	if _, err := netip.ParseAddr(strings.Trim(uri.Host, "[]")); err == nil || uri.Port > 0 {
		return *uri.Clone(), nil
	}
	if resolver == nil {
		resolver = dns.DefaultResolver()
	}

	scheme := lo.Ternary(uri.Scheme == "sips", "sips", "sip")
	var transport string
	if uri.UriParams != nil {
		if v, ok := uri.UriParams.Get("transport"); ok {
			transport = strings.ToLower(v)
		}
	}
	svcs := servicesFor(scheme, transport)

	if transport == "" {
		naptrs, err := resolver.LookupNAPTR(ctx, uri.Host)
		if err != nil && !isNotFound(err) {
			return sip.Uri{}, errtrace.Wrap(err)
		}
		for _, rec := range naptrs {
			svc, ok := lo.Find(svcs, func(s sipService) bool { return s.naptr == rec.Service })
			if !ok || rec.Flags != "s" {
				continue
			}
			srvs, err := resolver.LookupSRV(ctx, "", "", rec.Replacement)
			if err != nil && !isNotFound(err) {
				return sip.Uri{}, errtrace.Wrap(err)
			}
			if len(srvs) > 0 {
				return located(uri, srvs[0].Target, int(srvs[0].Port), svc.transport), nil
			}
		}
	}

	for _, svc := range svcs {
		srvs, err := resolver.LookupSRV(ctx, svc.service, svc.proto, uri.Host)
		if err != nil && !isNotFound(err) {
			return sip.Uri{}, errtrace.Wrap(err)
		}
		if len(srvs) > 0 {
			return located(uri, srvs[0].Target, int(srvs[0].Port), svc.transport), nil
		}
	}

	if transport == "" {
		transport = lo.Ternary(scheme == "sips", "tls", "udp")
	}
	return located(uri, uri.Host, uriPort(uri), transport), nil
}

func located(uri sip.Uri, host string, port int, transport string) sip.Uri {
	out := *uri.Clone()
	out.Host = strings.TrimSuffix(host, ".")
	out.Port = port
	if out.UriParams == nil {
		out.UriParams = sip.NewParams()
	}
	out.UriParams.Add("transport", transport)
	return out
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
