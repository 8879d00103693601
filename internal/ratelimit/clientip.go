package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Proxies resolves the client address of a request. X-Forwarded-For is only
// read when the connecting peer is one of the trusted proxies; otherwise
// any client could pick its own rate limit key.
type Proxies struct {
	trusted []*net.IPNet
}

// NewProxies parses trusted proxy addresses. Entries are CIDR ranges or
// single IPs.
func NewProxies(entries []string) (*Proxies, error) {
	p := &Proxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			p.trusted = append(p.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		p.trusted = append(p.trusted, ipNet)
	}
	return p, nil
}

func (p *Proxies) isTrusted(addr string) bool {
	if p == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, ipNet := range p.trusted {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the peer address of r. Behind a trusted proxy it walks
// X-Forwarded-For from the right and returns the first hop that is not a
// trusted proxy itself. A nil *Proxies trusts nobody.
func (p *Proxies) ClientIP(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if !p.isTrusted(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			// a malformed hop ends the chain we can vouch for
			break
		}
		if !p.isTrusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

// remoteIP strips the port from RemoteAddr
func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
