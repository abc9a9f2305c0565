// Package origin classifies requests by the network they arrived from.
package origin

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"

	"github.com/erazemk/orozarna/internal/model"
)

// Headers set by the ingress proxy. They are only believed when the socket
// peer is a trusted proxy.
const (
	HeaderRealIP           = "X-Real-IP"
	HeaderIngressInterface = "X-Ingress-Interface"
)

// Metadata is what the transport knows about where a request came from.
type Metadata struct {
	SourceAddr   netip.Addr
	InterfaceTag string
}

// Config lists the networks and ingress interfaces of each origin class.
type Config struct {
	LANPrefixes []netip.Prefix
	VPNPrefixes []netip.Prefix
	LANTags     []string
	VPNTags     []string
}

// Classifier maps request metadata to an origin class. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a classifier for the given networks.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify returns the origin class of a request. VPN ranges are checked
// before LAN ranges so a tunnel address can never be promoted to LAN, and
// anything that matches neither is Unknown.
func (c *Classifier) Classify(md Metadata) model.OriginClass {
	addr := md.SourceAddr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() {
		return model.OriginUnknown
	}

	if containsAddr(c.cfg.VPNPrefixes, addr) || (md.InterfaceTag != "" && slices.Contains(c.cfg.VPNTags, md.InterfaceTag)) {
		return model.OriginVPNRemote
	}

	if containsAddr(c.cfg.LANPrefixes, addr) {
		if len(c.cfg.LANTags) == 0 || slices.Contains(c.cfg.LANTags, md.InterfaceTag) {
			return model.OriginLAN
		}
	}

	return model.OriginUnknown
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDRs. A bare address is treated as a single-host prefix.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		p, err := ParsePrefix(v)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

// ParsePrefix parses a CIDR or a bare address.
func ParsePrefix(v string) (netip.Prefix, error) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", v, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", v, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Resolver extracts Metadata from HTTP requests.
type Resolver struct {
	TrustedProxies []netip.Prefix
}

// Resolve returns the request's source address and ingress interface tag.
// Proxy headers are ignored unless the socket peer is a trusted proxy.
func (r Resolver) Resolve(req *http.Request) Metadata {
	peer := remoteAddr(req.RemoteAddr)
	if !peer.IsValid() || !containsAddr(r.TrustedProxies, peer) {
		return Metadata{SourceAddr: peer}
	}

	md := Metadata{SourceAddr: peer, InterfaceTag: strings.TrimSpace(req.Header.Get(HeaderIngressInterface))}
	if real := strings.TrimSpace(req.Header.Get(HeaderRealIP)); real != "" {
		addr, err := netip.ParseAddr(real)
		if err != nil {
			// A trusted proxy that sends garbage makes the origin unknowable.
			return Metadata{InterfaceTag: md.InterfaceTag}
		}
		md.SourceAddr = addr.Unmap()
	}
	return md
}

func remoteAddr(hostport string) netip.Addr {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
